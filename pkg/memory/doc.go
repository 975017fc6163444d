// Package memory is the memory-management core of the runtime: the
// allocation registry, the root registries (globals and stack holders), the
// stop-the-world mark-and-sweep collector and the finalizer hook.
//
// A mutator owns one ThreadData. It allocates with AllocateObject and
// AllocateArray, keeps objects alive through global locations registered
// with the GlobalsRegistry or through ObjHolders, and collects with
// td.GC().PerformFullGC(). Everything runs on the mutator's goroutine; no
// background collector exists.
package memory
