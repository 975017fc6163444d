package memory

import (
	"sync"

	"mm_go/pkg/object"
)

// FinalizerHook is called once for every reclaimed object whose type has
// FlagHasFinalizer, during the sweep and before the object is released.
// Hooks must not allocate, register roots or collect.
type FinalizerHook func(obj *object.ObjHeader)

var (
	finalizerMu   sync.RWMutex
	finalizerHook FinalizerHook = runTypeFinalizer
)

// runTypeFinalizer is the production hook: it runs the type's own cleanup
func runTypeFinalizer(obj *object.ObjHeader) {
	if fn := obj.Type().Finalizer; fn != nil {
		fn(obj)
	}
}

// SetFinalizerHookForTests installs hook process-wide and returns a function
// restoring the previous one
func SetFinalizerHookForTests(hook FinalizerHook) (restore func()) {
	finalizerMu.Lock()
	prev := finalizerHook
	if hook == nil {
		hook = runTypeFinalizer
	}
	finalizerHook = hook
	finalizerMu.Unlock()
	return func() {
		finalizerMu.Lock()
		finalizerHook = prev
		finalizerMu.Unlock()
	}
}

// RunFinalizers dispatches obj to the installed hook
func RunFinalizers(obj *object.ObjHeader) {
	finalizerMu.RLock()
	hook := finalizerHook
	finalizerMu.RUnlock()
	hook(obj)
}
