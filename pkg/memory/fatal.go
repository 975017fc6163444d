package memory

import (
	"fmt"
)

// Fatal errors
//
// Allocation exhaustion and invariant violations are not recoverable by the
// mutator. They are logged at error level and raised as a panic carrying a
// *FatalError, which terminates the process unless an embedder (or a test)
// recovers it.

// FatalKind classifies a fatal runtime error
type FatalKind int

const (
	OutOfMemory        FatalKind = iota + 1 // Heap or array limit exceeded
	InvariantViolation                      // Runtime or embedder programming error
)

func (k FatalKind) String() string {
	switch k {
	case OutOfMemory:
		return "out of memory"
	case InvariantViolation:
		return "invariant violation"
	default:
		return fmt.Sprintf("FatalKind(%d)", int(k))
	}
}

// FatalError is the panic value of every fatal runtime error
type FatalError struct {
	Kind FatalKind
	Msg  string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal runtime error: %s: %s", e.Kind, e.Msg)
}

func (g *GlobalData) fatalf(kind FatalKind, format string, args ...interface{}) {
	err := &FatalError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
	g.logger.Error("fatal runtime error", "kind", kind.String(), "msg", err.Msg)
	panic(err)
}

// assertf panics with an invariant violation when cond is false
func (g *GlobalData) assertf(cond bool, format string, args ...interface{}) {
	if !cond {
		g.fatalf(InvariantViolation, format, args...)
	}
}

// checkNotCollecting fails when a collection is running on g. Collections
// stop the world, so the only mutator that can get here is a finalizer,
// whichever ThreadData it goes through.
func (g *GlobalData) checkNotCollecting(op string, td *ThreadData) {
	if td.collecting || g.collecting.Load() {
		g.fatalf(InvariantViolation, "%s called during a collection (thread %d)", op, td.id)
	}
}
