package memory

import (
	"runtime"
	"sync"
	"sync/atomic"
)

var nextThreadID atomic.Uint64

// ThreadData is the context of one mutator thread: its allocation staging
// queue, its stack roots and its collector handle. A ThreadData must only be
// used by the goroutine that owns it.
type ThreadData struct {
	id         uint64
	global     *GlobalData
	queue      ThreadQueue
	stackRoots StackRoots
	gc         SingleThreadMarkAndSweep

	// Set while this thread runs a collection, finalizers included
	collecting bool
}

// NewThreadData creates a thread context allocating into g
func NewThreadData(g *GlobalData) *ThreadData {
	td := &ThreadData{
		id:     nextThreadID.Add(1),
		global: g,
	}
	td.queue.factory = &g.objectFactory
	td.gc.td = td
	return td
}

// ID returns the thread's identifier
func (td *ThreadData) ID() uint64 {
	return td.id
}

// Global returns the memory state the thread allocates into
func (td *ThreadData) Global() *GlobalData {
	return td.global
}

// GC returns the thread's collector
func (td *ThreadData) GC() *SingleThreadMarkAndSweep {
	return &td.gc
}

// ObjectFactoryThreadQueue returns the thread's staging queue
func (td *ThreadData) ObjectFactoryThreadQueue() *ThreadQueue {
	return &td.queue
}

// StackRoots returns the thread's live holders
func (td *ThreadData) StackRoots() *StackRoots {
	return &td.stackRoots
}

// Flush publishes the thread's staged allocations into the global set
func Flush(td *ThreadData) {
	g := td.global
	g.checkNotCollecting("Flush", td)
	g.gcLock.Lock()
	defer g.gcLock.Unlock()
	td.queue.publish()
}

// RunInNewThread runs fn on a new OS-locked goroutine with its own
// ThreadData on the process-wide heap and waits for it. A panic in fn is
// re-raised in the caller. Allocations still staged when fn returns are
// published to the global set.
func RunInNewThread(fn func(td *ThreadData)) {
	RunInNewThreadOn(Global(), fn)
}

// RunInNewThreadOn is RunInNewThread for an explicit heap
func RunInNewThreadOn(g *GlobalData, fn func(td *ThreadData)) {
	var (
		wg        sync.WaitGroup
		recovered interface{}
		panicked  bool
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer func() {
			if r := recover(); r != nil {
				recovered, panicked = r, true
			}
		}()
		td := NewThreadData(g)
		g.logger.Debug("thread started", "thread", td.id)
		fn(td)
		g.logger.Debug("thread finished", "thread", td.id, "staged", td.queue.Size(), "holders", td.stackRoots.Size())
		Flush(td)
	}()
	wg.Wait()
	if panicked {
		panic(recovered)
	}
}
