package memory

import (
	"time"

	"github.com/inhies/go-bytesize"

	"mm_go/pkg/object"
)

// Single-Thread Mark and Sweep
//
// A stop-the-world collector driven by one mutator thread. A full collection:
//  1. publishes the thread's staged allocations into the global set
//  2. greys every object held by a global or stack root and drains an
//     explicit gray stack; an object is pushed only on its White -> Gray
//     transition, so cycles are scanned once and the trace terminates
//  3. sweeps the global set: Black objects go back to White and stay,
//     White objects are finalized (if their type asks for it) and erased
//
// Between collections every object is White. A fatal error raised mid-way
// puts every surviving object back to White before the panic leaves
// PerformFullGC, so an embedder that recovers it keeps a consistent heap;
// finalizers already run and objects already erased stay that way.

// GCStats describes one completed collection
type GCStats struct {
	Epoch          uint64
	Published      int // Nodes moved from the staging queue
	ObjectsBefore  int
	ObjectsAfter   int
	Marked         int
	Swept          int
	Finalized      int
	BytesBefore    uint64
	BytesReclaimed uint64
	Duration       time.Duration
}

// SingleThreadMarkAndSweep is the collector of one ThreadData
type SingleThreadMarkAndSweep struct {
	td        *ThreadData
	markStack []*object.ObjHeader
	last      GCStats
}

// LastStats returns the statistics of the thread's latest collection
func (gc *SingleThreadMarkAndSweep) LastStats() GCStats {
	return gc.last
}

// PerformFullGC runs a complete collection and returns when it is done
func (gc *SingleThreadMarkAndSweep) PerformFullGC() {
	td := gc.td
	g := td.global
	g.checkNotCollecting("PerformFullGC", td)

	g.gcLock.Lock()
	defer g.gcLock.Unlock()
	td.collecting = true
	g.collecting.Store(true)
	defer func() {
		td.collecting = false
		g.collecting.Store(false)
	}()
	completed := false
	defer func() {
		if !completed {
			gc.abort()
		}
	}()

	start := time.Now()
	g.epoch++
	stats := GCStats{Epoch: g.epoch}
	log := g.logger.With("epoch", stats.Epoch, "thread", td.id)

	stats.Published = td.queue.publish()
	stats.ObjectsBefore = g.objectFactory.Size()
	stats.BytesBefore = g.objectFactory.AllocatedBytes()
	log.Debug("gc started", "objects", stats.ObjectsBefore, "published", stats.Published)

	stats.Marked = gc.mark()
	log.Debug("mark finished", "marked", stats.Marked)

	gc.sweep(&stats)
	stats.ObjectsAfter = g.objectFactory.Size()
	stats.Duration = time.Since(start)
	gc.last = stats
	completed = true

	log.Info("gc finished",
		"objects", stats.ObjectsAfter,
		"swept", stats.Swept,
		"finalized", stats.Finalized,
		"reclaimed", bytesize.New(float64(stats.BytesReclaimed)).String(),
		"heap", bytesize.New(float64(g.objectFactory.AllocatedBytes())).String(),
		"duration", stats.Duration)
}

// mark traces the object graph from the root set and returns the number of
// objects found reachable
func (gc *SingleThreadMarkAndSweep) mark() int {
	g := gc.td.global
	checks := g.Config().Assertions
	stack := gc.markStack[:0]

	enqueue := func(obj *object.ObjHeader) {
		if obj == nil {
			return
		}
		data := obj.GCData()
		if data.Color() != object.White {
			return
		}
		if checks && !obj.IsAlive() {
			g.fatalf(InvariantViolation, "reference to reclaimed object %s", obj)
		}
		if !data.Published() {
			g.fatalf(InvariantViolation, "reference to %s, which is not in the allocation set", obj)
		}
		data.SetColor(object.Gray)
		stack = append(stack, obj)
	}

	g.globalsRegistry.Iter(func(location **object.ObjHeader) {
		enqueue(*location)
	})
	gc.td.stackRoots.Iter(func(slot **object.ObjHeader) {
		enqueue(*slot)
	})

	marked := 0
	for len(stack) > 0 {
		obj := stack[len(stack)-1]
		stack[len(stack)-1] = nil
		stack = stack[:len(stack)-1]
		if checks && obj.GCData().Color() != object.Gray {
			g.fatalf(InvariantViolation, "popped %s with color %s from the mark stack", obj, obj.GCData().Color())
		}

		obj.ForEachRefSlot(func(slot **object.ObjHeader) {
			enqueue(*slot)
		})
		obj.GCData().SetColor(object.Black)
		marked++
	}

	gc.markStack = stack[:0]
	return marked
}

// sweep reclaims every White node of the global set and resets survivors
func (gc *SingleThreadMarkAndSweep) sweep(stats *GCStats) {
	g := gc.td.global
	factory := &g.objectFactory

	factory.Iter(func(n *Node) {
		data := n.GCObjectData()
		switch data.Color() {
		case object.Black:
			data.SetColor(object.White)
			return
		case object.Gray:
			g.fatalf(InvariantViolation, "gray object %s left after marking", n.GetObjHeader())
		}

		obj := n.GetObjHeader()
		if obj.Type().HasFinalizer() {
			RunFinalizers(obj)
			stats.Finalized++
		}
		stats.BytesReclaimed += uint64(obj.Size())
		stats.Swept++
		factory.Erase(n)
	})
}

// abort returns every published object to White after a fatal error and
// drops the gray stack
func (gc *SingleThreadMarkAndSweep) abort() {
	for i := range gc.markStack {
		gc.markStack[i] = nil
	}
	gc.markStack = gc.markStack[:0]
	gc.td.global.objectFactory.Iter(func(n *Node) {
		n.GCObjectData().SetColor(object.White)
	})
}
