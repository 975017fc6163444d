package memory

import (
	"sync/atomic"

	"mm_go/pkg/object"
)

// Allocation Registry
//
// Two tiers hold every allocated, not yet reclaimed object:
//   - ThreadQueue: per-thread staging, append-only, unsynchronized
//   - ObjectFactory: the global durable set, a doubly linked list of nodes
//
// A node is in exactly one of them; its header's published bit tells which,
// so the marker can reject a root into another thread's staging. Publish moves a queue into the factory;
// Erase is the only way a node leaves the factory, and it releases the header.
// The factory list is mutated only under the collection lock.

// Node is one registry entry
type Node struct {
	obj        *object.ObjHeader
	prev, next *Node
}

// IsArray reports whether the node holds an array
func (n *Node) IsArray() bool {
	return n.obj.IsArray()
}

// GetObjHeader returns the node's header
func (n *Node) GetObjHeader() *object.ObjHeader {
	return n.obj
}

// GetArrayHeader returns the array body, nil for scalar objects
func (n *Node) GetArrayHeader() *object.ArrayHeader {
	return n.obj.Array()
}

// GCObjectData returns the collector's record for the node
func (n *Node) GCObjectData() *object.ObjectData {
	return n.obj.GCData()
}

// ObjectFactory is the global allocation set
type ObjectFactory struct {
	head, tail *Node
	size       int

	// Accounted bytes of every node, staged or published
	allocated atomic.Uint64
}

// reserve accounts size bytes against limit (0 = unlimited)
func (f *ObjectFactory) reserve(size, limit uint64) bool {
	for {
		cur := f.allocated.Load()
		next := cur + size
		if next < cur || (limit != 0 && next > limit) {
			return false
		}
		if f.allocated.CompareAndSwap(cur, next) {
			return true
		}
	}
}

func (f *ObjectFactory) unreserve(size uint64) {
	f.allocated.Add(^(size - 1))
}

// AllocatedBytes returns the accounted size of all live allocations
func (f *ObjectFactory) AllocatedBytes() uint64 {
	return f.allocated.Load()
}

// Size returns the number of published nodes
func (f *ObjectFactory) Size() int {
	return f.size
}

func (f *ObjectFactory) pushBack(n *Node) {
	n.obj.GCData().SetPublished(true)
	n.prev = f.tail
	n.next = nil
	if f.tail != nil {
		f.tail.next = n
	} else {
		f.head = n
	}
	f.tail = n
	f.size++
}

// Iter calls fn for every published node. fn may Erase the node it is given.
func (f *ObjectFactory) Iter(fn func(n *Node)) {
	for n := f.head; n != nil; {
		next := n.next
		fn(n)
		n = next
	}
}

// Erase unlinks n and releases its header
func (f *ObjectFactory) Erase(n *Node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		f.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		f.tail = n.prev
	}
	n.prev, n.next = nil, nil
	n.obj.GCData().SetPublished(false)
	f.size--
	f.unreserve(uint64(n.obj.Size()))
	n.obj.Release()
}

// ClearForTests erases every published node
func (f *ObjectFactory) ClearForTests() {
	f.Iter(f.Erase)
}

// ThreadQueue stages allocations of a single thread
type ThreadQueue struct {
	factory *ObjectFactory
	nodes   []*Node
}

func (q *ThreadQueue) add(obj *object.ObjHeader) *Node {
	n := &Node{obj: obj}
	q.nodes = append(q.nodes, n)
	return n
}

// Size returns the number of staged nodes
func (q *ThreadQueue) Size() int {
	return len(q.nodes)
}

// Iter calls fn for every staged node
func (q *ThreadQueue) Iter(fn func(n *Node)) {
	for _, n := range q.nodes {
		fn(n)
	}
}

// publish moves every staged node into the factory; the caller holds the
// collection lock
func (q *ThreadQueue) publish() int {
	count := len(q.nodes)
	for i, n := range q.nodes {
		q.factory.pushBack(n)
		q.nodes[i] = nil
	}
	q.nodes = q.nodes[:0]
	return count
}

// ClearForTests drops every staged node without publishing it
func (q *ThreadQueue) ClearForTests() {
	for i, n := range q.nodes {
		q.factory.unreserve(uint64(n.obj.Size()))
		n.obj.Release()
		q.nodes[i] = nil
	}
	q.nodes = q.nodes[:0]
}
