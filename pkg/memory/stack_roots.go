package memory

import (
	"mm_go/pkg/object"
)

// Stack Roots
//
// An ObjHolder is a root slot bound to a scope of the mutator's call stack.
// Creating it registers the slot with the owning thread; Release unregisters
// it. Pair them with defer, or use WithObjHolder, so the slot is released on
// every exit path:
//
//	h := memory.NewObjHolder(td)
//	defer h.Release()
//	memory.AllocateObject(td, typeInfo, h.Slot())
//
// Holders are usually released in LIFO order, which makes Release O(1).

// noCopy makes go vet flag holders copied by value
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// StackRoots is the set of live holders of one thread
type StackRoots struct {
	holders []*ObjHolder
}

// Size returns the number of live holders
func (s *StackRoots) Size() int {
	return len(s.holders)
}

// Iter calls fn with the slot of every live holder
func (s *StackRoots) Iter(fn func(slot **object.ObjHeader)) {
	for _, h := range s.holders {
		fn(&h.obj)
	}
}

func (s *StackRoots) push(h *ObjHolder) {
	s.holders = append(s.holders, h)
}

func (s *StackRoots) remove(h *ObjHolder) bool {
	for i := len(s.holders) - 1; i >= 0; i-- {
		if s.holders[i] != h {
			continue
		}
		copy(s.holders[i:], s.holders[i+1:])
		s.holders[len(s.holders)-1] = nil
		s.holders = s.holders[:len(s.holders)-1]
		return true
	}
	return false
}

// ObjHolder is a scoped stack root
type ObjHolder struct {
	_        noCopy
	td       *ThreadData
	obj      *object.ObjHeader
	released bool
}

// NewObjHolder registers a new, empty root slot on td
func NewObjHolder(td *ThreadData) *ObjHolder {
	td.global.checkNotCollecting("NewObjHolder", td)
	h := &ObjHolder{td: td}
	td.stackRoots.push(h)
	return h
}

// NewObjHolderWith registers a root slot holding obj
func NewObjHolderWith(td *ThreadData, obj *object.ObjHeader) *ObjHolder {
	h := NewObjHolder(td)
	h.obj = obj
	return h
}

// WithObjHolder runs fn with a fresh holder and releases it when fn returns
// or panics
func WithObjHolder(td *ThreadData, fn func(h *ObjHolder)) {
	h := NewObjHolder(td)
	defer h.Release()
	fn(h)
}

// Slot returns the address of the root slot
func (h *ObjHolder) Slot() **object.ObjHeader {
	return &h.obj
}

// Obj returns the object currently held
func (h *ObjHolder) Obj() *object.ObjHeader {
	return h.obj
}

// Release unregisters the slot. Releasing twice is a no-op.
func (h *ObjHolder) Release() {
	if h.released {
		return
	}
	h.td.global.checkNotCollecting("ObjHolder.Release", h.td)
	h.released = true
	if !h.td.stackRoots.remove(h) {
		h.td.global.fatalf(InvariantViolation, "released holder is not registered on thread %d", h.td.id)
	}
	h.obj = nil
}
