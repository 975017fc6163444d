package object

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
)

// Object Headers
//
// Every allocation is an ObjHeader. The header owns:
//   - the type descriptor pointer
//   - the collector's per-object data (a color and a published bit)
//   - a random generation, zeroed when the object is released so stale
//     handles can be detected in O(1)
//   - a body: either an instance (word slots) or an ArrayHeader
//
// Both body shapes implement forEachRefSlot, so the marker traces them
// without knowing which one it holds.

// Color is the collector's per-object marking state
type Color uint8

const (
	White Color = iota // Unvisited; the resting state between collections
	Gray               // Discovered, fields not yet scanned
	Black              // Fully scanned, reachable
)

func (c Color) String() string {
	switch c {
	case White:
		return "white"
	case Gray:
		return "gray"
	case Black:
		return "black"
	default:
		return fmt.Sprintf("Color(%d)", uint8(c))
	}
}

// ObjectData is the collector's record attached to every header
type ObjectData struct {
	color     Color
	published bool
}

// Color returns the current marking state
func (d *ObjectData) Color() Color {
	return d.color
}

// SetColor updates the marking state
func (d *ObjectData) SetColor(c Color) {
	d.color = c
}

// Published reports whether the object is in the global allocation set
func (d *ObjectData) Published() bool {
	return d.published
}

// SetPublished records entry into or removal from the global allocation set
func (d *ObjectData) SetPublished(published bool) {
	d.published = published
}

// Generation identifies one lifetime of a header; zero means released
type Generation uint64

// newGeneration returns a random non-zero generation
func newGeneration() Generation {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return Generation(0xDEADBEEF)
	}
	if g := Generation(binary.LittleEndian.Uint64(buf[:])); g != 0 {
		return g
	}
	return 1
}

type body interface {
	forEachRefSlot(fn func(slot **ObjHeader))
	size() uintptr
}

// ObjHeader is the header of every heap object and array
type ObjHeader struct {
	typeInfo *TypeInfo
	gcData   ObjectData
	gen      Generation
	body     body
}

type instance struct {
	slots    []*ObjHeader
	typeInfo *TypeInfo
}

func (b *instance) forEachRefSlot(fn func(slot **ObjHeader)) {
	for _, off := range b.typeInfo.ObjOffsets {
		fn(&b.slots[off])
	}
}

func (b *instance) size() uintptr {
	return HeaderSize + b.typeInfo.InstanceSize
}

// ArrayHeader is the body of an array allocation
type ArrayHeader struct {
	obj      *ObjHeader
	count    uint32
	elements []*ObjHeader // ElementRef arrays
	data     []byte       // ElementPrimitive arrays
}

func (a *ArrayHeader) forEachRefSlot(fn func(slot **ObjHeader)) {
	for i := range a.elements {
		fn(&a.elements[i])
	}
}

func (a *ArrayHeader) size() uintptr {
	return ArrayHeaderSize + uintptr(a.count)*a.obj.typeInfo.ElementSize
}

// InstanceAllocSize returns the accounted size of a scalar instance of t
func InstanceAllocSize(t *TypeInfo) uint64 {
	return uint64(HeaderSize + t.InstanceSize)
}

// ArrayAllocSize returns the accounted size of an array of t with count
// elements; ok is false when the size overflows
func ArrayAllocSize(t *TypeInfo, count uint32) (size uint64, ok bool) {
	if t.ElementSize != 0 && uint64(count) > (math.MaxUint64-ArrayHeaderSize)/uint64(t.ElementSize) {
		return 0, false
	}
	return ArrayHeaderSize + uint64(count)*uint64(t.ElementSize), true
}

// NewObject constructs a zeroed scalar instance of t
func NewObject(t *TypeInfo) *ObjHeader {
	if t.IsArray() {
		panic(fmt.Sprintf("object: NewObject called with array type %s", t.Name))
	}
	return &ObjHeader{
		typeInfo: t,
		gen:      newGeneration(),
		body: &instance{
			slots:    make([]*ObjHeader, t.SlotCount()),
			typeInfo: t,
		},
	}
}

// NewArray constructs a zeroed array of t with count elements
func NewArray(t *TypeInfo, count uint32) *ObjHeader {
	if !t.IsArray() {
		panic(fmt.Sprintf("object: NewArray called with scalar type %s", t.Name))
	}
	h := &ObjHeader{
		typeInfo: t,
		gen:      newGeneration(),
	}
	arr := &ArrayHeader{obj: h, count: count}
	if t.ElementKind == ElementRef {
		arr.elements = make([]*ObjHeader, count)
	} else {
		arr.data = make([]byte, uint64(count)*uint64(t.ElementSize))
	}
	h.body = arr
	return h
}

// Type returns the type descriptor
func (h *ObjHeader) Type() *TypeInfo {
	return h.typeInfo
}

// GCData returns the collector's record for this header
func (h *ObjHeader) GCData() *ObjectData {
	return &h.gcData
}

// Generation returns the current generation, zero once released
func (h *ObjHeader) Generation() Generation {
	return h.gen
}

// IsAlive reports whether the header has not been released
func (h *ObjHeader) IsAlive() bool {
	return h.gen != 0
}

// IsArray reports whether the header is an array
func (h *ObjHeader) IsArray() bool {
	return h.typeInfo.IsArray()
}

// Array returns the array body, or nil for scalar objects and released headers
func (h *ObjHeader) Array() *ArrayHeader {
	arr, _ := h.body.(*ArrayHeader)
	return arr
}

// Size returns the accounted size of the allocation in bytes
func (h *ObjHeader) Size() uintptr {
	if h.body == nil {
		return 0
	}
	return h.body.size()
}

// ForEachRefSlot calls fn with the address of every traceable slot.
// Released headers have no slots.
func (h *ObjHeader) ForEachRefSlot(fn func(slot **ObjHeader)) {
	if h.body == nil {
		return
	}
	h.body.forEachRefSlot(fn)
}

// Field returns the reference stored in slot i of a scalar object
func (h *ObjHeader) Field(i int) *ObjHeader {
	return *h.fieldSlot(i)
}

// SetField stores ref in slot i of a scalar object
func (h *ObjHeader) SetField(i int, ref *ObjHeader) {
	*h.fieldSlot(i) = ref
}

func (h *ObjHeader) fieldSlot(i int) **ObjHeader {
	inst, ok := h.body.(*instance)
	if !ok {
		panic(fmt.Sprintf("object: field access on %s, which is not a live scalar object", h.describe()))
	}
	if !h.typeInfo.IsRefSlot(i) {
		panic(fmt.Sprintf("object: slot %d of %s does not hold a reference", i, h.typeInfo.Name))
	}
	return &inst.slots[i]
}

// Release drops the body and zeroes the generation; the header must not be
// reachable afterwards
func (h *ObjHeader) Release() {
	h.gen = 0
	h.body = nil
}

func (h *ObjHeader) describe() string {
	if !h.IsAlive() {
		return fmt.Sprintf("released %s", h.typeInfo.Name)
	}
	return h.typeInfo.Name
}

func (h *ObjHeader) String() string {
	return fmt.Sprintf("%s@%p", h.describe(), h)
}

// Obj returns the header owning the array
func (a *ArrayHeader) Obj() *ObjHeader {
	return a.obj
}

// Count returns the number of elements
func (a *ArrayHeader) Count() uint32 {
	return a.count
}

// Get returns element i of a reference array
func (a *ArrayHeader) Get(i int) *ObjHeader {
	return *a.elementSlot(i)
}

// Set stores ref in element i of a reference array
func (a *ArrayHeader) Set(i int, ref *ObjHeader) {
	*a.elementSlot(i) = ref
}

// Slot returns the address of element i of a reference array
func (a *ArrayHeader) Slot(i int) **ObjHeader {
	return a.elementSlot(i)
}

func (a *ArrayHeader) elementSlot(i int) **ObjHeader {
	if a.obj.typeInfo.ElementKind != ElementRef {
		panic(fmt.Sprintf("object: reference access on primitive array %s", a.obj.typeInfo.Name))
	}
	if i < 0 || i >= len(a.elements) {
		panic(fmt.Sprintf("object: index %d out of range for %s of length %d", i, a.obj.typeInfo.Name, a.count))
	}
	return &a.elements[i]
}

// Bytes returns the raw storage of a primitive array
func (a *ArrayHeader) Bytes() []byte {
	return a.data
}
