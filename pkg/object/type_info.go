package object

import (
	"fmt"
)

// Type Descriptors
//
// A TypeInfo is shared by every instance of a type and never changes after
// Build. The collector consumes two capabilities from it:
//   - which slots hold traceable references (ObjOffsets for instances,
//     ElementKind for arrays)
//   - whether reclaimed instances must be finalized (FlagHasFinalizer)
//
// Instance bodies are modelled as word-sized slots. A slot listed in
// ObjOffsets holds a reference; every other slot is opaque payload.

// WordSize is the size of one instance slot in bytes
const WordSize = 8

// HeaderSize is the accounted size of an object header in bytes
const HeaderSize = 2 * WordSize

// ArrayHeaderSize is the accounted size of an array header (header + count)
const ArrayHeaderSize = HeaderSize + WordSize

// ElementKind describes the elements of an array type
type ElementKind uint8

const (
	ElementNone      ElementKind = iota // Not an array type
	ElementRef                          // Elements are traceable references
	ElementPrimitive                    // Elements are raw bytes, never traced
)

func (k ElementKind) String() string {
	switch k {
	case ElementNone:
		return "none"
	case ElementRef:
		return "ref"
	case ElementPrimitive:
		return "primitive"
	default:
		return fmt.Sprintf("ElementKind(%d)", uint8(k))
	}
}

// TypeFlags are capability bits of a type
type TypeFlags uint32

const (
	FlagHasFinalizer TypeFlags = 1 << iota // Instances are finalized before release
)

// TypeInfo describes the layout and capabilities of a type
type TypeInfo struct {
	Name         string
	InstanceSize uintptr     // Body size of scalar instances, multiple of WordSize
	ObjOffsets   []int       // Slot indices holding references
	ElementKind  ElementKind // ElementNone for scalar types
	ElementSize  uintptr     // Bytes per element for array types
	Flags        TypeFlags
	Finalizer    func(obj *ObjHeader) // Type-specific cleanup, run by the default finalizer hook

	refSlots []bool // refSlots[i] reports whether slot i is in ObjOffsets
}

// IsArray reports whether instances of the type are arrays
func (t *TypeInfo) IsArray() bool {
	return t.ElementKind != ElementNone
}

// HasFinalizer reports whether reclaimed instances must be finalized
func (t *TypeInfo) HasFinalizer() bool {
	return t.Flags&FlagHasFinalizer != 0
}

// SlotCount returns the number of word slots in a scalar instance
func (t *TypeInfo) SlotCount() int {
	return int(t.InstanceSize / WordSize)
}

// IsRefSlot reports whether slot i of a scalar instance holds a reference
func (t *TypeInfo) IsRefSlot(i int) bool {
	return i >= 0 && i < len(t.refSlots) && t.refSlots[i]
}

func (t *TypeInfo) String() string {
	return t.Name
}

// Validate checks the descriptor for internal consistency
func (t *TypeInfo) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("type info: missing name")
	}
	if t.IsArray() {
		if t.ElementSize == 0 {
			return fmt.Errorf("type info %s: array type with zero element size", t.Name)
		}
		if t.ElementKind == ElementRef && t.ElementSize != WordSize {
			return fmt.Errorf("type info %s: reference elements must be %d bytes, got %d", t.Name, WordSize, t.ElementSize)
		}
		if len(t.ObjOffsets) != 0 {
			return fmt.Errorf("type info %s: array type cannot declare field offsets", t.Name)
		}
		return nil
	}
	if t.InstanceSize%WordSize != 0 {
		return fmt.Errorf("type info %s: instance size %d is not a multiple of %d", t.Name, t.InstanceSize, WordSize)
	}
	slots := t.SlotCount()
	seen := make(map[int]bool, len(t.ObjOffsets))
	for _, off := range t.ObjOffsets {
		if off < 0 || off >= slots {
			return fmt.Errorf("type info %s: field offset %d out of range [0, %d)", t.Name, off, slots)
		}
		if seen[off] {
			return fmt.Errorf("type info %s: duplicate field offset %d", t.Name, off)
		}
		seen[off] = true
	}
	return nil
}

// Builder assembles a TypeInfo
type Builder struct {
	t TypeInfo
}

// ObjectBuilder starts a scalar type with the given number of word slots
func ObjectBuilder(name string, slots int) *Builder {
	return &Builder{t: TypeInfo{
		Name:         name,
		InstanceSize: uintptr(slots) * WordSize,
	}}
}

// ArrayBuilder starts an array type
func ArrayBuilder(name string, kind ElementKind, elementSize uintptr) *Builder {
	return &Builder{t: TypeInfo{
		Name:        name,
		ElementKind: kind,
		ElementSize: elementSize,
	}}
}

// RefFields marks slots as holding references
func (b *Builder) RefFields(offsets ...int) *Builder {
	b.t.ObjOffsets = append(b.t.ObjOffsets, offsets...)
	return b
}

// AddFlag sets a capability bit
func (b *Builder) AddFlag(flag TypeFlags) *Builder {
	b.t.Flags |= flag
	return b
}

// Finalizer installs type-specific cleanup and sets FlagHasFinalizer
func (b *Builder) Finalizer(fn func(obj *ObjHeader)) *Builder {
	b.t.Finalizer = fn
	b.t.Flags |= FlagHasFinalizer
	return b
}

// Build validates and returns the descriptor
func (b *Builder) Build() (*TypeInfo, error) {
	t := b.t
	t.ObjOffsets = append([]int(nil), b.t.ObjOffsets...)
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if !t.IsArray() {
		t.refSlots = make([]bool, t.SlotCount())
		for _, off := range t.ObjOffsets {
			t.refSlots[off] = true
		}
	}
	return &t, nil
}

// MustBuild is Build for statically known types; it panics on invalid input
func (b *Builder) MustBuild() *TypeInfo {
	t, err := b.Build()
	if err != nil {
		panic(err)
	}
	return t
}

// Built-in array types
var (
	ArrayTypeInfo     = ArrayBuilder("Array", ElementRef, WordSize).MustBuild()
	CharArrayTypeInfo = ArrayBuilder("CharArray", ElementPrimitive, 2).MustBuild()
	ByteArrayTypeInfo = ArrayBuilder("ByteArray", ElementPrimitive, 1).MustBuild()
)
