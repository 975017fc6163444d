package memory

import (
	"mm_go/pkg/object"
)

// AllocateObject creates a zeroed scalar object of typeInfo, stages it on
// td and stores it in *location. Exhausting the heap is fatal.
func AllocateObject(td *ThreadData, typeInfo *object.TypeInfo, location **object.ObjHeader) {
	g := td.global
	td.checkAllocation("AllocateObject", typeInfo, location)
	if typeInfo.IsArray() {
		g.fatalf(InvariantViolation, "AllocateObject called with array type %s", typeInfo.Name)
	}

	size := object.InstanceAllocSize(typeInfo)
	limit := g.Config().HeapLimit()
	if !g.objectFactory.reserve(size, limit) {
		g.fatalf(OutOfMemory, "cannot allocate %d bytes for %s: %d of %d bytes in use",
			size, typeInfo.Name, g.objectFactory.AllocatedBytes(), limit)
	}
	node := td.queue.add(object.NewObject(typeInfo))
	*location = node.GetObjHeader()
}

// AllocateArray creates a zeroed array of typeInfo with count elements,
// stages it on td and stores it in *location. Arrays larger than the
// configured maximum and heap exhaustion are fatal.
func AllocateArray(td *ThreadData, typeInfo *object.TypeInfo, count uint32, location **object.ObjHeader) {
	g := td.global
	td.checkAllocation("AllocateArray", typeInfo, location)
	if !typeInfo.IsArray() {
		g.fatalf(InvariantViolation, "AllocateArray called with scalar type %s", typeInfo.Name)
	}

	cfg := g.Config()
	size, ok := object.ArrayAllocSize(typeInfo, count)
	if !ok || (cfg.ArrayLimit() != 0 && size > cfg.ArrayLimit()) {
		g.fatalf(OutOfMemory, "array of %d %s elements exceeds the maximum array size %d",
			count, typeInfo.Name, cfg.ArrayLimit())
	}
	if !g.objectFactory.reserve(size, cfg.HeapLimit()) {
		g.fatalf(OutOfMemory, "cannot allocate %d bytes for %s[%d]: %d of %d bytes in use",
			size, typeInfo.Name, count, g.objectFactory.AllocatedBytes(), cfg.HeapLimit())
	}
	node := td.queue.add(object.NewArray(typeInfo, count))
	*location = node.GetObjHeader()
}

func (td *ThreadData) checkAllocation(op string, typeInfo *object.TypeInfo, location **object.ObjHeader) {
	g := td.global
	g.checkNotCollecting(op, td)
	g.assertf(typeInfo != nil, "%s: nil type info", op)
	g.assertf(location != nil, "%s: nil location", op)
}
