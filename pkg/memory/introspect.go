package memory

import (
	"mm_go/pkg/object"
)

// Alive returns every object td can still observe: its staged allocations
// followed by the global set. Order carries no meaning.
func Alive(td *ThreadData) []*object.ObjHeader {
	objects := make([]*object.ObjHeader, 0, td.queue.Size()+td.global.objectFactory.Size())
	collect := func(n *Node) {
		objects = append(objects, n.GetObjHeader())
	}
	td.queue.Iter(collect)
	td.global.objectFactory.Iter(collect)
	return objects
}

// ColorOf returns the marking state of obj. Outside a collection it is
// always White.
func ColorOf(obj *object.ObjHeader) object.Color {
	return obj.GCData().Color()
}
