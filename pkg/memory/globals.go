package memory

import (
	"sync"

	"mm_go/pkg/object"
)

// GlobalsRegistry holds the durable roots: addresses of long-lived storage
// locations whose current contents are live at every collection.
type GlobalsRegistry struct {
	mu        sync.Mutex
	global    *GlobalData
	locations []**object.ObjHeader
	index     map[**object.ObjHeader]struct{}
}

// RegisterStorageForGlobal adds location to the root set. Registering the
// same location twice is a no-op.
func (r *GlobalsRegistry) RegisterStorageForGlobal(td *ThreadData, location **object.ObjHeader) {
	g := r.global
	g.assertf(location != nil, "RegisterStorageForGlobal: nil location")
	g.assertf(td.global == g, "RegisterStorageForGlobal: thread %d belongs to another heap", td.id)
	g.checkNotCollecting("RegisterStorageForGlobal", td)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index == nil {
		r.index = make(map[**object.ObjHeader]struct{})
	}
	if _, ok := r.index[location]; ok {
		return
	}
	r.index[location] = struct{}{}
	r.locations = append(r.locations, location)
}

// Size returns the number of registered locations
func (r *GlobalsRegistry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locations)
}

// Iter calls fn with every registered location
func (r *GlobalsRegistry) Iter(fn func(location **object.ObjHeader)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, loc := range r.locations {
		fn(loc)
	}
}

// ClearForTests unregisters every location
func (r *GlobalsRegistry) ClearForTests() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locations = nil
	r.index = nil
}
