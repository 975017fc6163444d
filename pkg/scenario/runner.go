package scenario

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"mm_go/pkg/config"
	"mm_go/pkg/memory"
	"mm_go/pkg/object"
)

// Options configure a scenario run
type Options struct {
	Config config.GCConfig
	Logger *slog.Logger // nil discards
}

// Result is the outcome of a scenario run
type Result struct {
	Name        string
	Collections []memory.GCStats
	Alive       []string // Sorted ids alive at the end
	Finalized   []string // Ids in finalization order
	HeapBytes   uint64   // Accounted bytes at the end
}

type runner struct {
	s       *Scenario
	td      *memory.ThreadData
	types   map[string]*object.TypeInfo
	objects map[string]*object.ObjHeader
	ids     map[*object.ObjHeader]string
	globals map[string]**object.ObjHeader
	holders map[string]*memory.ObjHolder
	res     *Result
}

// Run validates s and executes it on a fresh heap and a dedicated mutator
// thread. A fatal runtime error raised by the heap is returned as an error
// wrapping the *memory.FatalError.
func Run(s *Scenario, opts Options) (res *Result, err error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	g := memory.NewGlobalData(opts.Config)
	g.SetLogger(opts.Logger)
	res = &Result{Name: s.Name}

	defer func() {
		if r := recover(); r != nil {
			fatal, ok := r.(*memory.FatalError)
			if !ok {
				panic(r)
			}
			err = fmt.Errorf("scenario %s: %w", s.Name, fatal)
		}
	}()

	memory.RunInNewThreadOn(g, func(td *memory.ThreadData) {
		r := &runner{
			s:       s,
			td:      td,
			objects: make(map[string]*object.ObjHeader),
			ids:     make(map[*object.ObjHeader]string),
			globals: make(map[string]**object.ObjHeader),
			holders: make(map[string]*memory.ObjHolder),
			res:     res,
		}
		defer r.releaseHolders()
		err = r.run()
		res.Alive = r.alive()
		res.HeapBytes = g.ObjectFactory().AllocatedBytes()
	})
	if err != nil {
		return res, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	return res, nil
}

func (r *runner) run() error {
	types, err := r.s.buildTypes(r.finalize)
	if err != nil {
		return err
	}
	r.types = types

	for _, decl := range r.s.Objects {
		r.allocate(decl)
	}
	for i, st := range r.s.Steps {
		if err := r.step(st); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}

func (r *runner) finalize(obj *object.ObjHeader) {
	r.res.Finalized = append(r.res.Finalized, r.ids[obj])
}

func (r *runner) allocate(decl ObjectSpec) {
	typ := r.types[decl.Type]
	alloc := func(location **object.ObjHeader) {
		if typ.IsArray() {
			memory.AllocateArray(r.td, typ, decl.Count, location)
		} else {
			memory.AllocateObject(r.td, typ, location)
		}
	}

	var obj *object.ObjHeader
	switch decl.Root {
	case RootGlobal:
		location := new(*object.ObjHeader)
		r.td.Global().GlobalsRegistry().RegisterStorageForGlobal(r.td, location)
		alloc(location)
		r.globals[decl.ID] = location
		obj = *location
	case RootStack:
		holder := memory.NewObjHolder(r.td)
		r.holders[decl.ID] = holder
		alloc(holder.Slot())
		obj = holder.Obj()
	default:
		memory.WithObjHolder(r.td, func(holder *memory.ObjHolder) {
			alloc(holder.Slot())
			obj = holder.Obj()
		})
	}
	r.objects[decl.ID] = obj
	r.ids[obj] = decl.ID
}

func (r *runner) step(st Step) error {
	switch {
	case st.Link != nil:
		return r.store(*st.Link, st.Link.To)
	case st.Unlink != nil:
		return r.store(*st.Unlink, "")
	case st.Unroot != "":
		if location, ok := r.globals[st.Unroot]; ok {
			*location = nil
		}
		if holder, ok := r.holders[st.Unroot]; ok {
			holder.Release()
			delete(r.holders, st.Unroot)
		}
		return nil
	case st.GC:
		r.td.GC().PerformFullGC()
		r.res.Collections = append(r.res.Collections, r.td.GC().LastStats())
		return nil
	case st.Expect != nil:
		return r.check(*st.Expect)
	}
	return nil
}

func (r *runner) live(id string) (*object.ObjHeader, error) {
	obj, ok := r.objects[id]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownObject, id)
	}
	if !obj.IsAlive() {
		return nil, fmt.Errorf("%w: %q", ErrReclaimed, id)
	}
	return obj, nil
}

// store writes the object named to (nil when empty) into e.From's slot
func (r *runner) store(e Edge, to string) error {
	from, err := r.live(e.From)
	if err != nil {
		return err
	}
	var target *object.ObjHeader
	if to != "" {
		if target, err = r.live(to); err != nil {
			return err
		}
	}

	typ := from.Type()
	if arr := from.Array(); arr != nil {
		if typ.ElementKind != object.ElementRef {
			return fmt.Errorf("%w: %q is a primitive array", ErrInvalidStep, e.From)
		}
		if e.Slot < 0 || e.Slot >= int(arr.Count()) {
			return fmt.Errorf("%w: index %d out of range for %q", ErrInvalidStep, e.Slot, e.From)
		}
		arr.Set(e.Slot, target)
		return nil
	}
	if !typ.IsRefSlot(e.Slot) {
		return fmt.Errorf("%w: slot %d of %s is not a reference", ErrInvalidStep, e.Slot, typ.Name)
	}
	from.SetField(e.Slot, target)
	return nil
}

func (r *runner) alive() []string {
	var ids []string
	for _, obj := range memory.Alive(r.td) {
		ids = append(ids, r.ids[obj])
	}
	sort.Strings(ids)
	return ids
}

func (r *runner) check(e Expect) error {
	var problems []string
	if e.Alive != nil {
		if diff := diffSets(e.Alive, r.alive()); diff != "" {
			problems = append(problems, "alive: "+diff)
		}
	}
	if e.Finalized != nil {
		if diff := diffSets(e.Finalized, r.res.Finalized); diff != "" {
			problems = append(problems, "finalized: "+diff)
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrExpectation, strings.Join(problems, "; "))
	}
	return nil
}

func (r *runner) releaseHolders() {
	for id, holder := range r.holders {
		holder.Release()
		delete(r.holders, id)
	}
}

// diffSets compares two id lists ignoring order
func diffSets(want, got []string) string {
	count := make(map[string]int)
	for _, id := range want {
		count[id]++
	}
	for _, id := range got {
		count[id]--
	}
	var missing, extra []string
	for id, n := range count {
		for ; n > 0; n-- {
			missing = append(missing, id)
		}
		for ; n < 0; n++ {
			extra = append(extra, id)
		}
	}
	if len(missing) == 0 && len(extra) == 0 {
		return ""
	}
	sort.Strings(missing)
	sort.Strings(extra)
	return fmt.Sprintf("missing %v, unexpected %v", missing, extra)
}
