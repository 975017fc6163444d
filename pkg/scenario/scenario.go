package scenario

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"mm_go/pkg/object"
)

// Heap Scenarios
//
// A scenario declares types, allocations and a list of steps mutating the
// object graph, collecting and checking the outcome:
//
//	name: chain
//	types:
//	  - {name: Payload, slots: 3, refs: [0, 1, 2]}
//	  - {name: Closeable, slots: 1, refs: [0], finalizer: true}
//	objects:
//	  - {id: root, type: Payload, root: global}
//	  - {id: a, type: Payload}
//	  - {id: buf, type: CharArray, count: 16, root: stack}
//	steps:
//	  - link: {from: root, slot: 0, to: a}
//	  - gc: true
//	  - expect: {alive: [root, a, buf]}
//	  - unlink: {from: root, slot: 0}
//	  - gc: true
//	  - expect: {alive: [root, buf], finalized: []}
//
// Array, CharArray and ByteArray are predefined types. For arrays, slot is
// the element index.

var (
	ErrUnknownType   = errors.New("unknown type")
	ErrUnknownObject = errors.New("unknown object")
	ErrInvalidStep   = errors.New("invalid step")
	ErrExpectation   = errors.New("expectation failed")
	ErrReclaimed     = errors.New("object already reclaimed")
)

// RootKind says how an object is kept alive
type RootKind string

const (
	RootNone   RootKind = ""
	RootGlobal RootKind = "global"
	RootStack  RootKind = "stack"
)

// TypeSpec declares a scalar type
type TypeSpec struct {
	Name      string `yaml:"name"`
	Slots     int    `yaml:"slots"`
	Refs      []int  `yaml:"refs"`
	Finalizer bool   `yaml:"finalizer"`
}

// ObjectSpec declares one allocation
type ObjectSpec struct {
	ID    string   `yaml:"id"`
	Type  string   `yaml:"type"`
	Count uint32   `yaml:"count"`
	Root  RootKind `yaml:"root"`
}

// Edge names a reference slot and, for links, its new target
type Edge struct {
	From string `yaml:"from"`
	Slot int    `yaml:"slot"`
	To   string `yaml:"to"`
}

// Expect checks the heap after a step; nil lists are not checked.
// Finalized is cumulative over the whole run.
type Expect struct {
	Alive     []string `yaml:"alive"`
	Finalized []string `yaml:"finalized"`
}

// Step is one action; exactly one field is set
type Step struct {
	Link    *Edge   `yaml:"link"`
	Unlink  *Edge   `yaml:"unlink"`
	Unroot  string  `yaml:"unroot"`
	GC      bool    `yaml:"gc"`
	Expect  *Expect `yaml:"expect"`
	Comment string  `yaml:"comment"`
}

// Scenario is a parsed scenario document
type Scenario struct {
	Name    string       `yaml:"name"`
	Types   []TypeSpec   `yaml:"types"`
	Objects []ObjectSpec `yaml:"objects"`
	Steps   []Step       `yaml:"steps"`
}

// Load reads a scenario file
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes and validates a scenario document
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.UnmarshalStrict(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks names and references without allocating anything
func (s *Scenario) Validate() error {
	types, err := s.buildTypes(nil)
	if err != nil {
		return err
	}
	objects := make(map[string]ObjectSpec, len(s.Objects))
	for _, o := range s.Objects {
		if o.ID == "" {
			return fmt.Errorf("%w: object without id", ErrUnknownObject)
		}
		if _, dup := objects[o.ID]; dup {
			return fmt.Errorf("duplicate object %q", o.ID)
		}
		typ, ok := types[o.Type]
		if !ok {
			return fmt.Errorf("%w %q for object %q", ErrUnknownType, o.Type, o.ID)
		}
		if o.Count != 0 && !typ.IsArray() {
			return fmt.Errorf("object %q: count given for scalar type %s", o.ID, typ.Name)
		}
		switch o.Root {
		case RootNone, RootGlobal, RootStack:
		default:
			return fmt.Errorf("object %q: unknown root kind %q", o.ID, o.Root)
		}
		objects[o.ID] = o
	}

	known := func(id string) error {
		if _, ok := objects[id]; !ok {
			return fmt.Errorf("%w %q", ErrUnknownObject, id)
		}
		return nil
	}
	for i, st := range s.Steps {
		set := 0
		if st.Link != nil {
			set++
			if err := known(st.Link.From); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
			if err := known(st.Link.To); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
		}
		if st.Unlink != nil {
			set++
			if err := known(st.Unlink.From); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
		}
		if st.Unroot != "" {
			set++
			if err := known(st.Unroot); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
			if objects[st.Unroot].Root == RootNone {
				return fmt.Errorf("%w: step %d: %q is not a root", ErrInvalidStep, i, st.Unroot)
			}
		}
		if st.GC {
			set++
		}
		if st.Expect != nil {
			set++
			for _, id := range append(append([]string(nil), st.Expect.Alive...), st.Expect.Finalized...) {
				if err := known(id); err != nil {
					return fmt.Errorf("step %d: %w", i, err)
				}
			}
		}
		if set != 1 && !(set == 0 && st.Comment != "") {
			return fmt.Errorf("%w: step %d sets %d actions", ErrInvalidStep, i, set)
		}
	}
	return nil
}

// buildTypes returns the declared types plus the predefined array types.
// Finalizable types get finalize as their cleanup when it is not nil.
func (s *Scenario) buildTypes(finalize func(obj *object.ObjHeader)) (map[string]*object.TypeInfo, error) {
	types := map[string]*object.TypeInfo{
		object.ArrayTypeInfo.Name:     object.ArrayTypeInfo,
		object.CharArrayTypeInfo.Name: object.CharArrayTypeInfo,
		object.ByteArrayTypeInfo.Name: object.ByteArrayTypeInfo,
	}
	for _, ts := range s.Types {
		if _, dup := types[ts.Name]; dup {
			return nil, fmt.Errorf("duplicate type %q", ts.Name)
		}
		b := object.ObjectBuilder(ts.Name, ts.Slots).RefFields(ts.Refs...)
		if ts.Finalizer {
			b.AddFlag(object.FlagHasFinalizer)
			if finalize != nil {
				b.Finalizer(finalize)
			}
		}
		typ, err := b.Build()
		if err != nil {
			return nil, err
		}
		types[ts.Name] = typ
	}
	return types, nil
}
