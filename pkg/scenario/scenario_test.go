package scenario

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mm_go/pkg/config"
	"mm_go/pkg/memory"
	"mm_go/pkg/object"
)

const chainDoc = `
name: chain
types:
  - {name: Payload, slots: 3, refs: [0, 1, 2]}
objects:
  - {id: root, type: Payload, root: global}
  - {id: a, type: Payload}
  - {id: b, type: Payload}
steps:
  - link: {from: root, slot: 0, to: a}
  - link: {from: a, slot: 1, to: b}
  - gc: true
  - expect: {alive: [root, a, b]}
  - unlink: {from: root, slot: 0}
  - gc: true
  - expect: {alive: [root]}
`

func mustParse(t *testing.T, doc string) *Scenario {
	t.Helper()
	s, err := Parse([]byte(doc))
	require.NoError(t, err)
	return s
}

func run(t *testing.T, doc string) (*Result, error) {
	t.Helper()
	return Run(mustParse(t, doc), Options{Config: config.Default().GC})
}

func TestParse(t *testing.T) {
	s := mustParse(t, chainDoc)
	assert.Equal(t, "chain", s.Name)
	require.Len(t, s.Types, 1)
	assert.Equal(t, []int{0, 1, 2}, s.Types[0].Refs)
	require.Len(t, s.Objects, 3)
	assert.Equal(t, RootGlobal, s.Objects[0].Root)
	require.Len(t, s.Steps, 7)
	assert.True(t, s.Steps[2].GC)
	assert.Equal(t, "root", s.Steps[4].Unlink.From)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr error
	}{
		{
			name:    "unknown type",
			doc:     "objects:\n  - {id: a, type: Missing}\n",
			wantErr: ErrUnknownType,
		},
		{
			name:    "unknown object in link",
			doc:     "objects:\n  - {id: a, type: Array, count: 1}\nsteps:\n  - link: {from: a, slot: 0, to: z}\n",
			wantErr: ErrUnknownObject,
		},
		{
			name:    "unknown object in expect",
			doc:     "steps:\n  - expect: {alive: [ghost]}\n",
			wantErr: ErrUnknownObject,
		},
		{
			name:    "object without id",
			doc:     "objects:\n  - {type: Array}\n",
			wantErr: ErrUnknownObject,
		},
		{
			name:    "two actions",
			doc:     "steps:\n  - {gc: true, expect: {}}\n",
			wantErr: ErrInvalidStep,
		},
		{
			name:    "empty step",
			doc:     "steps:\n  - {}\n",
			wantErr: ErrInvalidStep,
		},
		{
			name:    "unroot of non-root",
			doc:     "objects:\n  - {id: a, type: Array}\nsteps:\n  - unroot: a\n",
			wantErr: ErrInvalidStep,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParse_RejectsMalformedDocuments(t *testing.T) {
	docs := map[string]string{
		"unknown key":       "name: x\ncolour: red\n",
		"duplicate object":  "objects:\n  - {id: a, type: Array}\n  - {id: a, type: Array}\n",
		"duplicate type":    "types:\n  - {name: Array, slots: 1}\n",
		"count on scalar":   "types:\n  - {name: T, slots: 1}\nobjects:\n  - {id: a, type: T, count: 2}\n",
		"bad root kind":     "objects:\n  - {id: a, type: Array, root: heap}\n",
		"bad ref slot":      "types:\n  - {name: T, slots: 1, refs: [3]}\n",
		"not a yaml object": "[1, 2\n",
	}
	for name, doc := range docs {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestParse_CommentOnlyStep(t *testing.T) {
	s := mustParse(t, "steps:\n  - comment: nothing happens\n")
	require.Len(t, s.Steps, 1)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.yaml")
	require.NoError(t, os.WriteFile(path, []byte(chainDoc), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "chain", s.Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRun_UnlinkReclaimsChain(t *testing.T) {
	res, err := run(t, chainDoc)
	require.NoError(t, err)

	assert.Equal(t, "chain", res.Name)
	assert.Equal(t, []string{"root"}, res.Alive)
	require.Len(t, res.Collections, 2)
	assert.Equal(t, uint64(1), res.Collections[0].Epoch)
	assert.Equal(t, 3, res.Collections[0].Marked)
	assert.Zero(t, res.Collections[0].Swept)
	assert.Equal(t, 2, res.Collections[1].Swept)
	assert.NotZero(t, res.HeapBytes)
}

func TestRun_Finalizers(t *testing.T) {
	res, err := run(t, `
name: finalizers
types:
  - {name: Closeable, slots: 1, refs: [0], finalizer: true}
  - {name: Plain, slots: 1, refs: [0]}
objects:
  - {id: keep, type: Closeable, root: stack}
  - {id: c1, type: Closeable}
  - {id: c2, type: Closeable}
  - {id: p, type: Plain}
steps:
  - link: {from: c1, slot: 0, to: c2}
  - link: {from: c2, slot: 0, to: c1}
  - expect: {finalized: []}
  - gc: true
  - expect: {alive: [keep], finalized: [c1, c2]}
  - unroot: keep
  - gc: true
  - expect: {alive: [], finalized: [c1, c2, keep]}
`)
	require.NoError(t, err)
	assert.Empty(t, res.Alive)
	assert.ElementsMatch(t, []string{"c1", "c2", "keep"}, res.Finalized)
	assert.Equal(t, "keep", res.Finalized[2])
	assert.Zero(t, res.HeapBytes)
}

func TestRun_ArraysAndGlobalUnroot(t *testing.T) {
	res, err := run(t, `
name: arrays
objects:
  - {id: arr, type: Array, count: 2, root: global}
  - {id: text, type: CharArray, count: 8}
  - {id: raw, type: ByteArray, count: 4, root: stack}
steps:
  - link: {from: arr, slot: 1, to: text}
  - gc: true
  - expect: {alive: [arr, raw, text]}
  - unroot: arr
  - gc: true
  - expect: {alive: [raw]}
`)
	require.NoError(t, err)
	assert.Equal(t, []string{"raw"}, res.Alive)
}

func TestRun_ExpectationFailure(t *testing.T) {
	res, err := run(t, `
name: wrong
types:
  - {name: T, slots: 1, refs: [0]}
objects:
  - {id: a, type: T, root: stack}
  - {id: b, type: T}
steps:
  - gc: true
  - expect: {alive: [a, b]}
`)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExpectation)
	assert.Contains(t, err.Error(), "missing [b]")
	assert.Contains(t, err.Error(), "step 1")
	require.NotNil(t, res)
	assert.Equal(t, []string{"a"}, res.Alive)
}

func TestRun_LinkToReclaimedObject(t *testing.T) {
	_, err := run(t, `
name: dangling
types:
  - {name: T, slots: 1, refs: [0]}
objects:
  - {id: a, type: T, root: global}
  - {id: b, type: T}
steps:
  - gc: true
  - link: {from: a, slot: 0, to: b}
`)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReclaimed)
}

func TestRun_InvalidSlots(t *testing.T) {
	tests := map[string]string{
		"primitive slot": `
types:
  - {name: T, slots: 2, refs: [0]}
objects:
  - {id: a, type: T, root: stack}
steps:
  - link: {from: a, slot: 1, to: a}
`,
		"primitive array": `
objects:
  - {id: s, type: CharArray, count: 2, root: stack}
steps:
  - link: {from: s, slot: 0, to: s}
`,
		"index out of range": `
objects:
  - {id: arr, type: Array, count: 2, root: stack}
steps:
  - link: {from: arr, slot: 2, to: arr}
`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := run(t, doc)
			assert.ErrorIs(t, err, ErrInvalidStep)
		})
	}
}

func TestRun_HeapExhaustionIsReported(t *testing.T) {
	s := mustParse(t, `
name: oom
objects:
  - {id: a, type: ByteArray, count: 4096, root: stack}
  - {id: b, type: ByteArray, count: 4096, root: stack}
`)
	cfg := config.Default().GC
	cfg.MaxHeap = 6000
	cfg.MaxArray = 6000

	_, err := Run(s, Options{Config: cfg})
	require.Error(t, err)
	var fatal *memory.FatalError
	require.True(t, errors.As(err, &fatal))
	assert.Equal(t, memory.OutOfMemory, fatal.Kind)
}

func TestRun_HeapsAreIsolated(t *testing.T) {
	s := mustParse(t, chainDoc)
	first, err := Run(s, Options{Config: config.Default().GC})
	require.NoError(t, err)
	second, err := Run(s, Options{Config: config.Default().GC})
	require.NoError(t, err)

	assert.Equal(t, first.Alive, second.Alive)
	assert.Equal(t, uint64(1), second.Collections[0].Epoch)
}

func TestDiffSets(t *testing.T) {
	assert.Empty(t, diffSets([]string{"a", "b"}, []string{"b", "a"}))
	assert.Empty(t, diffSets(nil, []string{}))
	assert.Equal(t, "missing [a], unexpected [c]", diffSets([]string{"a", "b"}, []string{"b", "c"}))
	assert.Equal(t, "missing [x], unexpected []", diffSets([]string{"x", "x"}, []string{"x"}))
}

func TestRun_ValidatesHandBuiltScenarios(t *testing.T) {
	s := &Scenario{
		Name:    "handmade",
		Objects: []ObjectSpec{{ID: "a", Type: "Array", Count: 1, Root: RootStack}},
		Steps:   []Step{{Link: &Edge{From: "a", Slot: 0, To: "ghost"}}},
	}
	res, err := Run(s, Options{Config: config.Default().GC})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownObject)
	assert.Nil(t, res)
}

func TestRunner_LiveRejectsUnknownIDs(t *testing.T) {
	r := &runner{objects: map[string]*object.ObjHeader{}}
	_, err := r.live("ghost")
	assert.ErrorIs(t, err, ErrUnknownObject)
}
