package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mm_go/pkg/config"
	"mm_go/pkg/object"
)

const (
	field1 = 0
	field2 = 1
	field3 = 2
)

var (
	payloadType              = object.ObjectBuilder("Payload", 3).RefFields(field1, field2, field3).MustBuild()
	payloadWithFinalizerType = object.ObjectBuilder("PayloadWithFinalizer", 3).RefFields(field1, field2, field3).AddFlag(object.FlagHasFinalizer).MustBuild()
)

type finalizerMock struct {
	mock.Mock
}

func (m *finalizerMock) Finalize(obj *object.ObjHeader) {
	m.Called(obj)
}

// heapTest wires a ThreadData on the process-wide heap and a mocked
// finalizer hook, and cleans both up when the test ends
type heapTest struct {
	t         *testing.T
	td        *ThreadData
	finalizer *finalizerMock
}

func newHeapTest(t *testing.T) *heapTest {
	t.Helper()
	g := Global()
	g.Configure(config.Default().GC)
	td := NewThreadData(g)
	fm := &finalizerMock{}
	restore := SetFinalizerHookForTests(fm.Finalize)
	t.Cleanup(func() {
		restore()
		td.queue.ClearForTests()
		g.ClearForTests()
		g.Configure(config.Default().GC)
		fm.AssertExpectations(t)
	})
	return &heapTest{t: t, td: td, finalizer: fm}
}

func (h *heapTest) expectFinalized(objs ...*object.ObjHeader) {
	for _, obj := range objs {
		h.finalizer.On("Finalize", obj).Once()
	}
}

func (h *heapTest) registerGlobal() **object.ObjHeader {
	location := new(*object.ObjHeader)
	Global().GlobalsRegistry().RegisterStorageForGlobal(h.td, location)
	return location
}

func (h *heapTest) globalObject() *object.ObjHeader {
	location := h.registerGlobal()
	AllocateObject(h.td, payloadType, location)
	return *location
}

func (h *heapTest) globalArray() *object.ObjHeader {
	location := h.registerGlobal()
	AllocateArray(h.td, object.ArrayTypeInfo, 3, location)
	return *location
}

func (h *heapTest) globalCharArray() *object.ObjHeader {
	location := h.registerGlobal()
	AllocateArray(h.td, object.CharArrayTypeInfo, 3, location)
	return *location
}

func (h *heapTest) stackObject() *object.ObjHeader {
	holder := NewObjHolder(h.td)
	AllocateObject(h.td, payloadType, holder.Slot())
	return holder.Obj()
}

func (h *heapTest) stackArray() *object.ObjHeader {
	holder := NewObjHolder(h.td)
	AllocateArray(h.td, object.ArrayTypeInfo, 3, holder.Slot())
	return holder.Obj()
}

func (h *heapTest) stackCharArray() *object.ObjHeader {
	holder := NewObjHolder(h.td)
	AllocateArray(h.td, object.CharArrayTypeInfo, 3, holder.Slot())
	return holder.Obj()
}

// allocate creates an object that is not rooted once it returns
func (h *heapTest) allocate(typeInfo *object.TypeInfo) *object.ObjHeader {
	var obj *object.ObjHeader
	WithObjHolder(h.td, func(holder *ObjHolder) {
		AllocateObject(h.td, typeInfo, holder.Slot())
		obj = holder.Obj()
	})
	return obj
}

func (h *heapTest) object() *object.ObjHeader {
	return h.allocate(payloadType)
}

func (h *heapTest) objectWithFinalizer() *object.ObjHeader {
	return h.allocate(payloadWithFinalizerType)
}

func (h *heapTest) gc() {
	h.td.GC().PerformFullGC()
}

func (h *heapTest) requireAlive(objs ...*object.ObjHeader) {
	h.t.Helper()
	require.ElementsMatch(h.t, objs, Alive(h.td))
}

func (h *heapTest) assertAlive(objs ...*object.ObjHeader) {
	h.t.Helper()
	assert.ElementsMatch(h.t, objs, Alive(h.td))
}

func (h *heapTest) assertWhite(objs ...*object.ObjHeader) {
	h.t.Helper()
	for _, obj := range objs {
		assert.Equal(h.t, object.White, ColorOf(obj), "color of %s", obj)
	}
}

// requireFatal runs fn and requires it to raise a fatal error of kind
func requireFatal(t *testing.T, kind FatalKind, fn func()) *FatalError {
	t.Helper()
	var fatal *FatalError
	func() {
		defer func() {
			r := recover()
			require.NotNil(t, r, "expected a fatal %s", kind)
			err, ok := r.(*FatalError)
			require.True(t, ok, "unexpected panic value %v", r)
			fatal = err
		}()
		fn()
	}()
	require.Equal(t, kind, fatal.Kind, fatal.Msg)
	return fatal
}
