package evie_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/ozanh/evie"
)

type valueRoots struct {
	values []Value
}

func (r *valueRoots) MarkRoots(h *Heap) {
	for _, v := range r.values {
		h.MarkValue(v)
	}
}

func TestHeap_Intern(t *testing.T) {
	h := NewHeap(HeapOptions{})
	a := h.Intern("x")
	b := h.Intern("x")
	c := h.Intern("y")
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Equal(t, "x", h.StringOf(a))
	require.True(t, h.IsType(ObjectValue(a), ObjString))
	require.Equal(t, "string", h.TypeName(ObjectValue(a)))
	require.Equal(t, "number", h.TypeName(Number(1)))
	require.Equal(t, 2, h.Stats().Objects)
}

func TestHeap_CollectUnreachable(t *testing.T) {
	h := NewHeap(HeapOptions{})
	garbage := h.Intern("garbage")
	keep := h.Intern("keep")
	h.Pin(keep)
	h.Pin(keep)

	h.Collect()
	require.False(t, h.Contains(garbage))
	require.True(t, h.Contains(keep))
	require.Equal(t, "keep", h.StringOf(keep))
	st := h.Stats()
	require.Equal(t, 1, st.Objects)
	require.Equal(t, 1, st.Freed)
	require.Equal(t, 1, st.Collections)

	// pins are counted
	h.Unpin(keep)
	h.Collect()
	require.True(t, h.Contains(keep))

	h.Unpin(keep)
	h.Collect()
	require.False(t, h.Contains(keep))
	require.Equal(t, 0, h.Stats().Objects)
	require.Equal(t, 0, h.Stats().BytesAllocated)

	// a collected string can be interned again
	ref := h.Intern("keep")
	require.Equal(t, "keep", h.StringOf(ref))
}

func TestHeap_RootMarker(t *testing.T) {
	h := NewHeap(HeapOptions{})
	roots := &valueRoots{}
	h.AddRoots(roots)

	a := h.Intern("a")
	roots.values = append(roots.values, ObjectValue(a), Number(1), Nil)
	h.Intern("b")
	h.Collect()
	require.True(t, h.Contains(a))
	require.Equal(t, 1, h.Stats().Objects)

	h.RemoveRoots(roots)
	h.Collect()
	require.False(t, h.Contains(a))
}

func TestHeap_TraceReferences(t *testing.T) {
	h := NewHeap(HeapOptions{})
	class := h.NewClass(h.Intern("C"))
	inst := h.NewInstance(class)
	h.Get(inst).(*Instance).Fields[h.Intern("f")] = ObjectValue(h.Intern("v"))
	h.Intern("unused")
	h.Pin(inst)

	h.Collect()
	// instance, class, class name, field name and field value
	require.Equal(t, 5, h.Stats().Objects)
	require.Equal(t, "C instance", h.ValueString(ObjectValue(inst)))
	require.Equal(t, "C", h.ValueString(ObjectValue(class)))
}

func TestHeap_StressLinkedList(t *testing.T) {
	script := `
class Node {
  init(v, next) {
    this.v = v;
    this.next = next;
  }
}
var head = nil;
for (var i = 0; i < 50; i = i + 1) head = Node(i, head);
var sum = 0;
while (head != nil) {
  sum = sum + head.v;
  head = head.next;
}
return sum;
`
	expectRun(t, script, 1225)
	expectOutput(t, `
var s = "";
for (var i = 0; i < 10; i = i + 1) s = s + str(i);
print s;
`, "0123456789\n")
}

func TestHeap_Threshold(t *testing.T) {
	var out bytes.Buffer
	bc, err := Compile([]byte(`
var s;
for (var i = 0; i < 300; i = i + 1) {
  s = str(i) + "-garbage";
}
print s;
`), CompilerOptions{HeapOptions: HeapOptions{InitialThreshold: 1024}})
	require.NoError(t, err)
	h := bc.Heap
	vm := NewVM(bc, VMOptions{Stdout: &out})

	_, err = vm.Run()
	require.NoError(t, err)
	require.Equal(t, "299-garbage\n", out.String())

	st := h.Stats()
	require.Greater(t, st.Collections, 0)
	require.Greater(t, st.Freed, 0)
	require.GreaterOrEqual(t, st.NextGC, 1024)

	vm.Close()
	bc.Release()
	h.Collect()
	require.Equal(t, 0, h.Stats().Objects)
	require.Equal(t, 0, h.Stats().BytesAllocated)
}

func TestHeap_TraceWriter(t *testing.T) {
	var trace bytes.Buffer
	_, err := Compile([]byte(`var a = "x";`),
		CompilerOptions{HeapOptions: HeapOptions{Stress: true, Trace: &trace}})
	require.NoError(t, err)
	require.Contains(t, trace.String(), "-- gc begin\n-- gc end\n   collected ")
}

func TestHeap_OutOfMemory(t *testing.T) {
	script := `
class Node {
  init(next) { this.next = next; }
}
var head = nil;
while (true) {
  head = Node(head);
}
`
	for _, mode := range testModes {
		t.Run(mode.name, func(t *testing.T) {
			bc, err := Compile([]byte(script), CompilerOptions{
				HeapOptions: HeapOptions{MaxBytes: 8192, Stress: mode.stress},
			})
			require.NoError(t, err)
			defer bc.Release()
			vm := NewVM(bc, VMOptions{})
			defer vm.Close()

			_, err = vm.Run()
			require.True(t, errors.Is(err, ErrOutOfMemory), "got %v", err)

			_, err = vm.Run()
			require.True(t, errors.Is(err, ErrVMPoisoned), "got %v", err)
			_, err = vm.Run()
			require.True(t, errors.Is(err, ErrVMPoisoned), "got %v", err)
		})
	}

	_, err := Compile([]byte(`var a = 1;`),
		CompilerOptions{HeapOptions: HeapOptions{MaxBytes: 64}})
	require.True(t, errors.Is(err, ErrOutOfMemory), "got %v", err)
}
