// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package evie

import (
	"fmt"
	"io"

	"github.com/tliron/commonlog"
)

// Default garbage collector settings.
const (
	DefaultInitialThreshold = 1024 * 1024
	DefaultGrowthFactor     = 2
)

// HeapOptions configures a Heap and its collector.
type HeapOptions struct {
	// InitialThreshold is the number of allocated bytes which triggers the
	// first collection. It is also the lower bound of later thresholds.
	InitialThreshold int
	// GrowthFactor multiplies the live bytes after a collection to compute
	// the next threshold.
	GrowthFactor int
	// MaxBytes limits the heap size, 0 means unlimited. An allocation that
	// does not fit after a full collection fails with ErrOutOfMemory.
	MaxBytes int
	// Stress collects before every allocation.
	Stress bool
	// Trace receives a summary of every collection if not nil.
	Trace io.Writer
}

// HeapStats holds heap statistics.
type HeapStats struct {
	BytesAllocated int
	NextGC         int
	Objects        int
	Collections    int
	Freed          int
}

// RootMarker is implemented by heap users which hold Refs outside of the
// heap, such as the VM stack or the objects of an in-progress compilation.
type RootMarker interface {
	MarkRoots(h *Heap)
}

type heapSlot struct {
	obj    Object
	size   int
	marked bool
}

// heapExhausted is the panic value raised by an allocation that exceeds
// HeapOptions.MaxBytes. It is recovered where the VM or the Compiler is
// entered and is turned into ErrOutOfMemory.
type heapExhausted struct {
	requested int
	limit     int
}

// Heap is an arena of objects addressed by Ref. A Heap is shared by the
// Compiler and the VM using it and owns the string intern table. It is not
// safe for concurrent use.
type Heap struct {
	slots          []heapSlot
	free           []Ref
	strings        map[string]Ref
	roots          []RootMarker
	pinned         map[Ref]int
	gray           []Ref
	bytesAllocated int
	nextGC         int
	opts           HeapOptions
	stats          HeapStats
	log            commonlog.Logger
}

// NewHeap creates a new Heap.
func NewHeap(opts HeapOptions) *Heap {
	if opts.InitialThreshold <= 0 {
		opts.InitialThreshold = DefaultInitialThreshold
	}
	if opts.GrowthFactor <= 1 {
		opts.GrowthFactor = DefaultGrowthFactor
	}
	return &Heap{
		// slot 0 is reserved for NoRef
		slots:   make([]heapSlot, 1, 64),
		strings: make(map[string]Ref),
		pinned:  make(map[Ref]int),
		nextGC:  opts.InitialThreshold,
		opts:    opts,
		log:     commonlog.GetLogger("evie.gc"),
	}
}

// Options returns the options of the heap.
func (h *Heap) Options() HeapOptions { return h.opts }

// Stats returns heap statistics.
func (h *Heap) Stats() HeapStats {
	st := h.stats
	st.BytesAllocated = h.bytesAllocated
	st.NextGC = h.nextGC
	st.Objects = len(h.slots) - 1 - len(h.free)
	return st
}

// AddRoots registers a root marker. It is called by every collection until it
// is removed.
func (h *Heap) AddRoots(m RootMarker) {
	h.roots = append(h.roots, m)
}

// RemoveRoots unregisters a root marker.
func (h *Heap) RemoveRoots(m RootMarker) {
	for i := len(h.roots) - 1; i >= 0; i-- {
		if h.roots[i] == m {
			h.roots = append(h.roots[:i], h.roots[i+1:]...)
			return
		}
	}
}

// Pin keeps ref and everything reachable from it alive until it is unpinned.
// Pins are counted.
func (h *Heap) Pin(ref Ref) {
	if ref != NoRef {
		h.pinned[ref]++
	}
}

// Unpin removes a pin added by Pin.
func (h *Heap) Unpin(ref Ref) {
	if n := h.pinned[ref]; n > 1 {
		h.pinned[ref] = n - 1
	} else {
		delete(h.pinned, ref)
	}
}

// Get returns the object of ref. It returns nil for NoRef and freed slots.
func (h *Heap) Get(ref Ref) Object {
	if ref == NoRef || int(ref) >= len(h.slots) {
		return nil
	}
	return h.slots[ref].obj
}

// Contains reports whether ref points to a live object.
func (h *Heap) Contains(ref Ref) bool {
	return h.Get(ref) != nil
}

func (h *Heap) allocate(obj Object) Ref {
	size := obj.size()
	if h.opts.Stress || h.bytesAllocated+size > h.nextGC {
		h.Collect()
	}
	if h.opts.MaxBytes > 0 && h.bytesAllocated+size > h.opts.MaxBytes {
		if !h.opts.Stress {
			h.Collect()
		}
		if h.bytesAllocated+size > h.opts.MaxBytes {
			panic(heapExhausted{requested: size, limit: h.opts.MaxBytes})
		}
	}

	slot := heapSlot{obj: obj, size: size}
	var ref Ref
	if n := len(h.free); n > 0 {
		ref = h.free[n-1]
		h.free = h.free[:n-1]
		h.slots[ref] = slot
	} else {
		ref = Ref(len(h.slots))
		h.slots = append(h.slots, slot)
	}
	h.bytesAllocated += size
	return ref
}

// Guard calls fn and returns ErrOutOfMemory if an allocation made by fn does
// not fit into HeapOptions.MaxBytes.
func (h *Heap) Guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(heapExhausted); ok {
				err = ErrOutOfMemory
				return
			}
			panic(r)
		}
	}()
	return fn()
}

// refresh updates the accounted size of an object whose contents grew.
func (h *Heap) refresh(ref Ref) {
	s := &h.slots[ref]
	size := s.obj.size()
	h.bytesAllocated += size - s.size
	s.size = size
}

// Intern returns the Ref of the interned string s, allocating it if needed.
func (h *Heap) Intern(s string) Ref {
	if ref, ok := h.strings[s]; ok {
		return ref
	}
	ref := h.allocate(&String{Value: s})
	h.strings[s] = ref
	return ref
}

// NewFunction allocates an empty function.
func (h *Heap) NewFunction() Ref {
	return h.allocate(&Function{})
}

// AllocFunction allocates f as it is. Objects referenced by f must be kept
// alive by the caller until the function is reachable.
func (h *Heap) AllocFunction(f *Function) Ref {
	return h.allocate(f)
}

// NewClosure allocates a closure of fn with empty upvalue slots.
func (h *Heap) NewClosure(fn Ref) Ref {
	f := h.Get(fn).(*Function)
	return h.allocate(&Closure{
		Function: fn,
		Upvalues: make([]Ref, f.UpvalueCount),
	})
}

// NewUpvalue allocates an open upvalue for a stack slot.
func (h *Heap) NewUpvalue(slot int) Ref {
	return h.allocate(&Upvalue{Slot: slot})
}

// NewClass allocates a class without methods.
func (h *Heap) NewClass(name Ref) Ref {
	return h.allocate(&Class{Name: name, Methods: make(map[Ref]Ref)})
}

// NewInstance allocates an instance of class without fields.
func (h *Heap) NewInstance(class Ref) Ref {
	return h.allocate(&Instance{Class: class, Fields: make(map[Ref]Value)})
}

// NewBoundMethod allocates a method bound to the receiver.
func (h *Heap) NewBoundMethod(receiver Value, method Ref) Ref {
	return h.allocate(&BoundMethod{Receiver: receiver, Method: method})
}

// NewNative allocates a native function object.
func (h *Heap) NewNative(name string, arity int, fn NativeFunc) Ref {
	nameRef := h.Intern(name)
	h.Pin(nameRef)
	defer h.Unpin(nameRef)
	return h.allocate(&Native{Name: nameRef, Arity: arity, Fn: fn})
}

// StringOf returns the Go string of a String ref or "" if ref is not a string.
func (h *Heap) StringOf(ref Ref) string {
	if s, ok := h.Get(ref).(*String); ok {
		return s.Value
	}
	return ""
}

// AsString returns the Go string of v if v references a String.
func (h *Heap) AsString(v Value) (string, bool) {
	if !v.IsObject() {
		return "", false
	}
	s, ok := h.Get(v.ref).(*String)
	if !ok {
		return "", false
	}
	return s.Value, true
}

// IsType reports whether v references an object of type t.
func (h *Heap) IsType(v Value, t ObjectType) bool {
	if !v.IsObject() {
		return false
	}
	obj := h.Get(v.ref)
	return obj != nil && obj.Type() == t
}

// TypeName returns the type name of v.
func (h *Heap) TypeName(v Value) string {
	if v.kind != KindObject {
		return v.kind.String()
	}
	if obj := h.Get(v.ref); obj != nil {
		return obj.Type().String()
	}
	return "object"
}

// FunctionName returns the display name of a function, "script" for the top
// level function.
func (h *Heap) FunctionName(fn Ref) string {
	f, ok := h.Get(fn).(*Function)
	if !ok || f.Name == NoRef {
		return "script"
	}
	return h.StringOf(f.Name)
}

// ValueString returns the string form of v as printed by the print statement.
func (h *Heap) ValueString(v Value) string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBool:
		if v.AsBool() {
			return "true"
		}
		return "false"
	case KindNumber:
		return formatNumber(v.num)
	}

	switch o := h.Get(v.ref).(type) {
	case *String:
		return o.Value
	case *Function:
		return h.functionString(o)
	case *Closure:
		return h.functionString(h.Get(o.Function).(*Function))
	case *BoundMethod:
		return h.ValueString(ObjectValue(o.Method))
	case *Native:
		return "<native fn>"
	case *Class:
		return h.StringOf(o.Name)
	case *Instance:
		return h.StringOf(h.Get(o.Class).(*Class).Name) + " instance"
	case *Upvalue:
		return "upvalue"
	}
	return fmt.Sprintf("<invalid ref %d>", v.ref)
}

func (h *Heap) functionString(f *Function) string {
	if f.Name == NoRef {
		return "<script>"
	}
	return "<fn " + h.StringOf(f.Name) + ">"
}
