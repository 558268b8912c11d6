// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package evie

// ObjectType is the type tag of a heap object.
type ObjectType uint8

// Object types
const (
	ObjString ObjectType = iota + 1
	ObjFunction
	ObjClosure
	ObjUpvalue
	ObjClass
	ObjInstance
	ObjBoundMethod
	ObjNative
)

var objectTypeNames = [...]string{
	ObjString:      "string",
	ObjFunction:    "function",
	ObjClosure:     "closure",
	ObjUpvalue:     "upvalue",
	ObjClass:       "class",
	ObjInstance:    "instance",
	ObjBoundMethod: "bound method",
	ObjNative:      "native",
}

func (t ObjectType) String() string {
	if int(t) < len(objectTypeNames) && objectTypeNames[t] != "" {
		return objectTypeNames[t]
	}
	return "object"
}

// Object is implemented by all heap allocated objects. Objects live in a Heap
// and reference each other through Refs.
type Object interface {
	Type() ObjectType
	// traceRefs calls mark for every Ref and Value the object references.
	traceRefs(h *Heap)
	// size is the number of bytes accounted for the object.
	size() int
}

// Approximate sizes of object headers and entries used for heap accounting.
const (
	objHeaderSize = 16
	refSize       = 4
	valueSize     = 24
	mapEntrySize  = refSize + valueSize
)

// String is an immutable interned string.
type String struct {
	Value string
}

var (
	_ Object = (*String)(nil)
	_ Object = (*Function)(nil)
	_ Object = (*Closure)(nil)
	_ Object = (*Upvalue)(nil)
	_ Object = (*Class)(nil)
	_ Object = (*Instance)(nil)
	_ Object = (*BoundMethod)(nil)
	_ Object = (*Native)(nil)
)

// Type implements Object interface.
func (*String) Type() ObjectType { return ObjString }

func (*String) traceRefs(*Heap) {}

func (o *String) size() int { return objHeaderSize + len(o.Value) }

// Function is a compiled function. Name is NoRef for the top level script.
type Function struct {
	Name         Ref
	Arity        int
	UpvalueCount int
	Chunk        Chunk
}

// Type implements Object interface.
func (*Function) Type() ObjectType { return ObjFunction }

func (o *Function) traceRefs(h *Heap) {
	h.markRef(o.Name)
	for _, v := range o.Chunk.Constants {
		h.markValue(v)
	}
}

func (o *Function) size() int {
	return objHeaderSize + 4*8 + len(o.Chunk.Code) + len(o.Chunk.Lines)*8 +
		len(o.Chunk.Constants)*valueSize
}

// Closure is a runtime function value, a Function and its captured upvalues.
type Closure struct {
	Function Ref
	Upvalues []Ref
}

// Type implements Object interface.
func (*Closure) Type() ObjectType { return ObjClosure }

func (o *Closure) traceRefs(h *Heap) {
	h.markRef(o.Function)
	for _, ref := range o.Upvalues {
		h.markRef(ref)
	}
}

func (o *Closure) size() int {
	return objHeaderSize + refSize + len(o.Upvalues)*refSize
}

// Upvalue is a captured variable. While open it refers to a slot of the VM
// stack, after it is closed it owns the value. Closed upvalues never reopen.
type Upvalue struct {
	Slot   int
	Closed Value
	closed bool
	// Next open upvalue, ordered by descending slot.
	Next Ref
}

// Type implements Object interface.
func (*Upvalue) Type() ObjectType { return ObjUpvalue }

// IsClosed reports whether the upvalue owns its value.
func (o *Upvalue) IsClosed() bool { return o.closed }

// Close moves v into the upvalue.
func (o *Upvalue) Close(v Value) {
	o.Closed = v
	o.closed = true
	o.Next = NoRef
}

func (o *Upvalue) traceRefs(h *Heap) {
	if o.closed {
		h.markValue(o.Closed)
	}
}

func (*Upvalue) size() int { return objHeaderSize + 8 + valueSize + refSize }

// Class is a class object. Methods maps method name to a Closure.
type Class struct {
	Name    Ref
	Methods map[Ref]Ref
}

// Type implements Object interface.
func (*Class) Type() ObjectType { return ObjClass }

func (o *Class) traceRefs(h *Heap) {
	h.markRef(o.Name)
	for name, method := range o.Methods {
		h.markRef(name)
		h.markRef(method)
	}
}

func (o *Class) size() int {
	return objHeaderSize + refSize + len(o.Methods)*mapEntrySize
}

// Instance is an instance of a Class. The class never changes.
type Instance struct {
	Class  Ref
	Fields map[Ref]Value
}

// Type implements Object interface.
func (*Instance) Type() ObjectType { return ObjInstance }

func (o *Instance) traceRefs(h *Heap) {
	h.markRef(o.Class)
	for name, v := range o.Fields {
		h.markRef(name)
		h.markValue(v)
	}
}

func (o *Instance) size() int {
	return objHeaderSize + refSize + len(o.Fields)*mapEntrySize
}

// BoundMethod is a method closure bound to its receiver.
type BoundMethod struct {
	Receiver Value
	Method   Ref
}

// Type implements Object interface.
func (*BoundMethod) Type() ObjectType { return ObjBoundMethod }

func (o *BoundMethod) traceRefs(h *Heap) {
	h.markValue(o.Receiver)
	h.markRef(o.Method)
}

func (*BoundMethod) size() int { return objHeaderSize + valueSize + refSize }

// NativeFunc is the signature of Go functions callable from evie code.
type NativeFunc func(vm *VM, args []Value) (Value, error)

// Native is a Go function exposed to evie code with a fixed arity.
type Native struct {
	Name  Ref
	Arity int
	Fn    NativeFunc
}

// Type implements Object interface.
func (*Native) Type() ObjectType { return ObjNative }

func (o *Native) traceRefs(h *Heap) {
	h.markRef(o.Name)
}

func (*Native) size() int { return objHeaderSize + refSize + 8 + 8 }
