// Copyright (c) 2020 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package evie

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
)

// DefaultMaxFrames is the default call depth limit.
const DefaultMaxFrames = 64

const frameSlots = 256

// VMOptions represents customizable options for NewVM().
type VMOptions struct {
	// Natives are defined as globals. DefaultNatives() are used if it is nil.
	Natives []Builtin
	// MaxFrames limits the call depth, DefaultMaxFrames is used if it is 0.
	MaxFrames int
	// Stdout receives the output of print statements, os.Stdout if nil.
	Stdout io.Writer
	// Trace receives the stack and every executed instruction if not nil.
	Trace io.Writer
}

// stackOverflow is the panic value raised by push when the value stack is
// full. Run converts it to a RuntimeError.
type stackOverflow struct{}

type frame struct {
	closure Ref
	cl      *Closure
	fn      *Function
	ip      int
	base    int
}

func (f *frame) readByte() int {
	b := f.fn.Chunk.Code[f.ip]
	f.ip++
	return int(b)
}

func (f *frame) readShort() int {
	code := f.fn.Chunk.Code
	v := int(code[f.ip])<<8 | int(code[f.ip+1])
	f.ip += 2
	return v
}

func (f *frame) readConstant() Value {
	return f.fn.Chunk.Constants[f.readShort()]
}

// VM executes the instructions in Bytecode. A VM is a root of its heap until
// Close is called, so globals survive collections between runs.
type VM struct {
	heap         *Heap
	bytecode     *Bytecode
	stack        []Value
	sp           int
	frames       []frame
	frameCount   int
	globals      map[Ref]Value
	openUpvalues Ref
	initString   Ref
	opts         VMOptions
	stdout       io.Writer
	// result of the last Run, marked until the next Run or Close
	result   Value
	poisoned bool
	noPanic  bool
	// fatal is reported by the next Run if NewVM failed
	fatal error
}

// NewVM creates a VM object for bc and defines the natives as globals.
func NewVM(bc *Bytecode, opts VMOptions) *VM {
	if opts.MaxFrames <= 0 {
		opts.MaxFrames = DefaultMaxFrames
	}
	if opts.Natives == nil {
		opts.Natives = DefaultNatives()
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	vm := &VM{
		heap:     bc.Heap,
		bytecode: bc,
		stack:    make([]Value, frameSlots*(opts.MaxFrames+1)),
		frames:   make([]frame, opts.MaxFrames),
		globals:  make(map[Ref]Value),
		opts:     opts,
		stdout:   stdout,
	}
	vm.heap.AddRoots(vm)
	func() {
		defer func() {
			if r := recover(); r != nil {
				if _, ok := r.(heapExhausted); ok {
					vm.poisoned = true
					vm.fatal = ErrOutOfMemory
					return
				}
				panic(r)
			}
		}()
		vm.initString = vm.heap.Intern("init")
		for _, n := range opts.Natives {
			vm.DefineNative(n)
		}
	}()
	return vm
}

// SetRecover recovers panics when Run is called and returns them as errors.
// It is useful for bytecode decoded from untrusted input.
func (vm *VM) SetRecover(v bool) *VM {
	vm.noPanic = v
	return vm
}

// Heap returns the heap of the VM.
func (vm *VM) Heap() *Heap { return vm.heap }

// SetBytecode sets a new Bytecode to run. It must use the heap of the VM.
func (vm *VM) SetBytecode(bc *Bytecode) *VM {
	if bc.Heap != vm.heap {
		panic(errors.New("evie: bytecode is allocated in another heap"))
	}
	vm.bytecode = bc
	return vm
}

// Close unregisters the VM from its heap. Globals are collected afterwards.
func (vm *VM) Close() {
	vm.heap.RemoveRoots(vm)
	vm.globals = make(map[Ref]Value)
	vm.result = Nil
	vm.resetStack()
}

// DefineNative defines a native function as a global.
func (vm *VM) DefineNative(b Builtin) {
	ref := vm.heap.NewNative(b.Name, b.Arity, b.Fn)
	vm.globals[vm.heap.Get(ref).(*Native).Name] = ObjectValue(ref)
}

// Global returns the value of a global variable.
func (vm *VM) Global(name string) (Value, bool) {
	ref, ok := vm.heap.strings[name]
	if !ok {
		return Nil, false
	}
	v, ok := vm.globals[ref]
	return v, ok
}

// GlobalNames returns the names of the defined globals.
func (vm *VM) GlobalNames() []string {
	names := make([]string, 0, len(vm.globals))
	for ref := range vm.globals {
		names = append(names, vm.heap.StringOf(ref))
	}
	return names
}

// ValueString returns the string form of v.
func (vm *VM) ValueString(v Value) string {
	return vm.heap.ValueString(v)
}

// NewString interns s in the heap of the VM and returns it as a Value.
func (vm *VM) NewString(s string) Value {
	return ObjectValue(vm.heap.Intern(s))
}

// MarkRoots implements RootMarker.
func (vm *VM) MarkRoots(h *Heap) {
	for i := 0; i < vm.sp; i++ {
		h.MarkValue(vm.stack[i])
	}
	for i := 0; i < vm.frameCount; i++ {
		h.MarkRef(vm.frames[i].closure)
	}
	for name, v := range vm.globals {
		h.MarkRef(name)
		h.MarkValue(v)
	}
	for ref := vm.openUpvalues; ref != NoRef; ref = h.Get(ref).(*Upvalue).Next {
		h.MarkRef(ref)
	}
	h.MarkRef(vm.initString)
	h.MarkValue(vm.result)
}

// Run runs the main function of the Bytecode until it returns. The returned
// value is the value of a top level return statement or Nil, it stays alive
// until the next Run or Close. An out of memory error poisons the VM, later
// calls return ErrVMPoisoned.
func (vm *VM) Run() (result Value, err error) {
	if vm.poisoned {
		if err := vm.fatal; err != nil {
			vm.fatal = nil
			return Nil, err
		}
		return Nil, ErrVMPoisoned
	}
	if vm.bytecode == nil || !vm.heap.IsType(ObjectValue(vm.bytecode.Main), ObjFunction) {
		return Nil, errors.New("invalid Bytecode")
	}

	defer func() {
		if r := recover(); r != nil {
			switch r.(type) {
			case heapExhausted:
				vm.poisoned = true
				vm.resetStack()
				result, err = Nil, ErrOutOfMemory
				return
			case stackOverflow:
				result, err = vm.fail(ErrStackOverflow.NewError("Stack overflow."))
				return
			}
			if !vm.noPanic {
				panic(r)
			}
			vm.resetStack()
			result = Nil
			err = fmt.Errorf("panic: %v\nGo Stack:\n%s", r, debug.Stack())
		}
	}()

	vm.result = Nil
	vm.resetStack()
	closure := vm.heap.NewClosure(vm.bytecode.Main)
	vm.push(ObjectValue(closure))
	if rerr := vm.call(closure, 0); rerr != nil {
		return Nil, vm.runtimeError(rerr)
	}
	return vm.run()
}

func (vm *VM) resetStack() {
	for i := 0; i < vm.sp; i++ {
		vm.stack[i] = Nil
	}
	vm.sp = 0
	vm.frameCount = 0
	vm.openUpvalues = NoRef
}

func (vm *VM) push(v Value) {
	if vm.sp == len(vm.stack) {
		panic(stackOverflow{})
	}
	vm.stack[vm.sp] = v
	vm.sp++
}

func (vm *VM) pop() Value {
	vm.sp--
	v := vm.stack[vm.sp]
	vm.stack[vm.sp] = Nil
	return v
}

func (vm *VM) peek(distance int) Value {
	return vm.stack[vm.sp-1-distance]
}

func (vm *VM) run() (Value, error) {
	f := &vm.frames[vm.frameCount-1]
	h := vm.heap

	for {
		if vm.opts.Trace != nil {
			vm.traceInstruction(f)
		}
		op := Opcode(f.readByte())
		switch op {
		case OpConstant:
			vm.push(f.readConstant())
		case OpNil:
			vm.push(Nil)
		case OpTrue:
			vm.push(True)
		case OpFalse:
			vm.push(False)
		case OpPop:
			vm.pop()
		case OpDup:
			vm.push(vm.peek(0))
		case OpGetLocal:
			vm.push(vm.stack[f.base+f.readByte()])
		case OpSetLocal:
			vm.stack[f.base+f.readByte()] = vm.peek(0)
		case OpGetGlobal:
			name := f.readConstant().AsRef()
			v, ok := vm.globals[name]
			if !ok {
				return vm.fail(NewUndefinedVariableError(h.StringOf(name)))
			}
			vm.push(v)
		case OpDefineGlobal:
			name := f.readConstant().AsRef()
			vm.globals[name] = vm.peek(0)
			vm.pop()
		case OpSetGlobal:
			name := f.readConstant().AsRef()
			if _, ok := vm.globals[name]; !ok {
				return vm.fail(NewUndefinedVariableError(h.StringOf(name)))
			}
			vm.globals[name] = vm.peek(0)
		case OpGetUpvalue:
			uv := h.Get(f.cl.Upvalues[f.readByte()]).(*Upvalue)
			if uv.IsClosed() {
				vm.push(uv.Closed)
			} else {
				vm.push(vm.stack[uv.Slot])
			}
		case OpSetUpvalue:
			uv := h.Get(f.cl.Upvalues[f.readByte()]).(*Upvalue)
			if uv.IsClosed() {
				uv.Closed = vm.peek(0)
			} else {
				vm.stack[uv.Slot] = vm.peek(0)
			}
		case OpGetProperty:
			name := f.readConstant().AsRef()
			inst, ok := h.Get(vm.peek(0).AsRef()).(*Instance)
			if !ok {
				return vm.fail(NewOperandTypeError("Only instances have properties."))
			}
			if v, ok := inst.Fields[name]; ok {
				vm.pop()
				vm.push(v)
				break
			}
			if err := vm.bindMethod(inst.Class, name); err != nil {
				return vm.fail(err)
			}
		case OpSetProperty:
			name := f.readConstant().AsRef()
			ref := vm.peek(1).AsRef()
			inst, ok := h.Get(ref).(*Instance)
			if !ok {
				return vm.fail(NewOperandTypeError("Only instances have fields."))
			}
			inst.Fields[name] = vm.peek(0)
			h.refresh(ref)
			v := vm.pop()
			vm.pop()
			vm.push(v)
		case OpEqual:
			b := vm.pop()
			a := vm.pop()
			vm.push(Bool(a.Equal(b)))
		case OpNotEqual:
			b := vm.pop()
			a := vm.pop()
			vm.push(Bool(!a.Equal(b)))
		case OpGreater, OpGreaterEqual, OpLess, OpLessEqual,
			OpSubtract, OpMultiply, OpDivide:
			if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
				return vm.fail(NewOperandTypeError("Operands must be numbers."))
			}
			b := vm.pop().AsNumber()
			a := vm.pop().AsNumber()
			vm.push(numericOp(op, a, b))
		case OpAdd:
			if err := vm.add(); err != nil {
				return vm.fail(err)
			}
		case OpNot:
			vm.push(Bool(vm.pop().IsFalsy()))
		case OpNegate:
			if !vm.peek(0).IsNumber() {
				return vm.fail(NewOperandTypeError("Operand must be a number."))
			}
			vm.push(Number(-vm.pop().AsNumber()))
		case OpPrint:
			_, _ = fmt.Fprintln(vm.stdout, h.ValueString(vm.pop()))
		case OpJump:
			offset := f.readShort()
			f.ip += offset
		case OpJumpIfFalse:
			offset := f.readShort()
			if vm.peek(0).IsFalsy() {
				f.ip += offset
			}
		case OpLoop:
			offset := f.readShort()
			f.ip -= offset
		case OpCall:
			argc := f.readByte()
			if err := vm.callValue(vm.peek(argc), argc); err != nil {
				return vm.fail(err)
			}
			f = &vm.frames[vm.frameCount-1]
		case OpInvoke:
			name := f.readConstant().AsRef()
			argc := f.readByte()
			if err := vm.invoke(name, argc); err != nil {
				return vm.fail(err)
			}
			f = &vm.frames[vm.frameCount-1]
		case OpClosure:
			fn := f.readConstant().AsRef()
			ref := h.NewClosure(fn)
			vm.push(ObjectValue(ref))
			cl := h.Get(ref).(*Closure)
			for i := range cl.Upvalues {
				isLocal := f.readByte()
				index := f.readByte()
				if isLocal == 1 {
					cl.Upvalues[i] = vm.captureUpvalue(f.base + index)
				} else {
					cl.Upvalues[i] = f.cl.Upvalues[index]
				}
			}
		case OpCloseUpvalue:
			vm.closeUpvalues(vm.sp - 1)
			vm.pop()
		case OpReturn:
			result := vm.pop()
			vm.closeUpvalues(f.base)
			vm.frameCount--
			if vm.frameCount == 0 {
				vm.resetStack()
				vm.result = result
				return result, nil
			}
			for vm.sp > f.base {
				vm.pop()
			}
			vm.push(result)
			f = &vm.frames[vm.frameCount-1]
		case OpClass:
			name := f.readConstant().AsRef()
			vm.push(ObjectValue(h.NewClass(name)))
		case OpMethod:
			name := f.readConstant().AsRef()
			ref := vm.peek(1).AsRef()
			class := h.Get(ref).(*Class)
			class.Methods[name] = vm.peek(0).AsRef()
			h.refresh(ref)
			vm.pop()
		default:
			return vm.fail(&Error{Message: fmt.Sprintf("unknown opcode %d", op)})
		}
	}
}

func numericOp(op Opcode, a, b float64) Value {
	switch op {
	case OpGreater:
		return Bool(a > b)
	case OpGreaterEqual:
		return Bool(a >= b)
	case OpLess:
		return Bool(a < b)
	case OpLessEqual:
		return Bool(a <= b)
	case OpSubtract:
		return Number(a - b)
	case OpMultiply:
		return Number(a * b)
	case OpDivide:
		return Number(a / b)
	}
	panic(fmt.Errorf("numericOp: unexpected opcode %s", OpcodeNames[op]))
}

func (vm *VM) add() *Error {
	a, b := vm.peek(1), vm.peek(0)
	if a.IsNumber() && b.IsNumber() {
		vm.pop()
		vm.pop()
		vm.push(Number(a.AsNumber() + b.AsNumber()))
		return nil
	}
	as, ok1 := vm.heap.AsString(a)
	bs, ok2 := vm.heap.AsString(b)
	if !ok1 || !ok2 {
		return NewOperandTypeError("Operands must be two numbers or two strings.")
	}
	// operands stay on the stack while the result is allocated
	ref := vm.heap.Intern(as + bs)
	vm.pop()
	vm.pop()
	vm.push(ObjectValue(ref))
	return nil
}

func (vm *VM) callValue(callee Value, argc int) *Error {
	switch obj := vm.heap.Get(callee.AsRef()).(type) {
	case *BoundMethod:
		vm.stack[vm.sp-argc-1] = obj.Receiver
		return vm.call(obj.Method, argc)
	case *Class:
		inst := vm.heap.NewInstance(callee.AsRef())
		vm.stack[vm.sp-argc-1] = ObjectValue(inst)
		if initializer, ok := obj.Methods[vm.initString]; ok {
			return vm.call(initializer, argc)
		}
		if argc != 0 {
			return NewArgumentCountError(0, argc)
		}
		return nil
	case *Closure:
		return vm.call(callee.AsRef(), argc)
	case *Native:
		return vm.callNative(obj, argc)
	}
	return ErrNotCallable.NewError("Can only call functions and classes.")
}

func (vm *VM) call(closure Ref, argc int) *Error {
	cl := vm.heap.Get(closure).(*Closure)
	fn := vm.heap.Get(cl.Function).(*Function)
	if argc != fn.Arity {
		return NewArgumentCountError(fn.Arity, argc)
	}
	if vm.frameCount == len(vm.frames) || vm.sp+frameSlots > len(vm.stack) {
		return ErrStackOverflow.NewError("Stack overflow.")
	}
	vm.frames[vm.frameCount] = frame{
		closure: closure,
		cl:      cl,
		fn:      fn,
		base:    vm.sp - argc - 1,
	}
	vm.frameCount++
	return nil
}

func (vm *VM) callNative(n *Native, argc int) *Error {
	if argc != n.Arity {
		return NewArgumentCountError(n.Arity, argc)
	}
	result, err := n.Fn(vm, vm.stack[vm.sp-argc:vm.sp])
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return e
		}
		return &Error{Name: "NativeError", Message: err.Error(), Cause: err}
	}
	for i := 0; i <= argc; i++ {
		vm.pop()
	}
	vm.push(result)
	return nil
}

func (vm *VM) invoke(name Ref, argc int) *Error {
	inst, ok := vm.heap.Get(vm.peek(argc).AsRef()).(*Instance)
	if !ok {
		return NewOperandTypeError("Only instances have methods.")
	}
	if v, ok := inst.Fields[name]; ok {
		vm.stack[vm.sp-argc-1] = v
		return vm.callValue(v, argc)
	}
	class := vm.heap.Get(inst.Class).(*Class)
	method, ok := class.Methods[name]
	if !ok {
		return NewUndefinedPropertyError(vm.heap.StringOf(name))
	}
	return vm.call(method, argc)
}

func (vm *VM) bindMethod(classRef, name Ref) *Error {
	class := vm.heap.Get(classRef).(*Class)
	method, ok := class.Methods[name]
	if !ok {
		return NewUndefinedPropertyError(vm.heap.StringOf(name))
	}
	bound := vm.heap.NewBoundMethod(vm.peek(0), method)
	vm.pop()
	vm.push(ObjectValue(bound))
	return nil
}

func (vm *VM) upvalue(ref Ref) *Upvalue {
	return vm.heap.Get(ref).(*Upvalue)
}

func (vm *VM) captureUpvalue(slot int) Ref {
	prev := NoRef
	ref := vm.openUpvalues
	for ref != NoRef && vm.upvalue(ref).Slot > slot {
		prev = ref
		ref = vm.upvalue(ref).Next
	}
	if ref != NoRef && vm.upvalue(ref).Slot == slot {
		return ref
	}

	created := vm.heap.NewUpvalue(slot)
	vm.upvalue(created).Next = ref
	if prev == NoRef {
		vm.openUpvalues = created
	} else {
		vm.upvalue(prev).Next = created
	}
	return created
}

func (vm *VM) closeUpvalues(last int) {
	for vm.openUpvalues != NoRef {
		uv := vm.upvalue(vm.openUpvalues)
		if uv.Slot < last {
			break
		}
		next := uv.Next
		uv.Close(vm.stack[uv.Slot])
		vm.openUpvalues = next
	}
}

// fail converts err into a RuntimeError and unwinds the stack.
func (vm *VM) fail(err *Error) (Value, error) {
	rerr := vm.runtimeError(err)
	vm.resetStack()
	return Nil, rerr
}

func (vm *VM) runtimeError(err *Error) *RuntimeError {
	rerr := &RuntimeError{Err: err}
	for i := vm.frameCount - 1; i >= 0; i-- {
		f := &vm.frames[i]
		rerr.Trace = append(rerr.Trace, TraceFrame{
			Function: vm.heap.FunctionName(f.cl.Function),
			Line:     f.fn.Chunk.LineAt(f.ip - 1),
		})
	}
	return rerr
}

func (vm *VM) traceInstruction(f *frame) {
	var sb strings.Builder
	sb.WriteString("          ")
	for i := 0; i < vm.sp; i++ {
		sb.WriteString("[ ")
		sb.WriteString(vm.heap.ValueString(vm.stack[i]))
		sb.WriteString(" ]")
	}
	sb.WriteByte('\n')
	op, operands, offset := ReadInstruction(vm.heap, &f.fn.Chunk, f.ip, nil)
	if offset >= 0 {
		sb.WriteString(FormatInstruction(vm.heap, &f.fn.Chunk, f.ip, op, operands, offset))
	}
	_, _ = io.WriteString(vm.opts.Trace, sb.String())
}
