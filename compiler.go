// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package evie

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/ozanh/evie/scanner"
	"github.com/ozanh/evie/token"
)

// Compiler limits
const (
	MaxConstants = math.MaxUint16 + 1
	MaxLocals    = 256
	MaxUpvalues  = 256
	MaxArguments = 255
	maxJump      = math.MaxUint16
)

// CompilerOptions represents customizable options for Compile().
type CompilerOptions struct {
	// Heap to allocate objects in. A new Heap is created with HeapOptions if
	// it is nil.
	Heap          *Heap
	HeapOptions   HeapOptions
	Trace         io.Writer
	TraceParser   bool
	TraceCompiler bool
}

var (
	// DefaultCompilerOptions holds default Compiler options.
	DefaultCompilerOptions = CompilerOptions{}
	// TraceCompilerOptions holds Compiler options to print trace output
	// to stdout for Parser and Compiler.
	TraceCompilerOptions = CompilerOptions{
		Trace:         os.Stdout,
		TraceParser:   true,
		TraceCompiler: true,
	}
)

type funcType int

const (
	funcScript funcType = iota
	funcFunction
	funcMethod
	funcInitializer
)

// funcState is the state of a function being compiled. Nested function
// declarations form a chain through enclosing.
type funcState struct {
	enclosing  *funcState
	function   Ref
	fnType     funcType
	locals     []local
	upvalues   []upvalue
	scopeDepth int
}

type classState struct {
	enclosing *classState
}

// Compiler compiles evie source into Bytecode in a single pass.
type Compiler struct {
	heap      *Heap
	scanner   *scanner.Scanner
	current   scanner.Item
	previous  scanner.Item
	errors    ErrorList
	hadError  bool
	panicMode bool
	fn        *funcState
	class     *classState
	opts      CompilerOptions
	trace     io.Writer
	indent    int

	// returnLastExpr makes a trailing top level expression statement the
	// result of the script.
	returnLastExpr bool
	lastExprPop    int
}

// NewCompiler creates a new Compiler object which allocates in heap.
func NewCompiler(script []byte, heap *Heap, opts CompilerOptions) *Compiler {
	var trace io.Writer
	if opts.TraceParser || opts.TraceCompiler {
		trace = opts.Trace
	}
	return &Compiler{
		heap:        heap,
		scanner:     scanner.NewScanner(script),
		opts:        opts,
		trace:       trace,
		lastExprPop: -1,
	}
}

// Compile compiles given script to Bytecode. Compile errors are returned as
// ErrorList.
func Compile(script []byte, opts CompilerOptions) (*Bytecode, error) {
	heap := opts.Heap
	if heap == nil {
		heap = NewHeap(opts.HeapOptions)
	}
	return NewCompiler(script, heap, opts).Compile()
}

// Compile compiles the script and returns the Bytecode of the top level
// function.
func (c *Compiler) Compile() (bc *Bytecode, err error) {
	c.heap.AddRoots(c)
	defer c.heap.RemoveRoots(c)
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(heapExhausted); ok {
				bc, err = nil, ErrOutOfMemory
				return
			}
			panic(r)
		}
	}()

	c.beginFunction(funcScript)
	c.advance()
	for !c.match(token.EOF) {
		c.declaration()
	}
	if c.returnLastExpr {
		if code := c.chunk().Code; len(code) > 0 && c.lastExprPop == len(code)-1 {
			code[c.lastExprPop] = OpReturn
		}
	}
	fn, _ := c.endFunction()

	if c.hadError {
		c.errors.RemoveMultiples()
		return nil, c.errors
	}
	return NewBytecode(c.heap, fn), nil
}

// MarkRoots implements RootMarker. Functions being compiled are roots.
func (c *Compiler) MarkRoots(h *Heap) {
	for fs := c.fn; fs != nil; fs = fs.enclosing {
		h.MarkRef(fs.function)
	}
}

func (c *Compiler) function() *Function {
	return c.heap.Get(c.fn.function).(*Function)
}

func (c *Compiler) chunk() *Chunk {
	return &c.function().Chunk
}

func (c *Compiler) beginFunction(t funcType) {
	ref := c.heap.NewFunction()
	c.fn = &funcState{
		enclosing: c.fn,
		function:  ref,
		fnType:    t,
		locals:    make([]local, 1, 8),
	}
	if t != funcScript {
		name := c.heap.Intern(c.previous.Literal)
		c.function().Name = name
	}
	if t == funcMethod || t == funcInitializer {
		c.fn.locals[0].name = "this"
	}
	if c.trace != nil && c.opts.TraceParser {
		c.printTrace("FUNC", c.heap.FunctionName(ref))
	}
}

func (c *Compiler) endFunction() (Ref, []upvalue) {
	c.emitReturn()
	fs := c.fn
	f := c.function()
	f.UpvalueCount = len(fs.upvalues)
	c.heap.refresh(fs.function)

	if c.trace != nil && c.opts.TraceCompiler && !c.hadError {
		_, _ = fmt.Fprintf(c.trace, "== %s ==\n", c.heap.FunctionName(fs.function))
		DisassembleChunk(c.trace, c.heap, &f.Chunk)
	}
	c.fn = fs.enclosing
	return fs.function, fs.upvalues
}

func (c *Compiler) advance() {
	c.previous = c.current
	for {
		c.current = c.scanner.Scan()
		if c.current.Token != token.Illegal {
			break
		}
		c.errorAtCurrent(c.current.Literal)
	}
}

func (c *Compiler) consume(tok token.Token, msg string) {
	if c.current.Token == tok {
		c.advance()
		return
	}
	c.errorAtCurrent(msg)
}

func (c *Compiler) check(tok token.Token) bool {
	return c.current.Token == tok
}

func (c *Compiler) match(tok token.Token) bool {
	if !c.check(tok) {
		return false
	}
	c.advance()
	return true
}

func (c *Compiler) error(msg string) {
	c.errorAt(c.previous, msg)
}

func (c *Compiler) errorAtCurrent(msg string) {
	c.errorAt(c.current, msg)
}

func (c *Compiler) errorAt(it scanner.Item, msg string) {
	if c.panicMode {
		return
	}
	c.panicMode = true
	c.hadError = true

	var where string
	switch it.Token {
	case token.EOF:
		where = "end"
	case token.Illegal:
	default:
		where = "'" + it.Literal + "'"
	}
	c.errors.Add(it.Line, where, msg)
	if c.trace != nil {
		c.printTrace("ERROR", c.errors[len(c.errors)-1].Error())
	}
}

// synchronize skips tokens until a statement boundary after an error.
func (c *Compiler) synchronize() {
	c.panicMode = false
	for c.current.Token != token.EOF {
		if c.previous.Token == token.Semicolon {
			return
		}
		switch c.current.Token {
		case token.Class, token.Fun, token.Var, token.For,
			token.If, token.While, token.Print, token.Return:
			return
		}
		c.advance()
	}
}

func (c *Compiler) emit(op Opcode, operands ...int) int {
	inst, err := MakeInstruction(op, operands...)
	if err != nil {
		panic(err)
	}
	return c.addInstruction(inst)
}

func (c *Compiler) addInstruction(b []byte) int {
	ch := c.chunk()
	pos := len(ch.Code)
	for _, v := range b {
		ch.Write(v, c.previous.Line)
	}
	return pos
}

func (c *Compiler) emitByte(b byte) {
	c.chunk().Write(b, c.previous.Line)
}

func (c *Compiler) emitReturn() {
	if c.fn.fnType == funcInitializer {
		c.emit(OpGetLocal, 0)
	} else {
		c.emit(OpNil)
	}
	c.emit(OpReturn)
}

func (c *Compiler) emitJump(op Opcode) int {
	return c.emit(op, maxJump)
}

func (c *Compiler) patchJump(pos int) {
	jump := len(c.chunk().Code) - pos - 3
	if jump > maxJump {
		c.error("Too much code to jump over.")
		return
	}
	c.changeOperand(pos, jump)
}

func (c *Compiler) emitLoop(loopStart int) {
	offset := len(c.chunk().Code) - loopStart + 3
	if offset > maxJump {
		c.error("Loop body too large.")
		offset = maxJump
	}
	c.emit(OpLoop, offset)
}

func (c *Compiler) changeOperand(opPos int, operand ...int) {
	ch := c.chunk()
	inst, err := MakeInstruction(ch.Code[opPos], operand...)
	if err != nil {
		panic(err)
	}
	copy(ch.Code[opPos:], inst)
}

func (c *Compiler) makeConstant(v Value) int {
	idx := c.chunk().AddConstant(v)
	if idx >= MaxConstants {
		c.error("Too many constants in one chunk.")
		return 0
	}
	return idx
}

func (c *Compiler) identifierConstant(name string) int {
	return c.makeConstant(ObjectValue(c.heap.Intern(name)))
}

func (c *Compiler) printTrace(a ...interface{}) {
	const (
		dots = ". . . . . . . . . . . . . . . . . . . . . . . . . . . . . . . "
		n    = len(dots)
	)

	i := 2 * c.indent
	for i > n {
		_, _ = fmt.Fprint(c.trace, dots)
		i -= n
	}
	_, _ = fmt.Fprint(c.trace, dots[0:i])
	_, _ = fmt.Fprintln(c.trace, a...)
}

func tracec(c *Compiler, msg string) *Compiler {
	c.printTrace(msg, "{")
	c.indent++
	return c
}

func untracec(c *Compiler) {
	c.indent--
	c.printTrace("}")
}
