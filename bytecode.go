// Copyright (c) 2020 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package evie

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
)

// Bytecode holds the compiled top level function and the heap its objects
// are allocated in. The main function is pinned in the heap until Release is
// called.
type Bytecode struct {
	Heap *Heap
	Main Ref
}

// NewBytecode creates a Bytecode and pins main in the heap.
func NewBytecode(h *Heap, main Ref) *Bytecode {
	h.Pin(main)
	return &Bytecode{Heap: h, Main: main}
}

// Release unpins the main function so it can be collected with the objects it
// references.
func (bc *Bytecode) Release() {
	if bc.Main != NoRef {
		bc.Heap.Unpin(bc.Main)
		bc.Main = NoRef
	}
}

// MainFunction returns the top level function.
func (bc *Bytecode) MainFunction() *Function {
	f, _ := bc.Heap.Get(bc.Main).(*Function)
	return f
}

// Fprint writes the disassembly of the main function and all nested
// functions to given Writer in a human readable form.
func (bc *Bytecode) Fprint(w io.Writer) {
	Disassemble(w, bc.Heap, bc.Main)
}

func (bc *Bytecode) String() string {
	var buf bytes.Buffer
	bc.Fprint(&buf)
	return buf.String()
}

// Disassemble writes the listing of function fn followed by the listings of
// the functions in its constant pool, depth first.
func Disassemble(w io.Writer, h *Heap, fn Ref) {
	f, ok := h.Get(fn).(*Function)
	if !ok {
		_, _ = fmt.Fprintf(w, "<invalid function ref %d>\n", fn)
		return
	}
	_, _ = fmt.Fprintf(w, "== %s ==\n", h.FunctionName(fn))
	DisassembleChunk(w, h, &f.Chunk)

	for _, c := range f.Chunk.Constants {
		if h.IsType(c, ObjFunction) {
			Disassemble(w, h, c.AsRef())
		}
	}
}

// DisassembleChunk writes instructions of the chunk without a header.
func DisassembleChunk(w io.Writer, h *Heap, c *Chunk) {
	IterateInstructions(h, c,
		func(pos int, op Opcode, operands []int, offset int) bool {
			_, _ = io.WriteString(w, FormatInstruction(h, c, pos, op, operands, offset))
			return true
		},
	)
}

// FormatInstruction returns a line of disassembly of a single instruction
// including the trailing newline. Closure upvalues are written on their own
// lines.
func FormatInstruction(h *Heap, c *Chunk, pos int, op Opcode, operands []int, offset int) string {
	var buf bytes.Buffer
	_, _ = fmt.Fprintf(&buf, "%04d ", pos)
	if pos > 0 && c.LineAt(pos) == c.LineAt(pos-1) {
		buf.WriteString("   | ")
	} else {
		_, _ = fmt.Fprintf(&buf, "%4d ", c.LineAt(pos))
	}

	name := OpcodeNames[op]
	switch op {
	case OpConstant, OpGetGlobal, OpDefineGlobal, OpSetGlobal,
		OpGetProperty, OpSetProperty, OpClass, OpMethod:
		_, _ = fmt.Fprintf(&buf, "%-16s %4d '%s'\n",
			name, operands[0], constantString(h, c, operands[0]))
	case OpGetLocal, OpSetLocal, OpGetUpvalue, OpSetUpvalue, OpCall:
		_, _ = fmt.Fprintf(&buf, "%-16s %4d\n", name, operands[0])
	case OpJump, OpJumpIfFalse:
		_, _ = fmt.Fprintf(&buf, "%-16s %4d -> %d\n",
			name, pos, pos+1+offset+operands[0])
	case OpLoop:
		_, _ = fmt.Fprintf(&buf, "%-16s %4d -> %d\n",
			name, pos, pos+1+offset-operands[0])
	case OpInvoke:
		_, _ = fmt.Fprintf(&buf, "%-16s (%d args) %4d '%s'\n",
			name, operands[1], operands[0], constantString(h, c, operands[0]))
	case OpClosure:
		_, _ = fmt.Fprintf(&buf, "%-16s %4d %s\n",
			name, operands[0], constantString(h, c, operands[0]))
		p := pos + 3
		for i := 1; i+1 < len(operands); i += 2 {
			kind := "upvalue"
			if operands[i] == 1 {
				kind = "local"
			}
			_, _ = fmt.Fprintf(&buf, "%04d    |                     %s %d\n",
				p, kind, operands[i+1])
			p += 2
		}
	default:
		buf.WriteString(name)
		buf.WriteByte('\n')
	}
	return buf.String()
}

func constantString(h *Heap, c *Chunk, idx int) string {
	if idx >= len(c.Constants) {
		return "<bad constant " + strconv.Itoa(idx) + ">"
	}
	return h.ValueString(c.Constants[idx])
}
