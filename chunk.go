// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package evie

import "math"

// Chunk is the bytecode of a single function. Lines holds the source line of
// every byte in Code.
type Chunk struct {
	Code      []byte
	Constants []Value
	Lines     []int
}

// Write appends a byte and its source line to the chunk.
func (c *Chunk) Write(b byte, line int) {
	c.Code = append(c.Code, b)
	c.Lines = append(c.Lines, line)
}

// AddConstant adds v to the constant pool and returns its index. Numbers and
// objects already in the pool are reused. Strings are interned so equal
// strings share a constant.
func (c *Chunk) AddConstant(v Value) int {
	for i, k := range c.Constants {
		if k.kind != v.kind {
			continue
		}
		switch v.kind {
		case KindNumber:
			if math.Float64bits(k.num) == math.Float64bits(v.num) {
				return i
			}
		case KindObject:
			if k.ref == v.ref {
				return i
			}
		default:
			if k == v {
				return i
			}
		}
	}
	c.Constants = append(c.Constants, v)
	return len(c.Constants) - 1
}

// LineAt returns the source line of the instruction at pos.
func (c *Chunk) LineAt(pos int) int {
	if pos < 0 || pos >= len(c.Lines) {
		return 0
	}
	return c.Lines[pos]
}

// ReadInstruction decodes the instruction at pos. Upvalue pairs of OpClosure
// are appended to the operands after the function constant and are included in
// offset, the number of bytes following the opcode.
// Given operands slice is used to fill operands and is returned to allocate less.
func ReadInstruction(h *Heap, c *Chunk, pos int, operands []int) (Opcode, []int, int) {
	op := c.Code[pos]
	if int(op) >= len(OpcodeOperands) {
		return op, operands[:0], -1
	}
	operands, offset := ReadOperands(OpcodeOperands[op], c.Code[pos+1:], operands)
	if op == OpClosure {
		n := closureUpvalueCount(h, c, operands[0])
		for j := 0; j < n && pos+2+offset < len(c.Code); j++ {
			operands = append(operands,
				int(c.Code[pos+1+offset]), int(c.Code[pos+2+offset]))
			offset += 2
		}
	}
	return op, operands, offset
}

// IterateInstructions iterates instructions of the chunk and calls fn for each
// instruction. Iteration stops if fn returns false or an unknown opcode is
// found.
// Note: Do not use operands slice in callback, it is reused for less allocation.
func IterateInstructions(h *Heap, c *Chunk,
	fn func(pos int, opcode Opcode, operands []int, offset int) bool) {
	operands := make([]int, 0, 4)
	var op Opcode
	var offset int
	for i := 0; i < len(c.Code); i++ {
		op, operands, offset = ReadInstruction(h, c, i, operands)
		if offset < 0 || !fn(i, op, operands, offset) {
			break
		}
		i += offset
	}
}

func closureUpvalueCount(h *Heap, c *Chunk, constant int) int {
	if constant >= len(c.Constants) {
		return 0
	}
	if f, ok := h.Get(c.Constants[constant].AsRef()).(*Function); ok {
		return f.UpvalueCount
	}
	return 0
}
