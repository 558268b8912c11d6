// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package evie

import "fmt"

// Opcode represents a single byte operation code.
type Opcode = byte

// List of opcodes
const (
	OpConstant Opcode = iota
	OpNil
	OpTrue
	OpFalse
	OpPop
	OpDup
	OpGetLocal
	OpSetLocal
	OpGetGlobal
	OpDefineGlobal
	OpSetGlobal
	OpGetUpvalue
	OpSetUpvalue
	OpGetProperty
	OpSetProperty
	OpEqual
	OpNotEqual
	OpGreater
	OpGreaterEqual
	OpLess
	OpLessEqual
	OpAdd
	OpSubtract
	OpMultiply
	OpDivide
	OpNot
	OpNegate
	OpPrint
	OpJump
	OpJumpIfFalse
	OpLoop
	OpCall
	OpInvoke
	OpClosure
	OpCloseUpvalue
	OpReturn
	OpClass
	OpMethod
)

// OpcodeNames are string representation of opcodes.
var OpcodeNames = [...]string{
	OpConstant:     "CONSTANT",
	OpNil:          "NIL",
	OpTrue:         "TRUE",
	OpFalse:        "FALSE",
	OpPop:          "POP",
	OpDup:          "DUP",
	OpGetLocal:     "GETLOCAL",
	OpSetLocal:     "SETLOCAL",
	OpGetGlobal:    "GETGLOBAL",
	OpDefineGlobal: "DEFINEGLOBAL",
	OpSetGlobal:    "SETGLOBAL",
	OpGetUpvalue:   "GETUPVALUE",
	OpSetUpvalue:   "SETUPVALUE",
	OpGetProperty:  "GETPROPERTY",
	OpSetProperty:  "SETPROPERTY",
	OpEqual:        "EQUAL",
	OpNotEqual:     "NOTEQUAL",
	OpGreater:      "GREATER",
	OpGreaterEqual: "GREATEREQUAL",
	OpLess:         "LESS",
	OpLessEqual:    "LESSEQUAL",
	OpAdd:          "ADD",
	OpSubtract:     "SUBTRACT",
	OpMultiply:     "MULTIPLY",
	OpDivide:       "DIVIDE",
	OpNot:          "NOT",
	OpNegate:       "NEGATE",
	OpPrint:        "PRINT",
	OpJump:         "JUMP",
	OpJumpIfFalse:  "JUMPIFFALSE",
	OpLoop:         "LOOP",
	OpCall:         "CALL",
	OpInvoke:       "INVOKE",
	OpClosure:      "CLOSURE",
	OpCloseUpvalue: "CLOSEUPVALUE",
	OpReturn:       "RETURN",
	OpClass:        "CLASS",
	OpMethod:       "METHOD",
}

// OpcodeOperands is the number of operands.
// OpClosure is followed by one (isLocal, index) byte pair per upvalue of the
// function constant, which is not part of this table.
var OpcodeOperands = [...][]int{
	OpConstant:     {2}, // constant index
	OpNil:          {},
	OpTrue:         {},
	OpFalse:        {},
	OpPop:          {},
	OpDup:          {},
	OpGetLocal:     {1}, // local slot
	OpSetLocal:     {1}, // local slot
	OpGetGlobal:    {2}, // name constant
	OpDefineGlobal: {2}, // name constant
	OpSetGlobal:    {2}, // name constant
	OpGetUpvalue:   {1}, // upvalue index
	OpSetUpvalue:   {1}, // upvalue index
	OpGetProperty:  {2}, // name constant
	OpSetProperty:  {2}, // name constant
	OpEqual:        {},
	OpNotEqual:     {},
	OpGreater:      {},
	OpGreaterEqual: {},
	OpLess:         {},
	OpLessEqual:    {},
	OpAdd:          {},
	OpSubtract:     {},
	OpMultiply:     {},
	OpDivide:       {},
	OpNot:          {},
	OpNegate:       {},
	OpPrint:        {},
	OpJump:         {2}, // forward offset
	OpJumpIfFalse:  {2}, // forward offset
	OpLoop:         {2}, // backward offset
	OpCall:         {1}, // number of arguments
	OpInvoke:       {2, 1},
	OpClosure:      {2}, // function constant
	OpCloseUpvalue: {},
	OpReturn:       {},
	OpClass:        {2}, // name constant
	OpMethod:       {2}, // name constant
}

// ReadOperands reads operands from the bytecode. Given operands slice is used to
// fill operands and is returned to allocate less.
func ReadOperands(numOperands []int, ins []byte, operands []int) ([]int, int) {
	operands = operands[:0]
	var offset int
	for _, width := range numOperands {
		switch width {
		case 1:
			operands = append(operands, int(ins[offset]))
		case 2:
			operands = append(operands, int(ins[offset+1])|int(ins[offset])<<8)
		}
		offset += width
	}
	return operands, offset
}

// MakeInstruction returns a bytecode for an opcode and the operands.
func MakeInstruction(op Opcode, args ...int) ([]byte, error) {
	if int(op) >= len(OpcodeOperands) {
		return nil, fmt.Errorf("MakeInstruction: unknown Opcode %d", op)
	}
	operands := OpcodeOperands[op]
	if len(operands) != len(args) {
		return nil, fmt.Errorf("MakeInstruction: %s expected %d operands, but got %d",
			OpcodeNames[op], len(operands), len(args))
	}

	size := 1
	for _, w := range operands {
		size += w
	}
	inst := make([]byte, size)
	inst[0] = op
	offset := 1
	for i, w := range operands {
		switch w {
		case 1:
			inst[offset] = byte(args[i])
		case 2:
			inst[offset] = byte(args[i] >> 8)
			inst[offset+1] = byte(args[i])
		}
		offset += w
	}
	return inst, nil
}
