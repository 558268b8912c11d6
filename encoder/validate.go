// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package encoder

import (
	"fmt"

	"github.com/ozanh/evie"
)

// validate checks the structure of decoded functions so that the VM does not
// index out of code, constants or upvalues, and jumps land on instructions.
// It does not verify stack effects, see evie.VM.SetRecover.
func (f *file) validate() error {
	if len(f.Functions) == 0 {
		return newError("UnmarshalBinary", "no main function")
	}
	for i := range f.Functions {
		if err := f.validateFunction(i); err != nil {
			return newError("UnmarshalBinary", fmt.Sprintf("function #%d: %v", i, err))
		}
	}
	return nil
}

func (f *file) validateFunction(i int) error {
	fn := &f.Functions[i]
	if fn.Arity < 0 || fn.Arity > evie.MaxArguments {
		return fmt.Errorf("invalid arity %d", fn.Arity)
	}
	if fn.UpvalueCount < 0 || fn.UpvalueCount > evie.MaxUpvalues {
		return fmt.Errorf("invalid upvalue count %d", fn.UpvalueCount)
	}
	if len(fn.Constants) > evie.MaxConstants {
		return fmt.Errorf("too many constants")
	}
	var lines int
	for _, r := range fn.Lines {
		if r.Count <= 0 || r.Line < 0 {
			return fmt.Errorf("invalid line table")
		}
		lines += r.Count
	}
	if lines != len(fn.Code) {
		return fmt.Errorf("line table covers %d of %d bytes", lines, len(fn.Code))
	}
	for j, c := range fn.Constants {
		switch c.Kind {
		case constNil, constTrue, constFalse, constNumber, constString:
		case constFunction:
			if c.Function <= i || c.Function >= len(f.Functions) {
				return fmt.Errorf("constant #%d: invalid function index %d", j, c.Function)
			}
		default:
			return fmt.Errorf("constant #%d: unknown kind %d", j, c.Kind)
		}
	}
	return f.validateCode(fn)
}

func (f *file) validateCode(fn *function) error {
	code := fn.Code
	var last evie.Opcode
	var operands []int
	starts := make([]bool, len(code))
	type jump struct {
		name        string
		pos, target int
	}
	var jumps []jump
	for pos := 0; pos < len(code); {
		starts[pos] = true
		op := code[pos]
		if int(op) >= len(evie.OpcodeOperands) {
			return fmt.Errorf("unknown opcode %d at %d", op, pos)
		}
		name := evie.OpcodeNames[op]
		var width int
		for _, w := range evie.OpcodeOperands[op] {
			width += w
		}
		if pos+1+width > len(code) {
			return fmt.Errorf("truncated %s at %d", name, pos)
		}
		operands, _ = evie.ReadOperands(evie.OpcodeOperands[op], code[pos+1:], operands)

		switch op {
		case evie.OpConstant, evie.OpGetGlobal, evie.OpDefineGlobal,
			evie.OpSetGlobal, evie.OpGetProperty, evie.OpSetProperty,
			evie.OpInvoke, evie.OpClass, evie.OpMethod, evie.OpClosure:
			if operands[0] >= len(fn.Constants) {
				return fmt.Errorf("%s at %d: constant %d out of range", name, pos, operands[0])
			}
		}

		switch op {
		case evie.OpGetGlobal, evie.OpDefineGlobal, evie.OpSetGlobal,
			evie.OpGetProperty, evie.OpSetProperty, evie.OpInvoke,
			evie.OpClass, evie.OpMethod:
			if fn.Constants[operands[0]].Kind != constString {
				return fmt.Errorf("%s at %d: name constant is not a string", name, pos)
			}
		case evie.OpGetUpvalue, evie.OpSetUpvalue:
			if operands[0] >= fn.UpvalueCount {
				return fmt.Errorf("%s at %d: upvalue %d out of range", name, pos, operands[0])
			}
		case evie.OpJump, evie.OpJumpIfFalse:
			target := pos + 1 + width + operands[0]
			if target >= len(code) {
				return fmt.Errorf("%s at %d: jump out of code", name, pos)
			}
			jumps = append(jumps, jump{name, pos, target})
		case evie.OpLoop:
			target := pos + 1 + width - operands[0]
			if target < 0 {
				return fmt.Errorf("%s at %d: loop out of code", name, pos)
			}
			jumps = append(jumps, jump{name, pos, target})
		case evie.OpClosure:
			c := fn.Constants[operands[0]]
			if c.Kind != constFunction {
				return fmt.Errorf("%s at %d: constant is not a function", name, pos)
			}
			n := f.Functions[c.Function].UpvalueCount
			if pos+1+width+2*n > len(code) {
				return fmt.Errorf("truncated %s at %d", name, pos)
			}
			for k := 0; k < n; k++ {
				isLocal := code[pos+1+width+2*k]
				index := int(code[pos+2+width+2*k])
				if isLocal > 1 {
					return fmt.Errorf("%s at %d: invalid upvalue kind %d", name, pos, isLocal)
				}
				if isLocal == 0 && index >= fn.UpvalueCount {
					return fmt.Errorf("%s at %d: upvalue %d out of range", name, pos, index)
				}
			}
			width += 2 * n
		}
		last = op
		pos += 1 + width
	}
	if last != evie.OpReturn {
		return fmt.Errorf("code does not end with %s", evie.OpcodeNames[evie.OpReturn])
	}
	for _, j := range jumps {
		if !starts[j.target] {
			return fmt.Errorf("%s at %d: target %d is not an instruction", j.name, j.pos, j.target)
		}
	}
	return nil
}
