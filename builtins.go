// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package evie

import (
	"time"
)

// Builtin describes a native function to define in a VM.
type Builtin struct {
	Name  string
	Arity int
	Fn    NativeFunc
}

// DefaultNatives returns the natives defined by NewVM when VMOptions.Natives
// is nil.
func DefaultNatives() []Builtin {
	return []Builtin{
		{Name: "clock", Arity: 0, Fn: builtinClockFunc},
		{Name: "str", Arity: 1, Fn: builtinStrFunc},
	}
}

var processStart = time.Now()

// builtinClockFunc returns seconds elapsed since the process started.
func builtinClockFunc(*VM, []Value) (Value, error) {
	return Number(time.Since(processStart).Seconds()), nil
}

func builtinStrFunc(vm *VM, args []Value) (Value, error) {
	if vm.heap.IsType(args[0], ObjString) {
		return args[0], nil
	}
	return vm.NewString(vm.ValueString(args[0])), nil
}
