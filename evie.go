// Copyright (c) 2020 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

// Package evie implements a compiler and a virtual machine for evie, a small
// dynamically typed language with first class functions, closures and
// classes. Source is compiled in a single pass into bytecode which is run by
// a stack based VM. All objects live in a garbage collected Heap.
package evie

// Interpret compiles and runs script in a new heap built from
// copts.HeapOptions unless copts.Heap is set. The VM is closed before
// returning, so an object result is only meaningful with copts.Heap.
func Interpret(script []byte, copts CompilerOptions, vopts VMOptions) (Value, error) {
	bc, err := Compile(script, copts)
	if err != nil {
		return Nil, err
	}
	defer bc.Release()

	vm := NewVM(bc, vopts)
	defer vm.Close()
	return vm.Run()
}
