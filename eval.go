// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package evie

// Eval compiles and runs scripts within same heap and globals.
// If the last statement of a script is an expression statement, its value is
// returned, otherwise the value of the top level return statement or Nil.
// Warning: Eval is not safe to use concurrently.
type Eval struct {
	Opts   CompilerOptions
	VMOpts VMOptions
	VM     *VM
	heap   *Heap
}

// NewEval returns new Eval object.
func NewEval(opts CompilerOptions, vmOpts VMOptions) *Eval {
	heap := opts.Heap
	if heap == nil {
		heap = NewHeap(opts.HeapOptions)
		opts.Heap = heap
	}
	return &Eval{
		Opts:   opts,
		VMOpts: vmOpts,
		heap:   heap,
	}
}

// Heap returns the heap shared by all runs.
func (r *Eval) Heap() *Heap { return r.heap }

// Run compiles, runs given script and returns the result value.
func (r *Eval) Run(script []byte) (Value, error) {
	c := NewCompiler(script, r.heap, r.Opts)
	c.returnLastExpr = true
	bytecode, err := c.Compile()
	if err != nil {
		return Nil, err
	}
	defer bytecode.Release()

	if r.VM == nil {
		r.VM = NewVM(bytecode, r.VMOpts)
	} else {
		r.VM.SetBytecode(bytecode)
	}
	return r.VM.Run()
}

// ValueString returns the string form of v.
func (r *Eval) ValueString(v Value) string {
	return r.heap.ValueString(v)
}

// Close releases the globals of the session.
func (r *Eval) Close() {
	if r.VM != nil {
		r.VM.Close()
	}
}
