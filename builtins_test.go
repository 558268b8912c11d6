package evie_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/ozanh/evie"
)

func TestDefaultNatives(t *testing.T) {
	natives := DefaultNatives()
	arities := make(map[string]int)
	for _, n := range natives {
		require.NotNil(t, n.Fn, n.Name)
		arities[n.Name] = n.Arity
	}
	require.Equal(t, map[string]int{"clock": 0, "str": 1}, arities)
}

func TestBuiltinClock(t *testing.T) {
	expectRun(t, `return clock() >= 0;`, true)
	expectRun(t, `var a = clock(); var b = clock(); return b >= a;`, true)
	expectErrIs(t, `clock(1);`, ErrWrongNumArguments)
	expectOutput(t, `print clock;`, "<native fn>\n")
}

func TestBuiltinStr(t *testing.T) {
	expectRun(t, `return str(1.5);`, "1.5")
	expectRun(t, `return str(nil) + str(true);`, "niltrue")
	expectRun(t, `return str("s") == "s";`, true)
	expectRun(t, `fun f() {} return str(f);`, "<fn f>")
	expectRun(t, `class A {} return str(A()) + "!";`, "A instance!")
	expectRun(t, `return str(str) == "<native fn>";`, true)
	expectErrIs(t, `str();`, ErrWrongNumArguments)
	expectErrHas(t, `str(1, 2);`, "Expected 1 arguments but got 2.")
}

func TestBuiltinsReplaced(t *testing.T) {
	var out bytes.Buffer
	bc, err := Compile([]byte(`print twice(21); clock();`), CompilerOptions{})
	require.NoError(t, err)
	defer bc.Release()

	vm := NewVM(bc, VMOptions{
		Stdout: &out,
		Natives: []Builtin{
			{Name: "twice", Arity: 1, Fn: func(_ *VM, args []Value) (Value, error) {
				return Number(args[0].AsNumber() * 2), nil
			}},
		},
	})
	defer vm.Close()

	_, err = vm.Run()
	require.True(t, errors.Is(err, ErrName), "got %v", err)
	require.Contains(t, err.Error(), "Undefined variable 'clock'.")
	require.Equal(t, "42\n", out.String())

	_, ok := vm.Global("clock")
	require.False(t, ok)
	v, ok := vm.Global("twice")
	require.True(t, ok)
	require.Equal(t, "<native fn>", vm.ValueString(v))
}
