package evie_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/ozanh/evie"
)

func TestEval(t *testing.T) {
	for _, mode := range testModes {
		t.Run(mode.name, func(t *testing.T) {
			var out bytes.Buffer
			eval := NewEval(
				CompilerOptions{HeapOptions: HeapOptions{Stress: mode.stress}},
				VMOptions{Stdout: &out},
			)
			defer eval.Close()

			expectEval(t, eval, `var a = 1;`, nil)
			expectEval(t, eval, `a + 1;`, 2.0)
			expectEval(t, eval, `fun double(x) { return x * 2; }`, nil)
			expectEval(t, eval, `double(a);`, 2.0)
			expectEval(t, eval, `class P { init(n) { this.n = n; } get() { return this.n; } }`, nil)
			expectEval(t, eval, `var p = P("x");`, nil)
			expectEval(t, eval, `p.get() + "y";`, "xy")
			expectEval(t, eval, `p;`, "P instance")
			expectEval(t, eval, `1; var q;`, nil)
			expectEval(t, eval, `{ 1; }`, nil)
			expectEval(t, eval, `print a; a = 5;`, 5.0)
			expectEval(t, eval, `return a * 2;`, 10.0)
			expectEval(t, eval, `fun counter() { var n = 0; fun inc() { n = n + 1; return n; } return inc; } var c = counter();`, nil)
			expectEval(t, eval, `c();`, 1.0)
			expectEval(t, eval, `c();`, 2.0)
			require.Equal(t, "1\n", out.String())

			// compile errors do not change the session
			_, err := eval.Run([]byte(`var ;`))
			var list ErrorList
			require.True(t, errors.As(err, &list), "got %T: %v", err, err)
			expectEval(t, eval, `a;`, 5.0)

			// runtime errors unwind and keep the globals
			_, err = eval.Run([]byte(`var b = 1; b.c;`))
			require.True(t, errors.Is(err, ErrType), "got %v", err)
			expectEval(t, eval, `a + b;`, 6.0)
			_, err = eval.Run([]byte(`undefinedName;`))
			require.True(t, errors.Is(err, ErrName), "got %v", err)
			expectEval(t, eval, `c();`, 3.0)
		})
	}
}

func TestEval_SharedHeap(t *testing.T) {
	h := NewHeap(HeapOptions{})
	eval := NewEval(CompilerOptions{Heap: h}, VMOptions{})
	require.Same(t, h, eval.Heap())

	_, err := eval.Run([]byte(`var s = "kept";`))
	require.NoError(t, err)
	h.Collect()
	expectEval(t, eval, `s;`, "kept")

	eval.Close()
	h.Collect()
	require.Equal(t, 0, h.Stats().Objects)
}

func TestInterpret(t *testing.T) {
	var out bytes.Buffer
	v, err := Interpret([]byte(`print "hi"; return 40 + 2;`),
		CompilerOptions{}, VMOptions{Stdout: &out})
	require.NoError(t, err)
	require.Equal(t, 42.0, v.AsNumber())
	require.Equal(t, "hi\n", out.String())

	_, err = Interpret([]byte(`print;`), CompilerOptions{}, VMOptions{})
	require.Error(t, err)
	var list ErrorList
	require.True(t, errors.As(err, &list))
	require.Equal(t, "[line 1] Error at ';': Expect expression.", list.Error())

	_, err = Interpret([]byte(`nil();`), CompilerOptions{}, VMOptions{})
	require.True(t, errors.Is(err, ErrNotCallable))
}

func expectEval(t *testing.T, eval *Eval, script string, expected interface{}) {
	t.Helper()
	v, err := eval.Run([]byte(script))
	require.NoError(t, err, "script: %s", script)
	require.Equal(t, expected, toGoValue(eval.Heap(), v), "script: %s", script)
}
