package evie_test

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/ozanh/evie"
)

func TestVM_RuntimeErrors(t *testing.T) {
	expectErrIs(t, `print "x" + 1;`, ErrType)
	expectErrHas(t, `print "x" + 1;`, "Operands must be two numbers or two strings.")
	expectErrHas(t, `print 1 + nil;`, "Operands must be two numbers or two strings.")
	expectErrHas(t, `print -"a";`, "Operand must be a number.")
	expectErrHas(t, `print 1 < "a";`, "Operands must be numbers.")
	expectErrHas(t, `print true * 2;`, "Operands must be numbers.")
	expectErrHas(t, `print "a" / "b";`, "Operands must be numbers.")

	expectErrIs(t, `print x;`, ErrName)
	expectErrHas(t, `print x;`, "Undefined variable 'x'.")
	expectErrHas(t, `x = 1;`, "Undefined variable 'x'.")
	expectErrHas(t, `fun f() { return missing; } f();`, "Undefined variable 'missing'.")

	expectErrIs(t, `var a = 1; print a.b;`, ErrType)
	expectErrHas(t, `var a = 1; print a.b;`, "Only instances have properties.")
	expectErrHas(t, `var a = "s"; a.b = 2;`, "Only instances have fields.")
	expectErrHas(t, `var a = nil; a.b();`, "Only instances have methods.")
	expectErrHas(t, `class A {} print A.x;`, "Only instances have properties.")

	expectErrIs(t, `class A {} print A().x;`, ErrName)
	expectErrHas(t, `class A {} print A().x;`, "Undefined property 'x'.")
	expectErrHas(t, `class A {} A().m();`, "Undefined property 'm'.")

	expectErrIs(t, `"x"();`, ErrNotCallable)
	expectErrHas(t, `"x"();`, "Can only call functions and classes.")
	expectErrHas(t, `var n = 1; n();`, "Can only call functions and classes.")
	expectErrHas(t, `class A {} A()();`, "Can only call functions and classes.")

	expectErrIs(t, `fun f(a) {} f();`, ErrWrongNumArguments)
	expectErrHas(t, `fun f(a) {} f();`, "Expected 1 arguments but got 0.")
	expectErrHas(t, `class A {} A(1);`, "Expected 0 arguments but got 1.")
	expectErrHas(t, `class A { init(a, b) {} } A(1);`, "Expected 2 arguments but got 1.")
	expectErrHas(t, `class A { m(a) {} } A().m();`, "Expected 1 arguments but got 0.")
	expectErrHas(t, `str();`, "Expected 1 arguments but got 0.")
	expectErrHas(t, `clock(1);`, "Expected 0 arguments but got 1.")
}

func TestVM_RuntimeErrorLine(t *testing.T) {
	_, _, err := runScript("var a = 1;\n\nprint a + \"x\";", false, VMOptions{})
	var rerr *RuntimeError
	require.True(t, errors.As(err, &rerr), "got %T: %v", err, err)
	require.Equal(t, 3, rerr.Line())
	require.Equal(t, "Operands must be two numbers or two strings.", rerr.Message())
	require.Equal(t, "TypeError: Operands must be two numbers or two strings.", rerr.Error())
	require.Equal(t, []TraceFrame{{Function: "script", Line: 3}}, rerr.Trace)
	require.Equal(t, "TypeError: Operands must be two numbers or two strings.\n[line 3] in script",
		fmt.Sprintf("%+v", rerr))
}

func TestVM_StackTrace(t *testing.T) {
	script := `fun a() { b(); }
fun b() { c(); }
fun c() { c("too", "many"); }
a();`
	for _, mode := range testModes {
		t.Run(mode.name, func(t *testing.T) {
			_, _, err := runScript(script, mode.stress, VMOptions{})
			var rerr *RuntimeError
			require.True(t, errors.As(err, &rerr), "got %T: %v", err, err)
			require.True(t, errors.Is(err, ErrWrongNumArguments))
			require.Equal(t, []TraceFrame{
				{Function: "c", Line: 3},
				{Function: "b", Line: 2},
				{Function: "a", Line: 1},
				{Function: "script", Line: 4},
			}, rerr.Trace)
			require.Equal(t,
				"WrongNumberOfArgumentsError: Expected 0 arguments but got 2.\n"+
					"[line 3] in c()\n[line 2] in b()\n[line 1] in a()\n[line 4] in script",
				fmt.Sprintf("%+v", err))
			require.Equal(t, "WrongNumberOfArgumentsError: Expected 0 arguments but got 2.",
				fmt.Sprintf("%v", err))
		})
	}
}

func TestVM_StackOverflow(t *testing.T) {
	_, _, err := runScript(`fun f() { f(); } f();`, false, VMOptions{})
	var rerr *RuntimeError
	require.True(t, errors.As(err, &rerr), "got %T: %v", err, err)
	require.True(t, errors.Is(err, ErrStackOverflow))
	require.Equal(t, "Stack overflow.", rerr.Message())
	require.Len(t, rerr.Trace, DefaultMaxFrames)
	require.Equal(t, "script", rerr.Trace[len(rerr.Trace)-1].Function)

	_, _, err = runScript(`fun f(n) { return f(n + 1); } f(0);`, false,
		VMOptions{MaxFrames: 8})
	require.True(t, errors.As(err, &rerr), "got %T: %v", err, err)
	require.Len(t, rerr.Trace, 8)

	// the limit is not reached by a bounded recursion
	_, out, err := runScript(`
fun depth(n) { if (n == 0) return 0; return 1 + depth(n - 1); }
print depth(60);`, false, VMOptions{})
	require.NoError(t, err)
	require.Equal(t, "60\n", out)
}

func TestVM_ExpressionStackOverflow(t *testing.T) {
	nested := func(depth int) string {
		return "print " + strings.Repeat("1 + (", depth) + "1" +
			strings.Repeat(")", depth) + ";"
	}

	_, _, err := runScript(nested(17000), false, VMOptions{})
	var rerr *RuntimeError
	require.True(t, errors.As(err, &rerr), "got %T: %v", err, err)
	require.True(t, errors.Is(err, ErrStackOverflow))
	require.Equal(t, "Stack overflow.", rerr.Message())
	require.Equal(t, []TraceFrame{{Function: "script", Line: 1}}, rerr.Trace)

	for _, mode := range testModes {
		_, _, err = runScript(nested(600), mode.stress, VMOptions{MaxFrames: 1})
		require.True(t, errors.As(err, &rerr), "got %T: %v", err, err)
		require.True(t, errors.Is(err, ErrStackOverflow), "got %v", err)
	}

	bc, err := Compile([]byte(nested(600)+"\nprint 2;"), CompilerOptions{})
	require.NoError(t, err)
	defer bc.Release()
	var out bytes.Buffer
	vm := NewVM(bc, VMOptions{MaxFrames: 1, Stdout: &out})
	defer vm.Close()
	_, err = vm.Run()
	require.True(t, errors.Is(err, ErrStackOverflow))
	_, err = vm.Run()
	require.True(t, errors.Is(err, ErrStackOverflow))
	require.Empty(t, out.String())
}

func TestVM_RecoverAfterError(t *testing.T) {
	bc, err := Compile([]byte(`var a = 1; print a; a.b;`), CompilerOptions{})
	require.NoError(t, err)
	defer bc.Release()

	var out bytes.Buffer
	vm := NewVM(bc, VMOptions{Stdout: &out})
	defer vm.Close()

	_, err = vm.Run()
	require.True(t, errors.Is(err, ErrType))
	_, err = vm.Run()
	require.True(t, errors.Is(err, ErrType))
	require.Equal(t, "1\n1\n", out.String())

	v, ok := vm.Global("a")
	require.True(t, ok)
	require.Equal(t, 1.0, v.AsNumber())
}

func expectErrIs(t *testing.T, script string, expected error) {
	t.Helper()
	for _, mode := range testModes {
		t.Run(mode.name, func(t *testing.T) {
			t.Helper()
			_, _, err := runScript(script, mode.stress, VMOptions{})
			require.Error(t, err, "script: %s", script)
			var rerr *RuntimeError
			require.True(t, errors.As(err, &rerr), "script: %s\ngot %T: %v", script, err, err)
			require.True(t, errors.Is(err, expected),
				"script: %s\nexpected: %v\ngot: %v", script, expected, err)
		})
	}
}

func expectErrHas(t *testing.T, script string, msg string) {
	t.Helper()
	for _, mode := range testModes {
		t.Run(mode.name, func(t *testing.T) {
			t.Helper()
			_, _, err := runScript(script, mode.stress, VMOptions{})
			require.Error(t, err, "script: %s", script)
			var rerr *RuntimeError
			require.True(t, errors.As(err, &rerr), "script: %s\ngot %T: %v", script, err, err)
			require.Equal(t, msg, rerr.Message(), "script: %s", script)
		})
	}
}
