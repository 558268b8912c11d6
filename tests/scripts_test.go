package tests_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ozanh/evie"
	. "github.com/ozanh/evie/tests"
)

func TestScripts(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "*.lox"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	modes := []struct {
		name string
		heap evie.HeapOptions
	}{
		{"default", evie.HeapOptions{}},
		{"stress", evie.HeapOptions{Stress: true}},
	}

	for _, file := range files {
		src, err := os.ReadFile(file)
		require.NoError(t, err)
		expect := ParseExpectations(src)

		name := strings.TrimSuffix(filepath.Base(file), ".lox")
		for _, mode := range modes {
			mode := mode
			t.Run(name+"/"+mode.name, func(t *testing.T) {
				r := Run(src, evie.CompilerOptions{HeapOptions: mode.heap}, evie.VMOptions{})
				require.Empty(t, expect.Check(r))
			})
		}
	}
}

func TestParseExpectations(t *testing.T) {
	e := ParseExpectations([]byte(`print 1; // expect: 1
print ""; // expect:
x; // expect runtime error: Undefined variable 'x'.
var 1; // Error at '1': Expect variable name.
// [line 9] Error at end: Expect ';' after value.
`))
	require.Equal(t, []string{"1", ""}, e.Output)
	require.Equal(t, "Undefined variable 'x'.", e.RuntimeError)
	require.Equal(t, 3, e.RuntimeLine)
	require.Equal(t, []string{
		"[line 4] Error at '1': Expect variable name.",
		"[line 9] Error at end: Expect ';' after value.",
	}, e.CompileErrors)
}

func TestCheck(t *testing.T) {
	e := Expectations{Output: []string{"1", "2"}, RuntimeError: "boom", RuntimeLine: 2}
	require.Empty(t, e.Check(Result{Output: []string{"1", "2"}, RuntimeError: "boom", RuntimeLine: 2}))

	diffs := e.Check(Result{Output: []string{"1"}, RuntimeError: "boom", RuntimeLine: 3})
	require.Len(t, diffs, 2)
	require.Equal(t, `missing output "2"`, diffs[0])
	require.Equal(t, "runtime error line: expected 2 got 3", diffs[1])

	diffs = e.Check(Result{Output: []string{"1", "3", "4"}})
	require.Len(t, diffs, 3)
	require.Equal(t, `output #2: expected "2" got "3"`, diffs[0])
	require.Equal(t, `unexpected output "4"`, diffs[1])

	r := Run([]byte("print 1;\nprint x;\n"), evie.CompilerOptions{}, evie.VMOptions{})
	require.Equal(t, []string{"1"}, r.Output)
	require.Equal(t, "Undefined variable 'x'.", r.RuntimeError)
	require.Equal(t, 2, r.RuntimeLine)

	r = Run([]byte("print;"), evie.CompilerOptions{}, evie.VMOptions{})
	require.Equal(t, []string{"[line 1] Error at ';': Expect expression."}, r.CompileErrors)
	require.Nil(t, r.Output)
}
