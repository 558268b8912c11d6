// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

// Package tests runs evie scripts which declare their expected results in
// comments:
//
//	print 1 + 2; // expect: 3
//	"a" - 1;     // expect runtime error: Operands must be numbers.
//	var 1;       // Error at '1': Expect variable name.
//	             // [line 7] Error at end: Expect ';' after value.
//
// Runtime and compile errors are expected on the line of the comment unless
// the line is given explicitly.
package tests

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ozanh/evie"
)

var (
	expectOutputRe  = regexp.MustCompile(`// expect: ?(.*)`)
	expectRuntimeRe = regexp.MustCompile(`// expect runtime error: (.+)`)
	expectLineErrRe = regexp.MustCompile(`// \[line (\d+)\] (Error.*)`)
	expectErrorRe   = regexp.MustCompile(`// (Error.*)`)
)

// Expectations are the results declared by a script.
type Expectations struct {
	Output        []string
	CompileErrors []string
	RuntimeError  string
	RuntimeLine   int
}

// Result is the outcome of a script run.
type Result struct {
	Output        []string
	CompileErrors []string
	RuntimeError  string
	RuntimeLine   int
}

// ParseExpectations collects the expectation comments of src.
func ParseExpectations(src []byte) Expectations {
	var e Expectations
	sc := bufio.NewScanner(bytes.NewReader(src))
	for line := 1; sc.Scan(); line++ {
		text := sc.Text()
		if m := expectOutputRe.FindStringSubmatch(text); m != nil {
			e.Output = append(e.Output, m[1])
			continue
		}
		if m := expectRuntimeRe.FindStringSubmatch(text); m != nil {
			e.RuntimeError = m[1]
			e.RuntimeLine = line
			continue
		}
		if m := expectLineErrRe.FindStringSubmatch(text); m != nil {
			e.CompileErrors = append(e.CompileErrors,
				fmt.Sprintf("[line %s] %s", m[1], m[2]))
			continue
		}
		if m := expectErrorRe.FindStringSubmatch(text); m != nil {
			e.CompileErrors = append(e.CompileErrors,
				fmt.Sprintf("[line %d] %s", line, m[1]))
		}
	}
	return e
}

// Run compiles and runs src with the given options and records its result.
func Run(src []byte, copts evie.CompilerOptions, vopts evie.VMOptions) Result {
	var r Result
	bc, err := evie.Compile(src, copts)
	if err != nil {
		var list evie.ErrorList
		if errors.As(err, &list) {
			for _, e := range list {
				r.CompileErrors = append(r.CompileErrors, e.Error())
			}
		} else {
			r.RuntimeError = err.Error()
		}
		return r
	}
	defer bc.Release()

	var out bytes.Buffer
	vopts.Stdout = &out
	vm := evie.NewVM(bc, vopts)
	defer vm.Close()

	_, err = vm.Run()
	r.Output = splitLines(out.String())

	var rerr *evie.RuntimeError
	switch {
	case errors.As(err, &rerr):
		r.RuntimeError = rerr.Message()
		r.RuntimeLine = rerr.Line()
	case err != nil:
		r.RuntimeError = err.Error()
	}
	return r
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

// Check returns the differences between the expectations and r.
func (e Expectations) Check(r Result) []string {
	var diffs []string
	for i := 0; i < len(e.Output) || i < len(r.Output); i++ {
		switch {
		case i >= len(r.Output):
			diffs = append(diffs, fmt.Sprintf("missing output %q", e.Output[i]))
		case i >= len(e.Output):
			diffs = append(diffs, fmt.Sprintf("unexpected output %q", r.Output[i]))
		case e.Output[i] != r.Output[i]:
			diffs = append(diffs, fmt.Sprintf("output #%d: expected %q got %q",
				i+1, e.Output[i], r.Output[i]))
		}
	}

	if strings.Join(e.CompileErrors, "\n") != strings.Join(r.CompileErrors, "\n") {
		diffs = append(diffs, fmt.Sprintf("compile errors: expected %q got %q",
			e.CompileErrors, r.CompileErrors))
	}

	if e.RuntimeError != r.RuntimeError {
		diffs = append(diffs, fmt.Sprintf("runtime error: expected %q got %q",
			e.RuntimeError, r.RuntimeError))
	} else if e.RuntimeError != "" && e.RuntimeLine != r.RuntimeLine {
		diffs = append(diffs, "runtime error line: expected "+
			strconv.Itoa(e.RuntimeLine)+" got "+strconv.Itoa(r.RuntimeLine))
	}
	return diffs
}
