// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package evie

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrType represents a type error.
	ErrType = &Error{Name: "TypeError"}

	// ErrName represents an error for undefined variables and properties.
	ErrName = &Error{Name: "NameError"}

	// ErrWrongNumArguments represents a wrong number of arguments error.
	ErrWrongNumArguments = &Error{Name: "WrongNumberOfArgumentsError"}

	// ErrNotCallable is an error where a value is not callable.
	ErrNotCallable = &Error{Name: "NotCallableError"}

	// ErrStackOverflow represents a stack overflow error.
	ErrStackOverflow = &Error{Name: "StackOverflowError"}

	// ErrOutOfMemory is the fatal error returned when the heap limit is
	// exceeded. A VM which returned it cannot run again.
	ErrOutOfMemory = &Error{
		Name:    "OutOfMemoryError",
		Message: "heap limit exceeded",
	}

	// ErrVMPoisoned is returned by VM.Run after a fatal error.
	ErrVMPoisoned = &Error{
		Name:    "VMPoisonedError",
		Message: "virtual machine is unusable after a fatal error",
	}
)

// Error is the base error type of evie errors. Specialized errors are created
// from the sentinel errors with NewError and can be checked with errors.Is.
type Error struct {
	Name    string
	Message string
	Cause   error
}

func (o *Error) Unwrap() error {
	return o.Cause
}

// Error implements error interface.
func (o *Error) Error() string {
	name := o.Name
	if name == "" {
		name = "error"
	}
	if o.Message == "" {
		return name
	}
	return fmt.Sprintf("%s: %s", name, o.Message)
}

// NewError creates a new Error and sets original Error as its cause which can be unwrapped.
func (o *Error) NewError(messages ...string) *Error {
	return &Error{
		Name:    o.Name,
		Message: strings.Join(messages, " "),
		Cause:   o,
	}
}

// NewOperandTypeError creates a new Error from ErrType.
func NewOperandTypeError(msg string) *Error {
	return ErrType.NewError(msg)
}

// NewUndefinedVariableError creates a new Error from ErrName.
func NewUndefinedVariableError(name string) *Error {
	return ErrName.NewError("Undefined variable '" + name + "'.")
}

// NewUndefinedPropertyError creates a new Error from ErrName.
func NewUndefinedPropertyError(name string) *Error {
	return ErrName.NewError("Undefined property '" + name + "'.")
}

// NewArgumentCountError creates a new Error from ErrWrongNumArguments.
func NewArgumentCountError(want, got int) *Error {
	return ErrWrongNumArguments.NewError(
		fmt.Sprintf("Expected %d arguments but got %d.", want, got))
}

// TraceFrame is a single entry of a runtime error trace.
type TraceFrame struct {
	Function string
	Line     int
}

func (f TraceFrame) String() string {
	if f.Function == "script" {
		return fmt.Sprintf("[line %d] in script", f.Line)
	}
	return fmt.Sprintf("[line %d] in %s()", f.Line, f.Function)
}

// RuntimeError represents a runtime error that wraps Error and includes trace
// information. Trace starts with the innermost frame.
type RuntimeError struct {
	Err   *Error
	Trace []TraceFrame
}

func (o *RuntimeError) Unwrap() error {
	if o.Err != nil {
		return o.Err
	}
	return nil
}

// Error implements error interface.
func (o *RuntimeError) Error() string {
	if o.Err == nil {
		return "<nil>"
	}
	return o.Err.Error()
}

// Line returns the source line of the innermost frame or 0.
func (o *RuntimeError) Line() int {
	if len(o.Trace) == 0 {
		return 0
	}
	return o.Trace[0].Line
}

// Message returns the message of the wrapped error.
func (o *RuntimeError) Message() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Message
}

// Format implements fmt.Formater interface. %+v adds the trace.
func (o *RuntimeError) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v', 's':
		_, _ = io.WriteString(s, o.Error())
		if s.Flag('+') {
			if len(o.Trace) == 0 {
				_, _ = io.WriteString(s, "\n<no stack trace>")
			}
			for _, f := range o.Trace {
				_, _ = io.WriteString(s, "\n"+f.String())
			}
		}
	case 'q':
		_, _ = io.WriteString(s, strconv.Quote(o.Error()))
	}
}

// CompileError is a diagnostic reported by the Compiler.
type CompileError struct {
	Line int
	// Where is the offending lexeme quoted, "end" at the end of input or
	// empty for scanner errors.
	Where   string
	Message string
}

func (e *CompileError) Error() string {
	if e.Where == "" {
		return fmt.Sprintf("[line %d] Error: %s", e.Line, e.Message)
	}
	return fmt.Sprintf("[line %d] Error at %s: %s", e.Line, e.Where, e.Message)
}

// ErrorList is a collection of compile errors.
type ErrorList []*CompileError

// Add adds a new compile error to the collection.
func (p *ErrorList) Add(line int, where, msg string) {
	*p = append(*p, &CompileError{Line: line, Where: where, Message: msg})
}

// Len returns the number of elements in the collection.
func (p ErrorList) Len() int {
	return len(p)
}

func (p ErrorList) Swap(i, j int) {
	p[i], p[j] = p[j], p[i]
}

func (p ErrorList) Less(i, j int) bool {
	return p[i].Line < p[j].Line
}

// Sort sorts the collection.
func (p ErrorList) Sort() {
	sort.Stable(p)
}

// RemoveMultiples sorts the list by line keeping the report order of errors
// on the same line and removes adjacent duplicates.
func (p *ErrorList) RemoveMultiples() {
	sort.Stable(p)
	var last CompileError
	i := 0
	for _, e := range *p {
		if *e != last {
			last = *e
			(*p)[i] = e
			i++
		}
	}
	*p = (*p)[0:i]
}

func (p ErrorList) Error() string {
	switch len(p) {
	case 0:
		return "no errors"
	case 1:
		return p[0].Error()
	}
	return fmt.Sprintf("%s (and %d more errors)", p[0], len(p)-1)
}

// Err returns an error.
func (p ErrorList) Err() error {
	if len(p) == 0 {
		return nil
	}
	return p
}
