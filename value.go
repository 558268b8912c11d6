// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package evie

import (
	"math"
	"strconv"
)

// Ref is a handle of an object stored in a Heap.
type Ref uint32

// NoRef is the zero Ref, it never points to an object.
const NoRef Ref = 0

// ValueKind is the tag of a Value.
type ValueKind uint8

// Value kinds
const (
	KindNil ValueKind = iota
	KindBool
	KindNumber
	KindObject
)

func (k ValueKind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindObject:
		return "object"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is the runtime representation of an evie value. It is small and
// comparable, and is passed by value. Objects are referenced by their Ref in
// the Heap that owns them.
type Value struct {
	kind ValueKind
	num  float64
	ref  Ref
}

var (
	// Nil is the nil value. The zero Value is Nil.
	Nil = Value{}
	// True is the boolean true value.
	True = Value{kind: KindBool, num: 1}
	// False is the boolean false value.
	False = Value{kind: KindBool}
)

// Bool returns True or False.
func Bool(b bool) Value {
	if b {
		return True
	}
	return False
}

// Number returns a number Value.
func Number(n float64) Value {
	return Value{kind: KindNumber, num: n}
}

// ObjectValue returns a Value referencing a heap object.
func ObjectValue(ref Ref) Value {
	return Value{kind: KindObject, ref: ref}
}

// Kind returns the tag of the value.
func (v Value) Kind() ValueKind { return v.kind }

// IsNil reports whether v is nil.
func (v Value) IsNil() bool { return v.kind == KindNil }

// IsBool reports whether v is a boolean.
func (v Value) IsBool() bool { return v.kind == KindBool }

// IsNumber reports whether v is a number.
func (v Value) IsNumber() bool { return v.kind == KindNumber }

// IsObject reports whether v references a heap object.
func (v Value) IsObject() bool { return v.kind == KindObject }

// AsBool returns the boolean payload. It is false for non-boolean values.
func (v Value) AsBool() bool { return v.kind == KindBool && v.num != 0 }

// AsNumber returns the number payload.
func (v Value) AsNumber() float64 { return v.num }

// AsRef returns the object Ref or NoRef if v is not an object.
func (v Value) AsRef() Ref {
	if v.kind != KindObject {
		return NoRef
	}
	return v.ref
}

// IsFalsy reports whether v is nil or false. Every other value is truthy.
func (v Value) IsFalsy() bool {
	switch v.kind {
	case KindNil:
		return true
	case KindBool:
		return v.num == 0
	}
	return false
}

// Equal reports whether v and other are equal. Numbers compare with IEEE
// semantics, objects by identity. Strings are interned so identity is
// content equality.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNil:
		return true
	case KindBool, KindNumber:
		return v.num == other.num
	case KindObject:
		return v.ref == other.ref
	}
	return false
}

func formatNumber(n float64) string {
	switch {
	case math.IsInf(n, 1):
		return "inf"
	case math.IsInf(n, -1):
		return "-inf"
	case math.IsNaN(n):
		return "nan"
	case n == math.Trunc(n) && math.Abs(n) < 1e21:
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}
