// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

// Package encoder encodes compiled evie Bytecode to a portable binary form and
// decodes it into a Heap. Encoded data starts with a header of a signature and
// a version which is followed by a CBOR document of the flattened functions.
package encoder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/fxamacker/cbor/v2"

	"github.com/ozanh/evie"
)

// Bytecode signature and version are written to the header of encoded Bytecode.
// Bytecode is encoded with current BytecodeVersion and its format.
const (
	BytecodeSignature uint32 = 0x45564945
	BytecodeVersion   uint16 = 1

	headerSize = 6
)

// FileExt is the conventional extension of encoded Bytecode files.
const FileExt = ".evbc"

// Bytecode implements encoding.BinaryMarshaler and encoding.BinaryUnmarshaler.
type Bytecode evie.Bytecode

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("encoder: failed to create CBOR enc mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxArrayElements: 1 << 24,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("encoder: failed to create CBOR dec mode: %v", err))
	}
}

type constKind uint8

const (
	constNil constKind = iota
	constTrue
	constFalse
	constNumber
	constString
	constFunction
)

// file is the encoded form of Bytecode. Functions[0] is the main function,
// function constants refer to functions with greater indices.
type file struct {
	Functions []function `cbor:"1,keyasint"`
}

type function struct {
	Name         string     `cbor:"1,keyasint,omitempty"`
	Arity        int        `cbor:"2,keyasint,omitempty"`
	UpvalueCount int        `cbor:"3,keyasint,omitempty"`
	Code         []byte     `cbor:"4,keyasint"`
	Lines        []lineRun  `cbor:"5,keyasint"`
	Constants    []constant `cbor:"6,keyasint,omitempty"`
}

// lineRun is a run length encoded part of a line table.
type lineRun struct {
	_     struct{} `cbor:",toarray"`
	Line  int
	Count int
}

type constant struct {
	Kind     constKind `cbor:"1,keyasint"`
	Number   float64   `cbor:"2,keyasint,omitempty"`
	String   string    `cbor:"3,keyasint,omitempty"`
	Function int       `cbor:"4,keyasint,omitempty"`
}

func newError(method, msg string) *evie.Error {
	return &evie.Error{
		Name:    "encoder.Bytecode." + method,
		Message: msg,
	}
}

// MarshalBinary implements encoding.BinaryMarshaler
func (bc *Bytecode) MarshalBinary() ([]byte, error) {
	if bc.Heap == nil || !bc.Heap.IsType(evie.ObjectValue(bc.Main), evie.ObjFunction) {
		return nil, newError("MarshalBinary", "no main function")
	}

	e := flattener{heap: bc.Heap, index: make(map[evie.Ref]int)}
	if _, err := e.function(bc.Main); err != nil {
		return nil, err
	}
	body, err := encMode.Marshal(&file{Functions: e.functions})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(headerSize + len(body))
	putBytecodeHeader(&buf)
	buf.Write(body)
	return buf.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. Objects are allocated
// in the Heap of the receiver, a new Heap is created if it is nil. The main
// function is pinned until Release is called.
func (bc *Bytecode) UnmarshalBinary(data []byte) error {
	if len(data) < headerSize {
		return newError("UnmarshalBinary", "invalid data")
	}
	if sig := binary.BigEndian.Uint32(data[0:4]); sig != BytecodeSignature {
		return newError("UnmarshalBinary", "signature mismatch")
	}
	if version := binary.BigEndian.Uint16(data[4:6]); version != BytecodeVersion {
		return newError("UnmarshalBinary",
			"unsupported version:"+strconv.Itoa(int(version)))
	}

	var f file
	if err := decMode.Unmarshal(data[headerSize:], &f); err != nil {
		return fmt.Errorf("encoder: unmarshal bytecode: %w", err)
	}
	if err := f.validate(); err != nil {
		return err
	}

	h := bc.Heap
	if h == nil {
		h = evie.NewHeap(evie.HeapOptions{})
	}
	var main evie.Ref
	err := h.Guard(func() error {
		main = f.build(h)
		return nil
	})
	if err != nil {
		return err
	}
	bc.Heap = h
	bc.Main = main
	return nil
}

func putBytecodeHeader(buf *bytes.Buffer) {
	var header [headerSize]byte
	binary.BigEndian.PutUint32(header[0:4], BytecodeSignature)
	binary.BigEndian.PutUint16(header[4:6], BytecodeVersion)
	buf.Write(header[:])
}

// flattener collects the functions reachable from main in depth first order.
type flattener struct {
	heap      *evie.Heap
	index     map[evie.Ref]int
	functions []function
}

func (e *flattener) function(ref evie.Ref) (int, error) {
	if i, ok := e.index[ref]; ok {
		return i, nil
	}
	f, ok := e.heap.Get(ref).(*evie.Function)
	if !ok {
		return 0, newError("MarshalBinary", fmt.Sprintf("ref %d is not a function", ref))
	}

	idx := len(e.functions)
	e.index[ref] = idx
	e.functions = append(e.functions, function{})

	out := function{
		Arity:        f.Arity,
		UpvalueCount: f.UpvalueCount,
		Code:         f.Chunk.Code,
		Lines:        encodeLines(f.Chunk.Lines),
	}
	if f.Name != evie.NoRef {
		out.Name = e.heap.StringOf(f.Name)
	}
	for _, v := range f.Chunk.Constants {
		c, err := e.constant(v)
		if err != nil {
			return 0, err
		}
		out.Constants = append(out.Constants, c)
	}
	e.functions[idx] = out
	return idx, nil
}

func (e *flattener) constant(v evie.Value) (constant, error) {
	switch v.Kind() {
	case evie.KindNil:
		return constant{Kind: constNil}, nil
	case evie.KindBool:
		if v.AsBool() {
			return constant{Kind: constTrue}, nil
		}
		return constant{Kind: constFalse}, nil
	case evie.KindNumber:
		return constant{Kind: constNumber, Number: v.AsNumber()}, nil
	}

	if s, ok := e.heap.AsString(v); ok {
		return constant{Kind: constString, String: s}, nil
	}
	if e.heap.IsType(v, evie.ObjFunction) {
		idx, err := e.function(v.AsRef())
		if err != nil {
			return constant{}, err
		}
		return constant{Kind: constFunction, Function: idx}, nil
	}
	return constant{}, newError("MarshalBinary",
		"not encodable constant of type "+e.heap.TypeName(v))
}

func encodeLines(lines []int) []lineRun {
	var runs []lineRun
	for _, line := range lines {
		if n := len(runs); n > 0 && runs[n-1].Line == line {
			runs[n-1].Count++
			continue
		}
		runs = append(runs, lineRun{Line: line, Count: 1})
	}
	return runs
}

func decodeLines(runs []lineRun) []int {
	var n int
	for _, r := range runs {
		n += r.Count
	}
	lines := make([]int, 0, n)
	for _, r := range runs {
		for i := 0; i < r.Count; i++ {
			lines = append(lines, r.Line)
		}
	}
	return lines
}

// build allocates the functions in reverse order so that function constants
// are allocated before the functions referring to them. Every allocated object
// is pinned until the main function is pinned.
func (f *file) build(h *evie.Heap) evie.Ref {
	var pins []evie.Ref
	defer func() {
		for _, ref := range pins {
			h.Unpin(ref)
		}
	}()
	pin := func(ref evie.Ref) evie.Ref {
		h.Pin(ref)
		pins = append(pins, ref)
		return ref
	}

	refs := make([]evie.Ref, len(f.Functions))
	for i := len(f.Functions) - 1; i >= 0; i-- {
		wf := &f.Functions[i]
		fn := &evie.Function{
			Arity:        wf.Arity,
			UpvalueCount: wf.UpvalueCount,
		}
		if wf.Name != "" {
			fn.Name = pin(h.Intern(wf.Name))
		}
		fn.Chunk.Code = append([]byte(nil), wf.Code...)
		fn.Chunk.Lines = decodeLines(wf.Lines)
		fn.Chunk.Constants = make([]evie.Value, 0, len(wf.Constants))
		for _, c := range wf.Constants {
			var v evie.Value
			switch c.Kind {
			case constNil:
				v = evie.Nil
			case constTrue:
				v = evie.True
			case constFalse:
				v = evie.False
			case constNumber:
				v = evie.Number(c.Number)
			case constString:
				v = evie.ObjectValue(pin(h.Intern(c.String)))
			case constFunction:
				v = evie.ObjectValue(refs[c.Function])
			}
			fn.Chunk.Constants = append(fn.Chunk.Constants, v)
		}
		refs[i] = pin(h.AllocFunction(fn))
	}
	h.Pin(refs[0])
	return refs[0]
}
