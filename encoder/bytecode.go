// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package encoder

import (
	"bytes"
	"errors"
	"io"

	"github.com/ozanh/evie"
)

// EncodeBytecodeTo encodes given bc to w io.Writer.
func EncodeBytecodeTo(bc *evie.Bytecode, w io.Writer) error {
	return (*Bytecode)(bc).Encode(w)
}

// DecodeBytecodeFrom decodes *evie.Bytecode from given r io.Reader. Objects are
// allocated in heap, or in a new Heap if heap is nil.
func DecodeBytecodeFrom(r io.Reader, heap *evie.Heap) (*evie.Bytecode, error) {
	var bc Bytecode
	if err := bc.Decode(r, heap); err != nil {
		return nil, err
	}
	return (*evie.Bytecode)(&bc), nil
}

// Encode writes encoded data of Bytecode to writer.
func (bc *Bytecode) Encode(w io.Writer) error {
	data, err := bc.MarshalBinary()
	if err != nil {
		return err
	}

	n, err := w.Write(data)
	if err != nil {
		return err
	}

	if n != len(data) {
		return errors.New("short write")
	}
	return nil
}

// Decode decodes Bytecode data from the reader into heap.
func (bc *Bytecode) Decode(r io.Reader, heap *evie.Heap) error {
	dst := bytes.NewBuffer(nil)
	if _, err := io.Copy(dst, r); err != nil {
		return err
	}
	bc.Heap = heap
	return bc.UnmarshalBinary(dst.Bytes())
}
