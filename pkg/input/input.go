// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package input defines the test inputs the fuzzer evolves. Inputs are
// value-like: mutation always operates on a clone, the corpus copy is
// never touched.
package input

import (
	"os"

	"github.com/bitwave/goafl/pkg/errs"
)

// Input is a single test input for the target.
type Input interface {
	// Bytes returns the raw bytes handed to the target. The returned slice
	// is owned by the input, callers must not retain it across mutations.
	Bytes() []byte
	Clone() Input
	// Serialize returns the on-disk representation. For byte inputs it is
	// the raw content, so corpus files are directly usable as seeds.
	Serialize() []byte
}

// BytesInput is the standard byte-array input.
type BytesInput struct {
	Data []byte
}

func NewBytesInput(data []byte) *BytesInput {
	return &BytesInput{Data: data}
}

func (bi *BytesInput) Bytes() []byte {
	return bi.Data
}

func (bi *BytesInput) Clone() Input {
	data := make([]byte, len(bi.Data))
	copy(data, bi.Data)
	return &BytesInput{Data: data}
}

func (bi *BytesInput) Serialize() []byte {
	return bi.Data
}

// WriteToFile persists the input with a plain write; it is not fsynced
// (the solutions path in pkg/corpus uses osutil.SafeWriteFile for that).
func WriteToFile(inp Input, path string) error {
	if err := os.WriteFile(path, inp.Serialize(), 0644); err != nil {
		return &errs.FileError{Path: path, Err: err}
	}
	return nil
}

// LoadBytesInput reads a previously serialized byte input back from disk.
func LoadBytesInput(path string) (*BytesInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errs.FileError{Path: path, Err: err}
	}
	return &BytesInput{Data: data}, nil
}
