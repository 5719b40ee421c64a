// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package corpus holds the evolving set of interesting inputs and the
// durably persisted solutions, plus the schedulers that pick the next
// entry to mutate.
package corpus

import (
	"encoding/json"
	"time"

	"github.com/bitwave/goafl/pkg/errs"
	"github.com/bitwave/goafl/pkg/input"
	"github.com/bitwave/goafl/pkg/meta"
)

// Testcase wraps an input together with its metadata and cached execution
// statistics. The input may live in memory, on disk, or both; LoadInput
// yields byte-identical content either way.
type Testcase struct {
	inp      input.Input
	file     string
	Meta     meta.Map
	execTime time.Duration
	length   int
}

func NewTestcase(inp input.Input) *Testcase {
	return &Testcase{
		inp:    inp,
		length: len(inp.Bytes()),
	}
}

func NewTestcaseFromFile(file string) *Testcase {
	return &Testcase{file: file}
}

// LoadInput returns the testcase input, reading it from the backing file
// on first access if it is not held in memory.
func (tc *Testcase) LoadInput() (input.Input, error) {
	if tc.inp != nil {
		return tc.inp, nil
	}
	if tc.file == "" {
		return nil, errs.EmptyOptional
	}
	inp, err := input.LoadBytesInput(tc.file)
	if err != nil {
		return nil, err
	}
	tc.inp = inp
	tc.length = len(inp.Data)
	return inp, nil
}

func (tc *Testcase) File() string {
	return tc.file
}

func (tc *Testcase) SetFile(file string) {
	tc.file = file
}

func (tc *Testcase) Len() int {
	return tc.length
}

func (tc *Testcase) ExecTime() time.Duration {
	return tc.execTime
}

func (tc *Testcase) SetExecTime(d time.Duration) {
	tc.execTime = d
}

type testcaseJSON struct {
	Input    []byte        `json:"input,omitempty"`
	File     string        `json:"file,omitempty"`
	Meta     *meta.Map     `json:"meta"`
	ExecTime time.Duration `json:"exec_time"`
}

func (tc *Testcase) MarshalJSON() ([]byte, error) {
	var raw []byte
	if tc.inp != nil {
		raw = tc.inp.Serialize()
	}
	return json.Marshal(&testcaseJSON{
		Input:    raw,
		File:     tc.file,
		Meta:     &tc.Meta,
		ExecTime: tc.execTime,
	})
}

func (tc *Testcase) UnmarshalJSON(data []byte) error {
	var js testcaseJSON
	js.Meta = &tc.Meta
	if err := json.Unmarshal(data, &js); err != nil {
		return err
	}
	tc.file = js.File
	tc.execTime = js.ExecTime
	if js.Input != nil {
		tc.inp = input.NewBytesInput(js.Input)
		tc.length = len(js.Input)
	}
	return nil
}
