// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package meta implements the typed metadata maps attached to testcases and
// to the fuzzer state. Values are kept in their serialized form, the typed
// view materializes at the access boundary.
package meta

import (
	"encoding/json"

	"github.com/bitwave/goafl/pkg/errs"
)

// Map maps a stable string key to an opaque serialized value.
// The zero value is ready to use.
type Map struct {
	vals map[string]json.RawMessage
}

func (m *Map) Set(key string, val interface{}) error {
	data, err := json.Marshal(val)
	if err != nil {
		return &errs.SerializeError{Err: err}
	}
	if m.vals == nil {
		m.vals = map[string]json.RawMessage{}
	}
	m.vals[key] = data
	return nil
}

// Get decodes the value stored under key into out.
// Returns KeyNotFoundError if the key was never set.
func (m *Map) Get(key string, out interface{}) error {
	raw, ok := m.vals[key]
	if !ok {
		return &errs.KeyNotFoundError{Key: key}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &errs.SerializeError{Err: err}
	}
	return nil
}

func (m *Map) Has(key string) bool {
	_, ok := m.vals[key]
	return ok
}

func (m *Map) Delete(key string) {
	delete(m.vals, key)
}

func (m *Map) Len() int {
	return len(m.vals)
}

// MarshalJSON emits the map with sorted keys (encoding/json sorts map keys),
// which keeps state checkpoints byte-stable across serialize cycles.
func (m *Map) MarshalJSON() ([]byte, error) {
	if m.vals == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m.vals)
}

func (m *Map) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &m.vals)
}
