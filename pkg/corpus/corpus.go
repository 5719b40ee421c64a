// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"encoding/json"
	"fmt"
)

// Corpus is an ordered collection of testcases. Indices are stable between
// adds for the lifetime of the corpus, Add returns the index of the new
// entry. Count never decreases.
type Corpus interface {
	Count() int
	Get(idx int) (*Testcase, error)
	Add(tc *Testcase) (int, error)
}

// InMemory keeps the evolving corpus in memory for performance.
type InMemory struct {
	entries []*Testcase
}

func NewInMemory() *InMemory {
	return &InMemory{}
}

func (c *InMemory) Count() int {
	return len(c.entries)
}

func (c *InMemory) Get(idx int) (*Testcase, error) {
	if idx < 0 || idx >= len(c.entries) {
		return nil, fmt.Errorf("corpus index %v out of range [0, %v)", idx, len(c.entries))
	}
	return c.entries[idx], nil
}

func (c *InMemory) Add(tc *Testcase) (int, error) {
	c.entries = append(c.entries, tc)
	return len(c.entries) - 1, nil
}

func (c *InMemory) MarshalJSON() ([]byte, error) {
	if c.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.entries)
}

func (c *InMemory) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &c.entries)
}
