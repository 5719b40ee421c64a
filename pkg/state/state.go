// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package state holds the single mutable root of a fuzzer client: RNG,
// the evolving corpus, the solutions corpus, metadata (tokens, MOpt) and
// client performance counters. Stages and the driver borrow it for the
// duration of one iteration; nothing else owns it.
package state

import (
	"time"

	"github.com/bitwave/goafl/pkg/corpus"
	"github.com/bitwave/goafl/pkg/meta"
	"github.com/bitwave/goafl/pkg/mopt"
)

// Capability views of the state. Components declare the subset they need;
// the concrete State satisfies all of them.
type (
	HasCorpus interface {
		Corpus() *corpus.InMemory
	}
	HasSolutions interface {
		Solutions() *corpus.OnDisk
	}
	HasRand interface {
		Rand() *Rand
	}
	HasMetadata interface {
		Metadata() *meta.Map
	}
	HasMOpt interface {
		MOpt() *mopt.State
	}
)

type State struct {
	rnd       *Rand
	corpus    *corpus.InMemory
	solutions *corpus.OnDisk
	metadata  meta.Map
	moptState *mopt.State

	executions uint64
	startTime  time.Time
}

func New(seed uint64, evolving *corpus.InMemory, solutions *corpus.OnDisk) *State {
	return &State{
		rnd:       NewRand(seed),
		corpus:    evolving,
		solutions: solutions,
		startTime: time.Now(),
	}
}

func (st *State) Rand() *Rand {
	return st.rnd
}

func (st *State) Corpus() *corpus.InMemory {
	return st.corpus
}

func (st *State) Solutions() *corpus.OnDisk {
	return st.solutions
}

func (st *State) Metadata() *meta.Map {
	return &st.metadata
}

// MOpt returns the MOpt accounting, or nil when the MOpt stage is not
// configured.
func (st *State) MOpt() *mopt.State {
	return st.moptState
}

func (st *State) SetMOpt(m *mopt.State) {
	st.moptState = m
}

func (st *State) AddExecutions(n uint64) {
	st.executions += n
}

func (st *State) Executions() uint64 {
	return st.executions
}

func (st *State) StartTime() time.Time {
	return st.startTime
}

// ExecsPerSec is the client performance stat reported in UpdateStats.
func (st *State) ExecsPerSec() float64 {
	elapsed := time.Since(st.startTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(st.executions) / elapsed
}
