// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package stage

import (
	"github.com/bitwave/goafl/pkg/events"
	"github.com/bitwave/goafl/pkg/log"
	"github.com/bitwave/goafl/pkg/mutator"
	"github.com/bitwave/goafl/pkg/state"
)

// MutationalStage is the default stage: load the scheduled input, mutate
// a clone, evaluate, repeat.
type MutationalStage struct {
	mut mutator.Mutator
}

func NewMutationalStage(mut mutator.Mutator) *MutationalStage {
	return &MutationalStage{mut: mut}
}

// TODO: derive the iteration count from a testcase score instead of a
// plain random draw.
func (s *MutationalStage) iterations(st *state.State) int {
	return 1 + st.Rand().Below(128)
}

func (s *MutationalStage) Perform(fz Evaluator, st *state.State, mgr events.Manager, corpusIdx int) error {
	num := s.iterations(st)
	for i := 0; i < num; i++ {
		if err := mgr.Process(); err != nil {
			return err
		}
		tc, err := st.Corpus().Get(corpusIdx)
		if err != nil {
			return err
		}
		orig, err := tc.LoadInput()
		if err != nil {
			return err
		}
		// The corpus copy must stay untouched.
		inp := orig.Clone()
		if err := s.mut.Mutate(st, inp, i); err != nil {
			log.Logf(2, "mutator failed on corpus entry %v: %v", corpusIdx, err)
			continue
		}
		_, newIdx, err := fz.EvaluateInput(inp)
		if err != nil {
			return err
		}
		if err := s.mut.PostExec(st, i, newIdx); err != nil {
			return err
		}
	}
	return nil
}
