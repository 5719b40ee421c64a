// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package stage

import (
	"github.com/bitwave/goafl/pkg/errs"
	"github.com/bitwave/goafl/pkg/events"
	"github.com/bitwave/goafl/pkg/log"
	"github.com/bitwave/goafl/pkg/mopt"
	"github.com/bitwave/goafl/pkg/mutator"
	"github.com/bitwave/goafl/pkg/state"
)

// MOptStage drives the adaptive operator scheduler. In pilot mode each
// swarm gets a fixed budget of executions and its find rate becomes the
// PSO fitness; once all swarms ran, core mode fuzzes with weights seeded
// from the operator efficiencies the swarms measured. Core mode ends when
// the find count exceeds LimitTimeBound times the count at switch-in, or
// when it goes dry; then the pilot tour starts over.
type MOptStage struct {
	mut mutator.Mutator
}

func NewMOptStage(mut mutator.Mutator) *MOptStage {
	return &MOptStage{mut: mut}
}

func (s *MOptStage) iterations(st *state.State) int {
	return 1 + st.Rand().Below(128)
}

func (s *MOptStage) Perform(fz Evaluator, st *state.State, mgr events.Manager, corpusIdx int) error {
	ms := st.MOpt()
	if ms == nil {
		return &errs.UninitializedError{Msg: "MOpt stage requires MOpt state"}
	}
	switch ms.KeyModule {
	case mopt.PilotFuzzing:
		return s.performPilot(fz, st, mgr, corpusIdx)
	case mopt.CoreFuzzing:
		return s.performCore(fz, st, mgr, corpusIdx)
	}
	return &errs.IllegalStateError{Msg: "unknown MOpt mode"}
}

func (s *MOptStage) performPilot(fz Evaluator, st *state.State, mgr events.Manager, corpusIdx int) error {
	ms := st.MOpt()
	num := s.iterations(st)
	for i := 0; i < num; i++ {
		if err := mgr.Process(); err != nil {
			return err
		}
		diff, err := s.mutateAndEvaluate(fz, st, corpusIdx, i)
		if err != nil {
			return err
		}
		ms.PilotTime++
		if diff > 0 {
			ms.CreditFinds(diff)
		}
		if ms.PilotTime > ms.PeriodPilot {
			// The swarm's find rate over its execution budget is its
			// fitness for the PSO update.
			window := float64(ms.PilotTime) / float64(mopt.PeriodPilotCoef)
			ms.SwarmFitness[ms.SwarmNow] =
				float64(ms.TotalFinds-ms.FindsUntilLastSwitching) / window
			ms.PilotTime = 0
			ms.FindsUntilLastSwitching = ms.TotalFinds
			ms.UpdatePilotOperatorCtrPSO(ms.SwarmNow, st.Rand())
			ms.SwarmNow++
			if ms.SwarmNow == ms.SwarmNum {
				ms.SwarmNow = 0
				ms.InitCoreModule()
				log.Logf(1, "MOpt: switching to core fuzzing")
				return nil
			}
		}
	}
	return nil
}

func (s *MOptStage) performCore(fz Evaluator, st *state.State, mgr events.Manager, corpusIdx int) error {
	ms := st.MOpt()
	if ms.FindsSinceSwitching == 0 {
		// We have just switched over from pilot mode.
		ms.FindsSinceSwitching = uint64(st.Corpus().Count() + st.Solutions().Count())
		ms.LimitTime = 0
	}
	num := s.iterations(st)
	for i := 0; i < num; i++ {
		if err := mgr.Process(); err != nil {
			return err
		}
		diff, err := s.mutateAndEvaluate(fz, st, corpusIdx, i)
		if err != nil {
			return err
		}
		ms.CoreTime++
		if diff > 0 {
			ms.CreditFinds(diff)
			ms.LimitTime = 0
		} else {
			ms.LimitTime++
		}
		finds := uint64(st.Corpus().Count() + st.Solutions().Count())
		if float64(finds) > mopt.LimitTimeBound*float64(ms.FindsSinceSwitching) {
			// Core mode collected its share of finds; give the swarms a
			// fresh pilot tour with the new corpus.
			ms.SwitchToPilot()
			log.Logf(1, "MOpt: switching back to pilot fuzzing after %v finds", finds)
			return nil
		}
		if float64(ms.LimitTime) > mopt.LimitTimeBound*float64(ms.PeriodCore) {
			// Core mode went dry: no new find for more than
			// LimitTimeBound * PeriodCore executions.
			ms.SwitchToPilot()
			log.Logf(1, "MOpt: core went dry, switching back to pilot fuzzing")
			return nil
		}
		if ms.CoreTime > ms.PeriodCore {
			ms.CoreTime = 0
			ms.FindsUntilLastSwitching = ms.TotalFinds
			ms.UpdateCoreOperatorCtrPSO()
			if err := ms.PSOUpdate(); err != nil {
				// Degenerate weights; skip the update and keep fuzzing.
				log.Logf(1, "MOpt: %v", err)
			}
		}
	}
	return nil
}

func (s *MOptStage) mutateAndEvaluate(fz Evaluator, st *state.State, corpusIdx, stageIdx int) (uint64, error) {
	ms := st.MOpt()
	tc, err := st.Corpus().Get(corpusIdx)
	if err != nil {
		return 0, err
	}
	orig, err := tc.LoadInput()
	if err != nil {
		return 0, err
	}
	inp := orig.Clone()
	ms.SnapshotCtrs()
	if err := s.mut.Mutate(st, inp, stageIdx); err != nil {
		log.Logf(2, "mutator failed on corpus entry %v: %v", corpusIdx, err)
		return 0, nil
	}
	findsBefore := st.Corpus().Count() + st.Solutions().Count()
	_, newIdx, err := fz.EvaluateInput(inp)
	if err != nil {
		return 0, err
	}
	if err := s.mut.PostExec(st, stageIdx, newIdx); err != nil {
		return 0, err
	}
	finds := st.Corpus().Count() + st.Solutions().Count()
	return uint64(finds - findsBefore), nil
}
