// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mopt

import (
	"github.com/bitwave/goafl/pkg/errs"
)

// operatorEff is the local find rate of one operator during the stage
// window that just ended.
func operatorEff(finds, ctr uint64) float64 {
	if ctr == 0 {
		return 0
	}
	return float64(finds) / float64(ctr)
}

// UpdatePilotOperatorCtrPSO advances one swarm's particle according to
// standard PSO: velocity pulls toward the swarm's local best and the
// global best positions, with the per-operator find rate as the
// objective. The swarm's per-stage counters are reset for its next turn.
func (s *State) UpdatePilotOperatorCtrPSO(swarm int, r Rand) {
	x := s.X[swarm]
	v := s.V[swarm]
	for i := 0; i < s.OperatorNum; i++ {
		eff := operatorEff(s.PilotOperatorFindsPerStage[swarm][i], s.PilotOperatorCtrPerStage[swarm][i])
		if eff > s.LBestEff[swarm][i] {
			s.LBestEff[swarm][i] = eff
			s.LBest[swarm][i] = x[i]
		}
		if eff > s.GBestEff[i] {
			s.GBestEff[i] = eff
			s.GBest[i] = x[i]
		}
	}
	for i := 0; i < s.OperatorNum; i++ {
		v[i] = inertia*v[i] +
			r.Float64()*(s.LBest[swarm][i]-x[i]) +
			r.Float64()*(s.GBest[i]-x[i])
		x[i] += v[i]
		if x[i] < wMin {
			x[i] = wMin
		}
		if x[i] > wMax {
			x[i] = wMax
		}
	}
	normalize(x)
	for i := 0; i < s.OperatorNum; i++ {
		s.PilotOperatorCtrPerStage[swarm][i] = 0
		s.PilotOperatorCtrLast[swarm][i] = 0
		s.PilotOperatorFindsPerStage[swarm][i] = 0
	}
}

// InitCoreModule switches to core mode. Operator weights are seeded from
// the aggregated swarm bests: when the pilot tour measured any operator
// efficiency at all, weights follow the efficiencies (with a floor so no
// operator starves); otherwise the fittest swarm's position is used as is.
func (s *State) InitCoreModule() {
	var effSum float64
	for i := 0; i < s.OperatorNum; i++ {
		effSum += s.GBestEff[i]
	}
	if effSum > 0 {
		for i := 0; i < s.OperatorNum; i++ {
			s.CoreWeights[i] = wMin + s.GBestEff[i]/effSum
		}
	} else {
		best := 0
		for i := 1; i < s.SwarmNum; i++ {
			if s.SwarmFitness[i] > s.SwarmFitness[best] {
				best = i
			}
		}
		copy(s.CoreWeights, s.X[best])
	}
	for i := 0; i < s.OperatorNum; i++ {
		s.CoreOperatorCtrPerStage[i] = 0
		s.CoreOperatorCtrLast[i] = 0
		s.CoreOperatorFindsPerStage[i] = 0
	}
	normalize(s.CoreWeights)
	s.KeyModule = CoreFuzzing
	s.FindsSinceSwitching = 0
	s.CoreTime = 0
	s.LimitTime = 0
}

// SwitchToPilot returns to pilot mode and restarts the swarm tour.
func (s *State) SwitchToPilot() {
	s.KeyModule = PilotFuzzing
	s.FindsSinceSwitching = 0
	s.PilotTime = 0
	s.SwarmNow = 0
}

// UpdateCoreOperatorCtrPSO refreshes the global bests from the core-mode
// find rates and resets the core per-stage counters.
func (s *State) UpdateCoreOperatorCtrPSO() {
	for i := 0; i < s.OperatorNum; i++ {
		eff := operatorEff(s.CoreOperatorFindsPerStage[i], s.CoreOperatorCtrPerStage[i])
		if eff > s.GBestEff[i] {
			s.GBestEff[i] = eff
			s.GBest[i] = s.CoreWeights[i]
		}
		s.CoreOperatorCtrPerStage[i] = 0
		s.CoreOperatorCtrLast[i] = 0
	}
}

// PSOUpdate re-derives the core operator weights for the next round from
// the global best positions. Fails with a recoverable error when the
// weights are degenerate (all zero); the caller skips the update and
// keeps fuzzing with the previous weights.
func (s *State) PSOUpdate() error {
	var sum float64
	for i := 0; i < s.OperatorNum; i++ {
		sum += s.GBest[i]
	}
	if sum == 0 {
		return &errs.IllegalStateError{Msg: "degenerate PSO weights: all global bests are zero"}
	}
	for i := 0; i < s.OperatorNum; i++ {
		w := s.GBest[i] / sum
		if w < wMin {
			w = wMin
		}
		s.CoreWeights[i] = w
	}
	normalize(s.CoreWeights)
	return nil
}
