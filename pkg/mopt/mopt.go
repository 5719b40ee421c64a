// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package mopt implements the adaptive mutation-operator scheduler. A
// particle swarm explores weight vectors over the primitive operators;
// operators that recently produced finds get scheduled more often. The
// stage alternates between a pilot mode that evaluates each swarm in turn
// and a core mode that fuzzes with weights seeded from the operator
// efficiencies the swarms measured.
package mopt

type Mode int

const (
	PilotFuzzing Mode = iota
	CoreFuzzing
)

func (m Mode) String() string {
	if m == CoreFuzzing {
		return "core"
	}
	return "pilot"
}

const (
	// PeriodPilotCoef scales the per-swarm pilot period; period_pilot is
	// PeriodPilotCoef * operator_num executions.
	PeriodPilotCoef = 5000
	// LimitTimeBound bounds how long core mode may run dry before we go
	// back to pilot mode.
	LimitTimeBound = 1.1

	inertia = 0.7
	wMin    = 0.05
	wMax    = 1.0
)

// Rand is the subset of the state RNG the PSO update needs.
type Rand interface {
	Float64() float64
	Intn(n int) int
}

// State is the complete MOpt accounting, stored in the fuzzer state
// metadata so it survives restarts.
type State struct {
	KeyModule   Mode `json:"key_module"`
	OperatorNum int  `json:"operator_num"`
	SwarmNum    int  `json:"swarm_num"`
	SwarmNow    int  `json:"swarm_now"`

	// Per swarm, per operator particle data.
	X        [][]float64 `json:"x"`
	V        [][]float64 `json:"v"`
	LBest    [][]float64 `json:"l_best"`
	LBestEff [][]float64 `json:"l_best_eff"`
	GBest    []float64   `json:"g_best"`
	GBestEff []float64   `json:"g_best_eff"`

	PilotOperatorCtrPerStage   [][]uint64 `json:"pilot_operator_ctr_per_stage"`
	PilotOperatorCtrLast       [][]uint64 `json:"pilot_operator_ctr_last"`
	PilotOperatorFindsPerStage [][]uint64 `json:"pilot_operator_finds_per_stage"`

	CoreOperatorCtrPerStage   []uint64 `json:"core_operator_ctr_per_stage"`
	CoreOperatorCtrLast       []uint64 `json:"core_operator_ctr_last"`
	CoreOperatorFindsPerStage []uint64 `json:"core_operator_finds_per_stage"`

	CoreWeights []float64 `json:"core_weights"`

	PilotTime uint64 `json:"pilot_time"`
	CoreTime  uint64 `json:"core_time"`
	// LimitTime counts core-mode executions since the last new find; it
	// decides when core mode has gone dry.
	LimitTime   uint64 `json:"limit_time"`
	PeriodPilot uint64 `json:"period_pilot"`
	PeriodCore  uint64 `json:"period_core"`

	TotalFinds              uint64 `json:"total_finds"`
	FindsUntilLastSwitching uint64 `json:"finds_until_last_switching"`
	FindsSinceSwitching     uint64 `json:"finds_since_switching"`

	SwarmFitness []float64 `json:"swarm_fitness"`
}

// New seeds swarmNum random particles over operatorNum operators.
func New(operatorNum, swarmNum int, r Rand) *State {
	s := &State{
		KeyModule:   PilotFuzzing,
		OperatorNum: operatorNum,
		SwarmNum:    swarmNum,
		PeriodPilot: uint64(PeriodPilotCoef * operatorNum),
		PeriodCore:  uint64(PeriodPilotCoef * operatorNum),

		GBest:    make([]float64, operatorNum),
		GBestEff: make([]float64, operatorNum),

		CoreOperatorCtrPerStage:   make([]uint64, operatorNum),
		CoreOperatorCtrLast:       make([]uint64, operatorNum),
		CoreOperatorFindsPerStage: make([]uint64, operatorNum),
		CoreWeights:               make([]float64, operatorNum),

		SwarmFitness: make([]float64, swarmNum),
	}
	for i := 0; i < swarmNum; i++ {
		x := make([]float64, operatorNum)
		v := make([]float64, operatorNum)
		l := make([]float64, operatorNum)
		for j := range x {
			x[j] = wMin + r.Float64()*(wMax-wMin)
			v[j] = 0.1 * r.Float64()
			l[j] = x[j]
		}
		normalize(x)
		s.X = append(s.X, x)
		s.V = append(s.V, v)
		s.LBest = append(s.LBest, l)
		s.LBestEff = append(s.LBestEff, make([]float64, operatorNum))
		s.PilotOperatorCtrPerStage = append(s.PilotOperatorCtrPerStage, make([]uint64, operatorNum))
		s.PilotOperatorCtrLast = append(s.PilotOperatorCtrLast, make([]uint64, operatorNum))
		s.PilotOperatorFindsPerStage = append(s.PilotOperatorFindsPerStage, make([]uint64, operatorNum))
	}
	for j := range s.CoreWeights {
		s.CoreWeights[j] = 1.0 / float64(operatorNum)
	}
	return s
}

func normalize(w []float64) {
	var sum float64
	for _, v := range w {
		sum += v
	}
	if sum == 0 {
		return
	}
	for i := range w {
		w[i] /= sum
	}
}

// Weights returns the operator weight vector active for the current mode.
func (s *State) Weights() []float64 {
	if s.KeyModule == CoreFuzzing {
		return s.CoreWeights
	}
	return s.X[s.SwarmNow]
}

// ChooseOperator samples an operator from the active weights and bumps
// its per-stage usage counter.
func (s *State) ChooseOperator(r Rand) int {
	w := s.Weights()
	var sum float64
	for _, v := range w {
		sum += v
	}
	idx := 0
	if sum > 0 {
		pick := r.Float64() * sum
		for i, v := range w {
			pick -= v
			if pick <= 0 {
				idx = i
				break
			}
		}
	} else {
		idx = r.Intn(s.OperatorNum)
	}
	s.bumpCtr(idx)
	return idx
}

// BumpOperator records a use of a specific operator (dictionary splicing
// accounts as the last operator index).
func (s *State) BumpOperator(idx int) {
	s.bumpCtr(idx)
}

func (s *State) bumpCtr(idx int) {
	if s.KeyModule == CoreFuzzing {
		s.CoreOperatorCtrPerStage[idx]++
	} else {
		s.PilotOperatorCtrPerStage[s.SwarmNow][idx]++
	}
}

// SnapshotCtrs records the current usage counters; CreditFinds later
// credits only operators used since the last snapshot.
func (s *State) SnapshotCtrs() {
	if s.KeyModule == CoreFuzzing {
		copy(s.CoreOperatorCtrLast, s.CoreOperatorCtrPerStage)
		return
	}
	copy(s.PilotOperatorCtrLast[s.SwarmNow], s.PilotOperatorCtrPerStage[s.SwarmNow])
}

// CreditFinds attributes diff new finds to every operator whose usage
// counter advanced since the last snapshot.
func (s *State) CreditFinds(diff uint64) {
	s.TotalFinds += diff
	if s.KeyModule == CoreFuzzing {
		for i := 0; i < s.OperatorNum; i++ {
			if s.CoreOperatorCtrPerStage[i] > s.CoreOperatorCtrLast[i] {
				s.CoreOperatorFindsPerStage[i] += diff
			}
		}
		return
	}
	now := s.SwarmNow
	for i := 0; i < s.OperatorNum; i++ {
		if s.PilotOperatorCtrPerStage[now][i] > s.PilotOperatorCtrLast[now][i] {
			s.PilotOperatorFindsPerStage[now][i] += diff
		}
	}
}
