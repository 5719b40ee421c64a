// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mopt

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitwave/goafl/pkg/testutil"
)

func TestNewState(t *testing.T) {
	r := rand.New(testutil.RandSource(t))
	s := New(4, 5, r)
	assert.Equal(t, PilotFuzzing, s.KeyModule)
	assert.Equal(t, 4, s.OperatorNum)
	assert.Equal(t, 5, s.SwarmNum)
	assert.Len(t, s.X, 5)
	for _, x := range s.X {
		var sum float64
		for _, w := range x {
			assert.Greater(t, w, 0.0)
			sum += w
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}
}

func TestChooseOperatorFollowsWeights(t *testing.T) {
	r := rand.New(testutil.RandSource(t))
	s := New(4, 1, r)
	// Put almost all weight on operator 2.
	s.X[0] = []float64{0.01, 0.01, 0.97, 0.01}
	counts := make([]int, 4)
	for i := 0; i < testutil.IterCount(); i++ {
		counts[s.ChooseOperator(r)]++
	}
	for i := 0; i < 4; i++ {
		if i == 2 {
			continue
		}
		assert.Greater(t, counts[2], counts[i])
	}
}

func TestCreditFindsOnlyUsedOperators(t *testing.T) {
	r := rand.New(testutil.RandSource(t))
	s := New(4, 2, r)

	s.SnapshotCtrs()
	s.BumpOperator(2)
	s.CreditFinds(3)

	for i := 0; i < 4; i++ {
		want := uint64(0)
		if i == 2 {
			want = 3
		}
		assert.Equal(t, want, s.PilotOperatorFindsPerStage[0][i], "operator %v", i)
	}
	assert.Equal(t, uint64(3), s.TotalFinds)

	// Accounting invariant: no operator may be credited more than the
	// total finds of the stage.
	var sum uint64
	for i := 0; i < 4; i++ {
		if s.PilotOperatorFindsPerStage[0][i] > 0 {
			sum = max(sum, s.PilotOperatorFindsPerStage[0][i])
		}
	}
	assert.LessOrEqual(t, sum, s.TotalFinds)
}

func TestCoreConvergence(t *testing.T) {
	r := rand.New(testutil.RandSource(t))
	s := New(4, 2, r)

	// Simulate a pilot tour where only operator 2 produces finds.
	for swarm := 0; swarm < 2; swarm++ {
		s.SwarmNow = swarm
		for round := 0; round < 50; round++ {
			s.SnapshotCtrs()
			for i := 0; i < 4; i++ {
				s.BumpOperator(i)
			}
			s.SnapshotCtrs()
			s.BumpOperator(2)
			s.CreditFinds(1)
		}
		s.SwarmFitness[swarm] = float64(swarm + 1)
		s.UpdatePilotOperatorCtrPSO(swarm, r)
	}
	s.SwarmNow = 0
	s.InitCoreModule()
	require.Equal(t, CoreFuzzing, s.KeyModule)
	for i := 0; i < 4; i++ {
		if i == 2 {
			continue
		}
		assert.Greater(t, s.CoreWeights[2], s.CoreWeights[i],
			"core weights must favor the productive operator")
	}

	// Core-mode crediting lands on the operator that got used.
	s.SnapshotCtrs()
	s.BumpOperator(2)
	s.CreditFinds(1)
	for i := 0; i < 4; i++ {
		want := uint64(0)
		if i == 2 {
			want = 1
		}
		assert.Equal(t, want, s.CoreOperatorFindsPerStage[i])
	}
}

func TestPSOUpdateDegenerate(t *testing.T) {
	r := rand.New(testutil.RandSource(t))
	s := New(3, 1, r)
	for i := range s.GBest {
		s.GBest[i] = 0
	}
	assert.Error(t, s.PSOUpdate())

	s.GBest[1] = 0.5
	require.NoError(t, s.PSOUpdate())
	var sum float64
	for _, w := range s.CoreWeights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Greater(t, s.CoreWeights[1], s.CoreWeights[0])
}

func TestStateSerializes(t *testing.T) {
	r := rand.New(testutil.RandSource(t))
	s := New(4, 3, r)
	s.ChooseOperator(r)
	s.CreditFinds(2)

	data, err := json.Marshal(s)
	require.NoError(t, err)
	var restored State
	require.NoError(t, json.Unmarshal(data, &restored))
	assert.Equal(t, s.TotalFinds, restored.TotalFinds)
	assert.Equal(t, s.X, restored.X)
	assert.Equal(t, s.KeyModule, restored.KeyModule)

	again, err := json.Marshal(&restored)
	require.NoError(t, err)
	assert.Equal(t, data, again)
}
