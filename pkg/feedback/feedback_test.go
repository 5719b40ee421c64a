// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package feedback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitwave/goafl/pkg/corpus"
	"github.com/bitwave/goafl/pkg/executor"
	"github.com/bitwave/goafl/pkg/input"
	"github.com/bitwave/goafl/pkg/observer"
)

func mapSetup(t *testing.T, size int) (*observer.Set, []byte) {
	mem := make([]byte, size)
	set, err := observer.NewSet(observer.NewMapObserver("edges", mem))
	require.NoError(t, err)
	return set, mem
}

func TestMaxMapNoveltyMonotonic(t *testing.T) {
	set, mem := mapSetup(t, 4)
	fb := NewMaxMapFeedback("edges", false)

	mem[0] = 1
	interesting, err := fb.IsInteresting(set, executor.ExitOk)
	require.NoError(t, err)
	assert.True(t, interesting)
	prev := append([]byte{}, fb.History()...)

	// Same snapshot again: nothing improved.
	interesting, err = fb.IsInteresting(set, executor.ExitOk)
	require.NoError(t, err)
	assert.False(t, interesting)

	// A higher value in one position improves the history pointwise.
	mem[2] = 9
	interesting, err = fb.IsInteresting(set, executor.ExitOk)
	require.NoError(t, err)
	assert.True(t, interesting)
	strict := false
	for i, v := range fb.History() {
		require.GreaterOrEqual(t, v, prev[i])
		if v > prev[i] {
			strict = true
		}
	}
	assert.True(t, strict)
}

func TestMaxMapDeterministic(t *testing.T) {
	set, mem := mapSetup(t, 4)
	fb1 := NewMaxMapFeedback("edges", false)
	fb2 := NewMaxMapFeedback("edges", false)
	mem[1] = 3
	r1, err := fb1.IsInteresting(set, executor.ExitOk)
	require.NoError(t, err)
	r2, err := fb2.IsInteresting(set, executor.ExitOk)
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
	assert.Equal(t, fb1.History(), fb2.History())
}

func TestMaxMapTracksIndexes(t *testing.T) {
	set, mem := mapSetup(t, 8)
	fb := NewMaxMapFeedback("edges", true)
	mem[2], mem[5] = 1, 4
	interesting, err := fb.IsInteresting(set, executor.ExitOk)
	require.NoError(t, err)
	require.True(t, interesting)

	tc := corpus.NewTestcase(input.NewBytesInput([]byte{1}))
	require.NoError(t, fb.AppendMetadata(tc))
	var indexes []int
	require.NoError(t, tc.Meta.Get(corpus.MapIndexesKey, &indexes))
	assert.Equal(t, []int{2, 5}, indexes)
}

func TestMaxMapCheckpointRestore(t *testing.T) {
	set, mem := mapSetup(t, 4)
	fb := NewMaxMapFeedback("edges", false)
	mem[0], mem[3] = 7, 1
	_, err := fb.IsInteresting(set, executor.ExitOk)
	require.NoError(t, err)

	data, err := fb.Checkpoint()
	require.NoError(t, err)
	restored := NewMaxMapFeedback("edges", false)
	require.NoError(t, restored.Restore(data))
	assert.Equal(t, fb.History(), restored.History())

	// The restored novelty map suppresses already-seen coverage.
	interesting, err := restored.IsInteresting(set, executor.ExitOk)
	require.NoError(t, err)
	assert.False(t, interesting)
}

func TestCrashFeedback(t *testing.T) {
	fb := NewCrashFeedback()
	for kind, want := range map[executor.ExitKind]bool{
		executor.ExitOk:      false,
		executor.ExitCrash:   true,
		executor.ExitOom:     true,
		executor.ExitTimeout: false,
	} {
		got, err := fb.IsInteresting(nil, kind)
		require.NoError(t, err)
		assert.Equal(t, want, got, "kind %v", kind)
	}

	withTimeout := NewCrashFeedbackWithTimeout()
	got, err := withTimeout.IsInteresting(nil, executor.ExitTimeout)
	require.NoError(t, err)
	assert.True(t, got)

	tc := corpus.NewTestcase(input.NewBytesInput([]byte{1}))
	require.NoError(t, withTimeout.AppendMetadata(tc))
	var kind string
	require.NoError(t, tc.Meta.Get(ExitKindKey, &kind))
	assert.Equal(t, "timeout", kind)
}

func TestReachabilityFeedback(t *testing.T) {
	flags := make([]byte, 4)
	set, err := observer.NewSet(observer.NewReachabilityObserver("targets", flags))
	require.NoError(t, err)
	fb := NewReachabilityFeedback("targets")

	got, err := fb.IsInteresting(set, executor.ExitOk)
	require.NoError(t, err)
	assert.False(t, got)

	flags[2] = 1
	got, err = fb.IsInteresting(set, executor.ExitOk)
	require.NoError(t, err)
	assert.True(t, got)

	tc := corpus.NewTestcase(input.NewBytesInput([]byte{1}))
	require.NoError(t, fb.AppendMetadata(tc))
	var reached []int
	require.NoError(t, tc.Meta.Get(ReachedTargetsKey, &reached))
	assert.Equal(t, []int{2}, reached)
}

// countingFeedback records how often it was queried.
type countingFeedback struct {
	result  bool
	queries int
}

func (f *countingFeedback) Name() string { return "counting" }

func (f *countingFeedback) IsInteresting(obs *observer.Set, kind executor.ExitKind) (bool, error) {
	f.queries++
	return f.result, nil
}

func (f *countingFeedback) AppendMetadata(tc *corpus.Testcase) error { return nil }
func (f *countingFeedback) DiscardMetadata() error                   { return nil }

func TestEagerOrShortCircuits(t *testing.T) {
	a := &countingFeedback{result: true}
	b := &countingFeedback{result: true}
	fb := EagerOr(a, b)
	got, err := fb.IsInteresting(nil, executor.ExitOk)
	require.NoError(t, err)
	assert.True(t, got)
	assert.Equal(t, 1, a.queries)
	assert.Equal(t, 0, b.queries, "eager OR must not query b after a said yes")

	a.result = false
	got, err = fb.IsInteresting(nil, executor.ExitOk)
	require.NoError(t, err)
	assert.True(t, got)
	assert.Equal(t, 1, b.queries)
}

func TestOrQueriesBoth(t *testing.T) {
	a := &countingFeedback{result: true}
	b := &countingFeedback{result: false}
	fb := Or(a, b)
	got, err := fb.IsInteresting(nil, executor.ExitOk)
	require.NoError(t, err)
	assert.True(t, got)
	assert.Equal(t, 1, a.queries)
	assert.Equal(t, 1, b.queries)
}

func TestAnd(t *testing.T) {
	a := &countingFeedback{result: true}
	b := &countingFeedback{result: false}
	fb := And(a, b)
	got, err := fb.IsInteresting(nil, executor.ExitOk)
	require.NoError(t, err)
	assert.False(t, got)

	b.result = true
	got, err = fb.IsInteresting(nil, executor.ExitOk)
	require.NoError(t, err)
	assert.True(t, got)
}
