// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitwave/goafl/pkg/input"
	"github.com/bitwave/goafl/pkg/testutil"
)

func TestInMemoryIndices(t *testing.T) {
	c := NewInMemory()
	assert.Equal(t, 0, c.Count())
	for i := 0; i < 10; i++ {
		idx, err := c.Add(NewTestcase(input.NewBytesInput([]byte{byte(i)})))
		require.NoError(t, err)
		assert.Equal(t, i, idx)
		assert.Equal(t, i+1, c.Count())
	}
	tc, err := c.Get(7)
	require.NoError(t, err)
	inp, err := tc.LoadInput()
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, inp.Bytes())

	_, err = c.Get(10)
	assert.Error(t, err)
}

func TestOnDiskRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := NewOnDisk(dir)
	require.NoError(t, err)

	data := []byte{0x89, 'P', 'N', 'G', 0}
	tc := NewTestcase(input.NewBytesInput(data))
	tc.SetExecTime(3 * time.Millisecond)
	require.NoError(t, tc.Meta.Set("note", "crash"))
	idx, err := c.Add(tc)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	require.NotEmpty(t, tc.File())

	// The persisted file must match the input bytes exactly, and loading
	// it back and re-serializing must be a fixed point.
	onDisk, err := os.ReadFile(tc.File())
	require.NoError(t, err)
	assert.Equal(t, data, onDisk)
	assert.FileExists(t, tc.File()+".metadata")

	loaded, err := LoadOnDisk(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Count())
	tc2, err := loaded.Get(0)
	require.NoError(t, err)
	inp, err := tc2.LoadInput()
	require.NoError(t, err)
	assert.Equal(t, data, inp.Serialize())
}

func TestQueueScheduler(t *testing.T) {
	c := NewInMemory()
	for i := 0; i < 3; i++ {
		c.Add(NewTestcase(input.NewBytesInput([]byte{byte(i)})))
	}
	r := rand.New(testutil.RandSource(t))
	var sched QueueScheduler
	var got []int
	for i := 0; i < 6; i++ {
		idx, err := sched.Next(r, c)
		require.NoError(t, err)
		got = append(got, idx)
	}
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2}, got)
}

func TestRandSchedulerBounds(t *testing.T) {
	c := NewInMemory()
	for i := 0; i < 5; i++ {
		c.Add(NewTestcase(input.NewBytesInput([]byte{byte(i)})))
	}
	r := rand.New(testutil.RandSource(t))
	sched := RandScheduler{}
	seen := map[int]bool{}
	for i := 0; i < testutil.IterCount(); i++ {
		idx, err := sched.Next(r, c)
		require.NoError(t, err)
		require.GreaterOrEqual(t, idx, 0)
		require.Less(t, idx, 5)
		seen[idx] = true
	}
	assert.Len(t, seen, 5)
}

func TestSchedulerEmptyCorpus(t *testing.T) {
	r := rand.New(testutil.RandSource(t))
	_, err := RandScheduler{}.Next(r, NewInMemory())
	assert.Error(t, err)
	var q QueueScheduler
	_, err = q.Next(r, NewInMemory())
	assert.Error(t, err)
}

func TestMinimizerFavorsShortFast(t *testing.T) {
	c := NewInMemory()
	r := rand.New(testutil.RandSource(t))
	sched := NewMinimizerScheduler()

	add := func(data []byte, execTime time.Duration, indexes []int) int {
		tc := NewTestcase(input.NewBytesInput(data))
		tc.SetExecTime(execTime)
		if indexes != nil {
			require.NoError(t, tc.Meta.Set(MapIndexesKey, indexes))
		}
		idx, err := c.Add(tc)
		require.NoError(t, err)
		sched.OnAdd(c, idx)
		return idx
	}

	long := add([]byte{1, 2, 3, 4}, time.Millisecond, []int{7})
	short := add([]byte{1}, time.Millisecond, []int{7})
	other := add([]byte{2, 2}, time.Millisecond, []int{9})
	add([]byte{3}, time.Millisecond, nil) // no indexes, never favored

	counts := map[int]int{}
	for i := 0; i < 100; i++ {
		idx, err := sched.Next(r, c)
		require.NoError(t, err)
		counts[idx]++
	}
	// The shorter holder of index 7 displaced the longer one.
	assert.Zero(t, counts[long])
	assert.Positive(t, counts[short])
	assert.Positive(t, counts[other])
}

func TestQueueSchedulerCheckpoint(t *testing.T) {
	c := NewInMemory()
	for i := 0; i < 4; i++ {
		c.Add(NewTestcase(input.NewBytesInput([]byte{byte(i)})))
	}
	r := rand.New(testutil.RandSource(t))
	var sched QueueScheduler
	sched.Next(r, c)
	sched.Next(r, c)
	data, err := sched.Checkpoint()
	require.NoError(t, err)

	var restored QueueScheduler
	require.NoError(t, restored.Restore(data, c))
	want, err := sched.Next(r, c)
	require.NoError(t, err)
	got, err := restored.Next(r, c)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
