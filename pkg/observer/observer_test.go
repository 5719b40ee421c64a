// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package observer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLookup(t *testing.T) {
	mem := make([]byte, 8)
	mo := NewMapObserver("edges", mem)
	to := NewTimeObserver("time")
	set, err := NewSet(mo, to)
	require.NoError(t, err)

	got, err := set.Get("edges")
	require.NoError(t, err)
	assert.Equal(t, Observer(mo), got)

	_, err = set.Get("nope")
	assert.Error(t, err)

	_, err = NewSet(mo, NewMapObserver("edges", mem))
	assert.Error(t, err, "duplicate names must be rejected")
}

func TestMapObserverZeroes(t *testing.T) {
	mem := []byte{1, 2, 3}
	mo := NewMapObserver("edges", mem)
	require.NoError(t, mo.PreExec())
	assert.Equal(t, []byte{0, 0, 0}, mo.Map())
}

func TestHitcountsClassification(t *testing.T) {
	mem := make([]byte, 9)
	ho := NewHitcountsMap(NewMapObserver("edges", mem))
	raw := []byte{0, 1, 2, 3, 5, 12, 20, 100, 200}
	copy(mem, raw)
	require.NoError(t, ho.PostExec())
	assert.Equal(t, []byte{0, 1, 2, 4, 8, 16, 32, 64, 128}, ho.Map())

	// Counts in the same bucket classify identically.
	copy(mem, []byte{0, 1, 2, 3, 6, 9, 31, 127, 255})
	require.NoError(t, ho.PostExec())
	assert.Equal(t, []byte{0, 1, 2, 4, 8, 16, 32, 64, 128}, ho.Map())
}

func TestReachabilityObserver(t *testing.T) {
	flags := make([]byte, 4)
	ro := NewReachabilityObserver("targets", flags)
	require.NoError(t, ro.PreExec())
	assert.Empty(t, ro.Reached())

	flags[1] = 1
	flags[3] = 7
	assert.Equal(t, []int{1, 3}, ro.Reached())

	require.NoError(t, ro.PreExec())
	assert.Empty(t, ro.Reached())
}

func TestTimeObserver(t *testing.T) {
	to := NewTimeObserver("time")
	require.NoError(t, to.PreExec())
	time.Sleep(time.Millisecond)
	require.NoError(t, to.PostExec())
	assert.Greater(t, to.Duration(), time.Duration(0))
}

func TestConcolicObserver(t *testing.T) {
	mem := make([]byte, 64)
	co := NewConcolicObserver("concolic", mem)
	require.NoError(t, co.PreExec())
	assert.Nil(t, co.TraceSnapshot())

	// Simulate the tracer runtime writing a 3-byte trace.
	mem[0] = 3
	copy(mem[4:], []byte{0xa, 0xb, 0xc})
	assert.Equal(t, []byte{0xa, 0xb, 0xc}, co.TraceSnapshot())
}
