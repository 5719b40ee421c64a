// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitwave/goafl/pkg/corpus"
	"github.com/bitwave/goafl/pkg/errs"
	"github.com/bitwave/goafl/pkg/events"
	"github.com/bitwave/goafl/pkg/executor"
	"github.com/bitwave/goafl/pkg/feedback"
	"github.com/bitwave/goafl/pkg/input"
	"github.com/bitwave/goafl/pkg/mutator"
	"github.com/bitwave/goafl/pkg/observer"
	"github.com/bitwave/goafl/pkg/stage"
	"github.com/bitwave/goafl/pkg/state"
)

type testFuzzer struct {
	*Fuzzer
	mgr *events.SimpleManager
	mem []byte
}

// buildFuzzer wires a complete in-process fuzzer around the harness.
// The harness acts as an instrumented target: it writes edge marks into
// the coverage map slice it receives.
func buildFuzzer(t *testing.T, harness func(mem, data []byte) executor.ExitKind,
	timeout time.Duration, objective feedback.Feedback) *testFuzzer {
	mem := make([]byte, 64)
	set, err := observer.NewSet(observer.NewMapObserver("edges", mem))
	require.NoError(t, err)
	exe, err := executor.NewInProcess(func(data []byte) executor.ExitKind {
		return harness(mem, data)
	}, set, timeout)
	require.NoError(t, err)

	solutions, err := corpus.NewOnDisk(t.TempDir())
	require.NoError(t, err)
	st := state.New(12345, corpus.NewInMemory(), solutions)
	mgr := events.NewSimpleManager()

	maxMap := feedback.NewMaxMapFeedback("edges", true)
	f, err := New(&Config{
		Logf: func(level int, msg string, args ...interface{}) {
			if level <= 1 {
				t.Logf(msg, args...)
			}
		},
		Executor:   exe,
		Feedback:   maxMap,
		Objective:  objective,
		Scheduler:  &corpus.QueueScheduler{},
		Stages:     []stage.Stage{stage.NewMutationalStage(mutator.NewScheduledMutator())},
		Persistent: []feedback.Persistent{maxMap},
	}, st, mgr)
	require.NoError(t, err)
	return &testFuzzer{Fuzzer: f, mgr: mgr, mem: mem}
}

func trivialHarness(mem, data []byte) executor.ExitKind {
	mem[0] = 1
	return executor.ExitOk
}

func TestEmptyCorpusBootstrap(t *testing.T) {
	f := buildFuzzer(t, trivialHarness, time.Second, feedback.NewCrashFeedback())
	require.NoError(t, f.LoadInitialInputs(nil))
	require.GreaterOrEqual(t, f.State().Corpus().Count(), 1)
	require.NoError(t, f.FuzzLoopFor(10))
	assert.GreaterOrEqual(t, f.State().Corpus().Count(), 1)
	assert.Positive(t, f.State().Executions())
}

func TestCrashDiscovery(t *testing.T) {
	// The target crashes iff the input starts with 0xDE 0xAD; the
	// coverage map rewards each matched prefix byte so the corpus walks
	// toward the crash.
	harness := func(mem, data []byte) executor.ExitKind {
		mem[0] = 1
		if len(data) > 0 && data[0] == 0xde {
			mem[1] = 1
			if len(data) > 1 && data[1] == 0xad {
				panic("dead beef")
			}
		}
		return executor.ExitOk
	}
	f := buildFuzzer(t, harness, time.Second, feedback.NewCrashFeedback())
	seed := corpus.NewTestcase(input.NewBytesInput([]byte{0}))
	_, err := f.State().Corpus().Add(seed)
	require.NoError(t, err)

	for i := 0; i < 10000 && f.State().Solutions().Count() == 0; i++ {
		require.NoError(t, f.FuzzOne())
	}
	require.GreaterOrEqual(t, f.State().Solutions().Count(), 1)

	// The persisted solution must actually start with the magic.
	tc, err := f.State().Solutions().Get(0)
	require.NoError(t, err)
	inp, err := tc.LoadInput()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(inp.Bytes()), 2)
	assert.Equal(t, []byte{0xde, 0xad}, inp.Bytes()[:2])
	var kind string
	require.NoError(t, tc.Meta.Get(feedback.ExitKindKey, &kind))
	assert.Equal(t, "crash", kind)
}

func TestDictionaryAssist(t *testing.T) {
	// The target requires the literal "IHDR" at offset 0.
	harness := func(mem, data []byte) executor.ExitKind {
		mem[0] = 1
		if len(data) >= 4 && string(data[:4]) == "IHDR" {
			panic("chunk parser bug")
		}
		return executor.ExitOk
	}
	f := buildFuzzer(t, harness, time.Second, feedback.NewCrashFeedback())
	require.NoError(t, mutator.SetTokens(f.State().Metadata(), mutator.Tokens{[]byte("IHDR")}))
	_, err := f.State().Corpus().Add(corpus.NewTestcase(input.NewBytesInput([]byte{0, 0, 0, 0})))
	require.NoError(t, err)

	for i := 0; i < 2000 && f.State().Solutions().Count() == 0; i++ {
		require.NoError(t, f.FuzzOne())
	}
	assert.GreaterOrEqual(t, f.State().Solutions().Count(), 1)
}

func TestTimeoutObjective(t *testing.T) {
	harness := func(mem, data []byte) executor.ExitKind {
		mem[0] = 1
		if len(data) > 0 && data[0] == 0x77 {
			time.Sleep(10 * time.Second)
		}
		return executor.ExitOk
	}
	f := buildFuzzer(t, harness, 50*time.Millisecond, feedback.NewCrashFeedbackWithTimeout())

	_, _, err := f.EvaluateInput(input.NewBytesInput([]byte{0x77}))
	require.NoError(t, err)
	require.Equal(t, 1, f.State().Solutions().Count())
	tc, err := f.State().Solutions().Get(0)
	require.NoError(t, err)
	var kind string
	require.NoError(t, tc.Meta.Get(feedback.ExitKindKey, &kind))
	assert.Equal(t, "timeout", kind)
}

func TestSolutionCarriesCrashOutput(t *testing.T) {
	set, err := observer.NewSet()
	require.NoError(t, err)
	exe := executor.NewCommand("/bin/sh",
		[]string{"-c", "echo segfault near 0xdead >&2; kill -SEGV $$"},
		nil, set, time.Second)
	solutions, err := corpus.NewOnDisk(t.TempDir())
	require.NoError(t, err)
	st := state.New(1, corpus.NewInMemory(), solutions)
	f, err := New(&Config{
		Executor:  exe,
		Feedback:  feedback.NewCrashFeedback(),
		Objective: feedback.NewCrashFeedback(),
		Scheduler: &corpus.QueueScheduler{},
		Stages:    []stage.Stage{stage.NewMutationalStage(mutator.NewScheduledMutator())},
	}, st, events.NewSimpleManager())
	require.NoError(t, err)

	_, _, err = f.EvaluateInput(input.NewBytesInput([]byte{1}))
	require.NoError(t, err)
	require.Equal(t, 1, st.Solutions().Count())
	tc, err := st.Solutions().Get(0)
	require.NoError(t, err)
	var out string
	require.NoError(t, tc.Meta.Get(CrashOutputKey, &out))
	assert.Contains(t, out, "segfault near 0xdead")
}

func TestEvaluateInputFilesInterestingOnes(t *testing.T) {
	f := buildFuzzer(t, trivialHarness, time.Second, feedback.NewCrashFeedback())

	// First input claims map index 0.
	interesting, idx, err := f.EvaluateInput(input.NewBytesInput([]byte{1}))
	require.NoError(t, err)
	assert.True(t, interesting)
	assert.Equal(t, 0, idx)

	// The same coverage again is boring.
	interesting, idx, err = f.EvaluateInput(input.NewBytesInput([]byte{2}))
	require.NoError(t, err)
	assert.False(t, interesting)
	assert.Equal(t, -1, idx)
	assert.Equal(t, 1, f.State().Corpus().Count())
}

func TestShutdownPropagates(t *testing.T) {
	f := buildFuzzer(t, trivialHarness, time.Second, feedback.NewCrashFeedback())
	require.NoError(t, f.LoadInitialInputs(nil))
	f.mgr.RequestShutdown()
	assert.ErrorIs(t, f.FuzzLoopFor(100), errs.ShuttingDown)
}

func TestCheckpointRestore(t *testing.T) {
	f := buildFuzzer(t, trivialHarness, time.Second, feedback.NewCrashFeedback())
	require.NoError(t, f.LoadInitialInputs(nil))
	require.NoError(t, f.FuzzLoopFor(5))
	require.NoError(t, f.Checkpoint())

	data, err := f.State().Serialize()
	require.NoError(t, err)
	restored, err := state.Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, f.State().Corpus().Count(), restored.Corpus().Count())

	// A second fuzzer picks up the novelty map; known coverage stays
	// boring after the restart.
	f2 := buildFuzzer(t, trivialHarness, time.Second, feedback.NewCrashFeedback())
	f2.Fuzzer.st = restored
	require.NoError(t, f2.Restore())
	interesting, _, err := f2.EvaluateInput(input.NewBytesInput([]byte{9}))
	require.NoError(t, err)
	assert.False(t, interesting)
}
