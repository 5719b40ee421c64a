// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitwave/goafl/pkg/input"
	"github.com/bitwave/goafl/pkg/observer"
)

func emptySet(t *testing.T) *observer.Set {
	set, err := observer.NewSet()
	require.NoError(t, err)
	return set
}

func TestInProcessOk(t *testing.T) {
	ex, err := NewInProcess(func(data []byte) ExitKind {
		return ExitOk
	}, emptySet(t), time.Second)
	require.NoError(t, err)
	kind, err := ex.Run(input.NewBytesInput([]byte{1}))
	require.NoError(t, err)
	assert.Equal(t, ExitOk, kind)
}

func TestInProcessCrash(t *testing.T) {
	ex, err := NewInProcess(func(data []byte) ExitKind {
		if len(data) > 0 && data[0] == 0xde {
			panic("boom")
		}
		return ExitOk
	}, emptySet(t), time.Second)
	require.NoError(t, err)

	kind, err := ex.Run(input.NewBytesInput([]byte{0}))
	require.NoError(t, err)
	assert.Equal(t, ExitOk, kind)

	kind, err = ex.Run(input.NewBytesInput([]byte{0xde}))
	require.NoError(t, err)
	assert.Equal(t, ExitCrash, kind)

	// The executor must survive the crash and keep running.
	kind, err = ex.Run(input.NewBytesInput([]byte{0}))
	require.NoError(t, err)
	assert.Equal(t, ExitOk, kind)
}

func TestInProcessTimeout(t *testing.T) {
	ex, err := NewInProcess(func(data []byte) ExitKind {
		time.Sleep(10 * time.Second)
		return ExitOk
	}, emptySet(t), 50*time.Millisecond)
	require.NoError(t, err)
	kind, err := ex.Run(input.NewBytesInput([]byte{1}))
	require.NoError(t, err)
	assert.Equal(t, ExitTimeout, kind)
	assert.Equal(t, int64(1), ex.Hung())
}

func TestInProcessObserverLifecycle(t *testing.T) {
	mem := []byte{42, 42}
	mo := observer.NewMapObserver("edges", mem)
	set, err := observer.NewSet(mo)
	require.NoError(t, err)
	ex, err := NewInProcess(func(data []byte) ExitKind {
		mem[0] = 7 // the "instrumented target" writes coverage
		return ExitOk
	}, set, time.Second)
	require.NoError(t, err)
	_, err = ex.Run(input.NewBytesInput([]byte{1}))
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 0}, mem, "map must be zeroed pre-exec, written by the target")
}

func TestInProcessValidation(t *testing.T) {
	_, err := NewInProcess(nil, emptySet(t), time.Second)
	assert.Error(t, err)
	_, err = NewInProcess(func([]byte) ExitKind { return ExitOk }, emptySet(t), 0)
	assert.Error(t, err)
}

func TestCommandOk(t *testing.T) {
	ex := NewCommand("/bin/sh", []string{"-c", "cat >/dev/null"}, nil, emptySet(t), time.Second)
	kind, err := ex.Run(input.NewBytesInput([]byte("hello")))
	require.NoError(t, err)
	assert.Equal(t, ExitOk, kind)
}

func TestCommandCrash(t *testing.T) {
	ex := NewCommand("/bin/sh", []string{"-c", "kill -SEGV $$"}, nil, emptySet(t), time.Second)
	kind, err := ex.Run(input.NewBytesInput(nil))
	require.NoError(t, err)
	assert.Equal(t, ExitCrash, kind)
}

func TestCommandCapturesCrashOutput(t *testing.T) {
	ex := NewCommand("/bin/sh",
		[]string{"-c", "echo stack smashing detected >&2; kill -SEGV $$"},
		nil, emptySet(t), time.Second)
	kind, err := ex.Run(input.NewBytesInput(nil))
	require.NoError(t, err)
	assert.Equal(t, ExitCrash, kind)
	assert.Contains(t, string(ex.Output()), "stack smashing detected")

	// The buffer is per-run, not cumulative.
	ex2 := NewCommand("/bin/sh", []string{"-c", "true"}, nil, emptySet(t), time.Second)
	_, err = ex2.Run(input.NewBytesInput(nil))
	require.NoError(t, err)
	assert.Empty(t, ex2.Output())
}

func TestCommandOom(t *testing.T) {
	ex := NewCommand("/bin/sh", []string{"-c", "kill -KILL $$"}, nil, emptySet(t), time.Second)
	kind, err := ex.Run(input.NewBytesInput(nil))
	require.NoError(t, err)
	assert.Equal(t, ExitOom, kind)
}

func TestCommandTimeout(t *testing.T) {
	ex := NewCommand("/bin/sleep", []string{"10"}, nil, emptySet(t), 100*time.Millisecond)
	start := time.Now()
	kind, err := ex.Run(input.NewBytesInput(nil))
	require.NoError(t, err)
	assert.Equal(t, ExitTimeout, kind)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestCommandNonZeroExitIsOk(t *testing.T) {
	// A non-zero exit code is not a crash; libfuzzer-style targets crash
	// via signals.
	ex := NewCommand("/bin/sh", []string{"-c", "exit 3"}, nil, emptySet(t), time.Second)
	kind, err := ex.Run(input.NewBytesInput(nil))
	require.NoError(t, err)
	assert.Equal(t, ExitOk, kind)
}
