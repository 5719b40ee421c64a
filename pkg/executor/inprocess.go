// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package executor

import (
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/bitwave/goafl/pkg/errs"
	"github.com/bitwave/goafl/pkg/input"
	"github.com/bitwave/goafl/pkg/log"
	"github.com/bitwave/goafl/pkg/observer"
)

// Harness is the in-process target entry point, the moral equivalent of
// LLVMFuzzerTestOneInput. It may return a non-Ok kind itself (e.g. Oom
// when it detects that it blew its memory budget); panics and memory
// faults during the call are captured as Crash.
type Harness func(data []byte) ExitKind

// The process-wide current-executor slot. A run must acquire it on entry
// and release it on exit; the target is not re-entrant across the crash
// unwind, so concurrent runs are an illegal state, not a queueing problem.
var currentInProcess atomic.Pointer[InProcess]

// InProcess calls the harness directly in this process. Memory faults are
// surfaced as panics (SetPanicOnFault) and recovered, which is the Go
// rendition of the classical signal-handler-plus-longjmp unwind. A
// watchdog bounds each call by the configured timeout.
type InProcess struct {
	harness   Harness
	observers *observer.Set
	timeout   time.Duration
	hung      atomic.Int64 // abandoned (timed out) harness calls
}

func NewInProcess(harness Harness, observers *observer.Set, timeout time.Duration) (*InProcess, error) {
	if harness == nil {
		return nil, &errs.UninitializedError{Msg: "in-process executor needs a harness"}
	}
	if timeout <= 0 {
		return nil, &errs.InvalidArgumentsError{Msg: "per-exec timeout must be positive"}
	}
	return &InProcess{
		harness:   harness,
		observers: observers,
		timeout:   timeout,
	}, nil
}

func (ex *InProcess) Observers() *observer.Set {
	return ex.observers
}

func (ex *InProcess) Run(inp input.Input) (ExitKind, error) {
	if !currentInProcess.CompareAndSwap(nil, ex) {
		return ExitOk, &errs.IllegalStateError{Msg: "in-process executor is already running"}
	}
	defer currentInProcess.Store(nil)

	if err := ex.observers.PreExecAll(); err != nil {
		return ExitOk, err
	}
	kind := ex.runHarness(inp.Bytes())
	if err := ex.observers.PostExecAll(); err != nil {
		return ExitOk, err
	}
	return kind, nil
}

func (ex *InProcess) runHarness(data []byte) ExitKind {
	done := make(chan ExitKind, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Logf(2, "harness crashed: %v", r)
				done <- ExitCrash
			}
		}()
		debug.SetPanicOnFault(true)
		done <- ex.harness(data)
	}()
	select {
	case kind := <-done:
		return kind
	case <-time.After(ex.timeout):
		// The harness call is abandoned; it may still be running. The
		// fuzzer treats the target as not re-entrant, so a later crash
		// of the abandoned call is swallowed by the recover above.
		ex.hung.Add(1)
		return ExitTimeout
	}
}

// Hung reports how many harness calls timed out and were abandoned.
func (ex *InProcess) Hung() int64 {
	return ex.hung.Load()
}
