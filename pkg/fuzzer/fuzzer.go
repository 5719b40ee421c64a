// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package fuzzer is the top-level driver: it asks the scheduler for the
// next corpus entry, runs every stage on it, and classifies each executed
// input against the interest and objective feedbacks.
package fuzzer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bitwave/goafl/pkg/corpus"
	"github.com/bitwave/goafl/pkg/errs"
	"github.com/bitwave/goafl/pkg/events"
	"github.com/bitwave/goafl/pkg/executor"
	"github.com/bitwave/goafl/pkg/feedback"
	"github.com/bitwave/goafl/pkg/input"
	"github.com/bitwave/goafl/pkg/log"
	"github.com/bitwave/goafl/pkg/stage"
	"github.com/bitwave/goafl/pkg/state"
	"github.com/bitwave/goafl/pkg/stats"
)

type Config struct {
	Logf      func(level int, msg string, args ...interface{})
	Executor  executor.Executor
	Feedback  feedback.Feedback // decides what enters the corpus
	Objective feedback.Feedback // decides what is a solution
	Scheduler corpus.Scheduler
	Stages    []stage.Stage
	// Persistent lists the feedbacks whose internal state must travel
	// with the state checkpoint (e.g. coverage novelty maps).
	Persistent []feedback.Persistent
}

const schedulerStateKey = "scheduler"

// CrashOutputKey is the solution metadata key carrying the (truncated)
// output the target produced while crashing.
const CrashOutputKey = "crash_output"

// crashOutputBytes bounds how much of the head and tail of the target
// output is kept on a solution.
const crashOutputBytes = 2048

// outputCapturer is implemented by executors that record what the target
// wrote during the last run (e.g. the command executor).
type outputCapturer interface {
	Output() []byte
}

type Fuzzer struct {
	Config *Config

	st  *state.State
	mgr events.Manager

	statExecs     *stats.Val
	statCorpus    *stats.Val
	statSolutions *stats.Val
	execTime      *stats.ExecTime
	lastStats     time.Time
}

func New(cfg *Config, st *state.State, mgr events.Manager) (*Fuzzer, error) {
	if cfg.Executor == nil || cfg.Feedback == nil || cfg.Objective == nil || cfg.Scheduler == nil {
		return nil, &errs.InvalidArgumentsError{Msg: "fuzzer config is incomplete"}
	}
	if len(cfg.Stages) == 0 {
		return nil, &errs.InvalidArgumentsError{Msg: "fuzzer needs at least one stage"}
	}
	f := &Fuzzer{
		Config: cfg,
		st:     st,
		mgr:    mgr,

		statExecs: stats.Create("exec total", "Total test program executions", stats.Rate{}),
		statCorpus: stats.Create("corpus", "Number of interesting inputs",
			func() int { return st.Corpus().Count() }),
		statSolutions: stats.Create("solutions", "Number of objective inputs",
			func() int { return st.Solutions().Count() }),
		execTime:  stats.NewExecTime(),
		lastStats: time.Now(),
	}
	return f, nil
}

func (f *Fuzzer) Logf(level int, msg string, args ...interface{}) {
	if f.Config.Logf == nil {
		return
	}
	f.Config.Logf(level, msg, args...)
}

func (f *Fuzzer) State() *state.State {
	return f.st
}

// EvaluateInput runs one input and files it: objectives go to the
// solutions corpus, interesting inputs to the evolving corpus. Returns
// whether the input was retained as interesting and its corpus index
// (-1 otherwise).
func (f *Fuzzer) EvaluateInput(inp input.Input) (bool, int, error) {
	start := time.Now()
	kind, err := f.Config.Executor.Run(inp)
	if err != nil {
		return false, -1, err
	}
	f.st.AddExecutions(1)
	f.statExecs.Add(1)
	f.execTime.Save(time.Since(start))

	obs := f.Config.Executor.Observers()
	solution, err := f.Config.Objective.IsInteresting(obs, kind)
	if err != nil {
		return false, -1, err
	}
	if solution {
		if err := f.Config.Feedback.DiscardMetadata(); err != nil {
			return false, -1, err
		}
		if err := f.addSolution(inp); err != nil {
			// A solution that cannot be persisted aborts the run.
			return false, -1, fmt.Errorf("failed to persist solution: %w", err)
		}
		return false, -1, nil
	}
	interesting, err := f.Config.Feedback.IsInteresting(obs, kind)
	if err != nil {
		return false, -1, err
	}
	if err := f.Config.Objective.DiscardMetadata(); err != nil {
		return false, -1, err
	}
	if !interesting {
		if err := f.Config.Feedback.DiscardMetadata(); err != nil {
			return false, -1, err
		}
		return false, -1, nil
	}
	tc := corpus.NewTestcase(inp.Clone())
	if err := f.Config.Feedback.AppendMetadata(tc); err != nil {
		return false, -1, err
	}
	newIdx, err := f.st.Corpus().Add(tc)
	if err != nil {
		return false, -1, err
	}
	f.Config.Scheduler.OnAdd(f.st.Corpus(), newIdx)
	metaBlob, err := tc.Meta.MarshalJSON()
	if err != nil {
		return false, -1, err
	}
	if err := f.mgr.Fire(&events.Event{
		Tag:      events.TagNewTestcase,
		Input:    inp.Serialize(),
		Metadata: metaBlob,
	}); err != nil {
		f.Logf(1, "failed to fire new testcase event: %v", err)
	}
	return true, newIdx, nil
}

func (f *Fuzzer) addSolution(inp input.Input) error {
	tc := corpus.NewTestcase(inp.Clone())
	if err := f.Config.Objective.AppendMetadata(tc); err != nil {
		return err
	}
	if oc, ok := f.Config.Executor.(outputCapturer); ok {
		if out := oc.Output(); len(out) > 0 {
			out = log.Truncate(out, crashOutputBytes, crashOutputBytes)
			if err := tc.Meta.Set(CrashOutputKey, string(out)); err != nil {
				return err
			}
		}
	}
	if _, err := f.st.Solutions().Add(tc); err != nil {
		return err
	}
	if err := f.mgr.Fire(&events.Event{
		Tag:   events.TagObjective,
		Input: inp.Serialize(),
	}); err != nil {
		f.Logf(1, "failed to fire objective event: %v", err)
	}
	return nil
}

// FuzzOne schedules one corpus entry and runs every stage on it.
func (f *Fuzzer) FuzzOne() error {
	idx, err := f.Config.Scheduler.Next(f.st.Rand(), f.st.Corpus())
	if err != nil {
		return fmt.Errorf("scheduler has nothing to schedule: %w", err)
	}
	for _, st := range f.Config.Stages {
		if err := st.Perform(f, f.st, f.mgr, idx); err != nil {
			return err
		}
	}
	f.maybeReportStats()
	return f.mgr.Process()
}

// FuzzLoopFor runs n scheduled entries; it is the unit of work between
// restart checkpoints.
func (f *Fuzzer) FuzzLoopFor(n int) error {
	for i := 0; i < n; i++ {
		if err := f.FuzzOne(); err != nil {
			return err
		}
	}
	return nil
}

// FuzzLoop runs until an error or a shutdown request.
func (f *Fuzzer) FuzzLoop() error {
	for {
		if err := f.FuzzOne(); err != nil {
			return err
		}
	}
}

const statsPeriod = 5 * time.Second

func (f *Fuzzer) maybeReportStats() {
	if time.Since(f.lastStats) < statsPeriod {
		return
	}
	f.lastStats = time.Now()
	if err := f.mgr.Fire(&events.Event{
		Tag: events.TagUpdateStats,
		Stats: fmt.Sprintf("%v, exec/sec: %.0f, median exec: %v",
			stats.RenderAll(), f.st.ExecsPerSec(), f.execTime.Quantile(0.5)),
	}); err != nil {
		f.Logf(2, "failed to fire stats event: %v", err)
	}
}

// Checkpoint stores scheduler and feedback state into the state metadata
// so that Serialize captures a complete snapshot.
func (f *Fuzzer) Checkpoint() error {
	sched, err := f.Config.Scheduler.Checkpoint()
	if err != nil {
		return err
	}
	if err := f.st.Metadata().Set(schedulerStateKey, json.RawMessage(sched)); err != nil {
		return err
	}
	for _, p := range f.Config.Persistent {
		data, err := p.Checkpoint()
		if err != nil {
			return err
		}
		if err := f.st.Metadata().Set(p.StateKey(), json.RawMessage(data)); err != nil {
			return err
		}
	}
	return nil
}

// Restore rehydrates scheduler and feedback state after a restart.
func (f *Fuzzer) Restore() error {
	var sched json.RawMessage
	if err := f.st.Metadata().Get(schedulerStateKey, &sched); err == nil {
		if err := f.Config.Scheduler.Restore(sched, f.st.Corpus()); err != nil {
			return err
		}
	}
	for _, p := range f.Config.Persistent {
		var data json.RawMessage
		if err := f.st.Metadata().Get(p.StateKey(), &data); err != nil {
			continue // First run, nothing to restore.
		}
		if err := p.Restore(data); err != nil {
			return err
		}
	}
	return nil
}
