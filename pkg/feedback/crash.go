// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package feedback

import (
	"github.com/bitwave/goafl/pkg/corpus"
	"github.com/bitwave/goafl/pkg/executor"
	"github.com/bitwave/goafl/pkg/observer"
)

// ExitKindKey is the testcase metadata key carrying the exit kind that
// made the input a solution.
const ExitKindKey = "exit_kind"

// CrashFeedback is the standard objective: interesting iff the run
// crashed or OOMed. Whether a timeout also counts is caller-configured
// and off by default.
type CrashFeedback struct {
	timeoutIsSolution bool
	last              executor.ExitKind
	lastSolution      bool
}

func NewCrashFeedback() *CrashFeedback {
	return &CrashFeedback{}
}

func NewCrashFeedbackWithTimeout() *CrashFeedback {
	return &CrashFeedback{timeoutIsSolution: true}
}

func (f *CrashFeedback) Name() string {
	return "crash"
}

func (f *CrashFeedback) IsInteresting(obs *observer.Set, kind executor.ExitKind) (bool, error) {
	f.last = kind
	f.lastSolution = kind == executor.ExitCrash || kind == executor.ExitOom ||
		(f.timeoutIsSolution && kind == executor.ExitTimeout)
	return f.lastSolution, nil
}

func (f *CrashFeedback) AppendMetadata(tc *corpus.Testcase) error {
	if !f.lastSolution {
		return nil
	}
	f.lastSolution = false
	return tc.Meta.Set(ExitKindKey, f.last.String())
}

func (f *CrashFeedback) DiscardMetadata() error {
	f.lastSolution = false
	return nil
}
