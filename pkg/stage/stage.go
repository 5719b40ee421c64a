// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package stage contains the per-scheduled-entry units of work. A stage
// may iterate internally (mutate/execute many times for one corpus
// entry); it checks the event manager between iterations so shutdown
// propagates promptly.
package stage

import (
	"github.com/bitwave/goafl/pkg/events"
	"github.com/bitwave/goafl/pkg/input"
	"github.com/bitwave/goafl/pkg/state"
)

// Evaluator is the view of the fuzzer driver the stages need: run one
// input through executor, feedbacks and corpora.
type Evaluator interface {
	// EvaluateInput returns whether the input was retained as interesting
	// and its new corpus index (-1 when not retained).
	EvaluateInput(inp input.Input) (bool, int, error)
}

type Stage interface {
	Perform(fz Evaluator, st *state.State, mgr events.Manager, corpusIdx int) error
}
