// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package feedback classifies executions. A feedback answers two queries:
// is this execution interesting, and what metadata should the retained
// testcase carry. Feedbacks locate observers by name, never by pointer.
package feedback

import (
	"github.com/bitwave/goafl/pkg/corpus"
	"github.com/bitwave/goafl/pkg/executor"
	"github.com/bitwave/goafl/pkg/observer"
)

type Feedback interface {
	Name() string
	// IsInteresting must be deterministic with respect to the observer
	// snapshot and the feedback's own state.
	IsInteresting(obs *observer.Set, kind executor.ExitKind) (bool, error)
	// AppendMetadata attaches whatever the feedback noted during the last
	// IsInteresting call to the testcase being retained.
	AppendMetadata(tc *corpus.Testcase) error
	// DiscardMetadata drops the noted data when the input is not retained.
	DiscardMetadata() error
}

// Persistent is implemented by feedbacks whose internal state (e.g. the
// coverage novelty map) must survive a fuzzer restart.
type Persistent interface {
	StateKey() string
	Checkpoint() ([]byte, error)
	Restore(data []byte) error
}
