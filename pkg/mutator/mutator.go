// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package mutator transforms inputs. The scheduled havoc mutator stacks
// randomly chosen primitive byte-level operators; with a dictionary it
// can also splice known byte sequences into the input.
package mutator

import (
	"github.com/bitwave/goafl/pkg/input"
	"github.com/bitwave/goafl/pkg/state"
)

type Mutator interface {
	// Mutate transforms inp in place. stageIdx is the index of the
	// current iteration within the stage.
	Mutate(st *state.State, inp input.Input, stageIdx int) error
	// PostExec is called after the mutated input was evaluated;
	// newCorpusIdx is the index the input got in the corpus, or -1 if it
	// was not retained.
	PostExec(st *state.State, stageIdx int, newCorpusIdx int) error
}
