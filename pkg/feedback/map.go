// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package feedback

import (
	"encoding/json"

	"github.com/bitwave/goafl/pkg/corpus"
	"github.com/bitwave/goafl/pkg/errs"
	"github.com/bitwave/goafl/pkg/executor"
	"github.com/bitwave/goafl/pkg/observer"
)

// mapReader is satisfied by MapObserver and its wrappers.
type mapReader interface {
	Map() []byte
}

// MaxMapFeedback keeps a novelty map recording the best value ever seen
// per coverage map index. An execution is interesting iff at least one
// index improved. The novelty map only ever grows pointwise.
type MaxMapFeedback struct {
	name         string
	observerName string
	trackIndexes bool
	history      []byte
	novel        []int
	lastNovel    bool
}

func NewMaxMapFeedback(observerName string, trackIndexes bool) *MaxMapFeedback {
	return &MaxMapFeedback{
		name:         "max_map_" + observerName,
		observerName: observerName,
		trackIndexes: trackIndexes,
	}
}

func (f *MaxMapFeedback) Name() string {
	return f.name
}

func (f *MaxMapFeedback) IsInteresting(obs *observer.Set, kind executor.ExitKind) (bool, error) {
	o, err := obs.Get(f.observerName)
	if err != nil {
		return false, err
	}
	mr, ok := o.(mapReader)
	if !ok {
		return false, &errs.InvalidArgumentsError{Msg: "observer " + f.observerName + " is not a map observer"}
	}
	cur := mr.Map()
	if len(f.history) < len(cur) {
		grown := make([]byte, len(cur))
		copy(grown, f.history)
		f.history = grown
	}
	f.novel = f.novel[:0]
	for i, v := range cur {
		if v > f.history[i] {
			f.history[i] = v
			f.novel = append(f.novel, i)
		}
	}
	f.lastNovel = len(f.novel) > 0
	return f.lastNovel, nil
}

func (f *MaxMapFeedback) AppendMetadata(tc *corpus.Testcase) error {
	defer f.reset()
	if !f.trackIndexes || !f.lastNovel {
		return nil
	}
	indexes := make([]int, len(f.novel))
	copy(indexes, f.novel)
	return tc.Meta.Set(corpus.MapIndexesKey, indexes)
}

func (f *MaxMapFeedback) DiscardMetadata() error {
	f.reset()
	return nil
}

func (f *MaxMapFeedback) reset() {
	f.novel = f.novel[:0]
	f.lastNovel = false
}

// History exposes the novelty map (read-only) for tests and stats.
func (f *MaxMapFeedback) History() []byte {
	return f.history
}

func (f *MaxMapFeedback) StateKey() string {
	return "feedback." + f.name
}

func (f *MaxMapFeedback) Checkpoint() ([]byte, error) {
	return json.Marshal(f.history)
}

func (f *MaxMapFeedback) Restore(data []byte) error {
	if err := json.Unmarshal(data, &f.history); err != nil {
		return &errs.SerializeError{Err: err}
	}
	return nil
}
