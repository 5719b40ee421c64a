// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package feedback

import (
	"github.com/bitwave/goafl/pkg/corpus"
	"github.com/bitwave/goafl/pkg/errs"
	"github.com/bitwave/goafl/pkg/executor"
	"github.com/bitwave/goafl/pkg/observer"
)

// ReachedTargetsKey is the testcase metadata key carrying the ids of the
// target flags an input reached.
const ReachedTargetsKey = "reached_targets"

// ReachabilityFeedback is interesting iff the run set at least one target
// flag; the reached ids are recorded as testcase metadata.
type ReachabilityFeedback struct {
	name         string
	observerName string
	reached      []int
}

func NewReachabilityFeedback(observerName string) *ReachabilityFeedback {
	return &ReachabilityFeedback{
		name:         "reachability_" + observerName,
		observerName: observerName,
	}
}

func (f *ReachabilityFeedback) Name() string {
	return f.name
}

func (f *ReachabilityFeedback) IsInteresting(obs *observer.Set, kind executor.ExitKind) (bool, error) {
	o, err := obs.Get(f.observerName)
	if err != nil {
		return false, err
	}
	ro, ok := o.(*observer.ReachabilityObserver)
	if !ok {
		return false, &errs.InvalidArgumentsError{Msg: "observer " + f.observerName + " is not a reachability observer"}
	}
	f.reached = ro.Reached()
	return len(f.reached) > 0, nil
}

func (f *ReachabilityFeedback) AppendMetadata(tc *corpus.Testcase) error {
	reached := f.reached
	f.reached = nil
	if len(reached) == 0 {
		return nil
	}
	return tc.Meta.Set(ReachedTargetsKey, reached)
}

func (f *ReachabilityFeedback) DiscardMetadata() error {
	f.reached = nil
	return nil
}
