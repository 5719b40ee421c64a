// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package feedback

import (
	"github.com/bitwave/goafl/pkg/corpus"
	"github.com/bitwave/goafl/pkg/errs"
	"github.com/bitwave/goafl/pkg/executor"
	"github.com/bitwave/goafl/pkg/observer"
)

// ConcolicTraceKey is the testcase metadata key carrying the captured
// concolic trace bytes.
const ConcolicTraceKey = "concolic_trace"

// ConcolicFeedback stashes the concolic trace into retained testcases.
// It never claims an input as interesting on its own, so it should be
// composed with another feedback.
type ConcolicFeedback struct {
	name         string
	observerName string
	trace        []byte
}

func NewConcolicFeedback(observerName string) *ConcolicFeedback {
	return &ConcolicFeedback{
		name:         "concolic_" + observerName,
		observerName: observerName,
	}
}

func (f *ConcolicFeedback) Name() string {
	return f.name
}

func (f *ConcolicFeedback) IsInteresting(obs *observer.Set, kind executor.ExitKind) (bool, error) {
	o, err := obs.Get(f.observerName)
	if err != nil {
		return false, err
	}
	co, ok := o.(*observer.ConcolicObserver)
	if !ok {
		return false, &errs.InvalidArgumentsError{Msg: "observer " + f.observerName + " is not a concolic observer"}
	}
	f.trace = co.TraceSnapshot()
	return false, nil
}

func (f *ConcolicFeedback) AppendMetadata(tc *corpus.Testcase) error {
	trace := f.trace
	f.trace = nil
	if trace == nil {
		return nil
	}
	return tc.Meta.Set(ConcolicTraceKey, trace)
}

func (f *ConcolicFeedback) DiscardMetadata() error {
	f.trace = nil
	return nil
}
