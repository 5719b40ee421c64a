// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package feedback

import (
	"time"

	"github.com/bitwave/goafl/pkg/corpus"
	"github.com/bitwave/goafl/pkg/errs"
	"github.com/bitwave/goafl/pkg/executor"
	"github.com/bitwave/goafl/pkg/observer"
)

// TimeFeedback never claims an input on its own; it caches the measured
// execution time on retained testcases so schedulers can prefer fast ones.
type TimeFeedback struct {
	name         string
	observerName string
	dur          time.Duration
}

func NewTimeFeedback(observerName string) *TimeFeedback {
	return &TimeFeedback{
		name:         "time_" + observerName,
		observerName: observerName,
	}
}

func (f *TimeFeedback) Name() string {
	return f.name
}

func (f *TimeFeedback) IsInteresting(obs *observer.Set, kind executor.ExitKind) (bool, error) {
	o, err := obs.Get(f.observerName)
	if err != nil {
		return false, err
	}
	to, ok := o.(*observer.TimeObserver)
	if !ok {
		return false, &errs.InvalidArgumentsError{Msg: "observer " + f.observerName + " is not a time observer"}
	}
	f.dur = to.Duration()
	return false, nil
}

func (f *TimeFeedback) AppendMetadata(tc *corpus.Testcase) error {
	tc.SetExecTime(f.dur)
	f.dur = 0
	return nil
}

func (f *TimeFeedback) DiscardMetadata() error {
	f.dur = 0
	return nil
}
