// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package observer

import "time"

// TimeObserver captures the wall time of a single execution.
type TimeObserver struct {
	name  string
	start time.Time
	dur   time.Duration
}

func NewTimeObserver(name string) *TimeObserver {
	return &TimeObserver{name: name}
}

func (to *TimeObserver) Name() string {
	return to.name
}

func (to *TimeObserver) PreExec() error {
	to.dur = 0
	to.start = time.Now()
	return nil
}

func (to *TimeObserver) PostExec() error {
	to.dur = time.Since(to.start)
	return nil
}

func (to *TimeObserver) Duration() time.Duration {
	return to.dur
}
