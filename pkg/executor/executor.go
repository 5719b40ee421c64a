// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package executor runs the target exactly once per input and reports how
// the run ended. Crashes, timeouts and OOMs are exit kinds, not errors:
// errors mean the executor itself failed.
package executor

import (
	"github.com/bitwave/goafl/pkg/input"
	"github.com/bitwave/goafl/pkg/observer"
)

// ExitKind describes how a single target execution terminated.
type ExitKind int

const (
	ExitOk ExitKind = iota
	ExitCrash
	ExitTimeout
	ExitOom
)

func (k ExitKind) String() string {
	switch k {
	case ExitOk:
		return "ok"
	case ExitCrash:
		return "crash"
	case ExitTimeout:
		return "timeout"
	case ExitOom:
		return "oom"
	}
	return "unknown"
}

// Executor owns its observer set and resets/stops the observers around
// every target call.
type Executor interface {
	Run(inp input.Input) (ExitKind, error)
	Observers() *observer.Set
}
