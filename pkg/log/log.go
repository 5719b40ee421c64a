// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package log provides a simple leveled logger used throughout the fuzzer.
// Level 0 is always printed, higher levels are gated by the -vv flag value.
package log

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

var level atomic.Int32

// EnableLogging sets the highest verbosity level that will be printed.
func EnableLogging(l int) {
	level.Store(int32(l))
}

func V(l int) bool {
	return int32(l) <= level.Load()
}

func Logf(l int, msg string, args ...interface{}) {
	if !V(l) {
		return
	}
	ts := time.Now().Format("2006/01/02 15:04:05")
	fmt.Fprintf(os.Stderr, ts+" "+msg+"\n", args...)
}

func Fatalf(msg string, args ...interface{}) {
	Logf(0, "fatal: "+msg, args...)
	os.Exit(1)
}
