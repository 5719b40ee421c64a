// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package errs defines the error taxonomy shared by the fuzzing engine.
// Per-execution outcomes (crash/timeout/oom) are not errors, they are
// executor.ExitKind values.
package errs

import (
	"errors"
	"fmt"
)

// ShuttingDown is a sentinel raised by the event manager when the broker
// asks the client to exit. It must reach the top of the loop and turn into
// a zero exit code.
var ShuttingDown = errors.New("shutting down")

// EmptyOptional is returned when a value that was expected to be present
// (e.g. a testcase input that was never stored) is missing.
var EmptyOptional = errors.New("empty optional")

type KeyNotFoundError struct {
	Key string
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("key not found: %q", e.Key)
}

type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("file %q: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

type SerializeError struct {
	Err error
}

func (e *SerializeError) Error() string {
	return fmt.Sprintf("serialize: %v", e.Err)
}

func (e *SerializeError) Unwrap() error {
	return e.Err
}

type InvalidArgumentsError struct {
	Msg string
}

func (e *InvalidArgumentsError) Error() string {
	return "invalid arguments: " + e.Msg
}

type IllegalStateError struct {
	Msg string
}

func (e *IllegalStateError) Error() string {
	return "illegal state: " + e.Msg
}

type UninitializedError struct {
	Msg string
}

func (e *UninitializedError) Error() string {
	return "uninitialized: " + e.Msg
}
