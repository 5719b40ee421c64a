// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package executor

import (
	"bytes"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bitwave/goafl/pkg/input"
	"github.com/bitwave/goafl/pkg/log"
	"github.com/bitwave/goafl/pkg/observer"
)

// Command spawns the target binary for every input, pipes the input on
// stdin and enforces a hard wall-clock deadline. Exit mapping: terminating
// signal -> Crash, SIGKILL -> Oom (the kernel OOM killer uses it),
// deadline -> Timeout, normal exit -> Ok.
type Command struct {
	bin       string
	args      []string
	env       []string
	observers *observer.Set
	timeout   time.Duration
	output    bytes.Buffer
}

func NewCommand(bin string, args []string, env []string,
	observers *observer.Set, timeout time.Duration) *Command {
	return &Command{
		bin:       bin,
		args:      args,
		env:       env,
		observers: observers,
		timeout:   timeout,
	}
}

func (ex *Command) Observers() *observer.Set {
	return ex.observers
}

func (ex *Command) Run(inp input.Input) (ExitKind, error) {
	if err := ex.observers.PreExecAll(); err != nil {
		return ExitOk, err
	}
	kind, err := ex.runTarget(inp.Bytes())
	if err != nil {
		return ExitOk, err
	}
	if err := ex.observers.PostExecAll(); err != nil {
		return ExitOk, err
	}
	return kind, nil
}

func (ex *Command) runTarget(data []byte) (ExitKind, error) {
	cmd := exec.Command(ex.bin, ex.args...)
	if ex.env != nil {
		cmd.Env = ex.env
	}
	// Capture the target's output; on a crash it is attached to the
	// persisted solution.
	ex.output.Reset()
	cmd.Stdout = &ex.output
	cmd.Stderr = &ex.output
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return ExitOk, fmt.Errorf("failed to pipe stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return ExitOk, fmt.Errorf("failed to start %v: %w", ex.bin, err)
	}
	// The target may exit before consuming all of stdin; a write error
	// here is not a failure of the execution.
	if _, err := stdin.Write(data); err != nil {
		log.Logf(3, "short input write to target: %v", err)
	}
	stdin.Close()

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()
	select {
	case <-done:
	case <-time.After(ex.timeout):
		cmd.Process.Kill()
		<-done
		return ExitTimeout, nil
	}
	ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus)
	if ok && ws.Signaled() {
		if ws.Signal() == unix.SIGKILL {
			// We assume the child was killed due to OOM.
			return ExitOom, nil
		}
		return ExitCrash, nil
	}
	return ExitOk, nil
}

// Output returns what the target wrote to stdout/stderr during the last
// run.
func (ex *Command) Output() []byte {
	return ex.output.Bytes()
}
