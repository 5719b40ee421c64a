// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

package events

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sync/errgroup"

	"github.com/bitwave/goafl/pkg/errs"
	"github.com/bitwave/goafl/pkg/log"
	"github.com/bitwave/goafl/pkg/osutil"
	"github.com/bitwave/goafl/pkg/state"
)

// The supervisor is the parent process. It owns the broker shared memory
// and the checkpoint file, respawns the fuzzer child on abnormal exit and
// hands the child its serialized state back. The child only ever sees
// SetupRestarting return.
const (
	workerEnv = "GOAFL_WORKER"
	shmSizeEnv = "GOAFL_SHM_SIZE"
	// The broker shared memory is inherited by the child as fd 3.
	shmFd = 3

	ctrlLen = 8
)

// RestartRequestedExitCode is how a child signals that it finished one
// work chunk and wants to be respawned with its checkpointed state.
const RestartRequestedExitCode = 71

type RestartConfig struct {
	BrokerPort uint16
	// Checkpoint is the state file path; the supervisor directory must be
	// writable before setup.
	Checkpoint string
	RingSize   int
	// MaxRestarts caps respawns; 0 means unlimited.
	MaxRestarts int
}

// RestartingManager is the event manager handed to a supervised child.
type RestartingManager struct {
	*Client
	checkpoint string
}

// OnRestart durably checkpoints the state. Call it before a graceful
// return; the supervisor hands the file to the next incarnation.
func (m *RestartingManager) OnRestart(st *state.State) error {
	data, err := st.Serialize()
	if err != nil {
		return err
	}
	if err := osutil.SafeWriteFile(m.checkpoint, data); err != nil {
		return &errs.FileError{Path: m.checkpoint, Err: err}
	}
	return nil
}

// SetupRestarting turns the calling process into the supervisor on first
// invocation (it then only returns with ShuttingDown after the fuzzing is
// over), and into a supervised fuzzer child inside the respawn loop. The
// child receives (nil, mgr) on a fresh start and (state, mgr) after a
// respawn.
func SetupRestarting(cfg *RestartConfig) (*state.State, *RestartingManager, error) {
	if cfg.RingSize == 0 {
		cfg.RingSize = 1 << 20
	}
	if os.Getenv(workerEnv) == "" {
		return nil, nil, runSupervisor(cfg)
	}
	size, err := strconv.Atoi(os.Getenv(shmSizeEnv))
	if err != nil {
		return nil, nil, &errs.UninitializedError{Msg: "broker shm size not in environment"}
	}
	f, mem, err := osutil.OpenMemMappedFile(fmt.Sprintf("/proc/self/fd/%d", shmFd), size)
	if err != nil {
		return nil, nil, err
	}
	_ = f // Keep the fd for the process lifetime.
	prod, err := NewProducer(mem[ctrlLen:])
	if err != nil {
		return nil, nil, err
	}
	mgr := &RestartingManager{
		Client:     NewClient(mem[:ctrlLen], prod),
		checkpoint: cfg.Checkpoint,
	}
	if !osutil.IsExist(cfg.Checkpoint) {
		return nil, mgr, nil
	}
	data, err := os.ReadFile(cfg.Checkpoint)
	if err != nil {
		return nil, nil, &errs.FileError{Path: cfg.Checkpoint, Err: err}
	}
	st, err := state.Deserialize(data)
	if err != nil {
		return nil, nil, err
	}
	log.Logf(0, "restored state: corpus %v, solutions %v",
		st.Corpus().Count(), st.Solutions().Count())
	return st, mgr, nil
}

func runSupervisor(cfg *RestartConfig) error {
	// Owning the port guarantees a single broker per machine/port pair.
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%v", cfg.BrokerPort))
	if err != nil {
		return &errs.UninitializedError{Msg: fmt.Sprintf("broker port bind: %v", err)}
	}
	defer ln.Close()

	size := ctrlLen + ringHeaderLen + cfg.RingSize
	shmFile, mem, err := osutil.CreateMemMappedFile(size)
	if err != nil {
		return &errs.UninitializedError{Msg: fmt.Sprintf("broker shm: %v", err)}
	}
	defer osutil.CloseMemMappedFile(shmFile, mem)

	cons, err := NewConsumer(mem[ctrlLen:])
	if err != nil {
		return err
	}
	broker := NewBroker(func(ev *Event) {
		switch ev.Tag {
		case TagObjective:
			log.Logf(0, "client %v: objective (%v bytes)", ev.Client, len(ev.Input))
		case TagNewTestcase:
			log.Logf(1, "client %v: new testcase (%v bytes)", ev.Client, len(ev.Input))
		case TagUpdateStats:
			log.Logf(0, "client %v: %v", ev.Client, ev.Stats)
		case TagLog:
			log.Logf(ev.Level, "client %v: %v", ev.Client, ev.Message)
		}
	}, cons)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	childDone := make(chan error, 1)
	g.Go(func() error {
		childDone <- superviseChild(ctx, cfg, shmFile, size)
		return nil
	})
	g.Go(func() error {
		for {
			broker.Poll()
			select {
			case <-ctx.Done():
				// Tell the child to checkpoint and exit.
				atomic.StoreUint64((*uint64)(unsafe.Pointer(&mem[0])), 1)
				return nil
			case err := <-childDone:
				broker.Poll()
				return err
			case <-time.After(10 * time.Millisecond):
			}
		}
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return errs.ShuttingDown
}

func superviseChild(ctx context.Context, cfg *RestartConfig, shmFile *os.File, size int) error {
	bin, err := os.Executable()
	if err != nil {
		return err
	}
	for restarts := 0; ; restarts++ {
		cmd := exec.Command(bin, os.Args[1:]...)
		cmd.Env = append(os.Environ(),
			workerEnv+"=1",
			fmt.Sprintf("%v=%v", shmSizeEnv, size),
		)
		cmd.ExtraFiles = []*os.File{shmFile}
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("failed to spawn fuzzer child: %w", err)
		}
		err := cmd.Wait()
		if err == nil {
			// Graceful exit; the state checkpoint is final.
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == RestartRequestedExitCode {
			// The child finished its work chunk and checkpointed.
			log.Logf(1, "fuzzer child requested a planned restart")
			restarts = 0
			continue
		}
		if cfg.MaxRestarts > 0 && restarts >= cfg.MaxRestarts {
			return fmt.Errorf("fuzzer child kept dying, giving up after %v restarts: %w", restarts, err)
		}
		log.Logf(0, "fuzzer child died (%v), respawning", err)
	}
}
