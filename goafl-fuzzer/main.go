// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// goafl-fuzzer runs a coverage-guided fuzzing campaign against a target
// binary. The process supervises itself: the first instance becomes the
// broker/restart supervisor, the spawned children do the fuzzing.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/bitwave/goafl/pkg/config"
	"github.com/bitwave/goafl/pkg/corpus"
	"github.com/bitwave/goafl/pkg/errs"
	"github.com/bitwave/goafl/pkg/events"
	"github.com/bitwave/goafl/pkg/executor"
	"github.com/bitwave/goafl/pkg/feedback"
	"github.com/bitwave/goafl/pkg/fuzzer"
	"github.com/bitwave/goafl/pkg/log"
	"github.com/bitwave/goafl/pkg/mopt"
	"github.com/bitwave/goafl/pkg/mutator"
	"github.com/bitwave/goafl/pkg/observer"
	"github.com/bitwave/goafl/pkg/osutil"
	"github.com/bitwave/goafl/pkg/stage"
	"github.com/bitwave/goafl/pkg/state"
)

// CoverageShmEnv publishes the coverage shared memory to the target as
// "<path>:<size>". The instrumented runtime maps it and writes its edge
// counters there.
const CoverageShmEnv = "SHARED_MEMORY_MESSAGES"

type flags struct {
	objectives string
	brokerPort uint16
	configFile string
	target     string
	targetArgs []string
	verbosity  int
}

func main() {
	var fl flags
	cmd := &cobra.Command{
		Use:   "goafl-fuzzer [flags] corpus-dir...",
		Short: "coverage-guided fuzzer",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return run(args, &fl)
		},
	}
	cmd.Flags().StringVarP(&fl.objectives, "objectives", "o", "./crashes",
		"directory for solution inputs")
	cmd.Flags().Uint16VarP(&fl.brokerPort, "broker-port", "p", 1337,
		"broker port")
	cmd.Flags().StringVarP(&fl.configFile, "config", "c", "",
		"YAML config file")
	cmd.Flags().StringVarP(&fl.target, "target", "t", "",
		"target binary (reads the input on stdin)")
	cmd.Flags().StringArrayVar(&fl.targetArgs, "target-arg", nil,
		"extra argument for the target binary")
	cmd.Flags().IntVarP(&fl.verbosity, "vv", "v", 0, "verbosity level")
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(corpusDirs []string, fl *flags) error {
	cfg, err := config.Load(fl.configFile)
	if err != nil {
		return err
	}
	if fl.verbosity > cfg.Verbosity {
		cfg.Verbosity = fl.verbosity
	}
	log.EnableLogging(cfg.Verbosity)
	if fl.target == "" {
		return &errs.InvalidArgumentsError{Msg: "--target is required"}
	}
	if err := osutil.MkdirAll(fl.objectives); err != nil {
		return &errs.FileError{Path: fl.objectives, Err: err}
	}

	st, mgr, err := events.SetupRestarting(&events.RestartConfig{
		BrokerPort: fl.brokerPort,
		Checkpoint: filepath.Join(fl.objectives, ".goafl-state"),
		RingSize:   cfg.RingSize,
	})
	if errors.Is(err, errs.ShuttingDown) {
		return nil
	}
	if err != nil {
		return err
	}
	return fuzz(corpusDirs, fl, cfg, st, mgr)
}

func fuzz(corpusDirs []string, fl *flags, cfg *config.Config,
	st *state.State, mgr *events.RestartingManager) error {
	shmSize := cfg.MapSize + cfg.TargetFlags
	shmFile, shmMem, err := osutil.CreateMemMappedFile(shmSize)
	if err != nil {
		return &errs.UninitializedError{Msg: fmt.Sprintf("coverage shm: %v", err)}
	}
	defer osutil.CloseMemMappedFile(shmFile, shmMem)

	edges := observer.NewHitcountsMap(observer.NewMapObserver("edges", shmMem[:cfg.MapSize]))
	timeObs := observer.NewTimeObserver("time")
	obsList := []observer.Observer{edges, timeObs}
	if cfg.TargetFlags > 0 {
		obsList = append(obsList,
			observer.NewReachabilityObserver("targets", shmMem[cfg.MapSize:]))
	}
	obs, err := observer.NewSet(obsList...)
	if err != nil {
		return err
	}

	env := append(os.Environ(), fmt.Sprintf("%v=/proc/%v/fd/%v:%v",
		CoverageShmEnv, os.Getpid(), shmFile.Fd(), shmSize))
	exe := executor.NewCommand(fl.target, fl.targetArgs, env, obs, cfg.Timeout)

	maxMap := feedback.NewMaxMapFeedback("edges", true)
	interest := feedback.Or(maxMap, feedback.NewTimeFeedback("time"))

	var objective feedback.Feedback
	if cfg.TimeoutIsSolution {
		objective = feedback.NewCrashFeedbackWithTimeout()
	} else {
		objective = feedback.NewCrashFeedback()
	}
	if cfg.TargetFlags > 0 {
		objective = feedback.EagerOr(objective, feedback.NewReachabilityFeedback("targets"))
	}

	if st == nil {
		solutions, err := corpus.NewOnDisk(fl.objectives)
		if err != nil {
			return err
		}
		st = state.New(uint64(time.Now().UnixNano()), corpus.NewInMemory(), solutions)
	}
	if cfg.MOptSwarms > 0 && st.MOpt() == nil {
		st.SetMOpt(mopt.New(mutator.OperatorNum, cfg.MOptSwarms, st.Rand()))
	}
	if cfg.Dict != "" && !st.Metadata().Has(mutator.TokensKey) {
		toks, err := mutator.ParseDictFile(cfg.Dict)
		if err != nil {
			return err
		}
		if err := mutator.SetTokens(st.Metadata(), toks); err != nil {
			return err
		}
		log.Logf(0, "loaded %v dictionary tokens", len(toks))
	}

	var sched corpus.Scheduler
	switch cfg.Scheduler {
	case "rand":
		sched = corpus.RandScheduler{}
	case "minimizer":
		sched = corpus.NewMinimizerScheduler()
	default:
		sched = &corpus.QueueScheduler{}
	}

	mut := mutator.NewScheduledMutator()
	var stages []stage.Stage
	if cfg.MOptSwarms > 0 {
		stages = append(stages, stage.NewMOptStage(mut))
	} else {
		stages = append(stages, stage.NewMutationalStage(mut))
	}

	f, err := fuzzer.New(&fuzzer.Config{
		Logf:       log.Logf,
		Executor:   exe,
		Feedback:   interest,
		Objective:  objective,
		Scheduler:  sched,
		Stages:     stages,
		Persistent: []feedback.Persistent{maxMap},
	}, st, mgr)
	if err != nil {
		return err
	}
	if err := f.Restore(); err != nil {
		return err
	}
	if st.Corpus().Count() < 1 {
		if err := f.LoadInitialInputs(corpusDirs); err != nil {
			return err
		}
	}

	fuzzErr := f.FuzzLoopFor(cfg.IterationsPerRestart)
	if err := f.Checkpoint(); err != nil {
		return err
	}
	if err := mgr.OnRestart(st); err != nil {
		return err
	}
	switch {
	case fuzzErr == nil:
		// Finished the work chunk; ask the supervisor for a respawn.
		os.Exit(events.RestartRequestedExitCode)
	case errors.Is(fuzzErr, errs.ShuttingDown):
		log.Logf(0, "shutting down")
		return nil
	}
	return fuzzErr
}
