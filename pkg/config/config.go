// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package config loads the fuzzer run configuration from a YAML file.
// CLI flags override file values; everything has a usable default.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bitwave/goafl/pkg/errs"
)

type Config struct {
	// Timeout bounds each target execution.
	Timeout time.Duration `yaml:"timeout"`
	// MapSize is the size of the coverage map shared with the target.
	MapSize int `yaml:"map_size"`
	// TargetFlags is the size of the reachability flag array; 0 disables
	// the reachability observer.
	TargetFlags int `yaml:"target_flags"`
	// Scheduler: rand, queue or minimizer.
	Scheduler string `yaml:"scheduler"`
	// MOpt enables the adaptive operator scheduler with this many swarms;
	// 0 uses the plain mutational stage.
	MOptSwarms int `yaml:"mopt_swarms"`
	// Dict is an optional AFL-style dictionary file.
	Dict string `yaml:"dict"`
	// TimeoutIsSolution makes timeouts count as objectives.
	TimeoutIsSolution bool `yaml:"timeout_is_solution"`
	// IterationsPerRestart is the number of scheduled entries between
	// restart checkpoints.
	IterationsPerRestart int `yaml:"iterations_per_restart"`
	// RingSize is the broker ring buffer data size.
	RingSize  int `yaml:"ring_size"`
	Verbosity int `yaml:"verbosity"`
}

func Default() *Config {
	return &Config{
		Timeout:              time.Second,
		MapSize:              1 << 16,
		Scheduler:            "queue",
		MOptSwarms:           5,
		IterationsPerRestart: 1000000,
		RingSize:             1 << 20,
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errs.FileError{Path: path, Err: err}
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &errs.SerializeError{Err: err}
	}
	return cfg, cfg.validate()
}

func (cfg *Config) validate() error {
	if cfg.Timeout <= 0 {
		return &errs.InvalidArgumentsError{Msg: "timeout must be positive"}
	}
	if cfg.MapSize <= 0 {
		return &errs.InvalidArgumentsError{Msg: "map_size must be positive"}
	}
	switch cfg.Scheduler {
	case "rand", "queue", "minimizer":
	default:
		return &errs.InvalidArgumentsError{
			Msg: fmt.Sprintf("unknown scheduler %q (want rand, queue or minimizer)", cfg.Scheduler)}
	}
	return nil
}
