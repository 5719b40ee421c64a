// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package observer captures execution signals: edge coverage, timing,
// reachability flags and concolic traces. Observers are owned by the
// executor; feedbacks find them by name through the Set registry so that
// executor and feedback lifetimes stay decoupled.
package observer

import (
	"github.com/bitwave/goafl/pkg/errs"
)

// Observer is reset before each execution and read after it.
type Observer interface {
	Name() string
	PreExec() error
	PostExec() error
}

// Set is the named observer registry attached to an executor.
type Set struct {
	list   []Observer
	byName map[string]Observer
}

func NewSet(obs ...Observer) (*Set, error) {
	s := &Set{byName: make(map[string]Observer, len(obs))}
	for _, o := range obs {
		if _, dup := s.byName[o.Name()]; dup {
			return nil, &errs.InvalidArgumentsError{Msg: "duplicate observer name " + o.Name()}
		}
		s.byName[o.Name()] = o
		s.list = append(s.list, o)
	}
	return s, nil
}

func (s *Set) Get(name string) (Observer, error) {
	o, ok := s.byName[name]
	if !ok {
		return nil, &errs.KeyNotFoundError{Key: name}
	}
	return o, nil
}

func (s *Set) PreExecAll() error {
	for _, o := range s.list {
		if err := o.PreExec(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Set) PostExecAll() error {
	for _, o := range s.list {
		if err := o.PostExec(); err != nil {
			return err
		}
	}
	return nil
}
