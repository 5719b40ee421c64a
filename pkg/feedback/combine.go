// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package feedback

import (
	"github.com/bitwave/goafl/pkg/corpus"
	"github.com/bitwave/goafl/pkg/executor"
	"github.com/bitwave/goafl/pkg/observer"
)

// Combined composes two feedbacks. Leaves are named feedbacks, nodes are
// Or/And with an explicit short-circuit policy.
type Combined struct {
	name     string
	a, b     Feedback
	and      bool
	eager    bool
	aRes     bool
	bQueried bool
	bRes     bool
}

// EagerOr is interesting if either child is; the second child is not
// queried once the first said yes.
func EagerOr(a, b Feedback) *Combined {
	return &Combined{
		name:  "or(" + a.Name() + "," + b.Name() + ")",
		a:     a,
		b:     b,
		eager: true,
	}
}

// Or queries both children regardless of the first answer, so both get a
// chance to note metadata.
func Or(a, b Feedback) *Combined {
	return &Combined{
		name: "or(" + a.Name() + "," + b.Name() + ")",
		a:    a,
		b:    b,
	}
}

// And is interesting only if both children are; both are always queried.
func And(a, b Feedback) *Combined {
	return &Combined{
		name: "and(" + a.Name() + "," + b.Name() + ")",
		a:    a,
		b:    b,
		and:  true,
	}
}

func (c *Combined) Name() string {
	return c.name
}

func (c *Combined) IsInteresting(obs *observer.Set, kind executor.ExitKind) (bool, error) {
	var err error
	c.aRes, err = c.a.IsInteresting(obs, kind)
	if err != nil {
		return false, err
	}
	c.bQueried, c.bRes = false, false
	if !c.and && c.eager && c.aRes {
		return true, nil
	}
	c.bQueried = true
	c.bRes, err = c.b.IsInteresting(obs, kind)
	if err != nil {
		return false, err
	}
	if c.and {
		return c.aRes && c.bRes, nil
	}
	return c.aRes || c.bRes, nil
}

func (c *Combined) AppendMetadata(tc *corpus.Testcase) error {
	if err := c.a.AppendMetadata(tc); err != nil {
		return err
	}
	if !c.bQueried {
		return c.b.DiscardMetadata()
	}
	return c.b.AppendMetadata(tc)
}

func (c *Combined) DiscardMetadata() error {
	if err := c.a.DiscardMetadata(); err != nil {
		return err
	}
	return c.b.DiscardMetadata()
}
