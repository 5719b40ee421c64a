// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package observer

// ReachabilityObserver watches a small array of target flags; the
// instrumented target sets flag i when it reaches interesting location i.
type ReachabilityObserver struct {
	name  string
	flags []byte
}

func NewReachabilityObserver(name string, flags []byte) *ReachabilityObserver {
	return &ReachabilityObserver{name: name, flags: flags}
}

func (ro *ReachabilityObserver) Name() string {
	return ro.name
}

func (ro *ReachabilityObserver) PreExec() error {
	clear(ro.flags)
	return nil
}

func (ro *ReachabilityObserver) PostExec() error {
	return nil
}

// Reached returns the ids of the target flags set during the last run.
func (ro *ReachabilityObserver) Reached() []int {
	var ids []int
	for i, v := range ro.flags {
		if v != 0 {
			ids = append(ids, i)
		}
	}
	return ids
}
