// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"github.com/bitwave/goafl/pkg/corpus"
	"github.com/bitwave/goafl/pkg/input"
	"github.com/bitwave/goafl/pkg/osutil"
)

// LoadInitialInputs seeds the corpus from the given directories. Inputs
// are evaluated like any other, so only the interesting ones (and any
// solutions) are retained. If the corpus stays empty — no directories,
// empty directories, or a target that finds nothing interesting — a
// synthetic seed is force-added so that mutation has something to chew on.
func (f *Fuzzer) LoadInitialInputs(dirs []string) error {
	for _, dir := range dirs {
		files, err := osutil.FilesInDir(dir)
		if err != nil {
			f.Logf(0, "skipping corpus dir %v: %v", dir, err)
			continue
		}
		for _, file := range files {
			inp, err := input.LoadBytesInput(file)
			if err != nil {
				f.Logf(0, "skipping corpus file %v: %v", file, err)
				continue
			}
			if _, _, err := f.EvaluateInput(inp); err != nil {
				return err
			}
		}
	}
	if f.st.Corpus().Count() > 0 {
		f.Logf(0, "imported %v inputs from disk", f.st.Corpus().Count())
		return nil
	}
	seed := input.NewBytesInput([]byte{0})
	tc := corpus.NewTestcase(seed)
	newIdx, err := f.st.Corpus().Add(tc)
	if err != nil {
		return err
	}
	f.Config.Scheduler.OnAdd(f.st.Corpus(), newIdx)
	f.Logf(0, "corpus was empty, added a synthetic seed")
	return nil
}
