// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bitwave/goafl/pkg/errs"
	"github.com/bitwave/goafl/pkg/hash"
	"github.com/bitwave/goafl/pkg/meta"
	"github.com/bitwave/goafl/pkg/osutil"
)

// OnDisk persists every added testcase to a directory, one file per input
// named by its content hash, with a .metadata sidecar. Writes are fsynced:
// a solution that cannot be persisted aborts the run, so callers must treat
// Add errors as fatal.
type OnDisk struct {
	dir     string
	entries []*Testcase
}

func NewOnDisk(dir string) (*OnDisk, error) {
	if err := osutil.MkdirAll(dir); err != nil {
		return nil, &errs.FileError{Path: dir, Err: err}
	}
	return &OnDisk{dir: dir}, nil
}

// LoadOnDisk opens an existing directory corpus and indexes the inputs
// already present (inputs are lazily loaded on first access).
func LoadOnDisk(dir string) (*OnDisk, error) {
	c, err := NewOnDisk(dir)
	if err != nil {
		return nil, err
	}
	files, err := osutil.FilesInDir(dir)
	if err != nil {
		return nil, &errs.FileError{Path: dir, Err: err}
	}
	for _, file := range files {
		if filepath.Ext(file) == ".metadata" {
			continue
		}
		c.entries = append(c.entries, NewTestcaseFromFile(file))
	}
	return c, nil
}

func (c *OnDisk) Dir() string {
	return c.dir
}

func (c *OnDisk) Count() int {
	return len(c.entries)
}

func (c *OnDisk) Get(idx int) (*Testcase, error) {
	if idx < 0 || idx >= len(c.entries) {
		return nil, fmt.Errorf("corpus index %v out of range [0, %v)", idx, len(c.entries))
	}
	return c.entries[idx], nil
}

type sidecar struct {
	ExecTime time.Duration `json:"exec_time"`
	Meta     *meta.Map     `json:"meta"`
}

func (c *OnDisk) Add(tc *Testcase) (int, error) {
	inp, err := tc.LoadInput()
	if err != nil {
		return 0, err
	}
	data := inp.Serialize()
	file := filepath.Join(c.dir, hash.String(data))
	if err := osutil.SafeWriteFile(file, data); err != nil {
		return 0, &errs.FileError{Path: file, Err: err}
	}
	side, err := json.Marshal(&sidecar{
		ExecTime: tc.ExecTime(),
		Meta:     &tc.Meta,
	})
	if err != nil {
		return 0, &errs.SerializeError{Err: err}
	}
	if err := osutil.SafeWriteFile(file+".metadata", side); err != nil {
		return 0, &errs.FileError{Path: file + ".metadata", Err: err}
	}
	tc.SetFile(file)
	c.entries = append(c.entries, tc)
	return len(c.entries) - 1, nil
}
