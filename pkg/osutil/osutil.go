// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package osutil contains OS helpers: file management for on-disk corpora
// and shared memory used by the coverage map and the event broker.
package osutil

import (
	"fmt"
	"os"
	"path/filepath"
)

const DefaultDirPerm = 0755
const DefaultFilePerm = 0644

func MkdirAll(dir string) error {
	return os.MkdirAll(dir, DefaultDirPerm)
}

func WriteFile(filename string, data []byte) error {
	return os.WriteFile(filename, data, DefaultFilePerm)
}

// SafeWriteFile writes data to a temp file in the same directory, fsyncs it
// and atomically renames it into place. Solutions must survive a crash of
// the fuzzer process right after the insert returns.
func SafeWriteFile(filename string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(filename), "."+filepath.Base(filename)+".tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return err
	}
	return syncDir(filepath.Dir(filename))
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open dir for sync: %w", err)
	}
	defer f.Close()
	return f.Sync()
}

func IsExist(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

// FilesInDir returns the regular files in dir, sorted by name.
// Hidden files and sidecars are skipped.
func FilesInDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, ent := range entries {
		if !ent.Type().IsRegular() || ent.Name()[0] == '.' ||
			filepath.Ext(ent.Name()) == ".metadata" {
			continue
		}
		files = append(files, filepath.Join(dir, ent.Name()))
	}
	return files, nil
}
