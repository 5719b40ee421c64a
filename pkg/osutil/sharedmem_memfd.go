// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

package osutil

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// CreateMemMappedFile creates a memfd-backed file of the requested size and
// maps it into memory. The mapping backs the coverage map shared with the
// instrumented target and the broker ring buffer partitions.
func CreateMemMappedFile(size int) (f *os.File, mem []byte, err error) {
	// The name is irrelevant and can even be the same for all such files.
	fd, err := unix.MemfdCreate("goafl-shared-mem", 0)
	if err != nil {
		err = fmt.Errorf("failed to do memfd_create: %w", err)
		return
	}
	f = os.NewFile(uintptr(fd), fmt.Sprintf("/proc/self/fd/%d", fd))
	if err = f.Truncate(int64(size)); err != nil {
		err = fmt.Errorf("failed to truncate shm file: %w", err)
		f.Close()
		return
	}
	mem, err = syscall.Mmap(fd, 0, size, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		err = fmt.Errorf("failed to mmap shm file: %w", err)
		f.Close()
		return
	}
	return
}

// OpenMemMappedFile maps an already created shared memory file, typically
// inherited from the parent process via /proc/self/fd.
func OpenMemMappedFile(path string, size int) (f *os.File, mem []byte, err error) {
	f, err = os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open shm file: %w", err)
	}
	mem, err = syscall.Mmap(int(f.Fd()), 0, size, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to mmap shm file: %w", err)
	}
	return f, mem, nil
}

// CloseMemMappedFile destroys a mapping created by CreateMemMappedFile.
func CloseMemMappedFile(f *os.File, mem []byte) error {
	err1 := syscall.Munmap(mem)
	err2 := f.Close()
	switch {
	case err1 != nil:
		return err1
	case err2 != nil:
		return err2
	default:
		return nil
	}
}
