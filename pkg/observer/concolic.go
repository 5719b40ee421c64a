// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package observer

import "encoding/binary"

// ConcolicObserver exposes the shared-memory trace buffer written by the
// concolic tracer runtime. The buffer starts with a little-endian u32
// length of the trace that follows. The engine only captures the trace
// and attaches it to testcases; solving is out of scope.
type ConcolicObserver struct {
	name string
	mem  []byte
}

func NewConcolicObserver(name string, mem []byte) *ConcolicObserver {
	return &ConcolicObserver{name: name, mem: mem}
}

func (co *ConcolicObserver) Name() string {
	return co.name
}

func (co *ConcolicObserver) PreExec() error {
	if len(co.mem) >= 4 {
		binary.LittleEndian.PutUint32(co.mem, 0)
	}
	return nil
}

func (co *ConcolicObserver) PostExec() error {
	return nil
}

// TraceSnapshot copies out the trace recorded during the last run.
// Returns nil if the tracer wrote nothing.
func (co *ConcolicObserver) TraceSnapshot() []byte {
	if len(co.mem) < 4 {
		return nil
	}
	n := int(binary.LittleEndian.Uint32(co.mem))
	if n == 0 || n > len(co.mem)-4 {
		return nil
	}
	out := make([]byte, n)
	copy(out, co.mem[4:4+n])
	return out
}
