// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package events

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"

	"github.com/bitwave/goafl/pkg/errs"
)

// An LLMP ring is a single-producer single-consumer byte ring living in
// shared memory. The broker gives every producer its own partition, so
// the log as a whole is multi-producer with per-producer FIFO order.
//
// Partition layout: head u64 (write cursor), tail u64 (read cursor),
// then the data area. Cursors only grow; positions are taken modulo the
// data size. A frame never wraps: if it does not fit in the remaining
// space before the wrap point, a pad marker fills the gap.
const (
	ringHeaderLen = 16
	padMarker     = ^uint32(0)
)

type ring struct {
	mem  []byte
	data []byte
}

func newRing(mem []byte) *ring {
	return &ring{mem: mem, data: mem[ringHeaderLen:]}
}

func (r *ring) head() *uint64 {
	return (*uint64)(unsafe.Pointer(&r.mem[0]))
}

func (r *ring) tail() *uint64 {
	return (*uint64)(unsafe.Pointer(&r.mem[8]))
}

// Producer is the client end of one partition.
type Producer struct {
	ring *ring
}

func NewProducer(mem []byte) (*Producer, error) {
	if len(mem) <= ringHeaderLen+8 {
		return nil, &errs.InvalidArgumentsError{Msg: "ring partition too small"}
	}
	return &Producer{ring: newRing(mem)}, nil
}

// Push appends one frame. It fails with IllegalState when the consumer
// lags so far behind that the frame does not fit; the producer is
// expected to retry after the broker catches up.
func (p *Producer) Push(frame []byte) error {
	r := p.ring
	size := uint64(len(r.data))
	need := uint64(4 + len(frame))
	if need > size/2 {
		return &errs.InvalidArgumentsError{Msg: "frame exceeds ring capacity"}
	}
	head := atomic.LoadUint64(r.head())
	tail := atomic.LoadUint64(r.tail())
	pos := head % size
	// Pad to the wrap point if the length-prefixed frame would wrap.
	if pos+need > size {
		pad := size - pos
		if head+pad+need-tail > size {
			return &errs.IllegalStateError{Msg: "ring full"}
		}
		if pad >= 4 {
			binary.LittleEndian.PutUint32(r.data[pos:], padMarker)
		}
		head += pad
		pos = 0
	}
	if head+need-tail > size {
		return &errs.IllegalStateError{Msg: "ring full"}
	}
	binary.LittleEndian.PutUint32(r.data[pos:], uint32(len(frame)))
	copy(r.data[pos+4:], frame)
	atomic.StoreUint64(r.head(), head+need)
	return nil
}

// Consumer is the broker end of one partition.
type Consumer struct {
	ring *ring
}

func NewConsumer(mem []byte) (*Consumer, error) {
	if len(mem) <= ringHeaderLen+8 {
		return nil, &errs.InvalidArgumentsError{Msg: "ring partition too small"}
	}
	return &Consumer{ring: newRing(mem)}, nil
}

// Pop returns the next frame, or nil when the partition is drained.
func (c *Consumer) Pop() []byte {
	r := c.ring
	size := uint64(len(r.data))
	for {
		head := atomic.LoadUint64(r.head())
		tail := atomic.LoadUint64(r.tail())
		if tail >= head {
			return nil
		}
		pos := tail % size
		if size-pos < 4 {
			atomic.StoreUint64(r.tail(), tail+(size-pos))
			continue
		}
		n := binary.LittleEndian.Uint32(r.data[pos:])
		if n == padMarker {
			atomic.StoreUint64(r.tail(), tail+(size-pos))
			continue
		}
		frame := make([]byte, n)
		copy(frame, r.data[pos+4:pos+4+uint64(n)])
		atomic.StoreUint64(r.tail(), tail+4+uint64(n))
		return frame
	}
}
