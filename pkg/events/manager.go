// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package events

import (
	"errors"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/bitwave/goafl/pkg/errs"
	"github.com/bitwave/goafl/pkg/log"
)

// Manager is the client-side event sink and control source. Process is a
// non-blocking poll between stages; it returns ShuttingDown when the
// broker asked this client to exit.
type Manager interface {
	Fire(ev *Event) error
	Process() error
}

// SimpleManager logs events locally. Used for single-process runs and in
// tests; stats are rate-limited so a fast fuzz loop doesn't flood the log.
type SimpleManager struct {
	client   uuid.UUID
	seq      uint64
	limiter  *rate.Limiter
	shutdown atomic.Bool

	objectives atomic.Int64
	testcases  atomic.Int64
}

func NewSimpleManager() *SimpleManager {
	return &SimpleManager{
		client:  uuid.New(),
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

func (m *SimpleManager) Fire(ev *Event) error {
	ev.Client = m.client
	ev.Seq = m.seq
	m.seq++
	switch ev.Tag {
	case TagNewTestcase:
		m.testcases.Add(1)
		log.Logf(1, "new testcase (%v bytes)", len(ev.Input))
	case TagObjective:
		m.objectives.Add(1)
		log.Logf(0, "objective found (%v bytes)", len(ev.Input))
	case TagUpdateStats:
		if m.limiter.Allow() {
			log.Logf(0, "%v", ev.Stats)
		}
	case TagLog:
		log.Logf(ev.Level, "%v", ev.Message)
	}
	return nil
}

func (m *SimpleManager) Process() error {
	if m.shutdown.Load() {
		return errs.ShuttingDown
	}
	return nil
}

// RequestShutdown makes the next Process call report ShuttingDown.
func (m *SimpleManager) RequestShutdown() {
	m.shutdown.Store(true)
}

func (m *SimpleManager) Objectives() int64 {
	return m.objectives.Load()
}

func (m *SimpleManager) Testcases() int64 {
	return m.testcases.Load()
}

// Client is the shared-memory-backed manager used by broker-attached
// fuzzer processes. The first 8 bytes of the control region are the
// shutdown flag the broker raises.
type Client struct {
	id   uuid.UUID
	seq  uint64
	ctrl []byte
	prod *Producer
}

func NewClient(ctrl []byte, prod *Producer) *Client {
	return &Client{
		id:   uuid.New(),
		ctrl: ctrl,
		prod: prod,
	}
}

func (c *Client) Fire(ev *Event) error {
	ev.Client = c.id
	ev.Seq = c.seq
	c.seq++
	frame := ev.Encode()
	var err error
	for try := 0; try < 100; try++ {
		if err = c.prod.Push(frame); err == nil {
			return nil
		}
		var ill *errs.IllegalStateError
		if !errors.As(err, &ill) {
			return err
		}
		// The broker lags; give it a moment.
		time.Sleep(time.Millisecond)
	}
	if ev.Tag == TagObjective || ev.Tag == TagNewTestcase {
		return err
	}
	// Stats and log events are droppable.
	log.Logf(2, "dropping %v event: %v", ev.Tag, err)
	return nil
}

func (c *Client) Process() error {
	if atomic.LoadUint64((*uint64)(unsafe.Pointer(&c.ctrl[0]))) != 0 {
		return errs.ShuttingDown
	}
	return nil
}

// Broker drains all client partitions; per-producer order is FIFO,
// cross-producer order is unspecified.
type Broker struct {
	consumers []*Consumer
	handler   func(*Event)
}

func NewBroker(handler func(*Event), consumers ...*Consumer) *Broker {
	return &Broker{consumers: consumers, handler: handler}
}

// Poll drains every partition once and returns the number of events seen.
func (b *Broker) Poll() int {
	total := 0
	for _, cons := range b.consumers {
		for {
			frame := cons.Pop()
			if frame == nil {
				break
			}
			ev, _, err := Decode(frame)
			if err != nil {
				log.Logf(0, "broker: bad frame: %v", err)
				continue
			}
			total++
			if b.handler != nil {
				b.handler(ev)
			}
		}
	}
	return total
}
