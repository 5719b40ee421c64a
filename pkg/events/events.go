// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package events carries progress between fuzzer clients and the broker,
// and keeps client state alive across crash-restarts. Events travel over
// a lock-free multi-producer shared-memory log (one ring partition per
// producer, a single consumer).
package events

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/bitwave/goafl/pkg/errs"
)

type Tag uint32

const (
	TagNewTestcase Tag = iota + 1
	TagUpdateStats
	TagObjective
	TagLog
)

func (t Tag) String() string {
	switch t {
	case TagNewTestcase:
		return "new_testcase"
	case TagUpdateStats:
		return "update_stats"
	case TagObjective:
		return "objective"
	case TagLog:
		return "log"
	}
	return "unknown"
}

// Event is one message on the wire. Which payload fields are meaningful
// depends on the tag.
type Event struct {
	Tag      Tag
	Client   uuid.UUID
	Seq      uint64
	Input    []byte // NewTestcase, Objective
	Metadata []byte // NewTestcase
	Stats    string // UpdateStats
	Level    int    // Log
	Message  string // Log
}

// Frame layout: tag u32, client 16 bytes, seq u64, payload len u32,
// payload. Payload fields are length-prefixed.
const frameHeaderLen = 4 + 16 + 8 + 4

func (ev *Event) Encode() []byte {
	payload := ev.encodePayload()
	buf := make([]byte, frameHeaderLen+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(ev.Tag))
	copy(buf[4:20], ev.Client[:])
	binary.LittleEndian.PutUint64(buf[20:], ev.Seq)
	binary.LittleEndian.PutUint32(buf[28:], uint32(len(payload)))
	copy(buf[frameHeaderLen:], payload)
	return buf
}

func (ev *Event) encodePayload() []byte {
	var buf []byte
	switch ev.Tag {
	case TagNewTestcase:
		buf = appendBytes(buf, ev.Input)
		buf = appendBytes(buf, ev.Metadata)
	case TagObjective:
		buf = appendBytes(buf, ev.Input)
	case TagUpdateStats:
		buf = appendBytes(buf, []byte(ev.Stats))
	case TagLog:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(ev.Level))
		buf = appendBytes(buf, []byte(ev.Message))
	}
	return buf
}

func appendBytes(buf, data []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(data)))
	return append(buf, data...)
}

// Decode parses one frame and returns the event and the total frame size.
func Decode(buf []byte) (*Event, int, error) {
	if len(buf) < frameHeaderLen {
		return nil, 0, &errs.SerializeError{Err: fmt.Errorf("short frame: %v bytes", len(buf))}
	}
	ev := &Event{
		Tag: Tag(binary.LittleEndian.Uint32(buf)),
		Seq: binary.LittleEndian.Uint64(buf[20:]),
	}
	copy(ev.Client[:], buf[4:20])
	plen := int(binary.LittleEndian.Uint32(buf[28:]))
	total := frameHeaderLen + plen
	if len(buf) < total {
		return nil, 0, &errs.SerializeError{Err: fmt.Errorf("truncated frame: want %v, have %v", total, len(buf))}
	}
	payload := buf[frameHeaderLen:total]
	if err := ev.decodePayload(payload); err != nil {
		return nil, 0, err
	}
	return ev, total, nil
}

func (ev *Event) decodePayload(payload []byte) error {
	var err error
	switch ev.Tag {
	case TagNewTestcase:
		if ev.Input, payload, err = readBytes(payload); err != nil {
			return err
		}
		if ev.Metadata, _, err = readBytes(payload); err != nil {
			return err
		}
	case TagObjective:
		if ev.Input, _, err = readBytes(payload); err != nil {
			return err
		}
	case TagUpdateStats:
		var stats []byte
		if stats, _, err = readBytes(payload); err != nil {
			return err
		}
		ev.Stats = string(stats)
	case TagLog:
		if len(payload) < 4 {
			return &errs.SerializeError{Err: fmt.Errorf("short log payload")}
		}
		ev.Level = int(binary.LittleEndian.Uint32(payload))
		var msg []byte
		if msg, _, err = readBytes(payload[4:]); err != nil {
			return err
		}
		ev.Message = string(msg)
	default:
		return &errs.SerializeError{Err: fmt.Errorf("unknown event tag %v", uint32(ev.Tag))}
	}
	return nil
}

func readBytes(buf []byte) ([]byte, []byte, error) {
	if len(buf) < 4 {
		return nil, nil, &errs.SerializeError{Err: fmt.Errorf("short length prefix")}
	}
	n := int(binary.LittleEndian.Uint32(buf))
	if len(buf) < 4+n {
		return nil, nil, &errs.SerializeError{Err: fmt.Errorf("short field: want %v, have %v", n, len(buf)-4)}
	}
	out := make([]byte, n)
	copy(out, buf[4:4+n])
	return out, buf[4+n:], nil
}
