// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mutator

import (
	"encoding/binary"

	"github.com/bitwave/goafl/pkg/errs"
	"github.com/bitwave/goafl/pkg/input"
	"github.com/bitwave/goafl/pkg/state"
)

// The primitive havoc operators. The dictionary splice is deliberately
// the last index: MOpt accounts it as operator N+1 after the byte-level
// operators.
const (
	opBitFlip = iota
	opByteFlip
	opArith
	opInteresting
	opDelete
	opInsert
	opCopy
	opSplice
	opToken
	OperatorNum = opToken + 1
)

var operatorNames = [OperatorNum]string{
	"bit_flip", "byte_flip", "arith", "interesting",
	"delete", "insert", "copy", "splice", "token",
}

func OperatorName(idx int) string {
	if idx < 0 || idx >= OperatorNum {
		return "unknown"
	}
	return operatorNames[idx]
}

var interestingValues = []int64{
	-128, -1, 0, 1, 16, 32, 64, 100, 127,
	-32768, -129, 128, 255, 256, 512, 1000, 1024, 4096, 32767,
	-2147483648, -100663046, 32768, 65535, 65536, 100663045, 2147483647,
}

// MaxInputLen bounds input growth during havoc.
const MaxInputLen = 1 << 20

// ScheduledMutator applies a random stack of primitive operators per
// Mutate call. When MOpt state is present, operator choice follows the
// current swarm weights and usage counters feed the MOpt accounting;
// otherwise the choice is uniform.
type ScheduledMutator struct {
	maxStack int
}

func NewScheduledMutator() *ScheduledMutator {
	return &ScheduledMutator{maxStack: 6}
}

func (m *ScheduledMutator) Mutate(st *state.State, inp input.Input, stageIdx int) error {
	bi, ok := inp.(*input.BytesInput)
	if !ok {
		return &errs.InvalidArgumentsError{Msg: "havoc mutator needs a bytes input"}
	}
	r := st.Rand()
	tokens := GetTokens(st.Metadata())
	// Power-of-two stacking, like classical havoc.
	stack := 1 << (1 + r.Below(m.maxStack))
	for i := 0; i < stack; i++ {
		op := m.chooseOperator(st)
		bi.Data = applyOperator(op, bi.Data, r, tokens)
		if len(bi.Data) == 0 {
			bi.Data = append(bi.Data, r.Byte())
		}
	}
	return nil
}

func (m *ScheduledMutator) PostExec(st *state.State, stageIdx int, newCorpusIdx int) error {
	return nil
}

func (m *ScheduledMutator) chooseOperator(st *state.State) int {
	if ms := st.MOpt(); ms != nil {
		return ms.ChooseOperator(st.Rand())
	}
	return st.Rand().Below(OperatorNum)
}

func applyOperator(op int, data []byte, r *state.Rand, tokens Tokens) []byte {
	switch op {
	case opBitFlip:
		if len(data) > 0 {
			pos := r.Below(len(data) * 8)
			data[pos/8] ^= 1 << (pos % 8)
		}
	case opByteFlip:
		if len(data) > 0 {
			data[r.Below(len(data))] ^= byte(1 + r.Below(255))
		}
	case opArith:
		if len(data) > 0 {
			delta := byte(1 + r.Below(35))
			pos := r.Below(len(data))
			if r.Below(2) == 0 {
				data[pos] += delta
			} else {
				data[pos] -= delta
			}
		}
	case opInteresting:
		data = overwriteInteresting(data, r)
	case opDelete:
		if len(data) > 1 {
			from := r.Below(len(data))
			n := 1 + r.Below(len(data)-from)
			if n == len(data) {
				n--
			}
			data = append(data[:from], data[from+n:]...)
		}
	case opInsert:
		if len(data) < MaxInputLen {
			pos := r.Below(len(data) + 1)
			n := 1 + r.Below(16)
			chunk := make([]byte, n)
			for i := range chunk {
				chunk[i] = r.Byte()
			}
			data = insertBytes(data, pos, chunk)
		}
	case opCopy:
		if len(data) > 1 {
			from := r.Below(len(data))
			n := 1 + r.Below(len(data)-from)
			to := r.Below(len(data) - n + 1)
			copy(data[to:to+n], data[from:from+n])
		}
	case opSplice:
		if len(data) > 0 && len(data) < MaxInputLen {
			from := r.Below(len(data))
			n := 1 + r.Below(len(data)-from)
			chunk := make([]byte, n)
			copy(chunk, data[from:from+n])
			data = insertBytes(data, r.Below(len(data)+1), chunk)
		}
	case opToken:
		if len(tokens) > 0 {
			tok := tokens[r.Below(len(tokens))]
			if r.Below(2) == 0 && len(data) >= len(tok) {
				// Overwrite at a random position.
				pos := r.Below(len(data) - len(tok) + 1)
				copy(data[pos:], tok)
			} else if len(data)+len(tok) <= MaxInputLen {
				data = insertBytes(data, r.Below(len(data)+1), tok)
			}
		} else if len(data) > 0 {
			data[r.Below(len(data))] = r.Byte()
		}
	}
	return data
}

func overwriteInteresting(data []byte, r *state.Rand) []byte {
	if len(data) == 0 {
		return data
	}
	val := interestingValues[r.Below(len(interestingValues))]
	switch width := 1 << r.Below(3); {
	case width == 1 || len(data) < 2:
		data[r.Below(len(data))] = byte(val)
	case width == 2 || len(data) < 4:
		pos := r.Below(len(data) - 1)
		binary.LittleEndian.PutUint16(data[pos:], uint16(val))
	default:
		pos := r.Below(len(data) - 3)
		binary.LittleEndian.PutUint32(data[pos:], uint32(val))
	}
	return data
}

func insertBytes(data []byte, pos int, chunk []byte) []byte {
	data = append(data, make([]byte, len(chunk))...)
	copy(data[pos+len(chunk):], data[pos:])
	copy(data[pos:], chunk)
	return data
}
