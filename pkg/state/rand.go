// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package state

import (
	"encoding/json"
	"math/rand/v2"

	"github.com/bitwave/goafl/pkg/errs"
)

// Rand is the fuzzer RNG. It is PCG-backed so its exact position can be
// checkpointed: after a restart the stream continues where it left off
// and scheduling decisions match an uninterrupted run.
type Rand struct {
	pcg *rand.PCG
	rnd *rand.Rand
}

func NewRand(seed uint64) *Rand {
	pcg := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	return &Rand{pcg: pcg, rnd: rand.New(pcg)}
}

func (r *Rand) Intn(n int) int {
	return r.rnd.IntN(n)
}

// Below returns a value in [0, n), the idiom mutators use for sizing.
func (r *Rand) Below(n int) int {
	return r.rnd.IntN(n)
}

func (r *Rand) Int63() int64 {
	return r.rnd.Int64N(1 << 62)
}

func (r *Rand) Uint64() uint64 {
	return r.rnd.Uint64()
}

func (r *Rand) Float64() float64 {
	return r.rnd.Float64()
}

// Byte returns a uniformly random byte.
func (r *Rand) Byte() byte {
	return byte(r.rnd.Uint64())
}

func (r *Rand) MarshalJSON() ([]byte, error) {
	data, err := r.pcg.MarshalBinary()
	if err != nil {
		return nil, &errs.SerializeError{Err: err}
	}
	return json.Marshal(data)
}

func (r *Rand) UnmarshalJSON(data []byte) error {
	var raw []byte
	if err := json.Unmarshal(data, &raw); err != nil {
		return &errs.SerializeError{Err: err}
	}
	if r.pcg == nil {
		r.pcg = rand.NewPCG(0, 0)
		r.rnd = rand.New(r.pcg)
	}
	if err := r.pcg.UnmarshalBinary(raw); err != nil {
		return &errs.SerializeError{Err: err}
	}
	return nil
}
