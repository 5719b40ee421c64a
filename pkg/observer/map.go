// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package observer

// MapObserver observes a fixed-size byte map shared with the instrumented
// target. The target's coverage callbacks bump per-edge counters in the
// map during the run.
type MapObserver struct {
	name string
	mem  []byte
}

func NewMapObserver(name string, mem []byte) *MapObserver {
	return &MapObserver{name: name, mem: mem}
}

func (mo *MapObserver) Name() string {
	return mo.name
}

func (mo *MapObserver) PreExec() error {
	clear(mo.mem)
	return nil
}

func (mo *MapObserver) PostExec() error {
	return nil
}

// Map returns the live backing array. Valid to read only between PostExec
// and the next PreExec.
func (mo *MapObserver) Map() []byte {
	return mo.mem
}

// HitcountsMap wraps a map observer and buckets raw edge counters after
// each run, so that e.g. 8 and 9 hits of the same edge are not novelty,
// but 1 vs 2 hits are.
type HitcountsMap struct {
	*MapObserver
}

// AFL-style bucket classes: 0, 1, 2, 3, 4-7, 8-15, 16-31, 32-127, 128+.
var countClassLookup = buildCountClassLookup()

func buildCountClassLookup() [256]byte {
	var lut [256]byte
	set := func(from, to int, val byte) {
		for i := from; i <= to; i++ {
			lut[i] = val
		}
	}
	set(0, 0, 0)
	set(1, 1, 1)
	set(2, 2, 2)
	set(3, 3, 4)
	set(4, 7, 8)
	set(8, 15, 16)
	set(16, 31, 32)
	set(32, 127, 64)
	set(128, 255, 128)
	return lut
}

func NewHitcountsMap(inner *MapObserver) *HitcountsMap {
	return &HitcountsMap{MapObserver: inner}
}

func (ho *HitcountsMap) PostExec() error {
	mem := ho.Map()
	for i, v := range mem {
		mem[i] = countClassLookup[v]
	}
	return nil
}
