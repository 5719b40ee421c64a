// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"encoding/json"
	"sort"

	"github.com/bitwave/goafl/pkg/errs"
)

// MapIndexesKey is the testcase metadata key under which the coverage
// feedback records the map indexes the testcase improved. The minimizer
// scheduler consumes it.
const MapIndexesKey = "map_indexes"

// Rand is the subset of the state RNG the schedulers need.
type Rand interface {
	Intn(n int) int
}

// Scheduler picks the next corpus entry to mutate.
type Scheduler interface {
	Next(r Rand, c Corpus) (int, error)
	OnAdd(c Corpus, idx int)
	// Checkpoint/Restore carry scheduler position across fuzzer restarts,
	// so that the first selection after a respawn matches what an
	// uninterrupted run would have chosen.
	Checkpoint() ([]byte, error)
	Restore(data []byte, c Corpus) error
}

// RandScheduler picks uniformly among all corpus entries.
type RandScheduler struct{}

func (RandScheduler) Next(r Rand, c Corpus) (int, error) {
	n := c.Count()
	if n == 0 {
		return 0, errs.EmptyOptional
	}
	return r.Intn(n), nil
}

func (RandScheduler) OnAdd(Corpus, int) {}

func (RandScheduler) Checkpoint() ([]byte, error) {
	return []byte("{}"), nil
}

func (RandScheduler) Restore([]byte, Corpus) error {
	return nil
}

// QueueScheduler walks the corpus round-robin.
type QueueScheduler struct {
	pos int
}

func (s *QueueScheduler) Next(r Rand, c Corpus) (int, error) {
	n := c.Count()
	if n == 0 {
		return 0, errs.EmptyOptional
	}
	idx := s.pos % n
	s.pos = (idx + 1) % n
	return idx, nil
}

func (s *QueueScheduler) OnAdd(Corpus, int) {}

func (s *QueueScheduler) Checkpoint() ([]byte, error) {
	return json.Marshal(map[string]int{"pos": s.pos})
}

func (s *QueueScheduler) Restore(data []byte, c Corpus) error {
	var m map[string]int
	if err := json.Unmarshal(data, &m); err != nil {
		return &errs.SerializeError{Err: err}
	}
	s.pos = m["pos"]
	return nil
}

// MinimizerScheduler is a queue over favored entries. An entry is favored
// if it is the current best holder of at least one coverage map index,
// where best means shorter input, then faster execution. Entries without
// recorded map indexes never become favored and are only scheduled while
// no favored entries exist.
type MinimizerScheduler struct {
	queue    QueueScheduler
	topRated map[int]int // map index -> corpus index of the best holder
	favored  []int       // stable order of favored corpus indices
	isFav    map[int]bool
	pos      int
}

func NewMinimizerScheduler() *MinimizerScheduler {
	return &MinimizerScheduler{
		topRated: map[int]int{},
		isFav:    map[int]bool{},
	}
}

func (s *MinimizerScheduler) Next(r Rand, c Corpus) (int, error) {
	if len(s.favored) == 0 {
		return s.queue.Next(r, c)
	}
	idx := s.favored[s.pos%len(s.favored)]
	s.pos = (s.pos + 1) % len(s.favored)
	return idx, nil
}

func (s *MinimizerScheduler) OnAdd(c Corpus, idx int) {
	tc, err := c.Get(idx)
	if err != nil {
		return
	}
	var indexes []int
	if err := tc.Meta.Get(MapIndexesKey, &indexes); err != nil {
		// Entries without tracked indexes can't be favored.
		return
	}
	changed := false
	for _, mapIdx := range indexes {
		prev, ok := s.topRated[mapIdx]
		if ok && !s.better(c, idx, prev) {
			continue
		}
		s.topRated[mapIdx] = idx
		changed = true
	}
	if changed {
		s.rebuildFavored()
	}
}

// rebuildFavored recomputes the favored queue from the dominance map, so
// displaced entries stop being scheduled. The order is by corpus index to
// keep scheduling deterministic.
func (s *MinimizerScheduler) rebuildFavored() {
	s.isFav = map[int]bool{}
	s.favored = s.favored[:0]
	for _, idx := range s.topRated {
		if !s.isFav[idx] {
			s.isFav[idx] = true
			s.favored = append(s.favored, idx)
		}
	}
	sort.Ints(s.favored)
	if len(s.favored) > 0 {
		s.pos %= len(s.favored)
	}
}

func (s *MinimizerScheduler) better(c Corpus, idx, prev int) bool {
	tcNew, err1 := c.Get(idx)
	tcOld, err2 := c.Get(prev)
	if err1 != nil || err2 != nil {
		return false
	}
	if tcNew.Len() != tcOld.Len() {
		return tcNew.Len() < tcOld.Len()
	}
	return tcNew.ExecTime() < tcOld.ExecTime()
}

type minimizerJSON struct {
	QueuePos int         `json:"queue_pos"`
	TopRated map[int]int `json:"top_rated"`
	Favored  []int       `json:"favored"`
	Pos      int         `json:"pos"`
}

func (s *MinimizerScheduler) Checkpoint() ([]byte, error) {
	return json.Marshal(&minimizerJSON{
		QueuePos: s.queue.pos,
		TopRated: s.topRated,
		Favored:  s.favored,
		Pos:      s.pos,
	})
}

func (s *MinimizerScheduler) Restore(data []byte, c Corpus) error {
	var js minimizerJSON
	if err := json.Unmarshal(data, &js); err != nil {
		return &errs.SerializeError{Err: err}
	}
	s.queue.pos = js.QueuePos
	s.topRated = js.TopRated
	s.favored = js.Favored
	s.pos = js.Pos
	if s.topRated == nil {
		s.topRated = map[int]int{}
	}
	s.isFav = map[int]bool{}
	for _, idx := range s.favored {
		s.isFav[idx] = true
	}
	return nil
}
