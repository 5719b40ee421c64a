// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package stats implements a global registry of named counters that the
// fuzzer updates on its hot path. Every value is also exported as a
// prometheus metric so a scraper can observe a long-running campaign.
package stats

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/VividCortex/gohistogram"
	"github.com/prometheus/client_golang/prometheus"
)

type Val struct {
	name  string
	desc  string
	mu    sync.Mutex
	val   int
	ext   func() int
	rate  bool
	prev  int
	prevT time.Time
}

// Rate marks the value as a rate: Render also reports the per-second delta.
type Rate struct{}

func (Rate) apply(v *Val) {
	v.rate = true
}

type applier interface {
	apply(*Val)
}

var (
	registryMu sync.Mutex
	registry   = map[string]*Val{}
)

// Create registers a new named counter. An optional func() int argument
// turns it into a gauge polled at render time.
func Create(name, desc string, opts ...interface{}) *Val {
	v := &Val{
		name:  name,
		desc:  desc,
		prevT: time.Now(),
	}
	for _, opt := range opts {
		switch o := opt.(type) {
		case func() int:
			v.ext = o
		case applier:
			o.apply(v)
		}
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[name]; ok {
		// Tests may re-create the same stat; the last one wins.
		delete(registry, name)
	} else {
		collector := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: promName(name),
			Help: desc,
		}, func() float64 {
			registryMu.Lock()
			cur := registry[name]
			registryMu.Unlock()
			if cur == nil {
				return 0
			}
			return float64(cur.Val())
		})
		// Duplicate registration can only happen if two stats normalize to
		// the same prometheus name; the earlier collector is unregistered
		// and this one takes its place.
		prometheus.DefaultRegisterer.Unregister(collector)
		prometheus.MustRegister(collector)
	}
	registry[name] = v
	return v
}

func (v *Val) Add(delta int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.val += delta
}

func (v *Val) Val() int {
	if v.ext != nil {
		return v.ext()
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.val
}

func promName(name string) string {
	out := []byte("goafl_")
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			out = append(out, c)
		case c >= 'A' && c <= 'Z':
			out = append(out, c+'a'-'A')
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// RenderAll returns a stable-ordered snapshot of all registered values,
// suitable for UpdateStats events and periodic logging.
func RenderAll() string {
	registryMu.Lock()
	names := make([]string, 0, len(registry))
	vals := make(map[string]*Val, len(registry))
	for name, v := range registry {
		names = append(names, name)
		vals[name] = v
	}
	registryMu.Unlock()
	sort.Strings(names)
	out := ""
	for _, name := range names {
		v := vals[name]
		if out != "" {
			out += ", "
		}
		out += fmt.Sprintf("%v: %v", name, v.Val())
		if v.rate {
			out += fmt.Sprintf(" (%v/sec)", v.takeRate())
		}
	}
	return out
}

func (v *Val) takeRate() int {
	cur := v.Val()
	v.mu.Lock()
	defer v.mu.Unlock()
	elapsed := time.Since(v.prevT).Seconds()
	if elapsed <= 0 {
		return 0
	}
	rate := int(float64(cur-v.prev) / elapsed)
	v.prev = cur
	v.prevT = time.Now()
	return rate
}

// ExecTime aggregates per-execution wall time into a streaming histogram.
type ExecTime struct {
	mu   sync.Mutex
	hist *gohistogram.NumericHistogram
}

func NewExecTime() *ExecTime {
	return &ExecTime{
		// 80 bins is what the histogram authors recommend for ~1% error.
		hist: gohistogram.NewHistogram(80),
	}
}

func (et *ExecTime) Save(d time.Duration) {
	et.mu.Lock()
	defer et.mu.Unlock()
	et.hist.Add(float64(d.Microseconds()))
}

// Quantile returns the q-quantile of the observed exec times.
func (et *ExecTime) Quantile(q float64) time.Duration {
	et.mu.Lock()
	defer et.mu.Unlock()
	return time.Duration(et.hist.Quantile(q)) * time.Microsecond
}
