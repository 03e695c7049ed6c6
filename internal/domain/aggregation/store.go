// Package aggregation keeps the incremental counters behind the delivery and
// latency metrics: one overall bucket and three keyed bucket families.
package aggregation

import (
	"github.com/okian/v2xmetrics/internal/domain/model"
)

// DefaultWindowSize is the window width in microseconds.
const DefaultWindowSize int64 = 1_000_000

// Bucket accumulates counts, latencies and SINR for one aggregation key.
type Bucket struct {
	TxCount   int64
	RxCount   int64
	Latencies []int64
	SINRSum   float64
	SINRCount int64
}

// Empty reports whether the bucket saw neither a transmission nor a reception.
func (b *Bucket) Empty() bool {
	return b.TxCount == 0 && b.RxCount == 0
}

func (b *Bucket) addMatch(p model.MatchedPair) {
	b.RxCount++
	b.Latencies = append(b.Latencies, p.LatencyUS)
	if v, ok := p.SINRDB.Get(); ok {
		b.SINRSum += v
		b.SINRCount++
	}
}

// PairKey identifies a directed src -> dst link.
type PairKey struct {
	Src string
	Dst string
}

// WindowKey identifies a link inside one time window.
type WindowKey struct {
	Start int64
	Src   string
	Dst   string
}

// Store owns every bucket. It is not safe for concurrent use.
type Store struct {
	windowSize int64

	overall Bucket
	pairs   map[PairKey]*Bucket
	apps    map[string]*Bucket
	windows map[WindowKey]*Bucket
}

// NewStore creates an empty store. A non-positive window size falls back to the default.
func NewStore(windowSize int64) *Store {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Store{
		windowSize: windowSize,
		pairs:      make(map[PairKey]*Bucket),
		apps:       make(map[string]*Bucket),
		windows:    make(map[WindowKey]*Bucket),
	}
}

// WindowSize returns the configured window width.
func (s *Store) WindowSize() int64 { return s.windowSize }

// WindowStart floors ts to the start of its window.
func (s *Store) WindowStart(ts int64) int64 {
	start := ts / s.windowSize * s.windowSize
	if ts < 0 && ts%s.windowSize != 0 {
		start -= s.windowSize
	}
	return start
}

// RecordTx counts a first-seen transmission in all four families.
func (s *Store) RecordTx(r model.EventRecord) {
	s.overall.TxCount++
	s.pair(PairKey{Src: r.Src, Dst: r.Dst}).TxCount++
	s.app(r.App).TxCount++
	s.window(WindowKey{Start: s.WindowStart(r.TimestampUS), Src: r.Src, Dst: r.Dst}).TxCount++
}

// RecordMatched counts a reception with its latency and SINR in all four
// families, keyed from the transmission side.
func (s *Store) RecordMatched(p model.MatchedPair) {
	s.overall.addMatch(p)
	s.pair(PairKey{Src: p.Src, Dst: p.Dst}).addMatch(p)
	s.app(p.App).addMatch(p)
	s.window(WindowKey{Start: p.WindowStart, Src: p.Src, Dst: p.Dst}).addMatch(p)
}

// Overall returns the global bucket.
func (s *Store) Overall() *Bucket { return &s.overall }

// Pair looks up a pair bucket without creating it.
func (s *Store) Pair(k PairKey) (*Bucket, bool) {
	b, ok := s.pairs[k]
	return b, ok
}

// App looks up an application bucket without creating it.
func (s *Store) App(app string) (*Bucket, bool) {
	b, ok := s.apps[app]
	return b, ok
}

// Window looks up a window bucket without creating it.
func (s *Store) Window(k WindowKey) (*Bucket, bool) {
	b, ok := s.windows[k]
	return b, ok
}

// RangePairs calls fn for every pair bucket until fn returns false.
func (s *Store) RangePairs(fn func(PairKey, *Bucket) bool) {
	for k, b := range s.pairs {
		if !fn(k, b) {
			return
		}
	}
}

// RangeApps calls fn for every application bucket until fn returns false.
func (s *Store) RangeApps(fn func(string, *Bucket) bool) {
	for k, b := range s.apps {
		if !fn(k, b) {
			return
		}
	}
}

// RangeWindows calls fn for every window bucket until fn returns false.
func (s *Store) RangeWindows(fn func(WindowKey, *Bucket) bool) {
	for k, b := range s.windows {
		if !fn(k, b) {
			return
		}
	}
}

// Sizes returns the number of pair, application and window buckets.
func (s *Store) Sizes() (pairs, apps, windows int) {
	return len(s.pairs), len(s.apps), len(s.windows)
}

func (s *Store) pair(k PairKey) *Bucket {
	b, ok := s.pairs[k]
	if !ok {
		b = &Bucket{}
		s.pairs[k] = b
	}
	return b
}

func (s *Store) app(k string) *Bucket {
	b, ok := s.apps[k]
	if !ok {
		b = &Bucket{}
		s.apps[k] = b
	}
	return b
}

func (s *Store) window(k WindowKey) *Bucket {
	b, ok := s.windows[k]
	if !ok {
		b = &Bucket{}
		s.windows[k] = b
	}
	return b
}
