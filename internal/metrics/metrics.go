package metrics

import (
	"sync/atomic"
	"time"
)

const (
	// BucketCount is the number of latency buckets per histogram.
	BucketCount   = 8
	cacheLineSize = 64
)

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

type histogram struct {
	buckets [BucketCount]uint64
}

// Set holds a fixed number of counters and, for selected ids, a latency
// histogram. Ids outside [0, size) are ignored.
type Set struct {
	enabled    bool
	latency    bool
	counters   []paddedCounter
	histograms map[int]*histogram
}

// New allocates size counters and one histogram per id in latencyIDs.
// A disabled Set records nothing.
func New(size int, latencyIDs []int, enabled, latency bool) *Set {
	s := &Set{
		enabled:    enabled,
		latency:    enabled && latency,
		counters:   make([]paddedCounter, size),
		histograms: make(map[int]*histogram, len(latencyIDs)),
	}
	for _, id := range latencyIDs {
		if id >= 0 && id < size {
			s.histograms[id] = &histogram{}
		}
	}
	return s
}

func (s *Set) Enabled() bool {
	return s != nil && s.enabled
}

func (s *Set) LatencyEnabled() bool {
	return s != nil && s.latency
}

func (s *Set) Inc(id int) {
	if s == nil || !s.enabled || id < 0 || id >= len(s.counters) {
		return
	}
	atomic.AddUint64(&s.counters[id].value, 1)
}

// Observe records d in the histogram of id, if id has one.
func (s *Set) Observe(id int, d time.Duration) {
	if s == nil || !s.latency {
		return
	}
	h, ok := s.histograms[id]
	if !ok {
		return
	}
	atomic.AddUint64(&h.buckets[BucketIndex(d)], 1)
}

func (s *Set) Value(id int) uint64 {
	if s == nil || id < 0 || id >= len(s.counters) {
		return 0
	}
	return atomic.LoadUint64(&s.counters[id].value)
}

// Snapshot copies every counter and, when latency is enabled, every
// histogram. A disabled Set yields empty maps.
func (s *Set) Snapshot() (map[int]uint64, map[int][]uint64) {
	if s == nil || !s.enabled {
		return map[int]uint64{}, map[int][]uint64{}
	}
	counters := make(map[int]uint64, len(s.counters))
	for id := range s.counters {
		counters[id] = atomic.LoadUint64(&s.counters[id].value)
	}
	hists := make(map[int][]uint64, len(s.histograms))
	if s.latency {
		for id, h := range s.histograms {
			buckets := make([]uint64, BucketCount)
			for i := 0; i < BucketCount; i++ {
				buckets[i] = atomic.LoadUint64(&h.buckets[i])
			}
			hists[id] = buckets
		}
	}
	return counters, hists
}

// BucketIndex maps d onto the fixed bucket bounds
// 5, 10, 25, 50, 100, 250, 500 ms and +Inf.
func BucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
