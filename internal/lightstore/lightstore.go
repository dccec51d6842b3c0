package lightstore

import (
	"sort"
	"sync"
	"time"
)

// Signal colors as reported by traffic-light detectors
const (
	ColorRed    = "red"
	ColorYellow = "yellow"
	ColorGreen  = "green"
)

// Observation is a single traffic-light state observation
type Observation struct {
	CameraID   string
	Color      string
	Confidence float64
	Timestamp  time.Time
}

// Store keeps recent traffic-light observations ordered by timestamp so
// crossings can be matched against the signal state in effect at their
// time. Observations expire after the retention window.
type Store struct {
	mu           sync.RWMutex
	observations []Observation // sorted by Timestamp ascending
	retention    time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once
}

// New creates a store retaining observations for the given window. A
// background sweep drops expired entries, the same way go-cache runs
// its janitor.
func New(retention time.Duration) *Store {
	s := &Store{
		retention: retention,
		stopCh:    make(chan struct{}),
	}
	go s.sweep()
	return s
}

// Add records an observation, keeping the slice ordered
func (s *Store) Add(obs Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.observations)
	if n == 0 || !obs.Timestamp.Before(s.observations[n-1].Timestamp) {
		s.observations = append(s.observations, obs)
		return
	}

	// Out-of-order arrival: insert at the right position
	i := sort.Search(n, func(i int) bool {
		return s.observations[i].Timestamp.After(obs.Timestamp)
	})
	s.observations = append(s.observations, Observation{})
	copy(s.observations[i+1:], s.observations[i:])
	s.observations[i] = obs
}

// NearestBefore returns the most recent observation whose timestamp does
// not exceed t. The second return is false when no such observation
// exists; callers treat that as an unknown signal state.
func (s *Store) NearestBefore(t time.Time) (Observation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := sort.Search(len(s.observations), func(i int) bool {
		return s.observations[i].Timestamp.After(t)
	})
	if i == 0 {
		return Observation{}, false
	}
	return s.observations[i-1], true
}

// Len returns the number of retained observations
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.observations)
}

// Close stops the background sweep
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Store) sweep() {
	interval := s.retention / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.prune(time.Now().Add(-s.retention))
		case <-s.stopCh:
			return
		}
	}
}

func (s *Store) prune(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := sort.Search(len(s.observations), func(i int) bool {
		return s.observations[i].Timestamp.After(cutoff)
	})
	if i > 0 {
		s.observations = append(s.observations[:0:0], s.observations[i:]...)
	}
}
