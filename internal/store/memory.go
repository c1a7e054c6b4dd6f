package store

import (
	"errors"
	"sync"
	"time"

	"github.com/i474232898/orbital-sentry/internal/sentry"
)

var (
	// ErrNotFound is returned when no run (or no outcome for a key) is available.
	ErrNotFound = errors.New("no run data available")
)

var _ sentry.RunStore = (*MemoryStore)(nil)

// MemoryStore is a concurrency-safe in-memory history of run reports.
type MemoryStore struct {
	mu sync.RWMutex

	// oldest first
	runs []*sentry.RunReport

	// retention configuration
	maxHistory int           // max number of runs kept
	maxAge     time.Duration // optional max age for runs
	now        func() time.Time
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// SaveRun appends a run and enforces retention. The newest run is always kept.
func (s *MemoryStore) SaveRun(report *sentry.RunReport) {
	if report == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs = append(s.runs, report)

	// Enforce retention by count.
	if s.maxHistory > 0 && len(s.runs) > s.maxHistory {
		over := len(s.runs) - s.maxHistory
		s.runs = s.runs[over:]
	}

	// Enforce retention by age.
	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		i := 0
		for ; i < len(s.runs)-1; i++ {
			if !s.runs[i].StartedAt.Before(cutoff) {
				break
			}
		}
		s.runs = s.runs[i:]
	}
}

// Latest returns the most recent run.
func (s *MemoryStore) Latest() (*sentry.RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.runs) == 0 {
		return nil, ErrNotFound
	}
	return s.runs[len(s.runs)-1], nil
}

// Range returns all runs started between from and to (inclusive), oldest first.
func (s *MemoryStore) Range(from, to time.Time) ([]*sentry.RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*sentry.RunReport
	for _, r := range s.runs {
		if !r.StartedAt.Before(from) && !r.StartedAt.After(to) {
			result = append(result, r)
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}

// LatestOutcome returns the newest reported outcome for key, searching back
// through history past runs where the key failed.
func (s *MemoryStore) LatestOutcome(key sentry.Key) (sentry.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.runs) - 1; i >= 0; i-- {
		if o, ok := s.runs[i].Outcome(key); ok && o.State.Reported() {
			return o, nil
		}
	}
	return sentry.Outcome{}, ErrNotFound
}
