package temporal

import (
	"sync"
	"time"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
)

// Observation is what Store.Add reports back for the frame just added.
type Observation struct {
	Patterns []types.Candidate
	Samples  []types.AnalysisResult // window contents after the add, oldest first
}

type entry struct {
	mu      sync.Mutex
	window  *Window
	touched time.Time
}

// Store owns one Window per session id. Windows are created lazily on the
// first Add and removed by Close or by SweepIdle. Sessions never contend
// with each other: the map lock is only held for lookup.
type Store struct {
	mu      sync.RWMutex
	windows map[string]*entry
	now     func() time.Time
}

func NewStore() *Store {
	return &Store{
		windows: make(map[string]*entry),
		now:     time.Now,
	}
}

// WithClock replaces the clock used for idle tracking. Test hook.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) get(sessionID string) *entry {
	s.mu.RLock()
	e := s.windows[sessionID]
	s.mu.RUnlock()
	if e != nil {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e = s.windows[sessionID]; e == nil {
		e = &entry{}
		s.windows[sessionID] = e
	}
	return e
}

// Add appends r to the session's window and evaluates the patterns under
// the session's lock. A change of windowSize replaces the window.
func (s *Store) Add(sessionID string, windowSize int, r types.AnalysisResult) Observation {
	if windowSize <= 0 {
		windowSize = types.DefaultTemporalWindowSize
	}
	e := s.get(sessionID)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.window == nil || e.window.Cap() != windowSize {
		e.window = NewWindow(windowSize)
	}
	e.window.Add(r)
	e.touched = s.now()

	samples := e.window.Samples()
	return Observation{
		Patterns: DetectPatterns(samples),
		Samples:  samples,
	}
}

// Len returns the number of samples held for a session, 0 if none.
func (s *Store) Len(sessionID string) int {
	s.mu.RLock()
	e := s.windows[sessionID]
	s.mu.RUnlock()
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.window == nil {
		return 0
	}
	return e.window.Len()
}

// Sessions returns the number of live windows.
func (s *Store) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.windows)
}

// Close discards the session's window.
func (s *Store) Close(sessionID string) {
	s.mu.Lock()
	delete(s.windows, sessionID)
	s.mu.Unlock()
}

// SweepIdle discards windows not touched within idle and returns the ids
// that were removed.
func (s *Store) SweepIdle(idle time.Duration) []string {
	cutoff := s.now().Add(-idle)

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for id, e := range s.windows {
		e.mu.Lock()
		stale := e.touched.Before(cutoff)
		e.mu.Unlock()
		if stale {
			delete(s.windows, id)
			removed = append(removed, id)
		}
	}
	return removed
}
