package discovery

import (
	"errors"
	"sync"
)

// ErrSessionClosed is returned for mutations after Close.
var ErrSessionClosed = errors.New("discovery session closed")

// Change is emitted whenever the filters change or a refresh is requested.
// Generation identifies the request; results for older generations are
// rejected by Accept.
type Change struct {
	Generation uint64
	Filters    FilterState
	Force      bool
}

// Session owns the filter state and the last accepted result for one screen.
// Filters have a single writer (the screen); views read snapshots.
type Session struct {
	mu      sync.RWMutex
	filters FilterState
	gen     uint64
	result  LoadResult
	closed  bool
	changes chan Change
}

// NewSession starts a session with the given filters and queues the initial
// fetch request.
func NewSession(initial FilterState) *Session {
	s := &Session{
		filters: initial.Clone(),
		changes: make(chan Change, 1),
	}
	s.mu.Lock()
	s.bumpLocked(false)
	s.mu.Unlock()
	return s
}

// Changes delivers coalesced change requests. Only the latest pending change
// is kept. The channel is closed by Close.
func (s *Session) Changes() <-chan Change {
	return s.changes
}

// Filters returns a copy of the current filter state.
func (s *Session) Filters() FilterState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filters.Clone()
}

// Snapshot returns the current generation together with its filters.
func (s *Session) Snapshot() (uint64, FilterState) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen, s.filters.Clone()
}

// Result returns the last accepted load result.
func (s *Session) Result() LoadResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result
}

// State returns the filters and the last accepted result as one consistent
// pair.
func (s *Session) State() (FilterState, LoadResult) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filters.Clone(), s.result
}

// Alive reports whether the session is still open.
func (s *Session) Alive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

// Update applies a patch. Invalid results are rejected and leave the state
// untouched.
func (s *Session) Update(p FilterPatch) (FilterState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return FilterState{}, ErrSessionClosed
	}
	next := p.Apply(s.filters)
	if err := next.Validate(); err != nil {
		return s.filters.Clone(), err
	}
	s.setLocked(next)
	return next.Clone(), nil
}

// Reset restores the default filters.
func (s *Session) Reset() (FilterState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return FilterState{}, ErrSessionClosed
	}
	s.setLocked(DefaultFilterState())
	return s.filters.Clone(), nil
}

// Refresh requests a forced re-fetch for the current filters.
func (s *Session) Refresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.bumpLocked(true)
	return nil
}

func (s *Session) setLocked(next FilterState) {
	if next.FetchKey() != s.filters.FetchKey() {
		s.result = LoadResult{}
	}
	s.filters = next
	s.bumpLocked(false)
}

func (s *Session) bumpLocked(force bool) {
	s.gen++
	c := Change{Generation: s.gen, Filters: s.filters.Clone(), Force: force}
	select {
	case <-s.changes:
	default:
	}
	s.changes <- c
}

// Accept stores res if it belongs to the current generation and the session
// is still open. It returns false for late or stale results, which are
// dropped without touching state.
//
// A failed result for the same fetch key keeps the previously loaded
// partners so Build can decide whether they are still fresh enough to show.
func (s *Session) Accept(gen uint64, res LoadResult) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.gen {
		return false
	}
	res.Loaded = true
	if res.Failed() && s.result.Loaded && s.result.FetchKey == res.FetchKey && len(s.result.Partners) > 0 {
		prev := s.result
		prev.Err = res.Err
		prev.Warnings = res.Warnings
		s.result = prev
		return true
	}
	s.result = res
	return true
}

// Close tears the session down. Later Accept calls are ignored.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.changes)
}
