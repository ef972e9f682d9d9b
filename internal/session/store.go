package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/intakeline/intakeline/internal/script"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

const defaultIdleTTL = 30 * time.Minute

// Store maps call ids to live sessions. Turns within one call are strictly
// sequential (the telephony provider serializes them), so the mutex only
// guards cross-call access. Sessions abandoned mid-call are reaped by
// SweepIdle so the map cannot grow without bound.
type Store struct {
	clock   Clock
	idleTTL time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*CallSession
}

// NewStore creates a Store with a 30-minute idle TTL.
func NewStore() *Store {
	return NewStoreWithClock(realClock{}, defaultIdleTTL)
}

// NewStoreWithTTL creates a Store with the given idle TTL.
func NewStoreWithTTL(idleTTL time.Duration) *Store {
	return NewStoreWithClock(realClock{}, idleTTL)
}

// NewStoreWithClock creates a Store with a custom clock and TTL (tests).
func NewStoreWithClock(clock Clock, idleTTL time.Duration) *Store {
	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}
	return &Store{
		clock:    clock,
		idleTTL:  idleTTL,
		logger:   slog.Default(),
		sessions: make(map[string]*CallSession),
	}
}

// GetOrCreate returns the session for callID, creating a fresh one in the
// initial script state when none exists. The second return value reports
// whether the session already existed.
func (s *Store) GetOrCreate(callID, firmID, firmName string) (*CallSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cs, ok := s.sessions[callID]; ok {
		cs.LastActive = s.clock.Now()
		return cs, true
	}

	now := s.clock.Now()
	cs := &CallSession{
		CallID:     callID,
		FirmID:     firmID,
		FirmName:   firmName,
		State:      script.Initial,
		Snapshot:   make(Snapshot),
		Reprompted: make(map[script.Field]bool),
		StartedAt:  now,
		LastActive: now,
	}
	s.sessions[callID] = cs
	return cs, false
}

// Get returns the session for callID, if present.
func (s *Store) Get(callID string) (*CallSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.sessions[callID]
	return cs, ok
}

// Touch refreshes the idle timer for callID.
func (s *Store) Touch(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cs, ok := s.sessions[callID]; ok {
		cs.LastActive = s.clock.Now()
	}
}

// Delete removes the session for callID. Called when a call completes.
func (s *Store) Delete(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, callID)
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// SweepIdle evicts sessions idle longer than the TTL and returns them so
// the caller can finalize abandoned calls. Runs periodically from the
// server loop.
func (s *Store) SweepIdle() []*CallSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock.Now().Add(-s.idleTTL)
	var evicted []*CallSession
	for id, cs := range s.sessions {
		if cs.LastActive.Before(cutoff) {
			evicted = append(evicted, cs)
			delete(s.sessions, id)
		}
	}
	if len(evicted) > 0 {
		s.logger.Info("evicted idle call sessions", "count", len(evicted))
	}
	return evicted
}

// Run sweeps idle sessions on the given interval until ctx is done,
// passing evicted sessions to onEvict when set.
func (s *Store) Run(done <-chan struct{}, interval time.Duration, onEvict func(*CallSession)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			for _, cs := range s.SweepIdle() {
				if onEvict != nil {
					onEvict(cs)
				}
			}
		}
	}
}
