package bot

import (
	"context"
	"sync"
	"time"

	"relaybot/pkg/logx"
)

// State is the per-admin broadcast flow state.
type State int

const (
	StateIdle State = iota
	StateAwaitingTarget
	StateAwaitingMessage
)

type session struct {
	state     State
	target    string
	updatedAt time.Time
}

// Sessions tracks in-flight admin flows, one slot per user, in memory only.
// Abandoned slots are reclaimed by Sweep after the TTL so an admin who walks
// away mid-flow is returned to Idle instead of staying stuck.
type Sessions struct {
	mu  sync.Mutex
	m   map[int64]*session
	ttl time.Duration
	log logx.Logger
}

func NewSessions(ttl time.Duration, log logx.Logger) *Sessions {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sessions{m: map[int64]*session{}, ttl: ttl, log: log}
}

// Get returns the user's current state and chosen target.
func (s *Sessions) Get(userID int64) (State, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.m[userID]
	if !ok {
		return StateIdle, ""
	}
	return st.state, st.target
}

// BeginTarget moves the user into the target-selection step.
func (s *Sessions) BeginTarget(userID int64) {
	s.mu.Lock()
	s.m[userID] = &session{state: StateAwaitingTarget, updatedAt: time.Now()}
	s.mu.Unlock()
}

// SetTarget stores the chosen target and advances to the message step.
// It reports false when the user was not in the target-selection step.
func (s *Sessions) SetTarget(userID int64, target string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.m[userID]
	if !ok || st.state != StateAwaitingTarget {
		return false
	}
	st.state = StateAwaitingMessage
	st.target = target
	st.updatedAt = time.Now()
	return true
}

// Reset returns the user to Idle.
func (s *Sessions) Reset(userID int64) {
	s.mu.Lock()
	delete(s.m, userID)
	s.mu.Unlock()
}

// Sweep periodically evicts sessions idle longer than the TTL.
// It blocks until ctx is done.
func (s *Sessions) Sweep(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sweepOnce(now)
		}
	}
}

func (s *Sessions) sweepOnce(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, st := range s.m {
		if now.Sub(st.updatedAt) > s.ttl {
			delete(s.m, id)
			s.log.Debug("stale session evicted", logx.Int64("user_id", id))
		}
	}
}
