package app

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roamfit/roamfit/pkg/types"
)

// defaultSessionIdle is how long a session may sit untouched before the
// reaper removes it.
const defaultSessionIdle = 30 * time.Minute

// Session is one chat session: an id plus its append-only turn history.
// Sessions are confined to the manager's lock; callers get copies.
type Session struct {
	ID       string
	Started  time.Time
	LastSeen time.Time
	history  []types.Message
}

// SessionManager tracks chat sessions in memory. Independent sessions run
// concurrently; the manager only guards the session map and per-session
// history, never any cycle state. All methods are safe for concurrent use.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	idle     time.Duration
	now      func() time.Time // test seam

	// onCount, when set, is called with +1/-1 as sessions come and go.
	onCount func(delta int64)
}

// SessionOption configures a [SessionManager].
type SessionOption func(*SessionManager)

// WithIdleTimeout overrides the idle duration after which sessions are reaped.
func WithIdleTimeout(d time.Duration) SessionOption {
	return func(sm *SessionManager) { sm.idle = d }
}

// WithSessionCounter registers a callback invoked with +1 when a session is
// created and -1 when one is reaped. Used to feed the active-sessions gauge.
func WithSessionCounter(fn func(delta int64)) SessionOption {
	return func(sm *SessionManager) { sm.onCount = fn }
}

// NewSessionManager creates an empty manager.
func NewSessionManager(opts ...SessionOption) *SessionManager {
	sm := &SessionManager{
		sessions: make(map[string]*Session),
		idle:     defaultSessionIdle,
		now:      time.Now,
	}
	for _, o := range opts {
		o(sm)
	}
	return sm
}

// Acquire returns the session with the given id, creating a fresh one when id
// is empty or unknown. The returned id is always valid for follow-up calls.
func (sm *SessionManager) Acquire(id string) (sessionID string, history []types.Message) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if s, ok := sm.sessions[id]; ok {
		s.LastSeen = sm.now()
		return s.ID, append([]types.Message(nil), s.history...)
	}

	s := &Session{
		ID:       uuid.NewString(),
		Started:  sm.now(),
		LastSeen: sm.now(),
	}
	sm.sessions[s.ID] = s
	if sm.onCount != nil {
		sm.onCount(1)
	}
	return s.ID, nil
}

// Append records one completed turn on the session. Unknown ids are ignored;
// the session may have been reaped while the turn was running.
func (sm *SessionManager) Append(id string, userMessage, assistantReply string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	s, ok := sm.sessions[id]
	if !ok {
		return
	}
	s.history = append(s.history,
		types.Message{Role: "user", Content: userMessage},
		types.Message{Role: "assistant", Content: assistantReply},
	)
	s.LastSeen = sm.now()
}

// Len returns the number of live sessions.
func (sm *SessionManager) Len() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// Reap removes every session idle longer than the configured timeout and
// returns how many were removed.
func (sm *SessionManager) Reap() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	cutoff := sm.now().Add(-sm.idle)
	removed := 0
	for id, s := range sm.sessions {
		if s.LastSeen.Before(cutoff) {
			delete(sm.sessions, id)
			removed++
			if sm.onCount != nil {
				sm.onCount(-1)
			}
		}
	}
	return removed
}
