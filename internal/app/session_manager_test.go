package app

import (
	"testing"
	"time"
)

func TestSessionManager_AcquireCreatesAndResumes(t *testing.T) {
	t.Parallel()
	sm := NewSessionManager()

	id, history := sm.Acquire("")
	if id == "" {
		t.Fatal("expected a fresh session id")
	}
	if len(history) != 0 {
		t.Errorf("fresh session history = %v", history)
	}

	sm.Append(id, "hello", "hi there")

	again, history := sm.Acquire(id)
	if again != id {
		t.Errorf("resumed id = %q, want %q", again, id)
	}
	if len(history) != 2 || history[0].Content != "hello" || history[1].Role != "assistant" {
		t.Errorf("history = %+v", history)
	}
}

func TestSessionManager_UnknownIDGetsFreshSession(t *testing.T) {
	t.Parallel()
	sm := NewSessionManager()

	id, history := sm.Acquire("never-issued")
	if id == "never-issued" {
		t.Error("unknown ids must not be adopted")
	}
	if history != nil {
		t.Errorf("history = %v, want nil", history)
	}
}

func TestSessionManager_HistoryIsACopy(t *testing.T) {
	t.Parallel()
	sm := NewSessionManager()
	id, _ := sm.Acquire("")
	sm.Append(id, "first", "reply")

	_, history := sm.Acquire(id)
	history[0].Content = "mutated"

	_, fresh := sm.Acquire(id)
	if fresh[0].Content != "first" {
		t.Errorf("caller mutation leaked into the session: %q", fresh[0].Content)
	}
}

func TestSessionManager_AppendToReapedSessionIsNoop(t *testing.T) {
	t.Parallel()
	sm := NewSessionManager()
	sm.Append("gone", "user", "assistant")
	if sm.Len() != 0 {
		t.Errorf("Len = %d, want 0", sm.Len())
	}
}

func TestSessionManager_ReapRemovesOnlyIdleSessions(t *testing.T) {
	t.Parallel()
	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	sm := NewSessionManager(WithIdleTimeout(10 * time.Minute))
	sm.now = func() time.Time { return current }

	stale, _ := sm.Acquire("")
	current = current.Add(15 * time.Minute)
	active, _ := sm.Acquire("")

	if n := sm.Reap(); n != 1 {
		t.Fatalf("Reap = %d, want 1", n)
	}
	if id, _ := sm.Acquire(active); id != active {
		t.Error("active session was reaped")
	}
	if id, _ := sm.Acquire(stale); id == stale {
		t.Error("stale session survived the reap")
	}
}

func TestSessionManager_CounterTracksLifecycle(t *testing.T) {
	t.Parallel()
	var count int64
	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	sm := NewSessionManager(
		WithIdleTimeout(time.Minute),
		WithSessionCounter(func(delta int64) { count += delta }),
	)
	sm.now = func() time.Time { return current }

	sm.Acquire("")
	sm.Acquire("")
	if count != 2 {
		t.Fatalf("count after two sessions = %d", count)
	}

	current = current.Add(2 * time.Minute)
	sm.Reap()
	if count != 0 {
		t.Errorf("count after reap = %d, want 0", count)
	}
}
