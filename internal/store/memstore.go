package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/roamfit/roamfit/pkg/types"
)

// Compile-time interface check.
var _ Store = (*Mem)(nil)

// Mem is an in-memory [Store]. It backs tests and deployments without a
// configured PostgreSQL DSN; all data is lost when the process exits.
type Mem struct {
	mu         sync.RWMutex
	workouts   map[int64]*Workout
	detections map[int64]*Detection
	llmLogs    []LLMLog
	nextID     int64
	nextDetID  int64
	now        func() time.Time // test seam
}

// NewMem returns an empty in-memory store.
func NewMem() *Mem {
	return &Mem{
		workouts:   make(map[int64]*Workout),
		detections: make(map[int64]*Detection),
		now:        time.Now,
	}
}

// SaveWorkout implements [Store].
func (m *Mem) SaveWorkout(_ context.Context, plan types.WorkoutPlan) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	m.workouts[m.nextID] = &Workout{
		ID:        m.nextID,
		Plan:      plan,
		CreatedAt: m.now().UTC(),
	}
	return m.nextID, nil
}

// GetWorkout implements [Store].
func (m *Mem) GetWorkout(_ context.Context, id int64) (*Workout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.workouts[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *w
	return &copied, nil
}

// RecentWorkouts implements [Store].
func (m *Mem) RecentWorkouts(_ context.Context, limit int) ([]Workout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]Workout, 0, len(m.workouts))
	for _, w := range m.workouts {
		all = append(all, *w)
	}
	// Newest first; id order is a stable tiebreaker.
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// MarkCompleted implements [Store].
func (m *Mem) MarkCompleted(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workouts[id]
	if !ok {
		return ErrNotFound
	}
	now := m.now().UTC()
	w.Completed = true
	w.CompletedAt = &now
	return nil
}

// DeleteWorkout implements [Store].
func (m *Mem) DeleteWorkout(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.workouts[id]; !ok {
		return ErrNotFound
	}
	delete(m.workouts, id)
	return nil
}

// SaveDetection implements [Store].
func (m *Mem) SaveDetection(_ context.Context, d Detection) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextDetID++
	d.ID = m.nextDetID
	d.CreatedAt = m.now().UTC()
	m.detections[d.ID] = &d
	return d.ID, nil
}

// Stats implements [Store].
func (m *Mem) Stats(_ context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{
		ByFocus:  make(map[string]int),
		ByFormat: make(map[string]int),
	}
	for _, w := range m.workouts {
		stats.Total++
		if w.Completed {
			stats.Completed++
		}
		if w.Plan.Focus != "" {
			stats.ByFocus[w.Plan.Focus]++
		}
		if w.Plan.Format != "" {
			stats.ByFormat[w.Plan.Format]++
		}
		created := w.CreatedAt
		if stats.First == nil || created.Before(*stats.First) {
			first := created
			stats.First = &first
		}
		if stats.Last == nil || created.After(*stats.Last) {
			last := created
			stats.Last = &last
		}
	}
	return stats, nil
}

// WeeklyFrequency implements [Store].
func (m *Mem) WeeklyFrequency(_ context.Context, weeks int) ([]WeekCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[time.Time]int)
	for _, w := range m.workouts {
		counts[startOfWeek(w.CreatedAt)]++
	}
	return fillWeeks(m.now().UTC(), weeks, counts), nil
}

// LogLLMCall implements [Store].
func (m *Mem) LogLLMCall(_ context.Context, rec LLMLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.llmLogs = append(m.llmLogs, rec)
	return nil
}

// SetNow overrides the clock used for new timestamps. Tests only.
func (m *Mem) SetNow(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// LLMLogs returns a copy of all recorded LLM call logs, oldest first.
// Useful in tests; the Postgres implementation has no retrieval equivalent.
func (m *Mem) LLMLogs() []LLMLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]LLMLog, len(m.llmLogs))
	copy(out, m.llmLogs)
	return out
}

// Close implements [Store].
func (m *Mem) Close() {}
