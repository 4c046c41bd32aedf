// Package store defines the persistence layer for workouts, equipment
// detections, and LLM call logs.
//
// Two implementations exist: [Postgres] (pgx connection pool, used in
// production) and [Mem] (in-memory, used in tests and when no DSN is
// configured). Both are safe for concurrent use.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/roamfit/roamfit/pkg/types"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Workout is a persisted workout plan.
type Workout struct {
	ID          int64             `json:"id"`
	Plan        types.WorkoutPlan `json:"plan"`
	CreatedAt   time.Time         `json:"created_at"`
	Completed   bool              `json:"completed"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// Detection records one equipment-recognition outcome.
type Detection struct {
	ID        int64     `json:"id"`
	Equipment []string  `json:"equipment"`
	Location  string    `json:"location,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats aggregates the workout history.
type Stats struct {
	Total     int            `json:"total"`
	Completed int            `json:"completed"`
	ByFocus   map[string]int `json:"by_focus"`
	ByFormat  map[string]int `json:"by_format"`
	First     *time.Time     `json:"first,omitempty"`
	Last      *time.Time     `json:"last,omitempty"`
}

// WeekCount is the number of workouts created in one ISO week.
type WeekCount struct {
	WeekStart time.Time `json:"week_start"`
	Count     int       `json:"count"`
}

// LLMLog records one LLM completion call for auditing and cost tracking.
type LLMLog struct {
	Provider         string
	Model            string
	Purpose          string
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
	Success          bool
	ErrorText        string
}

// Store is the persistence abstraction shared by the coordinator, the HTTP
// API, and the store-backed capability services.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// SaveWorkout persists a new workout plan and returns its id.
	SaveWorkout(ctx context.Context, plan types.WorkoutPlan) (int64, error)

	// GetWorkout returns the workout with the given id, or [ErrNotFound].
	GetWorkout(ctx context.Context, id int64) (*Workout, error)

	// RecentWorkouts returns up to limit workouts, newest first.
	RecentWorkouts(ctx context.Context, limit int) ([]Workout, error)

	// MarkCompleted flags the workout as completed, stamping the completion
	// time. Returns [ErrNotFound] if no such workout exists.
	MarkCompleted(ctx context.Context, id int64) error

	// DeleteWorkout removes the workout. Returns [ErrNotFound] if no such
	// workout exists.
	DeleteWorkout(ctx context.Context, id int64) error

	// SaveDetection persists an equipment-recognition outcome.
	SaveDetection(ctx context.Context, d Detection) (int64, error)

	// Stats aggregates the full workout history.
	Stats(ctx context.Context) (*Stats, error)

	// WeeklyFrequency returns per-week workout counts for the most recent
	// weeks, oldest week first. Weeks with no workouts are included with a
	// zero count.
	WeeklyFrequency(ctx context.Context, weeks int) ([]WeekCount, error)

	// LogLLMCall records one LLM completion call. Failures to log must not be
	// fatal for callers; they should be logged and swallowed upstream.
	LogLLMCall(ctx context.Context, rec LLMLog) error

	// Close releases all resources held by the store.
	Close()
}
