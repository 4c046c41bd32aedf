package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roamfit/roamfit/pkg/types"
)

// Compile-time interface check.
var _ Store = (*Postgres)(nil)

const ddl = `
CREATE TABLE IF NOT EXISTS workouts (
    id           BIGSERIAL    PRIMARY KEY,
    plan         JSONB        NOT NULL,
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    completed    BOOLEAN      NOT NULL DEFAULT false,
    completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_workouts_created_at
    ON workouts (created_at DESC);

CREATE TABLE IF NOT EXISTS equipment_detections (
    id          BIGSERIAL    PRIMARY KEY,
    equipment   JSONB        NOT NULL,
    location    TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS llm_logs (
    id                BIGSERIAL    PRIMARY KEY,
    provider          TEXT         NOT NULL,
    model             TEXT         NOT NULL,
    purpose           TEXT         NOT NULL DEFAULT '',
    prompt_tokens     INT          NOT NULL DEFAULT 0,
    completion_tokens INT          NOT NULL DEFAULT 0,
    latency_ms        BIGINT       NOT NULL DEFAULT 0,
    success           BOOLEAN      NOT NULL DEFAULT true,
    error             TEXT         NOT NULL DEFAULT '',
    created_at        TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_llm_logs_created_at
    ON llm_logs (created_at DESC);
`

// Postgres is the PostgreSQL-backed [Store] built on a single [pgxpool.Pool].
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres store, establishes a connection pool to the
// database at dsn, and runs [Migrate] to ensure all required tables exist.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Migrate creates or ensures all required database tables exist. It is
// idempotent (CREATE TABLE IF NOT EXISTS) and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// SaveWorkout implements [Store].
func (p *Postgres) SaveWorkout(ctx context.Context, plan types.WorkoutPlan) (int64, error) {
	data, err := json.Marshal(plan)
	if err != nil {
		return 0, fmt.Errorf("postgres store: marshal plan: %w", err)
	}

	var id int64
	err = p.pool.QueryRow(ctx,
		`INSERT INTO workouts (plan) VALUES ($1) RETURNING id`, data,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres store: save workout: %w", err)
	}
	return id, nil
}

// GetWorkout implements [Store].
func (p *Postgres) GetWorkout(ctx context.Context, id int64) (*Workout, error) {
	const q = `
		SELECT id, plan, created_at, completed, completed_at
		FROM   workouts
		WHERE  id = $1`

	w, err := scanWorkout(p.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get workout: %w", err)
	}
	return w, nil
}

// RecentWorkouts implements [Store].
func (p *Postgres) RecentWorkouts(ctx context.Context, limit int) ([]Workout, error) {
	const q = `
		SELECT id, plan, created_at, completed, completed_at
		FROM   workouts
		ORDER  BY created_at DESC
		LIMIT  $1`

	rows, err := p.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent workouts: %w", err)
	}

	workouts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Workout, error) {
		w, err := scanWorkout(row)
		if err != nil {
			return Workout{}, err
		}
		return *w, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan workouts: %w", err)
	}
	if workouts == nil {
		workouts = []Workout{}
	}
	return workouts, nil
}

// MarkCompleted implements [Store].
func (p *Postgres) MarkCompleted(ctx context.Context, id int64) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE workouts SET completed = true, completed_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres store: mark completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteWorkout implements [Store].
func (p *Postgres) DeleteWorkout(ctx context.Context, id int64) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM workouts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres store: delete workout: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveDetection implements [Store].
func (p *Postgres) SaveDetection(ctx context.Context, d Detection) (int64, error) {
	data, err := json.Marshal(d.Equipment)
	if err != nil {
		return 0, fmt.Errorf("postgres store: marshal equipment: %w", err)
	}

	var id int64
	err = p.pool.QueryRow(ctx,
		`INSERT INTO equipment_detections (equipment, location) VALUES ($1, $2) RETURNING id`,
		data, d.Location,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres store: save detection: %w", err)
	}
	return id, nil
}

// Stats implements [Store].
func (p *Postgres) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByFocus:  make(map[string]int),
		ByFormat: make(map[string]int),
	}

	const q = `
		SELECT count(*),
		       count(*) FILTER (WHERE completed),
		       min(created_at),
		       max(created_at)
		FROM   workouts`

	var first, last *time.Time
	if err := p.pool.QueryRow(ctx, q).Scan(&stats.Total, &stats.Completed, &first, &last); err != nil {
		return nil, fmt.Errorf("postgres store: stats: %w", err)
	}
	stats.First = first
	stats.Last = last

	const qGroups = `
		SELECT plan->>'focus', plan->>'format', count(*)
		FROM   workouts
		GROUP  BY 1, 2`

	rows, err := p.pool.Query(ctx, qGroups)
	if err != nil {
		return nil, fmt.Errorf("postgres store: stats groups: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var focus, format *string
		var count int
		if err := rows.Scan(&focus, &format, &count); err != nil {
			return nil, fmt.Errorf("postgres store: scan stats group: %w", err)
		}
		if focus != nil && *focus != "" {
			stats.ByFocus[*focus] += count
		}
		if format != nil && *format != "" {
			stats.ByFormat[*format] += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: stats groups: %w", err)
	}

	return stats, nil
}

// WeeklyFrequency implements [Store].
func (p *Postgres) WeeklyFrequency(ctx context.Context, weeks int) ([]WeekCount, error) {
	const q = `
		SELECT date_trunc('week', created_at) AS week_start, count(*)
		FROM   workouts
		WHERE  created_at >= date_trunc('week', now()) - ($1::int - 1) * interval '1 week'
		GROUP  BY 1`

	rows, err := p.pool.Query(ctx, q, weeks)
	if err != nil {
		return nil, fmt.Errorf("postgres store: weekly frequency: %w", err)
	}
	defer rows.Close()

	counts := make(map[time.Time]int)
	for rows.Next() {
		var week time.Time
		var count int
		if err := rows.Scan(&week, &count); err != nil {
			return nil, fmt.Errorf("postgres store: scan week: %w", err)
		}
		counts[week.UTC()] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: weekly frequency: %w", err)
	}

	return fillWeeks(time.Now().UTC(), weeks, counts), nil
}

// LogLLMCall implements [Store].
func (p *Postgres) LogLLMCall(ctx context.Context, rec LLMLog) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO llm_logs
		    (provider, model, purpose, prompt_tokens, completion_tokens, latency_ms, success, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.Provider,
		rec.Model,
		rec.Purpose,
		rec.PromptTokens,
		rec.CompletionTokens,
		rec.Latency.Milliseconds(),
		rec.Success,
		rec.ErrorText,
	)
	if err != nil {
		return fmt.Errorf("postgres store: log llm call: %w", err)
	}
	return nil
}

// Close implements [Store].
func (p *Postgres) Close() {
	p.pool.Close()
}

// scanWorkout scans one workout row, decoding the JSONB plan column.
func scanWorkout(row pgx.Row) (*Workout, error) {
	var (
		w    Workout
		data []byte
	)
	if err := row.Scan(&w.ID, &data, &w.CreatedAt, &w.Completed, &w.CompletedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &w.Plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return &w, nil
}

// fillWeeks produces one WeekCount per week ending at the week containing now,
// oldest first, substituting zero for weeks absent from counts.
func fillWeeks(now time.Time, weeks int, counts map[time.Time]int) []WeekCount {
	out := make([]WeekCount, 0, weeks)
	current := startOfWeek(now)
	for i := weeks - 1; i >= 0; i-- {
		week := current.AddDate(0, 0, -7*i)
		out = append(out, WeekCount{WeekStart: week, Count: counts[week]})
	}
	return out
}

// startOfWeek truncates t to the Monday of its ISO week, at midnight UTC.
func startOfWeek(t time.Time) time.Time {
	t = t.UTC()
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	day := t.AddDate(0, 0, -(weekday - 1))
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
}
