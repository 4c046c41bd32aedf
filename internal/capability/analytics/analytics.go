// Package analytics implements the workout-analytics capability service.
//
// It exposes aggregate statistics and weekly training frequency straight from
// the store; no LLM is involved.
package analytics

import (
	"context"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/roamfit/roamfit/internal/store"
)

const (
	defaultWeeks = 4
	maxWeeks     = 52
)

// Service is the workout-analytics capability.
type Service struct {
	store store.Store
}

// New creates the service.
func New(st store.Store) *Service {
	return &Service{store: st}
}

type statsOut struct {
	TotalWorkouts     int            `json:"total_workouts"`
	CompletedWorkouts int            `json:"completed_workouts"`
	CompletionRate    float64        `json:"completion_rate"`
	ByFocus           map[string]int `json:"by_focus,omitempty"`
	ByFormat          map[string]int `json:"by_format,omitempty"`
	FirstWorkout      string         `json:"first_workout,omitempty"`
	LastWorkout       string         `json:"last_workout,omitempty"`
}

type frequencyIn struct {
	Weeks int `json:"weeks,omitempty" jsonschema:"number of weeks to report, most recent last (default 4, max 52)"`
}

type frequencyOut struct {
	Weeks []weekEntry `json:"weeks"`
}

type weekEntry struct {
	WeekStart string `json:"week_start"`
	Count     int    `json:"count"`
}

// Register implements capability.Registrar.
func (s *Service) Register(server *mcpsdk.Server) {
	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "get_workout_stats",
		Description: "Return aggregate workout statistics: totals, completion rate, and breakdowns by focus and format.",
	}, s.stats)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "workout_frequency",
		Description: "Return per-week workout counts for the most recent weeks, oldest week first.",
	}, s.frequency)
}

func (s *Service) stats(ctx context.Context, _ *mcpsdk.CallToolRequest, _ struct{}) (*mcpsdk.CallToolResult, statsOut, error) {
	agg, err := s.store.Stats(ctx)
	if err != nil {
		return nil, statsOut{}, fmt.Errorf("get_workout_stats: %w", err)
	}

	out := statsOut{
		TotalWorkouts:     agg.Total,
		CompletedWorkouts: agg.Completed,
		ByFocus:           agg.ByFocus,
		ByFormat:          agg.ByFormat,
	}
	if agg.Total > 0 {
		out.CompletionRate = float64(agg.Completed) / float64(agg.Total)
	}
	if agg.First != nil {
		out.FirstWorkout = agg.First.Format(time.DateOnly)
	}
	if agg.Last != nil {
		out.LastWorkout = agg.Last.Format(time.DateOnly)
	}
	return nil, out, nil
}

func (s *Service) frequency(ctx context.Context, _ *mcpsdk.CallToolRequest, in frequencyIn) (*mcpsdk.CallToolResult, frequencyOut, error) {
	weeks := in.Weeks
	if weeks <= 0 {
		weeks = defaultWeeks
	}
	if weeks > maxWeeks {
		weeks = maxWeeks
	}

	counts, err := s.store.WeeklyFrequency(ctx, weeks)
	if err != nil {
		return nil, frequencyOut{}, fmt.Errorf("workout_frequency: %w", err)
	}

	out := frequencyOut{Weeks: make([]weekEntry, 0, len(counts))}
	for _, wc := range counts {
		out.Weeks = append(out.Weeks, weekEntry{
			WeekStart: wc.WeekStart.Format(time.DateOnly),
			Count:     wc.Count,
		})
	}
	return nil, out, nil
}
