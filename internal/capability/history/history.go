// Package history implements the workout-history capability service.
//
// It offers two operations: get_last_workout returns the most recent workout
// verbatim, and summarize_history condenses the recent history into a short
// narrative with an LLM so downstream planning can vary new workouts against
// what came before.
package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/roamfit/roamfit/internal/store"
	"github.com/roamfit/roamfit/pkg/provider/llm"
	"github.com/roamfit/roamfit/pkg/types"
)

const defaultSummaryLimit = 5

// Service is the workout-history capability.
type Service struct {
	store store.Store
	llm   llm.Provider
}

// New creates the service.
func New(st store.Store, provider llm.Provider) *Service {
	return &Service{store: st, llm: provider}
}

type lastWorkoutOut struct {
	Found   bool           `json:"found"`
	Workout *store.Workout `json:"workout,omitempty"`
}

type summarizeIn struct {
	Limit int `json:"limit,omitempty" jsonschema:"number of recent workouts to summarize (default 5)"`
}

type summarizeOut struct {
	Summary         string `json:"summary"`
	TotalWorkouts   int    `json:"total_workouts"`
	LastWorkoutDate string `json:"last_workout_date,omitempty"`
}

// Register implements capability.Registrar.
func (s *Service) Register(server *mcpsdk.Server) {
	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "get_last_workout",
		Description: "Return the most recent workout, or found=false when no history exists.",
	}, s.lastWorkout)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "summarize_history",
		Description: "Summarize the recent workout history in a few sentences, covering patterns, formats, and completion.",
	}, s.summarize)
}

func (s *Service) lastWorkout(ctx context.Context, _ *mcpsdk.CallToolRequest, _ struct{}) (*mcpsdk.CallToolResult, lastWorkoutOut, error) {
	workouts, err := s.store.RecentWorkouts(ctx, 1)
	if err != nil {
		return nil, lastWorkoutOut{}, fmt.Errorf("get_last_workout: %w", err)
	}
	if len(workouts) == 0 {
		return nil, lastWorkoutOut{Found: false}, nil
	}
	return nil, lastWorkoutOut{Found: true, Workout: &workouts[0]}, nil
}

func (s *Service) summarize(ctx context.Context, _ *mcpsdk.CallToolRequest, in summarizeIn) (*mcpsdk.CallToolResult, summarizeOut, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = defaultSummaryLimit
	}

	workouts, err := s.store.RecentWorkouts(ctx, limit)
	if err != nil {
		return nil, summarizeOut{}, fmt.Errorf("summarize_history: %w", err)
	}
	if len(workouts) == 0 {
		return nil, summarizeOut{Summary: "No workout history available.", TotalWorkouts: 0}, nil
	}

	prompt := summaryPrompt(workouts)
	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		Messages: []types.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, summarizeOut{}, fmt.Errorf("summarize_history: completion: %w", err)
	}

	return nil, summarizeOut{
		Summary:         strings.TrimSpace(resp.Content),
		TotalWorkouts:   len(workouts),
		LastWorkoutDate: workouts[0].CreatedAt.Format(time.DateOnly),
	}, nil
}

// summaryPrompt renders the workouts into a compact text block for the model.
func summaryPrompt(workouts []store.Workout) string {
	var sb strings.Builder
	for _, w := range workouts {
		fmt.Fprintf(&sb, "Date: %s\n", w.CreatedAt.Format(time.DateOnly))
		fmt.Fprintf(&sb, "Format: %s, Focus: %s, Duration: %d min\n", w.Plan.Format, w.Plan.Focus, w.Plan.DurationMinutes)
		names := make([]string, 0, len(w.Plan.Exercises))
		for _, e := range w.Plan.Exercises {
			names = append(names, e.Name)
		}
		fmt.Fprintf(&sb, "Exercises: %s\n", strings.Join(names, ", "))
		completed := "No"
		if w.Completed {
			completed = "Yes"
		}
		fmt.Fprintf(&sb, "Completed: %s\n---\n", completed)
	}

	return fmt.Sprintf(`Summarize the following workout history in 2-3 sentences.
Focus on patterns, formats used, and overall progress.

Workout History:
%s
Provide a concise summary:`, sb.String())
}
