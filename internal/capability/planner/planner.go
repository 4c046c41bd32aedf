// Package planner implements the plan-generator capability service.
//
// Its single operation, generate_workout, asks an LLM to produce a
// CrossFit-style workout plan tailored to the available equipment and recent
// history, validates the result, and persists it.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/roamfit/roamfit/internal/store"
	"github.com/roamfit/roamfit/pkg/provider/llm"
	"github.com/roamfit/roamfit/pkg/types"
)

const (
	defaultDurationMinutes = 30
	defaultFocus           = "full_body"
)

// generatorPersona frames the model as a box coach and pins down the JSON
// shape so responses parse directly into [types.WorkoutPlan].
const generatorPersona = `You are an experienced CrossFit coach writing workouts on a whiteboard.

Workout formats you may use:
- EMOM (Every Minute On the Minute)
- AMRAP (As Many Rounds As Possible)
- For Time
- Rounds for Time
- Tabata
- Chipper

Rules:
- Use only the equipment listed; bodyweight movements are always allowed.
- Scale difficulty to the athlete's recent history when one is provided.
- Keep it whiteboard style: short exercise names and rep counts.

Respond with a JSON object in exactly this format:
{
  "format": "AMRAP",
  "exercises": [
    {"name": "push-ups", "reps": 10, "instructions": "chest to deck", "sets": 0, "rest_seconds": 0}
  ],
  "duration_minutes": 20,
  "focus": "upper_body",
  "workout_description": "20 minute AMRAP of the movements below.",
  "warmup": "3 minutes easy rowing, arm circles",
  "cooldown": "couch stretch, 2 minutes each side"
}

focus must be one of: upper_body, lower_body, full_body, cardio.
JSON response:`

// Service is the plan-generator capability.
type Service struct {
	llm   llm.Provider
	store store.Store // nil disables plan persistence
}

// New creates the service. st may be nil, in which case generated plans are
// not persisted.
func New(provider llm.Provider, st store.Store) *Service {
	return &Service{llm: provider, store: st}
}

type generateIn struct {
	Equipment       []string `json:"equipment,omitempty" jsonschema:"equipment available to the athlete, canonical snake_case names"`
	HistorySummary  string   `json:"history_summary,omitempty" jsonschema:"short summary of the athlete's recent workouts"`
	DurationMinutes int      `json:"duration_minutes,omitempty" jsonschema:"target workout length in minutes (default 30)"`
	Focus           string   `json:"focus,omitempty" jsonschema:"one of upper_body, lower_body, full_body, cardio (default full_body)"`
}

type generateOut struct {
	Plan      types.WorkoutPlan `json:"plan"`
	WorkoutID int64             `json:"workout_id,omitempty"`
}

// Register implements capability.Registrar.
func (s *Service) Register(server *mcpsdk.Server) {
	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "generate_workout",
		Description: "Generate a CrossFit-style workout plan from available equipment and recent history.",
	}, s.generate)
}

func (s *Service) generate(ctx context.Context, _ *mcpsdk.CallToolRequest, in generateIn) (*mcpsdk.CallToolResult, generateOut, error) {
	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		Messages: []types.Message{
			{Role: "system", Content: generatorPersona},
			{Role: "user", Content: buildRequest(in)},
		},
	})
	if err != nil {
		return nil, generateOut{}, fmt.Errorf("generate_workout: completion: %w", err)
	}

	plan, err := parsePlan(resp.Content)
	if err != nil {
		return nil, generateOut{}, fmt.Errorf("generate_workout: %w", err)
	}

	out := generateOut{Plan: *plan}
	if s.store != nil {
		id, err := s.store.SaveWorkout(ctx, *plan)
		if err != nil {
			// Persistence is best-effort; the plan itself is still usable.
			slog.Warn("planner: failed to persist workout", "err", err)
		} else {
			out.WorkoutID = id
		}
	}
	return nil, out, nil
}

// buildRequest renders the athlete's constraints into the user message.
func buildRequest(in generateIn) string {
	duration := in.DurationMinutes
	if duration <= 0 {
		duration = defaultDurationMinutes
	}
	focus := strings.TrimSpace(in.Focus)
	if focus == "" {
		focus = defaultFocus
	}
	equipment := "bodyweight only"
	if len(in.Equipment) > 0 {
		equipment = strings.Join(in.Equipment, ", ")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Available equipment: %s\n", equipment)
	fmt.Fprintf(&sb, "Target duration: %d minutes\n", duration)
	fmt.Fprintf(&sb, "Focus: %s\n", focus)
	if in.HistorySummary != "" {
		fmt.Fprintf(&sb, "Recent history: %s\n", in.HistorySummary)
	}
	sb.WriteString("\nWrite today's workout.")
	return sb.String()
}

// parsePlan extracts and validates the workout plan from a model reply that
// may contain surrounding prose.
func parsePlan(content string) (*types.WorkoutPlan, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in model response")
	}

	var plan types.WorkoutPlan
	if err := json.Unmarshal([]byte(content[start:end+1]), &plan); err != nil {
		return nil, fmt.Errorf("parse model response: %w", err)
	}

	if !types.ValidFormat(plan.Format) {
		return nil, fmt.Errorf("model returned unknown workout format %q", plan.Format)
	}
	if len(plan.Exercises) == 0 {
		return nil, fmt.Errorf("model returned a plan with no exercises")
	}
	if plan.DurationMinutes <= 0 {
		plan.DurationMinutes = defaultDurationMinutes
	}
	return &plan, nil
}
