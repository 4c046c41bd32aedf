package planner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/roamfit/roamfit/internal/store"
	"github.com/roamfit/roamfit/pkg/provider/llm/mock"
)

const planJSON = `{
  "format": "AMRAP",
  "exercises": [
    {"name": "dumbbell thrusters", "reps": 12},
    {"name": "burpees", "reps": 10}
  ],
  "duration_minutes": 20,
  "focus": "full_body",
  "workout_description": "20 minute AMRAP.",
  "warmup": "row easy 3 minutes",
  "cooldown": "stretch"
}`

func TestGenerate_ParsesAndPersists(t *testing.T) {
	t.Parallel()
	provider := mock.New(mock.Reply("Here you go:\n" + planJSON))
	st := store.NewMem()
	svc := New(provider, st)

	_, out, err := svc.generate(context.Background(), nil, generateIn{
		Equipment:       []string{"dumbbells", "bench"},
		HistorySummary:  "mostly upper body lately",
		DurationMinutes: 20,
		Focus:           "full_body",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if out.Plan.Format != "AMRAP" {
		t.Errorf("format = %q, want AMRAP", out.Plan.Format)
	}
	if len(out.Plan.Exercises) != 2 || out.Plan.Exercises[0].Name != "dumbbell thrusters" {
		t.Errorf("exercises = %+v", out.Plan.Exercises)
	}
	if out.WorkoutID == 0 {
		t.Error("plan should have been persisted with an id")
	}
	saved, err := st.GetWorkout(context.Background(), out.WorkoutID)
	if err != nil {
		t.Fatalf("persisted plan not found: %v", err)
	}
	if saved.Plan.Format != "AMRAP" {
		t.Errorf("persisted format = %q", saved.Plan.Format)
	}
}

func TestGenerate_PromptCarriesConstraints(t *testing.T) {
	t.Parallel()
	provider := mock.New(mock.Reply(planJSON))
	svc := New(provider, nil)

	_, _, err := svc.generate(context.Background(), nil, generateIn{
		Equipment:      []string{"kettlebell"},
		HistorySummary: "three AMRAPs last week",
		Focus:          "cardio",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if len(provider.CompleteCalls) != 1 {
		t.Fatalf("completions = %d, want 1", len(provider.CompleteCalls))
	}
	msgs := provider.CompleteCalls[0].Messages
	if len(msgs) != 2 || msgs[0].Role != "system" {
		t.Fatalf("messages = %+v", msgs)
	}
	user := msgs[1].Content
	for _, fragment := range []string{"kettlebell", "30 minutes", "cardio", "three AMRAPs last week"} {
		if !strings.Contains(user, fragment) {
			t.Errorf("user message missing %q", fragment)
		}
	}
}

func TestGenerate_BodyweightDefault(t *testing.T) {
	t.Parallel()
	provider := mock.New(mock.Reply(planJSON))
	svc := New(provider, nil)

	_, _, err := svc.generate(context.Background(), nil, generateIn{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(provider.CompleteCalls[0].Messages[1].Content, "bodyweight only") {
		t.Error("empty equipment should fall back to bodyweight only")
	}
}

func TestGenerate_CompletionFailure(t *testing.T) {
	t.Parallel()
	svc := New(mock.New(mock.Fail(errors.New("rate limited"))), nil)

	_, _, err := svc.generate(context.Background(), nil, generateIn{})
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected completion error, got: %v", err)
	}
}

func TestParsePlan(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"valid", planJSON, ""},
		{"prose around json", "Sure!\n" + planJSON + "\nEnjoy.", ""},
		{"no json", "just prose", "no JSON object"},
		{"bad format", `{"format": "Yoga Flow", "exercises": [{"name": "x", "reps": 1}]}`, "unknown workout format"},
		{"no exercises", `{"format": "EMOM", "exercises": []}`, "no exercises"},
		{"malformed", `{"format": "EMOM", "exercises": [}`, "parse model response"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			plan, err := parsePlan(tc.content)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("err = %v, want contains %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parsePlan: %v", err)
			}
			if plan.Format != "AMRAP" {
				t.Errorf("format = %q", plan.Format)
			}
		})
	}
}

func TestParsePlan_DefaultsDuration(t *testing.T) {
	t.Parallel()
	plan, err := parsePlan(`{"format": "For Time", "exercises": [{"name": "run", "reps": 1}]}`)
	if err != nil {
		t.Fatalf("parsePlan: %v", err)
	}
	if plan.DurationMinutes != defaultDurationMinutes {
		t.Errorf("duration = %d, want %d", plan.DurationMinutes, defaultDurationMinutes)
	}
}
