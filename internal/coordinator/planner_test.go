package coordinator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/roamfit/roamfit/internal/adapter"
	"github.com/roamfit/roamfit/internal/config"
	"github.com/roamfit/roamfit/pkg/provider/llm/mock"
	"github.com/roamfit/roamfit/pkg/types"
)

func plannerSpecs() []config.CapabilitySpec {
	return []config.CapabilitySpec{
		{Name: "equipment"}, {Name: "history"}, {Name: "planner"},
	}
}

func TestDecideNext_Invoke(t *testing.T) {
	t.Parallel()
	provider := mock.New(mock.Reply(
		`{"action": "invoke", "capability": "history", "task": "summarize the last 5 workouts"}`))
	p := NewLLMPlanner(provider, plannerSpecs())

	step, err := p.DecideNext(context.Background(), &PlanState{
		Request: &Request{Message: "plan me a workout"},
	})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if step.Done || step.Capability != "history" {
		t.Errorf("step = %+v", step)
	}
	if step.Task != "summarize the last 5 workouts" {
		t.Errorf("task = %q", step.Task)
	}
}

func TestDecideNext_Final(t *testing.T) {
	t.Parallel()
	provider := mock.New(mock.Reply(
		`Thinking done. {"action": "final", "response": "You trained 3 times last week."}`))
	p := NewLLMPlanner(provider, plannerSpecs())

	step, err := p.DecideNext(context.Background(), &PlanState{
		Request: &Request{Message: "how often did I train?"},
	})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if !step.Done || step.FinalText != "You trained 3 times last week." {
		t.Errorf("step = %+v", step)
	}
}

func TestDecideNext_PromptCarriesContext(t *testing.T) {
	t.Parallel()
	provider := mock.New(mock.Reply(`{"action": "final", "response": "ok"}`))
	p := NewLLMPlanner(provider, plannerSpecs())

	state := &PlanState{
		Request: &Request{
			Message:  "make me a workout from my photo",
			Images:   [][]byte{{1}},
			Location: "hotel gym",
			History:  []types.Message{{Role: "user", Content: "earlier turn"}},
		},
		Invocations: []Invocation{
			{Capability: "equipment", Result: `["dumbbells"]`},
			{Capability: "location", ErrorKind: adapter.KindConnection, Error: "down"},
		},
	}
	if _, err := p.DecideNext(context.Background(), state); err != nil {
		t.Fatalf("decide: %v", err)
	}

	req := provider.CompleteCalls[0]
	for _, fragment := range []string{"equipment", "history", "planner"} {
		if !strings.Contains(req.SystemPrompt, fragment) {
			t.Errorf("system prompt missing capability %q", fragment)
		}
	}
	all := req.SystemPrompt
	for _, m := range req.Messages {
		all += "\n" + m.Content
	}
	for _, fragment := range []string{
		"attached a photo", "hotel gym", "earlier turn", `["dumbbells"]`, "FAILED (connection)",
	} {
		if !strings.Contains(all, fragment) {
			t.Errorf("planning context missing %q", fragment)
		}
	}
}

func TestDecideNext_RetriesOnce(t *testing.T) {
	t.Parallel()
	provider := mock.New(
		mock.Fail(errors.New("flaky")),
		mock.Reply(`{"action": "final", "response": "ok"}`),
	)
	p := NewLLMPlanner(provider, plannerSpecs())

	step, err := p.DecideNext(context.Background(), &PlanState{Request: &Request{Message: "hi"}})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if !step.Done {
		t.Errorf("step = %+v", step)
	}
	if len(provider.CompleteCalls) != 2 {
		t.Errorf("completions = %d, want 2", len(provider.CompleteCalls))
	}
}

func TestParsePlanStep(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"invoke", `{"action": "invoke", "capability": "history", "task": "t"}`, ""},
		{"final", `{"action": "final", "response": "done"}`, ""},
		{"no json", "I think we should call history", "no JSON object"},
		{"unknown action", `{"action": "ponder"}`, "unknown action"},
		{"invoke without capability", `{"action": "invoke", "task": "t"}`, "names no capability"},
		{"malformed", `{"action": `, "no JSON object"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := parsePlanStep(tc.content)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("parsePlanStep: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want contains %q", err, tc.wantErr)
			}
		})
	}
}
