package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roamfit/roamfit/internal/config"
	"github.com/roamfit/roamfit/internal/resilience"
	"github.com/roamfit/roamfit/pkg/provider/llm"
	"github.com/roamfit/roamfit/pkg/types"
)

// Planner decides the next step of a cycle. Implementations must be safe for
// concurrent use; the coordinator calls DecideNext once per planning round.
//
// The production implementation reasons with an LLM. Tests substitute a
// deterministic planner so the state machine's transitions, bounds, and error
// handling can be verified without a model.
type Planner interface {
	DecideNext(ctx context.Context, state *PlanState) (*PlanStep, error)
}

// planningPersona frames the planning model. Capability listings and decision
// rules are appended per request.
const planningPersona = `You are the coordinator of a fitness assistant. You fulfil the user's request
by delegating to capability services, one at a time, and then writing the final answer.

Decision rules:
- Invoke a capability only when its data is needed for this request.
- When the user attached a photo, detect equipment before generating a workout plan.
- When generating a workout plan, summarize history first so the plan can build on it.
- If a capability failed, do not invoke it again; answer with what you have and say
  which data is unavailable.
- Once you have everything you need, finalize.

Respond with a single JSON object, nothing else:
  {"action": "invoke", "capability": "<name>", "task": "<instruction for the capability>"}
or
  {"action": "final", "response": "<answer for the user>"}`

// LLMPlanner implements [Planner] with an LLM completion per round.
type LLMPlanner struct {
	llm   llm.Provider
	specs []config.CapabilitySpec
}

var _ Planner = (*LLMPlanner)(nil)

// NewLLMPlanner creates a planner that may delegate to the given capabilities.
func NewLLMPlanner(provider llm.Provider, specs []config.CapabilitySpec) *LLMPlanner {
	return &LLMPlanner{llm: provider, specs: specs}
}

// DecideNext implements [Planner]. The completion is retried once on failure.
func (p *LLMPlanner) DecideNext(ctx context.Context, state *PlanState) (*PlanStep, error) {
	resp, err := resilience.RetryOnce(ctx, "planning completion",
		func(ctx context.Context) (*llm.CompletionResponse, error) {
			return p.llm.Complete(ctx, llm.CompletionRequest{
				SystemPrompt: p.systemPrompt(),
				Messages:     p.buildMessages(state),
			})
		})
	if err != nil {
		return nil, fmt.Errorf("coordinator: planning completion: %w", err)
	}

	step, err := parsePlanStep(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}
	return step, nil
}

func (p *LLMPlanner) systemPrompt() string {
	var sb strings.Builder
	sb.WriteString(planningPersona)
	sb.WriteString("\n\nAvailable capabilities:\n")
	for _, spec := range p.specs {
		fmt.Fprintf(&sb, "- %s: %s\n", spec.Name, capabilityBlurb(spec.Name))
	}
	return sb.String()
}

// capabilityBlurb is the one-line planner-facing description of a built-in
// capability.
func capabilityBlurb(name string) string {
	switch name {
	case "equipment":
		return "detects fitness equipment in an attached photo"
	case "history":
		return "retrieves and summarizes past workouts"
	case "planner":
		return "generates a structured workout plan from equipment and history"
	case "analytics":
		return "reports workout statistics and weekly training frequency"
	case "location":
		return "finds nearby gyms and running spots for given coordinates"
	default:
		return "general-purpose capability"
	}
}

// buildMessages renders the session history, the current request, and the
// invocation results gathered so far.
func (p *LLMPlanner) buildMessages(state *PlanState) []types.Message {
	messages := make([]types.Message, 0, len(state.Request.History)+2)
	messages = append(messages, state.Request.History...)

	var sb strings.Builder
	sb.WriteString(state.Request.Message)
	if state.Request.Location != "" {
		fmt.Fprintf(&sb, "\n(location context: %s)", state.Request.Location)
	}
	if len(state.Request.Images) > 0 {
		sb.WriteString("\n(the user attached a photo)")
	}
	messages = append(messages, types.Message{Role: "user", Content: sb.String()})

	if len(state.Invocations) > 0 {
		var results strings.Builder
		results.WriteString("Capability results so far:\n")
		for _, inv := range state.Invocations {
			if inv.OK() {
				fmt.Fprintf(&results, "- %s: %s\n", inv.Capability, inv.Result)
			} else {
				fmt.Fprintf(&results, "- %s: FAILED (%s)\n", inv.Capability, inv.ErrorKind)
			}
		}
		messages = append(messages, types.Message{Role: "user", Content: results.String()})
	}
	return messages
}

// parsePlanStep extracts the planner's JSON decision from a model reply that
// may contain surrounding prose.
func parsePlanStep(content string) (*PlanStep, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("planning reply has no JSON object")
	}

	var decision struct {
		Action     string `json:"action"`
		Capability string `json:"capability"`
		Task       string `json:"task"`
		Response   string `json:"response"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &decision); err != nil {
		return nil, fmt.Errorf("parse planning reply: %w", err)
	}

	switch decision.Action {
	case "final":
		return &PlanStep{Done: true, FinalText: decision.Response}, nil
	case "invoke":
		if decision.Capability == "" {
			return nil, fmt.Errorf("planning reply names no capability")
		}
		return &PlanStep{Capability: decision.Capability, Task: decision.Task}, nil
	default:
		return nil, fmt.Errorf("planning reply has unknown action %q", decision.Action)
	}
}
