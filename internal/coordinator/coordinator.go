// Package coordinator runs the orchestration cycle.
//
// One cycle takes a user turn through Received → Planning → Invoking* →
// Finalizing (or Failed). Planning is delegated to a [Planner]; each planned
// step invokes exactly one capability adapter, sequentially, because every
// result can change the next decision. The loop is bounded by a configurable
// round count and a wall-clock budget; hitting either bound finalizes with a
// flagged partial result instead of hanging the caller.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/roamfit/roamfit/internal/adapter"
	"github.com/roamfit/roamfit/internal/config"
	"github.com/roamfit/roamfit/internal/observe"
	"github.com/roamfit/roamfit/internal/store"
	"github.com/roamfit/roamfit/pkg/types"
)

// Invoker is the slice of [adapter.Adapter] the coordinator depends on.
type Invoker interface {
	Invoke(ctx context.Context, task string, images [][]byte) (*adapter.Outcome, error)
}

// Coordinator drives cycles over a fixed set of capability adapters.
// It is stateless between cycles and safe for concurrent use; independent
// requests run concurrently, each with its own cycle.
type Coordinator struct {
	planner   Planner
	adapters  map[string]Invoker
	specs     map[string]config.CapabilitySpec
	maxRounds int
	budget    time.Duration
	store     store.Store // nil disables post-cycle plan persistence
	metrics   *observe.Metrics
	log       *slog.Logger
}

// New creates a coordinator. adapters and specs are keyed by capability name;
// every adapter must have a matching spec. st may be nil.
func New(planner Planner, adapters map[string]Invoker, specs map[string]config.CapabilitySpec, cfg config.CoordinatorConfig, st store.Store) *Coordinator {
	maxRounds := cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = config.DefaultCoordinatorMaxRounds
	}
	budget := cfg.TurnBudget
	if budget <= 0 {
		budget = config.DefaultTurnBudget
	}
	return &Coordinator{
		planner:   planner,
		adapters:  adapters,
		specs:     specs,
		maxRounds: maxRounds,
		budget:    budget,
		store:     st,
		metrics:   observe.DefaultMetrics(),
		log:       slog.With("component", "coordinator"),
	}
}

// Run executes one cycle for req and always returns a response: degraded and
// partial outcomes are responses too, only programming errors would panic.
func (c *Coordinator) Run(ctx context.Context, req *Request) *AggregatedResponse {
	ctx, cancel := context.WithTimeout(ctx, c.budget)
	defer cancel()

	ctx, span := observe.StartSpan(ctx, "coordinator.cycle",
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	state := &PlanState{Request: req}
	c.log.Debug("cycle received", "message_len", len(req.Message), "images", len(req.Images))

	for round := 1; round <= c.maxRounds; round++ {
		state.Round = round

		step, err := c.planner.DecideNext(ctx, state)
		if err != nil {
			if budgetExceeded(ctx, err) {
				return c.finalizePartial(state, ErrorKindBudget)
			}
			return c.fail(state, ErrorKindPlanning,
				"I could not work out how to handle that request. Please try again.", err)
		}

		if step.Done {
			return c.finalize(ctx, state, step.FinalText)
		}

		inv := c.invoke(ctx, state, step)
		state.Invocations = append(state.Invocations, inv)

		if !inv.OK() {
			if budgetExceeded(ctx, nil) {
				return c.finalizePartial(state, ErrorKindBudget)
			}
			if spec, ok := c.specs[step.Capability]; ok && spec.Required {
				return c.fail(state, string(inv.ErrorKind),
					fmt.Sprintf("The %s capability is required for this request but is unavailable.", step.Capability),
					errors.New(inv.Error))
			}
			// Degraded: the planner sees the failure next round and answers
			// without that capability's data.
		}
	}

	return c.finalizePartial(state, ErrorKindCycleBound)
}

// invoke runs one adapter invocation and records its outcome.
func (c *Coordinator) invoke(ctx context.Context, state *PlanState, step *PlanStep) Invocation {
	inv := Invocation{Capability: step.Capability, Task: step.Task}

	invoker, ok := c.adapters[step.Capability]
	if !ok {
		inv.ErrorKind = adapter.KindUnknownOperation
		inv.Error = fmt.Sprintf("no capability named %q is registered", step.Capability)
		c.log.Warn("planner chose unregistered capability", "capability", step.Capability)
		return inv
	}

	// Image attachments go only to vision-routed capabilities.
	var images [][]byte
	if spec, ok := c.specs[step.Capability]; ok && spec.Vision {
		images = state.Request.Images
	}

	ctx, span := observe.StartSpan(ctx, "coordinator.invoke",
		trace.WithAttributes(observe.Attr("capability", step.Capability)))
	defer span.End()

	start := time.Now()
	outcome, err := invoker.Invoke(ctx, step.Task, images)
	inv.Duration = time.Since(start)
	c.metrics.AdapterDuration.Record(ctx, inv.Duration.Seconds(),
		metric.WithAttributes(observe.Attr("capability", step.Capability)))

	if err != nil {
		var aerr *adapter.Error
		if errors.As(err, &aerr) {
			inv.ErrorKind = aerr.Kind
		} else {
			inv.ErrorKind = adapter.KindProtocol
		}
		inv.Error = err.Error()
		c.metrics.RecordAdapterError(ctx, step.Capability, string(inv.ErrorKind))
		c.log.Warn("invocation failed",
			"capability", step.Capability, "kind", inv.ErrorKind, "error", err)
		return inv
	}

	inv.Result = outcome.Content
	inv.Rounds = outcome.Rounds
	inv.OperationCalls = outcome.OperationCalls
	c.log.Debug("invocation complete",
		"capability", step.Capability, "duration", inv.Duration)
	return inv
}

// finalize builds the successful response, extracting and persisting any
// structured workout plan. Persistence happens only here, after the cycle.
func (c *Coordinator) finalize(ctx context.Context, state *PlanState, text string) *AggregatedResponse {
	resp := &AggregatedResponse{
		Text:        text,
		Invocations: state.Invocations,
		State:       StateFinalizing,
	}

	if plan := extractPlan(state, text); plan != nil {
		resp.Plan = plan
		if c.store != nil {
			id, err := c.store.SaveWorkout(ctx, *plan)
			if err != nil {
				c.log.Warn("failed to persist workout plan", "error", err)
			} else {
				resp.WorkoutID = id
			}
		}
	}
	return resp
}

// finalizePartial answers with whatever has been gathered so far.
func (c *Coordinator) finalizePartial(state *PlanState, kind string) *AggregatedResponse {
	c.log.Warn("cycle cut short", "kind", kind, "rounds", state.Round)

	text := "I could not fully complete that request in time."
	for i := len(state.Invocations) - 1; i >= 0; i-- {
		if state.Invocations[i].OK() {
			text = fmt.Sprintf("I could not fully complete that request; here is what I gathered: %s",
				state.Invocations[i].Result)
			break
		}
	}
	return &AggregatedResponse{
		Text:        text,
		Invocations: state.Invocations,
		Partial:     true,
		ErrorKind:   kind,
		State:       StateFinalizing,
	}
}

// fail builds the Failed response. explanation is for the caller; err goes to
// the log only.
func (c *Coordinator) fail(state *PlanState, kind, explanation string, err error) *AggregatedResponse {
	c.log.Error("cycle failed", "kind", kind, "error", err)
	return &AggregatedResponse{
		Text:        explanation,
		Invocations: state.Invocations,
		ErrorKind:   kind,
		State:       StateFailed,
	}
}

// budgetExceeded reports whether the cycle's wall clock ran out.
func budgetExceeded(ctx context.Context, err error) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded)
}

// extractPlan looks for a structured workout plan in the cycle's gathered
// results, newest first, then in the final text.
func extractPlan(state *PlanState, finalText string) *types.WorkoutPlan {
	for i := len(state.Invocations) - 1; i >= 0; i-- {
		if !state.Invocations[i].OK() {
			continue
		}
		if plan := parseWorkoutPlan(state.Invocations[i].Result); plan != nil {
			return plan
		}
	}
	return parseWorkoutPlan(finalText)
}

// parseWorkoutPlan extracts a valid plan from text that may contain prose.
// Both a bare plan object and a {"plan": {...}} wrapper are accepted.
func parseWorkoutPlan(content string) *types.WorkoutPlan {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return nil
	}
	raw := []byte(content[start : end+1])

	var wrapped struct {
		Plan types.WorkoutPlan `json:"plan"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && validPlan(&wrapped.Plan) {
		return &wrapped.Plan
	}

	var plan types.WorkoutPlan
	if err := json.Unmarshal(raw, &plan); err == nil && validPlan(&plan) {
		return &plan
	}
	return nil
}

func validPlan(plan *types.WorkoutPlan) bool {
	return types.ValidFormat(plan.Format) && len(plan.Exercises) > 0
}
