package coordinator

import (
	"time"

	"github.com/roamfit/roamfit/internal/adapter"
	"github.com/roamfit/roamfit/pkg/types"
)

// State is a phase of one coordination cycle.
type State string

const (
	StateReceived   State = "received"
	StatePlanning   State = "planning"
	StateInvoking   State = "invoking"
	StateFinalizing State = "finalizing"
	StateFailed     State = "failed"
)

// Error kinds surfaced on [AggregatedResponse] beyond the adapter kinds.
const (
	// ErrorKindCycleBound marks a partial response produced because the
	// planning loop hit its round bound.
	ErrorKindCycleBound = "cycle_bound_exceeded"

	// ErrorKindBudget marks a partial response produced because the cycle's
	// wall-clock budget ran out.
	ErrorKindBudget = "turn_budget_exceeded"

	// ErrorKindPlanning marks a failure of the planning step itself.
	ErrorKindPlanning = "planning_failure"
)

// Request is one user turn handed to the coordinator.
type Request struct {
	// Message is the user's free-text request.
	Message string

	// Images holds raw image payloads attached to the turn.
	Images [][]byte

	// Location is optional free-text location context ("hotel gym in Lisbon").
	Location string

	// History is the prior turns of this session, oldest first.
	History []types.Message
}

// PlanStep is one planning decision: either invoke a capability or finalize.
type PlanStep struct {
	// Done means the cycle is complete; FinalText carries the answer.
	Done      bool
	FinalText string

	// Capability and Task describe the next invocation when Done is false.
	Capability string
	Task       string
}

// Invocation records one adapter invocation and its outcome.
type Invocation struct {
	Capability     string        `json:"capability"`
	Task           string        `json:"task"`
	Result         string        `json:"result,omitempty"`
	ErrorKind      adapter.Kind  `json:"error_kind,omitempty"`
	Error          string        `json:"error,omitempty"`
	Rounds         int           `json:"rounds,omitempty"`
	OperationCalls int           `json:"operation_calls,omitempty"`
	Duration       time.Duration `json:"duration_ms,omitempty"`
}

// OK reports whether the invocation succeeded.
func (inv Invocation) OK() bool { return inv.ErrorKind == "" }

// AggregatedResponse is the immutable outcome of one cycle.
type AggregatedResponse struct {
	// Text is the final answer for the caller. On Failed cycles it is a
	// human-readable explanation, never raw transport detail.
	Text string `json:"response"`

	// Plan is set when the cycle produced a structured workout plan.
	Plan *types.WorkoutPlan `json:"plan,omitempty"`

	// WorkoutID is the persisted id of Plan, when a store is configured.
	WorkoutID int64 `json:"workout_id,omitempty"`

	// Invocations lists every adapter invocation of the cycle, in order.
	Invocations []Invocation `json:"invocations"`

	// Partial is true when the cycle was cut short (round bound or budget)
	// and Text reflects only what was gathered.
	Partial bool `json:"partial,omitempty"`

	// ErrorKind is the machine-readable failure classification, empty on
	// fully successful cycles.
	ErrorKind string `json:"error_kind,omitempty"`

	// State is the terminal state, [StateFinalizing] or [StateFailed].
	State State `json:"-"`
}

// PlanState is the read-only view of the cycle handed to the [Planner].
type PlanState struct {
	Request     *Request
	Invocations []Invocation
	Round       int
}
