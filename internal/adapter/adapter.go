// Package adapter runs single capability invocations.
//
// An [Adapter] binds one capability spec to an LLM. Invoke opens a fresh
// channel to the capability subprocess, offers its discovered operations to
// the model as tools, and drives a bounded reasoning loop until the model
// produces a final answer. The channel is closed before Invoke returns on
// every path.
//
// Failure handling is asymmetric on purpose: LLM completions are retried
// exactly once, channel failures are never retried. Operation-level failures
// (including per-call timeouts) are fed back into the reasoning loop as tool
// results so the model can adapt or answer without them.
package adapter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/roamfit/roamfit/internal/config"
	"github.com/roamfit/roamfit/internal/observe"
	"github.com/roamfit/roamfit/internal/resilience"
	"github.com/roamfit/roamfit/internal/toolclient"
	"github.com/roamfit/roamfit/pkg/provider/llm"
	"github.com/roamfit/roamfit/pkg/types"
)

// Kind classifies an invocation failure.
type Kind string

const (
	KindConnection       Kind = "connection"
	KindProtocol         Kind = "protocol"
	KindUnknownOperation Kind = "unknown_operation"
	KindUpstream         Kind = "upstream_failure"
	KindTimeout          Kind = "timeout"
)

// Error is an invocation failure with its classification attached.
type Error struct {
	Kind       Kind
	Capability string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("adapter: capability %q: %s: %v", e.Capability, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Channel is the slice of [toolclient.Client] an invocation depends on.
// Narrowed to an interface so tests can substitute in-memory channels.
type Channel interface {
	Operations() []types.ToolDefinition
	Call(ctx context.Context, name string, args string) (*toolclient.Result, error)
	Close() error
}

// ConnectFunc opens a channel to a capability subprocess.
type ConnectFunc func(ctx context.Context, spec config.CapabilitySpec) (Channel, error)

// Outcome is the result of a successful invocation.
type Outcome struct {
	// Content is the model's final textual answer.
	Content string

	// Rounds is the number of completed reasoning rounds.
	Rounds int

	// OperationCalls is the number of operations invoked on the capability.
	OperationCalls int

	// Duration is the wall-clock time of the whole invocation.
	Duration time.Duration
}

// Adapter binds a capability spec to an LLM backend.
// It is stateless between invocations and safe for concurrent use.
type Adapter struct {
	mu      sync.RWMutex
	spec    config.CapabilitySpec
	llm     llm.Provider
	connect ConnectFunc
	log     *slog.Logger
}

// Option configures an [Adapter].
type Option func(*Adapter)

// WithConnectFunc overrides how the adapter opens capability channels.
// Used by tests; the default launches the configured subprocess.
func WithConnectFunc(connect ConnectFunc) Option {
	return func(a *Adapter) { a.connect = connect }
}

// New creates an adapter for the given capability. provider must be
// vision-capable when the spec routes image attachments to this capability.
func New(spec config.CapabilitySpec, provider llm.Provider, opts ...Option) *Adapter {
	a := &Adapter{
		spec: spec,
		llm:  provider,
		connect: func(ctx context.Context, spec config.CapabilitySpec) (Channel, error) {
			return toolclient.Connect(ctx, spec)
		},
		log: slog.With("capability", spec.Name),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the capability name this adapter drives.
func (a *Adapter) Name() string { return a.snapshot().Name }

// UpdateSpec swaps in a changed spec. In-flight invocations keep the spec
// they started with; the next Invoke sees the update. Command and Env changes
// take effect naturally since each invocation launches a fresh subprocess.
func (a *Adapter) UpdateSpec(spec config.CapabilitySpec) {
	a.mu.Lock()
	a.spec = spec
	a.mu.Unlock()
}

func (a *Adapter) snapshot() config.CapabilitySpec {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.spec
}

// Invoke runs one capability invocation: it opens the channel, lets the model
// reason over the discovered operations, and returns the model's final
// answer. images are attached (base64-encoded into the arguments) to calls of
// operations whose schema declares an image_base64 parameter; other calls go
// out untouched.
//
// Failures are returned as [*Error] carrying their [Kind].
func (a *Adapter) Invoke(ctx context.Context, task string, images [][]byte) (*Outcome, error) {
	start := time.Now()
	spec := a.snapshot()

	channel, err := a.connect(ctx, spec)
	if err != nil {
		return nil, a.classify(spec.Name, err)
	}
	defer func() {
		if cerr := channel.Close(); cerr != nil {
			a.log.Warn("closing capability channel", "error", cerr)
		}
	}()

	instruction := spec.Instruction
	if instruction == "" {
		instruction = DefaultInstruction(spec.Name)
	}

	messages := []types.Message{
		{Role: "user", Content: task},
	}

	maxRounds := spec.MaxRounds
	if maxRounds <= 0 {
		maxRounds = config.DefaultAdapterMaxRounds
	}

	imageOps := imageAcceptingOps(channel.Operations())

	outcome := &Outcome{}
	var lastFailure *toolclient.Result

	for round := 1; round <= maxRounds; round++ {
		resp, err := resilience.RetryOnce(ctx, "llm completion",
			func(ctx context.Context) (*llm.CompletionResponse, error) {
				return a.llm.Complete(ctx, llm.CompletionRequest{
					SystemPrompt: instruction,
					Messages:     messages,
					Tools:        channel.Operations(),
				})
			})
		if err != nil {
			return nil, &Error{Kind: KindUpstream, Capability: spec.Name,
				Err: fmt.Errorf("completion failed after retry: %w", err)}
		}
		outcome.Rounds = round

		if len(resp.ToolCalls) == 0 {
			outcome.Content = resp.Content
			outcome.Duration = time.Since(start)
			a.log.Debug("invocation complete",
				"rounds", outcome.Rounds, "operation_calls", outcome.OperationCalls)
			return outcome, nil
		}

		messages = append(messages, types.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			args := call.Arguments
			if len(images) > 0 && imageOps[call.Name] {
				args, err = injectImage(args, images[0])
				if err != nil {
					return nil, &Error{Kind: KindProtocol, Capability: spec.Name, Err: err}
				}
			}

			result, err := channel.Call(ctx, call.Name, args)
			if err != nil {
				return nil, a.classify(spec.Name, err)
			}
			outcome.OperationCalls++
			observe.DefaultMetrics().OperationCallDuration.Record(ctx, result.Duration.Seconds(),
				metric.WithAttributes(
					observe.Attr("capability", spec.Name),
					observe.Attr("operation", call.Name),
				))
			if result.IsError {
				lastFailure = result
				a.log.Warn("operation failed",
					"operation", call.Name, "call_id", result.CallID, "timed_out", result.TimedOut)
			}

			messages = append(messages, types.Message{
				Role:       "tool",
				ToolCallID: call.ID,
				Content:    result.Content,
			})
		}
	}

	return nil, &Error{
		Kind:       exhaustionKind(lastFailure),
		Capability: spec.Name,
		Err:        fmt.Errorf("no final answer after %d reasoning rounds", maxRounds),
	}
}

// classify wraps channel errors with their failure kind.
func (a *Adapter) classify(capability string, err error) *Error {
	kind := KindProtocol
	switch {
	case errors.Is(err, toolclient.ErrConnection):
		kind = KindConnection
	case errors.Is(err, toolclient.ErrUnknownOperation):
		kind = KindUnknownOperation
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	}
	return &Error{Kind: kind, Capability: capability, Err: err}
}

// exhaustionKind picks the failure kind when the reasoning loop runs out of
// rounds: the last observed operation failure wins, upstream by default.
func exhaustionKind(lastFailure *toolclient.Result) Kind {
	if lastFailure != nil && lastFailure.TimedOut {
		return KindTimeout
	}
	return KindUpstream
}

// imageAcceptingOps returns the names of operations whose parameter schema
// declares an image_base64 property. Strict-schema capabilities reject
// arguments outside their schema, so only these calls get an image attached.
func imageAcceptingOps(ops []types.ToolDefinition) map[string]bool {
	accepts := make(map[string]bool, len(ops))
	for _, op := range ops {
		props, ok := op.Parameters["properties"].(map[string]any)
		if !ok {
			continue
		}
		if _, ok := props["image_base64"]; ok {
			accepts[op.Name] = true
		}
	}
	return accepts
}

// injectImage adds a base64-encoded image to the call arguments unless the
// model already supplied one.
func injectImage(args string, image []byte) (string, error) {
	parsed := make(map[string]any)
	if args != "" {
		if err := json.Unmarshal([]byte(args), &parsed); err != nil {
			return "", fmt.Errorf("inject image: parse arguments: %w", err)
		}
	}
	if existing, ok := parsed["image_base64"].(string); !ok || existing == "" {
		parsed["image_base64"] = base64.StdEncoding.EncodeToString(image)
	}
	out, err := json.Marshal(parsed)
	if err != nil {
		return "", fmt.Errorf("inject image: encode arguments: %w", err)
	}
	return string(out), nil
}
