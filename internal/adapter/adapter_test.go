package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/roamfit/roamfit/internal/config"
	"github.com/roamfit/roamfit/internal/toolclient"
	"github.com/roamfit/roamfit/pkg/provider/llm/mock"
	"github.com/roamfit/roamfit/pkg/types"
)

// fakeChannel scripts operation results without a subprocess.
type fakeChannel struct {
	ops     []types.ToolDefinition
	results map[string]*toolclient.Result
	callErr error
	calls   []recordedCall
	closed  bool
}

type recordedCall struct {
	name string
	args string
}

func (f *fakeChannel) Operations() []types.ToolDefinition { return f.ops }

func (f *fakeChannel) Call(_ context.Context, name, args string) (*toolclient.Result, error) {
	f.calls = append(f.calls, recordedCall{name: name, args: args})
	if f.callErr != nil {
		return nil, f.callErr
	}
	if r, ok := f.results[name]; ok {
		return r, nil
	}
	return &toolclient.Result{Content: "{}"}, nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func connectTo(ch *fakeChannel) ConnectFunc {
	return func(context.Context, config.CapabilitySpec) (Channel, error) {
		return ch, nil
	}
}

func spec(name string) config.CapabilitySpec {
	return config.CapabilitySpec{Name: name, Command: "/usr/bin/true", MaxRounds: 4}
}

func TestInvoke_DirectAnswer(t *testing.T) {
	t.Parallel()
	ch := &fakeChannel{}
	provider := mock.New(mock.Reply("nothing to do here"))
	a := New(spec("analytics"), provider, WithConnectFunc(connectTo(ch)))

	out, err := a.Invoke(context.Background(), "say hi", nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out.Content != "nothing to do here" {
		t.Errorf("content = %q", out.Content)
	}
	if out.Rounds != 1 || out.OperationCalls != 0 {
		t.Errorf("rounds = %d, calls = %d", out.Rounds, out.OperationCalls)
	}
	if !ch.closed {
		t.Error("channel must be closed after invocation")
	}
}

func TestInvoke_ToolRoundTrip(t *testing.T) {
	t.Parallel()
	ch := &fakeChannel{
		ops: []types.ToolDefinition{{Name: "get_workout_stats"}},
		results: map[string]*toolclient.Result{
			"get_workout_stats": {Content: `{"total_workouts": 7}`},
		},
	}
	provider := mock.New(
		mock.ToolReply("call-1", "get_workout_stats", "{}"),
		mock.Reply("You have 7 workouts logged."),
	)
	a := New(spec("analytics"), provider, WithConnectFunc(connectTo(ch)))

	out, err := a.Invoke(context.Background(), "how many workouts?", nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out.Content != "You have 7 workouts logged." {
		t.Errorf("content = %q", out.Content)
	}
	if out.Rounds != 2 || out.OperationCalls != 1 {
		t.Errorf("rounds = %d, calls = %d", out.Rounds, out.OperationCalls)
	}

	// The operation result must have been handed back as a tool message.
	last := provider.CompleteCalls[1]
	toolMsg := last.Messages[len(last.Messages)-1]
	if toolMsg.Role != "tool" || toolMsg.ToolCallID != "call-1" {
		t.Errorf("tool message = %+v", toolMsg)
	}
	if !strings.Contains(toolMsg.Content, "7") {
		t.Errorf("tool message content = %q", toolMsg.Content)
	}
}

func imageOp(name string) types.ToolDefinition {
	return types.ToolDefinition{
		Name: name,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"image_base64": map[string]any{"type": "string"},
				"location":     map[string]any{"type": "string"},
			},
		},
	}
}

func TestInvoke_ImageInjection(t *testing.T) {
	t.Parallel()
	ch := &fakeChannel{
		ops: []types.ToolDefinition{imageOp("detect_equipment")},
		results: map[string]*toolclient.Result{
			"detect_equipment": {Content: `{"equipment": ["dumbbells"]}`},
		},
	}
	provider := mock.New(
		mock.ToolReply("call-1", "detect_equipment", `{"location": "garage"}`),
		mock.Reply("Found dumbbells."),
	)
	a := New(spec("equipment"), provider, WithConnectFunc(connectTo(ch)))

	_, err := a.Invoke(context.Background(), "what gear is in my photo?", [][]byte{{1, 2, 3}})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}

	if len(ch.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(ch.calls))
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(ch.calls[0].args), &args); err != nil {
		t.Fatalf("args not JSON: %v", err)
	}
	if args["image_base64"] == "" || args["image_base64"] == nil {
		t.Error("image_base64 should have been injected")
	}
	if args["location"] != "garage" {
		t.Error("existing arguments must be preserved")
	}
}

func TestInvoke_ImageOnlyForDeclaringOperations(t *testing.T) {
	t.Parallel()
	ch := &fakeChannel{
		ops: []types.ToolDefinition{
			imageOp("detect_equipment"),
			{Name: "list_detections", Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"limit": map[string]any{"type": "integer"},
				},
			}},
		},
		results: map[string]*toolclient.Result{
			"detect_equipment": {Content: `{"equipment": ["kettlebell"]}`},
			"list_detections":  {Content: `[]`},
		},
	}
	provider := mock.New(
		mock.ToolReply("call-1", "detect_equipment", "{}"),
		mock.ToolReply("call-2", "list_detections", `{"limit": 3}`),
		mock.Reply("One kettlebell, nothing logged before."),
	)
	a := New(spec("equipment"), provider, WithConnectFunc(connectTo(ch)))

	_, err := a.Invoke(context.Background(), "what gear is this?", [][]byte{{9, 9}})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if len(ch.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(ch.calls))
	}

	var detectArgs map[string]any
	if err := json.Unmarshal([]byte(ch.calls[0].args), &detectArgs); err != nil {
		t.Fatalf("detect args not JSON: %v", err)
	}
	if detectArgs["image_base64"] == nil || detectArgs["image_base64"] == "" {
		t.Error("detect_equipment should carry the image")
	}

	// The listing operation's schema has no image parameter; its arguments
	// must pass through untouched.
	if strings.Contains(ch.calls[1].args, "image_base64") {
		t.Errorf("list_detections args = %q, image must not be injected", ch.calls[1].args)
	}
	var listArgs map[string]any
	if err := json.Unmarshal([]byte(ch.calls[1].args), &listArgs); err != nil {
		t.Fatalf("list args not JSON: %v", err)
	}
	if listArgs["limit"] != float64(3) {
		t.Errorf("list args = %v, want limit 3 preserved", listArgs)
	}
}

func TestInvoke_ConnectionFailure(t *testing.T) {
	t.Parallel()
	a := New(spec("planner"), mock.New(), WithConnectFunc(
		func(context.Context, config.CapabilitySpec) (Channel, error) {
			return nil, toolclient.ErrConnection
		}))

	_, err := a.Invoke(context.Background(), "plan", nil)
	var aerr *Error
	if !errors.As(err, &aerr) || aerr.Kind != KindConnection {
		t.Fatalf("err = %v, want KindConnection", err)
	}
}

func TestInvoke_UnknownOperation(t *testing.T) {
	t.Parallel()
	ch := &fakeChannel{
		ops:     []types.ToolDefinition{{Name: "generate_workout"}},
		callErr: toolclient.ErrUnknownOperation,
	}
	provider := mock.New(mock.ToolReply("call-1", "generate_wodkout", "{}"))
	a := New(spec("planner"), provider, WithConnectFunc(connectTo(ch)))

	_, err := a.Invoke(context.Background(), "plan", nil)
	var aerr *Error
	if !errors.As(err, &aerr) || aerr.Kind != KindUnknownOperation {
		t.Fatalf("err = %v, want KindUnknownOperation", err)
	}
}

func TestInvoke_LLMRetriedOnceThenFails(t *testing.T) {
	t.Parallel()
	ch := &fakeChannel{}
	provider := mock.New(mock.Fail(errors.New("boom")))
	a := New(spec("history"), provider, WithConnectFunc(connectTo(ch)))

	_, err := a.Invoke(context.Background(), "summarize", nil)
	var aerr *Error
	if !errors.As(err, &aerr) || aerr.Kind != KindUpstream {
		t.Fatalf("err = %v, want KindUpstream", err)
	}
	if len(provider.CompleteCalls) != 2 {
		t.Errorf("completions = %d, want 2 (one retry)", len(provider.CompleteCalls))
	}
	if !ch.closed {
		t.Error("channel must be closed on the failure path")
	}
}

func TestInvoke_TimedOutOperationFedBack(t *testing.T) {
	t.Parallel()
	ch := &fakeChannel{
		ops: []types.ToolDefinition{{Name: "summarize_history"}},
		results: map[string]*toolclient.Result{
			"summarize_history": {Content: "operation timed out", IsError: true, TimedOut: true},
		},
	}
	provider := mock.New(
		mock.ToolReply("call-1", "summarize_history", "{}"),
		mock.Reply("History is unavailable right now."),
	)
	a := New(spec("history"), provider, WithConnectFunc(connectTo(ch)))

	out, err := a.Invoke(context.Background(), "summarize", nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out.Content != "History is unavailable right now." {
		t.Errorf("content = %q", out.Content)
	}
}

func TestInvoke_RoundExhaustion(t *testing.T) {
	t.Parallel()
	ch := &fakeChannel{
		ops: []types.ToolDefinition{{Name: "summarize_history"}},
		results: map[string]*toolclient.Result{
			"summarize_history": {Content: "timed out", IsError: true, TimedOut: true},
		},
	}
	// The model keeps calling the operation and never answers.
	provider := mock.New(mock.ToolReply("call-1", "summarize_history", "{}"))
	s := spec("history")
	s.MaxRounds = 2
	a := New(s, provider, WithConnectFunc(connectTo(ch)))

	_, err := a.Invoke(context.Background(), "summarize", nil)
	var aerr *Error
	if !errors.As(err, &aerr) || aerr.Kind != KindTimeout {
		t.Fatalf("err = %v, want KindTimeout from exhaustion after timeouts", err)
	}
	if !strings.Contains(err.Error(), "2 reasoning rounds") {
		t.Errorf("err = %v", err)
	}
}

func TestDefaultInstruction_CoversBuiltins(t *testing.T) {
	t.Parallel()
	for _, name := range config.BuiltinCapabilities {
		if DefaultInstruction(name) == genericInstruction {
			t.Errorf("capability %q should have a dedicated instruction", name)
		}
	}
	if DefaultInstruction("something-else") != genericInstruction {
		t.Error("unknown capabilities should get the generic instruction")
	}
}
