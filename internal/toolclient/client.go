// Package toolclient implements the invocation client for capability services.
//
// Each capability runs as a subprocess speaking the Model Context Protocol
// over stdio. A [Client] owns exactly one such subprocess: it launches the
// process, performs the protocol handshake, discovers the operation catalogue
// once, and then routes individual operation calls. Every call carries a
// correlation id (surfaced in logs and on the [Result]) and is bounded by the
// per-call timeout from the capability spec.
//
// Failure surfaces are split the way the MCP SDK splits them:
//
//   - [ErrConnection] — the subprocess could not be launched or the handshake
//     failed. Connect fails fast and the caller decides whether the capability
//     was essential.
//   - [ErrProtocol] — the channel is up but a request failed at the protocol
//     level (malformed frames, session torn down mid-call).
//   - [ErrUnknownOperation] — the requested operation is not in the discovered
//     catalogue. Detected locally, before anything is sent.
//   - Timeouts do NOT return a Go error: the call yields a [Result] with
//     IsError set so that the reasoning loop can see the failure and adapt.
//
// Application-level failures reported by the capability itself also arrive as
// a Result with IsError set, never as a Go error.
package toolclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/roamfit/roamfit/internal/config"
	"github.com/roamfit/roamfit/pkg/types"
)

// Sentinel errors distinguishing the failure surfaces of a capability channel.
var (
	// ErrConnection indicates the subprocess channel could not be established.
	ErrConnection = errors.New("toolclient: connection failed")

	// ErrProtocol indicates the channel is connected but a request failed at
	// the protocol level.
	ErrProtocol = errors.New("toolclient: protocol failure")

	// ErrUnknownOperation indicates the requested operation is not part of the
	// capability's discovered catalogue.
	ErrUnknownOperation = errors.New("toolclient: unknown operation")
)

// Result holds the outcome of a single operation call.
type Result struct {
	// Content is the operation's textual output, typically a JSON string ready
	// for insertion into an LLM context window.
	Content string

	// IsError indicates an application-level failure (including timeouts).
	// When true, Content contains the error message.
	IsError bool

	// TimedOut is set alongside IsError when the call exceeded the
	// capability's configured timeout.
	TimedOut bool

	// CallID is the correlation id assigned to this call.
	CallID string

	// Duration is the wall-clock time from dispatch to full response.
	Duration time.Duration
}

// Client is a live channel to one capability subprocess.
//
// A Client is created with [Connect], used via [Client.Call], and released
// with [Client.Close]. It is safe for concurrent use; the underlying session
// serialises requests on the stdio channel.
type Client struct {
	name    string
	timeout time.Duration
	session session
	ops     []types.ToolDefinition
	opNames map[string]struct{}
	log     *slog.Logger
}

// session is the slice of *mcpsdk.ClientSession the Client depends on.
// Narrowed to an interface so tests can connect over in-memory transports.
type session interface {
	CallTool(ctx context.Context, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error)
	Tools(ctx context.Context, params *mcpsdk.ListToolsParams) iter.Seq2[*mcpsdk.Tool, error]
	Close() error
}

// Connect launches the capability subprocess described by spec, performs the
// MCP handshake, and discovers its operation catalogue.
//
// spec.Command is split on spaces into executable + args; spec.Env is passed
// as additional environment variables. Returns an error wrapping
// [ErrConnection] if the subprocess cannot be launched or the handshake fails,
// and one wrapping [ErrProtocol] if the catalogue listing fails afterwards.
func Connect(ctx context.Context, spec config.CapabilitySpec) (*Client, error) {
	executable, args := splitCommand(spec.Command)
	if executable == "" {
		return nil, fmt.Errorf("%w: capability %q has an empty command", ErrConnection, spec.Name)
	}

	cmd := exec.CommandContext(ctx, executable, args...)
	if len(spec.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range spec.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	client := mcpsdk.NewClient(
		&mcpsdk.Implementation{Name: "roamfit-coordinator", Version: "1.0.0"},
		nil,
	)
	sess, err := client.Connect(ctx, &mcpsdk.CommandTransport{Command: cmd}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: capability %q: %v", ErrConnection, spec.Name, err)
	}

	return newClient(ctx, spec, sess)
}

// newClient finishes construction over an established session. Split out of
// [Connect] so tests can inject sessions backed by in-memory transports.
func newClient(ctx context.Context, spec config.CapabilitySpec, sess session) (*Client, error) {
	c := &Client{
		name:    spec.Name,
		timeout: spec.Timeout,
		session: sess,
		opNames: make(map[string]struct{}),
		log:     slog.With("capability", spec.Name),
	}

	for tool, err := range sess.Tools(ctx, nil) {
		if err != nil {
			_ = sess.Close()
			return nil, fmt.Errorf("%w: capability %q: list operations: %v", ErrProtocol, spec.Name, err)
		}
		c.ops = append(c.ops, types.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  schemaToMap(tool.InputSchema),
		})
		c.opNames[tool.Name] = struct{}{}
	}

	c.log.Debug("capability connected", "operations", len(c.ops))
	return c, nil
}

// Name returns the capability name this client is connected to.
func (c *Client) Name() string {
	return c.name
}

// Operations returns the operation catalogue discovered at connect time.
// The returned slice must not be modified.
func (c *Client) Operations() []types.ToolDefinition {
	return c.ops
}

// Call invokes the named operation with JSON-encoded args.
//
// args must be a valid JSON object string; an empty object ("{}") is valid
// for parameter-less operations. The call is bounded by the capability's
// configured timeout: on expiry Call returns a Result with IsError set rather
// than a Go error, so the caller's reasoning loop can observe the failure.
//
// A Go error is returned only for [ErrUnknownOperation] and protocol-level
// failures wrapping [ErrProtocol].
func (c *Client) Call(ctx context.Context, name string, args string) (*Result, error) {
	if _, ok := c.opNames[name]; !ok {
		return nil, fmt.Errorf("%w: %q is not offered by capability %q", ErrUnknownOperation, name, c.name)
	}

	var argsMap map[string]any
	if args != "" && args != "{}" {
		if err := json.Unmarshal([]byte(args), &argsMap); err != nil {
			return nil, fmt.Errorf("%w: invalid args JSON for operation %q: %v", ErrProtocol, name, err)
		}
	}

	callID := uuid.NewString()
	start := time.Now()

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	c.log.Debug("operation call", "operation", name, "call_id", callID)

	callResult, err := c.session.CallTool(callCtx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: argsMap,
	})
	elapsed := time.Since(start)

	if err != nil {
		// Distinguish our own deadline from everything else. A parent-context
		// cancellation still surfaces as an error so shutdown is not mistaken
		// for a slow capability.
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			c.log.Warn("operation timed out", "operation", name, "call_id", callID, "after", elapsed)
			return &Result{
				Content:  fmt.Sprintf("operation %q timed out after %s", name, c.timeout),
				IsError:  true,
				TimedOut: true,
				CallID:   callID,
				Duration: elapsed,
			}, nil
		}
		return nil, fmt.Errorf("%w: operation %q (call %s): %v", ErrProtocol, name, callID, err)
	}

	// Concatenate all text content from the result.
	var sb strings.Builder
	for _, content := range callResult.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}

	return &Result{
		Content:  sb.String(),
		IsError:  callResult.IsError,
		CallID:   callID,
		Duration: elapsed,
	}, nil
}

// Close shuts down the channel and terminates the subprocess.
// After Close returns the Client must not be used again.
func (c *Client) Close() error {
	if err := c.session.Close(); err != nil {
		return fmt.Errorf("toolclient: close capability %q: %w", c.name, err)
	}
	return nil
}

// schemaToMap converts any schema value to a map[string]any.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// splitCommand splits a command string into executable and arguments.
// e.g. "/bin/foo --bar baz" → ("/bin/foo", ["--bar", "baz"]).
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
