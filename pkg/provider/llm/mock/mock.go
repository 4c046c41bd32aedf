// Package mock provides a scriptable LLM provider for testing.
package mock

import (
	"context"
	"sync"

	"github.com/roamfit/roamfit/pkg/provider/llm"
	"github.com/roamfit/roamfit/pkg/types"
)

// Step is one scripted Complete outcome. Exactly one of Response or Err
// should be set.
type Step struct {
	Response *llm.CompletionResponse
	Err      error
}

// Provider implements llm.Provider with a scripted sequence of responses.
// Each call to Complete consumes the next Step; when the script runs out the
// last step repeats. The zero value returns an empty response forever.
type Provider struct {
	mu     sync.Mutex
	script []Step
	next   int

	// CompleteCalls records every request passed to Complete, in order.
	CompleteCalls []llm.CompletionRequest

	// Caps is what Capabilities returns. Defaults to a tool-calling,
	// vision-capable model so tests rarely need to set it.
	Caps *types.ModelCapabilities
}

var _ llm.Provider = (*Provider)(nil)

// New creates a Provider that plays back the given steps in order.
func New(script ...Step) *Provider {
	return &Provider{script: script}
}

// Reply is shorthand for a Step carrying a plain text response.
func Reply(content string) Step {
	return Step{Response: &llm.CompletionResponse{Content: content}}
}

// ToolReply is shorthand for a Step carrying a single tool call.
func ToolReply(id, name, arguments string) Step {
	return Step{Response: &llm.CompletionResponse{
		ToolCalls: []types.ToolCall{{ID: id, Name: name, Arguments: arguments}},
	}}
}

// Fail is shorthand for a Step that returns err.
func Fail(err error) Step {
	return Step{Err: err}
}

// Append adds steps to the end of the script.
func (p *Provider) Append(steps ...Step) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.script = append(p.script, steps...)
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.CompleteCalls = append(p.CompleteCalls, req)

	if len(p.script) == 0 {
		return &llm.CompletionResponse{}, nil
	}
	step := p.script[p.next]
	if p.next < len(p.script)-1 {
		p.next++
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Response, nil
}

// CountTokens implements llm.Provider.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
	}
	return total, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() types.ModelCapabilities {
	if p.Caps != nil {
		return *p.Caps
	}
	return types.ModelCapabilities{
		ContextWindow:       128_000,
		MaxOutputTokens:     4_096,
		SupportsToolCalling: true,
		SupportsVision:      true,
	}
}
