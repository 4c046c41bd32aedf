package observe

import (
	"context"
	"time"

	"github.com/roamfit/roamfit/internal/store"
	"github.com/roamfit/roamfit/pkg/provider/llm"
	"github.com/roamfit/roamfit/pkg/types"
)

// InstrumentedLLM wraps an [llm.Provider] and records every completion to
// metrics and, when a store is configured, to the llm_logs table. Logging is
// best-effort and never fails the completion.
type InstrumentedLLM struct {
	inner    llm.Provider
	provider string
	model    string
	purpose  string
	metrics  *Metrics
	store    store.Store // nil disables llm_logs persistence
}

var _ llm.Provider = (*InstrumentedLLM)(nil)

// InstrumentLLM wraps provider. providerName and model are recorded on every
// log row; purpose labels what the provider is used for ("planning",
// "capability", "vision").
func InstrumentLLM(provider llm.Provider, providerName, model, purpose string, metrics *Metrics, st store.Store) *InstrumentedLLM {
	return &InstrumentedLLM{
		inner:    provider,
		provider: providerName,
		model:    model,
		purpose:  purpose,
		metrics:  metrics,
		store:    st,
	}
}

// Complete implements [llm.Provider].
func (p *InstrumentedLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	start := time.Now()
	resp, err := p.inner.Complete(ctx, req)
	elapsed := time.Since(start)

	status := "ok"
	rec := store.LLMLog{
		Provider: p.provider,
		Model:    p.model,
		Purpose:  p.purpose,
		Latency:  elapsed,
		Success:  err == nil,
	}
	if err != nil {
		status = "error"
		rec.ErrorText = err.Error()
	} else {
		rec.PromptTokens = resp.Usage.PromptTokens
		rec.CompletionTokens = resp.Usage.CompletionTokens
	}

	if p.metrics != nil {
		p.metrics.RecordLLMRequest(ctx, p.provider, status, elapsed.Seconds(),
			rec.PromptTokens, rec.CompletionTokens)
	}
	if p.store != nil {
		if logErr := p.store.LogLLMCall(ctx, rec); logErr != nil {
			Logger(ctx).Warn("failed to persist llm log", "error", logErr)
		}
	}
	return resp, err
}

// CountTokens implements [llm.Provider].
func (p *InstrumentedLLM) CountTokens(messages []types.Message) (int, error) {
	return p.inner.CountTokens(messages)
}

// Capabilities implements [llm.Provider].
func (p *InstrumentedLLM) Capabilities() types.ModelCapabilities {
	return p.inner.Capabilities()
}
