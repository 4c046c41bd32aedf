package observe

import (
	"context"
	"errors"
	"testing"

	"github.com/roamfit/roamfit/internal/store"
	"github.com/roamfit/roamfit/pkg/provider/llm"
	"github.com/roamfit/roamfit/pkg/provider/llm/mock"
	"github.com/roamfit/roamfit/pkg/types"
)

func TestInstrumentedLLM_LogsSuccess(t *testing.T) {
	m, reader := newTestMetrics(t)
	st := store.NewMem()
	inner := mock.New(mock.Step{
		Response: &llm.CompletionResponse{
			Content: "hi",
			Usage:   llm.Usage{PromptTokens: 11, CompletionTokens: 5},
		},
	})
	p := InstrumentLLM(inner, "openai", "gpt-4o", "planning", m, st)

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []types.Message{{Role: "user", Content: "hello"}},
	})
	if err != nil || resp.Content != "hi" {
		t.Fatalf("complete: %v, %+v", err, resp)
	}

	logs := st.LLMLogs()
	if len(logs) != 1 {
		t.Fatalf("logs = %d, want 1", len(logs))
	}
	rec := logs[0]
	if !rec.Success || rec.Provider != "openai" || rec.Purpose != "planning" {
		t.Errorf("log = %+v", rec)
	}
	if rec.PromptTokens != 11 || rec.CompletionTokens != 5 {
		t.Errorf("tokens = %d/%d", rec.PromptTokens, rec.CompletionTokens)
	}

	rm := collect(t, reader)
	if findMetric(rm, "roamfit.llm.requests") == nil {
		t.Error("llm.requests metric not recorded")
	}
}

func TestInstrumentedLLM_LogsFailure(t *testing.T) {
	m, _ := newTestMetrics(t)
	st := store.NewMem()
	p := InstrumentLLM(mock.New(mock.Fail(errors.New("overloaded"))), "openai", "gpt-4o", "capability", m, st)

	_, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []types.Message{{Role: "user", Content: "hello"}},
	})
	if err == nil {
		t.Fatal("expected error to propagate")
	}

	logs := st.LLMLogs()
	if len(logs) != 1 || logs[0].Success || logs[0].ErrorText == "" {
		t.Errorf("logs = %+v", logs)
	}
}

func TestInstrumentedLLM_NilStoreAndMetrics(t *testing.T) {
	p := InstrumentLLM(mock.New(mock.Reply("ok")), "openai", "gpt-4o", "planning", nil, nil)
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []types.Message{{Role: "user", Content: "hello"}},
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}
}

func TestInstrumentedLLM_Delegates(t *testing.T) {
	inner := mock.New(mock.Reply("ok"))
	p := InstrumentLLM(inner, "openai", "gpt-4o", "vision", nil, nil)

	if !p.Capabilities().SupportsToolCalling {
		t.Error("capabilities should pass through")
	}
	if n, err := p.CountTokens([]types.Message{{Content: "abcdefgh"}}); err != nil || n <= 0 {
		t.Errorf("CountTokens = %d, %v", n, err)
	}
}
