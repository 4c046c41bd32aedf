// Package types defines the shared types used across all roamfit packages.
//
// These types form the lingua franca between LLM providers, capability
// adapters, the coordinator, and the workout store. They are intentionally
// minimal — each package defines its own domain types, but cross-cutting data
// structures live here to avoid circular imports.
package types

import "strings"

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name (for multi-agent contexts).
	Name string

	// ToolCalls contains any tool invocations requested by the assistant.
	ToolCalls []ToolCall

	// ToolCallID is set when Role is "tool", identifying which tool call this responds to.
	ToolCallID string
}

// ToolCall represents a tool/function invocation requested by the LLM.
type ToolCall struct {
	// ID is the unique identifier for this tool call (provider-assigned).
	ID string

	// Name is the tool/function name.
	Name string

	// Arguments is the JSON-encoded arguments string.
	Arguments string
}

// ToolDefinition describes a tool that can be offered to an LLM.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description explains what the tool does (included in LLM prompts).
	Description string

	// Parameters is the JSON Schema describing the tool's input parameters.
	Parameters map[string]any
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsToolCalling indicates native function/tool calling support.
	SupportsToolCalling bool

	// SupportsVision indicates the model can process image inputs.
	SupportsVision bool

	// SupportsStreaming indicates the model supports streaming completions.
	SupportsStreaming bool
}

// Exercise is a single exercise line in a workout plan, whiteboard style:
// name and reps, with sets/rest only for formats that use them.
type Exercise struct {
	Name         string `json:"name"`
	Reps         int    `json:"reps"`
	Instructions string `json:"instructions,omitempty"`
	Sets         int    `json:"sets,omitempty"`
	RestSeconds  int    `json:"rest_seconds,omitempty"`
}

// WorkoutPlan is a complete CrossFit-style workout plan as produced by the
// plan-generator capability.
type WorkoutPlan struct {
	// Format is the workout format: "EMOM", "AMRAP", "For Time",
	// "Rounds for Time", "Tabata", or "Chipper".
	Format string `json:"format"`

	Exercises []Exercise `json:"exercises"`

	DurationMinutes int `json:"duration_minutes"`

	// Focus is one of "upper_body", "lower_body", "full_body", "cardio".
	Focus string `json:"focus"`

	// Description explains how to perform the workout (one or two lines).
	Description string `json:"workout_description,omitempty"`

	Warmup   string `json:"warmup,omitempty"`
	Cooldown string `json:"cooldown,omitempty"`
}

// validFormats lists the accepted workout formats, lower-cased.
var validFormats = []string{
	"emom", "amrap", "for time", "rounds for time", "tabata", "chipper",
}

// ValidFormat reports whether format is one of the recognised CrossFit-style
// workout formats. Matching is case-insensitive.
func ValidFormat(format string) bool {
	lower := strings.ToLower(strings.TrimSpace(format))
	for _, f := range validFormats {
		if lower == f {
			return true
		}
	}
	return false
}
