package core

import "github.com/google/uuid"

// NewID generates a unique identifier string (UUID v4). Centralized so the
// generation strategy can evolve without touching call sites.
func NewID() string { return uuid.New().String() }

// Target describes one generation request: the destination model identity
// plus the request payload. Immutable once created; exactly one streaming
// task is launched per Target. The same model may appear in multiple
// Targets within a run.
type Target struct {
	// ID correlates the task, its log entries and its TaskResult.
	ID string `json:"id"`

	// Model is the backend-side model identity to query.
	Model string `json:"model"`

	// Prompt is the final, already normalized prompt text.
	Prompt string `json:"prompt"`

	// Options carries optional sampling parameters (temperature, num_predict,
	// ...) forwarded verbatim to the backend. May be nil.
	Options map[string]any `json:"options,omitempty"`
}

// NewTarget creates a Target with a fresh ID.
func NewTarget(model, prompt string) Target {
	return Target{ID: NewID(), Model: model, Prompt: prompt}
}
