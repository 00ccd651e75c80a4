package core

import "time"

// EventKind discriminates the variants of a stream Event.
type EventKind int

const (
	// EventFragment carries an incremental text chunk of the generation.
	EventFragment EventKind = iota
	// EventDone marks successful completion of a stream. Terminal.
	EventDone
	// EventError marks failed completion of a stream. Terminal.
	EventError
)

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventFragment:
		return "fragment"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Metadata captures the completion statistics a backend reports on its
// terminal record. Fields a backend does not report stay zero.
type Metadata struct {
	Model         string        `json:"model,omitempty"`
	DoneReason    string        `json:"done_reason,omitempty"`
	PromptTokens  int           `json:"prompt_tokens,omitempty"`
	OutputTokens  int           `json:"output_tokens,omitempty"`
	TotalDuration time.Duration `json:"total_duration,omitempty"`
}

// Event is the typed interpretation of one decoded stream record. After
// emission it should be treated as immutable. A stream yields zero or more
// Fragment events followed by exactly one terminal event (Done or Error);
// a stream that ends without a terminal event ended early.
type Event struct {
	Kind     EventKind `json:"kind"`
	Text     string    `json:"text,omitempty"`     // Fragment only
	Metadata *Metadata `json:"metadata,omitempty"` // Done only
	Err      error     `json:"-"`                  // Error only
}

// Fragment creates an incremental text event.
func Fragment(text string) Event { return Event{Kind: EventFragment, Text: text} }

// Done creates the successful terminal event.
func Done(md *Metadata) Event { return Event{Kind: EventDone, Metadata: md} }

// ErrorEvent creates the failed terminal event.
func ErrorEvent(err error) Event { return Event{Kind: EventError, Err: err} }

// Terminal reports whether the event ends its stream.
func (e Event) Terminal() bool { return e.Kind == EventDone || e.Kind == EventError }
