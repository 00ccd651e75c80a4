package decode

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/hupe1980/ollamafan/core"
)

// generateRecord mirrors the self-describing NDJSON records emitted by the
// generate endpoint. Unknown fields are ignored so protocol additions do
// not break decoding.
type generateRecord struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	TotalDuration   int64  `json:"total_duration"` // nanoseconds
	Error           string `json:"error"`
}

// Parser maps Records onto typed events for one stream. It carries the
// model identity so errors it produces are already attributed.
type Parser struct {
	model string
}

// NewParser creates a parser for one target's stream.
func NewParser(model string) *Parser { return &Parser{model: model} }

// Parse maps one Record onto zero, one or two events:
//
//   - empty Record: keep-alive, no event
//   - undecodable Record: one Error event (malformed_record), terminal
//   - error field set: one Error event (backend_reported), terminal
//   - text increment: one Fragment event
//   - completion marker: one Done event, after any Fragment carried by the
//     same Record
//
// The connection closing without a terminal marker is not this layer's
// concern; the task raises connection_closed_early when the record stream
// ends with no terminal event seen.
func (p *Parser) Parse(rec Record) []core.Event {
	if len(rec) == 0 {
		return nil
	}

	var gr generateRecord
	if err := json.Unmarshal(rec, &gr); err != nil {
		return []core.Event{core.ErrorEvent(core.NewStreamError(core.ErrMalformedRecord, p.model, err))}
	}

	if gr.Error != "" {
		return []core.Event{core.ErrorEvent(core.NewStreamError(core.ErrBackendReported, p.model, errors.New(gr.Error)))}
	}

	var events []core.Event
	if gr.Response != "" {
		events = append(events, core.Fragment(gr.Response))
	}
	if gr.Done {
		events = append(events, core.Done(&core.Metadata{
			Model:         gr.Model,
			DoneReason:    gr.DoneReason,
			PromptTokens:  gr.PromptEvalCount,
			OutputTokens:  gr.EvalCount,
			TotalDuration: time.Duration(gr.TotalDuration),
		}))
	}
	return events
}
