package backend

import (
	"context"
	"errors"
	"net"

	"github.com/hupe1980/ollamafan/core"
)

// Backend opens generations against one inference endpoint. Implementations
// own a pooled transport shared by all concurrent tasks of a run; they
// never bound concurrency themselves, that is the permit pool's job.
type Backend interface {
	// Name identifies the backend implementation ("ollama", "openai", ...).
	Name() string

	// Open starts a streaming generation for target. The returned channel
	// yields events in arrival order and is closed when the stream ends.
	// Exactly one terminal event (Done or Error) precedes the close on a
	// healthy stream; a channel that closes without one ended early, which
	// the caller must surface as connection_closed_early. Errors returned
	// directly are connect/write phase failures, already classified.
	Open(ctx context.Context, target core.Target) (<-chan core.Event, error)

	// Generate runs one single-shot, non-streaming generation and returns
	// the full response text.
	Generate(ctx context.Context, target core.Target) (string, *core.Metadata, error)
}

// ModelLister is implemented by backends that can enumerate the models
// available at their endpoint.
type ModelLister interface {
	Models(ctx context.Context) ([]string, error)
}

// ClassifyTransportError maps a request-phase transport error onto the
// error taxonomy: cancellation wins, a failed dial is a connect failure,
// everything else counts as a write failure (the request never finished
// being sent and answered).
func ClassifyTransportError(ctx context.Context, model string, err error) *core.StreamError {
	if ctx.Err() != nil {
		return core.NewStreamError(core.ErrCancelled, model, context.Cause(ctx))
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return core.NewStreamError(core.ErrConnectFailure, model, err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return core.NewStreamError(core.ErrConnectFailure, model, err)
	}
	return core.NewStreamError(core.ErrWriteFailure, model, err)
}
