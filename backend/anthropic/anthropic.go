// Package anthropic implements the backend contract against the Anthropic
// Messages API, adapting its SSE event stream onto the same typed event
// surface the native backend produces. Unlike the local backends it talks
// to a remote endpoint and needs an API key.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hupe1980/ollamafan/backend"
	"github.com/hupe1980/ollamafan/core"
	"github.com/hupe1980/ollamafan/logging"
)

// Options configure the backend.
type Options struct {
	// APIKey authenticates against the API. Falls back to the SDK's
	// environment lookup when empty.
	APIKey string
	// MaxTokens caps the completion length; the Messages API requires it.
	MaxTokens int64
	// BaseURL overrides the endpoint, e.g. for proxies.
	BaseURL string
	// Logger receives diagnostics. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Backend adapts the Anthropic Messages API.
type Backend struct {
	client *anthropic.Client
	opts   Options
	logger logging.Logger
}

// New creates a backend using the official client.
func New(optFns ...func(o *Options)) *Backend {
	opts := Options{
		MaxTokens: 4096,
		Logger:    logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	client := anthropic.NewClient(clientOpts...)
	return &Backend{client: &client, opts: opts, logger: opts.Logger}
}

// Name implements backend.Backend.
func (b *Backend) Name() string { return "anthropic" }

func (b *Backend) buildParams(target core.Target) anthropic.MessageNewParams {
	return anthropic.MessageNewParams{
		Model:     anthropic.Model(target.Model),
		MaxTokens: b.opts.MaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(target.Prompt)),
		},
	}
}

// Open implements backend.Backend. The SDK defers the request to the first
// pull, so connect and write phase failures surface as a terminal Error
// event rather than an Open error; both paths carry the same taxonomy.
func (b *Backend) Open(ctx context.Context, target core.Target) (<-chan core.Event, error) {
	events := make(chan core.Event, 16)

	go func() {
		defer close(events)

		b.logger.Debug("stream opened", "model", target.Model)
		stream := b.client.Messages.NewStreaming(ctx, b.buildParams(target))
		defer stream.Close()

		emit := func(ev core.Event) bool {
			select {
			case events <- ev:
				return !ev.Terminal()
			case <-ctx.Done():
				return false
			}
		}

		md := core.Metadata{Model: target.Model}
		for stream.Next() {
			switch ev := stream.Current().AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
					if !emit(core.Fragment(delta.Text)) {
						return
					}
				}
			case anthropic.MessageDeltaEvent:
				md.DoneReason = string(ev.Delta.StopReason)
				md.OutputTokens = int(ev.Usage.OutputTokens)
			case anthropic.MessageStopEvent:
				emit(core.Done(&md))
				return
			}
		}
		if err := stream.Err(); err != nil {
			serr := backend.ClassifyTransportError(ctx, target.Model, err)
			b.logger.Warn("stream failed", "model", target.Model, "code", string(serr.Code))
			emit(core.ErrorEvent(serr))
			return
		}
		// Stream drained without a stop event: closed early, signalled by
		// closing without a terminal event.
		b.logger.Debug("stream ended", "model", target.Model)
	}()

	return events, nil
}

// Generate implements backend.Backend with a blocking Messages call.
func (b *Backend) Generate(ctx context.Context, target core.Target) (string, *core.Metadata, error) {
	resp, err := b.client.Messages.New(ctx, b.buildParams(target))
	if err != nil {
		return "", nil, backend.ClassifyTransportError(ctx, target.Model, err)
	}

	var text string
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += tb.Text
		}
	}
	if text == "" {
		return "", nil, core.NewStreamError(core.ErrMalformedRecord, target.Model,
			fmt.Errorf("message response carried no text content"))
	}

	return text, &core.Metadata{
		Model:        string(resp.Model),
		DoneReason:   string(resp.StopReason),
		PromptTokens: int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}, nil
}
