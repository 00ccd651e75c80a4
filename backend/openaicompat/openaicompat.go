// Package openaicompat implements the backend contract against
// OpenAI-compatible chat completion endpoints, which local servers
// (Ollama's /v1 shim, LM Studio, vLLM) expose alongside or instead of a
// native protocol. It adapts the SDK's SSE delta stream onto the same
// typed event surface the native backend produces.
package openaicompat

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/ollamafan/backend"
	"github.com/hupe1980/ollamafan/core"
	"github.com/hupe1980/ollamafan/logging"
)

// DefaultBaseURL is the OpenAI-compatible shim of a local instance.
const DefaultBaseURL = "http://localhost:11434/v1"

// Options configure the backend.
type Options struct {
	// BaseURL of the compatible endpoint. Defaults to DefaultBaseURL.
	BaseURL string
	// APIKey is required by the wire format; local endpoints accept any
	// non-empty value.
	APIKey string
	// MaxTokens caps the completion length. Zero leaves it to the server.
	MaxTokens int64
	// Logger receives diagnostics. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Backend adapts OpenAI-compatible chat completions.
type Backend struct {
	client *openai.Client
	opts   Options
	logger logging.Logger
}

// New creates a backend for the given compatible endpoint.
func New(optFns ...func(o *Options)) *Backend {
	opts := Options{
		BaseURL: DefaultBaseURL,
		APIKey:  "ollama",
		Logger:  logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	client := openai.NewClient(
		option.WithBaseURL(opts.BaseURL),
		option.WithAPIKey(opts.APIKey),
	)
	return &Backend{client: &client, opts: opts, logger: opts.Logger}
}

// Name implements backend.Backend.
func (b *Backend) Name() string { return "openai" }

func (b *Backend) buildParams(target core.Target) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model: target.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(target.Prompt),
		},
	}
	if b.opts.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(b.opts.MaxTokens)
	}
	return params
}

// Open implements backend.Backend. The SDK defers the request to the first
// pull, so connect and write phase failures surface as a terminal Error
// event rather than an Open error; both paths carry the same taxonomy.
func (b *Backend) Open(ctx context.Context, target core.Target) (<-chan core.Event, error) {
	events := make(chan core.Event, 16)

	go func() {
		defer close(events)

		b.logger.Debug("stream opened", "model", target.Model)
		stream := b.client.Chat.Completions.NewStreaming(ctx, b.buildParams(target))
		defer stream.Close()

		emit := func(ev core.Event) bool {
			select {
			case events <- ev:
				return !ev.Terminal()
			case <-ctx.Done():
				return false
			}
		}

		outputTokens := 0
		for stream.Next() {
			ck := stream.Current()
			if ck.Usage.CompletionTokens > 0 {
				outputTokens = int(ck.Usage.CompletionTokens)
			}
			for _, ch := range ck.Choices {
				if ch.Delta.Content != "" {
					if !emit(core.Fragment(ch.Delta.Content)) {
						return
					}
				}
				if ch.FinishReason != "" {
					emit(core.Done(&core.Metadata{
						Model:        ck.Model,
						DoneReason:   ch.FinishReason,
						OutputTokens: outputTokens,
					}))
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			serr := backend.ClassifyTransportError(ctx, target.Model, err)
			b.logger.Warn("stream failed", "model", target.Model, "code", string(serr.Code))
			emit(core.ErrorEvent(serr))
			return
		}
		// Stream drained without a finish reason: closed early, signalled by
		// closing without a terminal event.
		b.logger.Debug("stream ended", "model", target.Model)
	}()

	return events, nil
}

// Generate implements backend.Backend with a blocking completion call.
func (b *Backend) Generate(ctx context.Context, target core.Target) (string, *core.Metadata, error) {
	resp, err := b.client.Chat.Completions.New(ctx, b.buildParams(target))
	if err != nil {
		return "", nil, backend.ClassifyTransportError(ctx, target.Model, err)
	}
	if len(resp.Choices) == 0 {
		return "", nil, core.NewStreamError(core.ErrMalformedRecord, target.Model,
			fmt.Errorf("completion response carried no choices"))
	}

	return resp.Choices[0].Message.Content, &core.Metadata{
		Model:        resp.Model,
		DoneReason:   resp.Choices[0].FinishReason,
		PromptTokens: int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}, nil
}

// Models implements backend.ModelLister against the models endpoint.
func (b *Backend) Models(ctx context.Context) ([]string, error) {
	var names []string
	pager := b.client.Models.ListAutoPaging(ctx)
	for pager.Next() {
		names = append(names, pager.Current().ID)
	}
	if err := pager.Err(); err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	return names, nil
}
