package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hupe1980/ollamafan/backend"
	"github.com/hupe1980/ollamafan/core"
	"github.com/hupe1980/ollamafan/decode"
	"github.com/hupe1980/ollamafan/logging"
)

// DefaultBaseURL is the endpoint of a locally running instance.
const DefaultBaseURL = "http://localhost:11434"

// errPoolTimeout marks a request cancelled because no usable connection
// could be acquired within the pool deadline.
var errPoolTimeout = errors.New("connection pool acquisition timed out")

// Options configure the backend.
type Options struct {
	// BaseURL of the server. Defaults to DefaultBaseURL.
	BaseURL string
	// Timeouts are the independent phase deadlines.
	Timeouts core.Timeouts
	// TailPolicy decides the fate of an unterminated final record.
	TailPolicy decode.TailPolicy
	// HTTPClient overrides the built transport. It must be safe for
	// concurrent use; the per-phase Connect/Write timeouts are only wired
	// when the client is built here.
	HTTPClient *http.Client
	// ReadBufferSize is the chunk size for body reads.
	ReadBufferSize int
	// Logger receives diagnostics. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Backend talks the native newline-delimited JSON protocol.
type Backend struct {
	client *http.Client
	opts   Options
	logger logging.Logger
}

// New creates a backend for the given endpoint.
func New(optFns ...func(o *Options)) *Backend {
	opts := Options{
		BaseURL:        DefaultBaseURL,
		Timeouts:       core.DefaultTimeouts(),
		ReadBufferSize: 4096,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   opts.Timeouts.Connect,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ResponseHeaderTimeout: opts.Timeouts.Write,
				MaxIdleConnsPerHost:   16,
			},
		}
	}

	return &Backend{client: client, opts: opts, logger: opts.Logger}
}

// Name implements backend.Backend.
func (b *Backend) Name() string { return "ollama" }

// generateRequest is the request payload of the generate endpoint.
type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

// generateResponse is the single-shot (non-streaming) response payload.
type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	TotalDuration   int64  `json:"total_duration"`
	Error           string `json:"error"`
}

// Open implements backend.Backend. On success the response body is pumped
// through the line decoder and parser on a dedicated goroutine; the caller
// consumes typed events and never touches transport state.
func (b *Backend) Open(ctx context.Context, target core.Target) (<-chan core.Event, error) {
	resp, reqCancel, err := b.post(ctx, "/api/generate", generateRequest{
		Model:   target.Model,
		Prompt:  target.Prompt,
		Stream:  true,
		Options: target.Options,
	})
	if err != nil {
		return nil, err
	}

	b.logger.Debug("stream opened", "model", target.Model)

	events := make(chan core.Event, 16)
	go b.pump(ctx, target, resp.Body, events, reqCancel)
	return events, nil
}

// post sends one generate-style request and classifies request-phase
// failures. The returned cancel func tears the request down and must be
// called once the body is no longer needed.
func (b *Backend) post(ctx context.Context, path string, payload any) (*http.Response, context.CancelCauseFunc, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal request: %w", err)
	}

	reqCtx, cancel := context.WithCancelCause(ctx)

	// The pool deadline covers acquiring a usable connection (idle-pool
	// wait plus dial); it is disarmed the moment a connection is handed
	// over, so it never cuts into the write or read phases.
	if d := b.opts.Timeouts.Pool; d > 0 {
		poolTimer := time.AfterFunc(d, func() { cancel(errPoolTimeout) })
		reqCtx = httptrace.WithClientTrace(reqCtx, &httptrace.ClientTrace{
			GotConn: func(httptrace.GotConnInfo) { poolTimer.Stop() },
		})
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, strings.TrimRight(b.opts.BaseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		cancel(nil)
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	model := ""
	if gr, ok := payload.(generateRequest); ok {
		model = gr.Model
	}

	resp, err := b.client.Do(req)
	if err != nil {
		defer cancel(nil)
		var serr *core.StreamError
		if errors.Is(context.Cause(reqCtx), errPoolTimeout) {
			serr = core.NewStreamError(core.ErrConnectFailure, model, errPoolTimeout)
		} else {
			serr = backend.ClassifyTransportError(ctx, model, err)
		}
		b.logger.Warn("request failed", "model", model, "code", string(serr.Code))
		return nil, nil, serr
	}

	if resp.StatusCode != http.StatusOK {
		msg := readErrorBody(resp.Body)
		resp.Body.Close()
		cancel(nil)
		return nil, nil, core.NewStreamError(core.ErrWriteFailure, model,
			fmt.Errorf("server returned status %d: %s", resp.StatusCode, msg))
	}

	return resp, cancel, nil
}

// pump reads raw chunks, feeds the decoder and parser, and forwards events
// until a terminal event, end of stream or cancellation. The read watchdog
// tears the connection down when no bytes arrive within the read deadline.
func (b *Backend) pump(ctx context.Context, target core.Target, body io.ReadCloser, events chan<- core.Event, reqCancel context.CancelCauseFunc) {
	defer close(events)
	defer reqCancel(nil)
	defer body.Close()

	dec := decode.NewLineDecoder(b.opts.TailPolicy)
	parser := decode.NewParser(target.Model)

	var timedOut atomic.Bool
	var watchdog *time.Timer
	readDeadline := b.opts.Timeouts.Read
	if readDeadline > 0 {
		watchdog = time.AfterFunc(readDeadline, func() {
			timedOut.Store(true)
			body.Close()
		})
		defer watchdog.Stop()
	}

	// emit forwards one event; it reports whether pumping should continue.
	emit := func(ev core.Event) bool {
		select {
		case events <- ev:
			if ev.Kind == core.EventDone {
				b.logger.Debug("stream completed", "model", target.Model)
			}
			return !ev.Terminal()
		case <-ctx.Done():
			return false
		}
	}

	buf := make([]byte, b.opts.ReadBufferSize)
	for {
		n, err := body.Read(buf)
		if watchdog != nil && !timedOut.Load() {
			watchdog.Reset(readDeadline)
		}
		if n > 0 {
			for _, rec := range dec.Feed(buf[:n]) {
				for _, ev := range parser.Parse(rec) {
					if !emit(ev) {
						return
					}
				}
			}
		}
		if err == nil {
			continue
		}

		if errors.Is(err, io.EOF) {
			if tail, ok := dec.Finish(); ok {
				for _, ev := range parser.Parse(tail) {
					if !emit(ev) {
						return
					}
				}
			}
			// Clean close without a terminal record: the channel closes
			// without a terminal event and the task reports it.
			b.logger.Debug("stream ended", "model", target.Model)
			return
		}

		var serr *core.StreamError
		switch {
		case timedOut.Load():
			serr = core.NewStreamError(core.ErrReadTimeout, target.Model,
				fmt.Errorf("no data within %s", readDeadline))
		case ctx.Err() != nil:
			serr = core.NewStreamError(core.ErrCancelled, target.Model, context.Cause(ctx))
		default:
			// Reset or otherwise broken mid-stream reads end the stream the
			// same way a silent close does.
			serr = core.NewStreamError(core.ErrConnectionClosedEarly, target.Model, err)
		}
		b.logger.Warn("stream failed", "model", target.Model, "code", string(serr.Code))
		emit(core.ErrorEvent(serr))
		return
	}
}

// Generate implements backend.Backend with a single-shot request. The read
// watchdog does not apply here; the whole generation arrives as one body.
func (b *Backend) Generate(ctx context.Context, target core.Target) (string, *core.Metadata, error) {
	resp, reqCancel, err := b.post(ctx, "/api/generate", generateRequest{
		Model:   target.Model,
		Prompt:  target.Prompt,
		Stream:  false,
		Options: target.Options,
	})
	if err != nil {
		return "", nil, err
	}
	defer reqCancel(nil)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, core.NewStreamError(core.ErrConnectionClosedEarly, target.Model, err)
	}

	var gr generateResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return "", nil, core.NewStreamError(core.ErrMalformedRecord, target.Model, err)
	}
	if gr.Error != "" {
		return "", nil, core.NewStreamError(core.ErrBackendReported, target.Model, errors.New(gr.Error))
	}

	return gr.Response, &core.Metadata{
		Model:         gr.Model,
		DoneReason:    gr.DoneReason,
		PromptTokens:  gr.PromptEvalCount,
		OutputTokens:  gr.EvalCount,
		TotalDuration: time.Duration(gr.TotalDuration),
	}, nil
}

// tagsResponse is the payload of the tags (model listing) endpoint.
type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Models implements backend.ModelLister using the tags endpoint.
func (b *Backend) Models(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(b.opts.BaseURL, "/")+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, backend.ClassifyTransportError(ctx, "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list models: server returned status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("list models: decode response: %w", err)
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// readErrorBody extracts a short error message from a failed response,
// preferring the structured error field when present.
func readErrorBody(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return "(no body)"
	}
	var gr generateResponse
	if json.Unmarshal(raw, &gr) == nil && gr.Error != "" {
		return gr.Error
	}
	return strings.TrimSpace(string(raw))
}
