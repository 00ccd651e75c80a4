package ollama

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/ollamafan/core"
	"github.com/hupe1980/ollamafan/internal/testutil"
)

// drain collects every event until the channel closes.
func drain(t *testing.T, events <-chan core.Event) []core.Event {
	t.Helper()
	var out []core.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream did not close in time")
		}
	}
}

func TestBackend_Open_StreamsFragmentsThenDone(t *testing.T) {
	srv := testutil.NewStreamServer(testutil.StreamScript{Fragments: []string{"Hel", "lo", "!"}})
	defer srv.Close()

	b := New(func(o *Options) { o.BaseURL = srv.URL })
	events, err := b.Open(context.Background(), core.NewTarget("llama3", "hi"))
	require.NoError(t, err)

	got := drain(t, events)
	require.Len(t, got, 4)
	assert.Equal(t, "Hel", got[0].Text)
	assert.Equal(t, "lo", got[1].Text)
	assert.Equal(t, "!", got[2].Text)
	assert.Equal(t, core.EventDone, got[3].Kind)
	require.NotNil(t, got[3].Metadata)
	assert.Equal(t, "stop", got[3].Metadata.DoneReason)
	assert.Equal(t, 3, got[3].Metadata.OutputTokens)
}

func TestBackend_Open_SkipsKeepAlives(t *testing.T) {
	srv := testutil.NewStreamServer(testutil.StreamScript{KeepAlivesBefore: 3})
	defer srv.Close()

	b := New(func(o *Options) { o.BaseURL = srv.URL })
	events, err := b.Open(context.Background(), core.NewTarget("llama3", "hi"))
	require.NoError(t, err)

	got := drain(t, events)
	require.Len(t, got, 1)
	assert.Equal(t, core.EventDone, got[0].Kind)
}

func TestBackend_Open_EarlyCloseYieldsNoTerminal(t *testing.T) {
	srv := testutil.NewStreamServer(testutil.StreamScript{
		Fragments:     []string{"partial"},
		TruncateEarly: true,
	})
	defer srv.Close()

	b := New(func(o *Options) { o.BaseURL = srv.URL })
	events, err := b.Open(context.Background(), core.NewTarget("llama3", "hi"))
	require.NoError(t, err)

	got := drain(t, events)
	require.Len(t, got, 1)
	assert.Equal(t, core.EventFragment, got[0].Kind)
	assert.Equal(t, "partial", got[0].Text)
}

func TestBackend_Open_MalformedRecordIsTerminal(t *testing.T) {
	srv := testutil.NewStreamServer(testutil.StreamScript{
		RawLines: []string{`{"response":"ok","done":false}`, `{"response": broken`},
	})
	defer srv.Close()

	b := New(func(o *Options) { o.BaseURL = srv.URL })
	events, err := b.Open(context.Background(), core.NewTarget("llama3", "hi"))
	require.NoError(t, err)

	got := drain(t, events)
	require.Len(t, got, 2)
	assert.Equal(t, core.EventFragment, got[0].Kind)
	assert.Equal(t, core.EventError, got[1].Kind)
	assert.Equal(t, core.ErrMalformedRecord, core.CodeOf(got[1].Err))
}

func TestBackend_Open_BackendErrorRecord(t *testing.T) {
	srv := testutil.NewStreamServer(testutil.StreamScript{
		RawLines: []string{`{"error":"model 'nope' not found"}`},
	})
	defer srv.Close()

	b := New(func(o *Options) { o.BaseURL = srv.URL })
	events, err := b.Open(context.Background(), core.NewTarget("nope", "hi"))
	require.NoError(t, err)

	got := drain(t, events)
	require.Len(t, got, 1)
	assert.Equal(t, core.ErrBackendReported, core.CodeOf(got[0].Err))
}

func TestBackend_Open_ConnectFailure(t *testing.T) {
	b := New(func(o *Options) {
		o.BaseURL = "http://127.0.0.1:1" // nothing listens here
		o.Timeouts.Connect = 250 * time.Millisecond
	})

	events, err := b.Open(context.Background(), core.NewTarget("llama3", "hi"))
	assert.Nil(t, events)
	assert.Equal(t, core.ErrConnectFailure, core.CodeOf(err))
}

func TestBackend_Open_HTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"out of memory"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := New(func(o *Options) { o.BaseURL = srv.URL })
	events, err := b.Open(context.Background(), core.NewTarget("llama3", "hi"))
	assert.Nil(t, events)
	assert.Equal(t, core.ErrWriteFailure, core.CodeOf(err))
	assert.ErrorContains(t, err, "out of memory")
}

func TestBackend_Open_ReadTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush() // headers out, then stall
		<-release
	}))
	defer srv.Close()
	defer close(release)

	b := New(func(o *Options) {
		o.BaseURL = srv.URL
		o.Timeouts.Read = 100 * time.Millisecond
	})

	events, err := b.Open(context.Background(), core.NewTarget("llama3", "hi"))
	require.NoError(t, err)

	got := drain(t, events)
	require.Len(t, got, 1)
	assert.Equal(t, core.ErrReadTimeout, core.CodeOf(got[0].Err))
}

func TestBackend_Open_CancelStopsStream(t *testing.T) {
	srv := testutil.NewStreamServer(testutil.StreamScript{
		Fragments: []string{"a", "b", "c", "d", "e"},
		Delay:     50 * time.Millisecond,
	})
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	b := New(func(o *Options) { o.BaseURL = srv.URL })

	events, err := b.Open(ctx, core.NewTarget("llama3", "hi"))
	require.NoError(t, err)

	<-events // first fragment arrived, stream is live
	cancel()

	done := make(chan struct{})
	go func() {
		for range events {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not terminate after cancellation")
	}
}

// captureLogger records message strings for assertions.
type captureLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *captureLogger) record(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
}

func (l *captureLogger) Debug(msg string, _ ...any) { l.record(msg) }
func (l *captureLogger) Info(msg string, _ ...any)  { l.record(msg) }
func (l *captureLogger) Warn(msg string, _ ...any)  { l.record(msg) }
func (l *captureLogger) Error(msg string, _ ...any) { l.record(msg) }

func (l *captureLogger) has(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.msgs {
		if m == msg {
			return true
		}
	}
	return false
}

func TestBackend_LogsStreamLifecycle(t *testing.T) {
	t.Run("completed stream", func(t *testing.T) {
		srv := testutil.NewStreamServer(testutil.StreamScript{Fragments: []string{"hi"}})
		defer srv.Close()

		lg := &captureLogger{}
		b := New(func(o *Options) {
			o.BaseURL = srv.URL
			o.Logger = lg
		})

		events, err := b.Open(context.Background(), core.NewTarget("llama3", "hi"))
		require.NoError(t, err)
		drain(t, events)

		assert.True(t, lg.has("stream opened"))
		assert.True(t, lg.has("stream completed"))
	})

	t.Run("failed request", func(t *testing.T) {
		lg := &captureLogger{}
		b := New(func(o *Options) {
			o.BaseURL = "http://127.0.0.1:1"
			o.Timeouts.Connect = 250 * time.Millisecond
			o.Logger = lg
		})

		_, err := b.Open(context.Background(), core.NewTarget("llama3", "hi"))
		require.Error(t, err)
		assert.True(t, lg.has("request failed"))
	})

	t.Run("failed stream", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.(http.Flusher).Flush()
			<-release
		}))
		defer srv.Close()
		defer close(release)

		lg := &captureLogger{}
		b := New(func(o *Options) {
			o.BaseURL = srv.URL
			o.Timeouts.Read = 100 * time.Millisecond
			o.Logger = lg
		})

		events, err := b.Open(context.Background(), core.NewTarget("llama3", "hi"))
		require.NoError(t, err)
		drain(t, events)

		assert.True(t, lg.has("stream failed"))
	})
}

func TestBackend_Generate_SingleShot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"llama3","response":"full text","done":true,"done_reason":"stop","eval_count":2}`))
	}))
	defer srv.Close()

	b := New(func(o *Options) { o.BaseURL = srv.URL })
	text, md, err := b.Generate(context.Background(), core.NewTarget("llama3", "hi"))
	require.NoError(t, err)
	assert.Equal(t, "full text", text)
	require.NotNil(t, md)
	assert.Equal(t, "stop", md.DoneReason)
	assert.Equal(t, 2, md.OutputTokens)
}

func TestBackend_Models(t *testing.T) {
	srv := testutil.NewStreamServer(testutil.StreamScript{}, "llama3:latest", "mistral:7b")
	defer srv.Close()

	b := New(func(o *Options) { o.BaseURL = srv.URL })
	models, err := b.Models(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3:latest", "mistral:7b"}, models)
}
