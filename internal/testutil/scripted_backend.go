package testutil

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/ollamafan/core"
)

// ScriptedBackend implements backend.Backend from canned events, tracking
// how many streams are open at once so orchestration tests can assert the
// concurrency bound. Safe for concurrent use.
type ScriptedBackend struct {
	// FragmentsFor maps a model to the fragments its stream emits. Models
	// without an entry emit a single default fragment.
	FragmentsFor map[string][]string
	// FailFor maps a model to the error its stream terminates with.
	FailFor map[string]error
	// OpenErrFor maps a model to an error returned by Open itself.
	OpenErrFor map[string]error
	// FailFirstOpen, when non-nil, is returned by whichever Open call
	// happens first; later opens proceed normally.
	FailFirstOpen error
	// TruncateFor closes the model's stream without a terminal event.
	TruncateFor map[string]bool
	// Delay paces fragment emission.
	Delay time.Duration
	// Block, when set, makes streams wait for ctx cancellation after their
	// fragments instead of terminating.
	Block bool

	open      atomic.Int64
	peak      atomic.Int64
	firstOpen atomic.Bool
}

// Name implements backend.Backend.
func (s *ScriptedBackend) Name() string { return "scripted" }

// Peak returns the highest number of simultaneously open streams observed.
func (s *ScriptedBackend) Peak() int64 { return s.peak.Load() }

// OpenStreams returns the number of currently open streams.
func (s *ScriptedBackend) OpenStreams() int64 { return s.open.Load() }

// Open implements backend.Backend.
func (s *ScriptedBackend) Open(ctx context.Context, target core.Target) (<-chan core.Event, error) {
	if err := s.OpenErrFor[target.Model]; err != nil {
		return nil, err
	}
	if s.FailFirstOpen != nil && s.firstOpen.CompareAndSwap(false, true) {
		return nil, s.FailFirstOpen
	}

	n := s.open.Add(1)
	for {
		old := s.peak.Load()
		if n <= old || s.peak.CompareAndSwap(old, n) {
			break
		}
	}

	// The slot is freed before the terminal event is emitted so a consumer
	// that releases its permit on the terminal event can never observe more
	// open streams than permits.
	var once sync.Once
	release := func() { once.Do(func() { s.open.Add(-1) }) }

	events := make(chan core.Event, 16)
	go func() {
		defer close(events)
		defer release()

		emit := func(ev core.Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		fragments, ok := s.FragmentsFor[target.Model]
		if !ok {
			fragments = []string{"response from " + target.Model}
		}
		for _, f := range fragments {
			if s.Delay > 0 {
				select {
				case <-time.After(s.Delay):
				case <-ctx.Done():
					emit(core.ErrorEvent(core.NewStreamError(core.ErrCancelled, target.Model, context.Cause(ctx))))
					return
				}
			}
			if !emit(core.Fragment(f)) {
				return
			}
		}

		if s.Block {
			<-ctx.Done()
			release()
			emit(core.ErrorEvent(core.NewStreamError(core.ErrCancelled, target.Model, context.Cause(ctx))))
			return
		}
		release()
		if err := s.FailFor[target.Model]; err != nil {
			emit(core.ErrorEvent(err))
			return
		}
		if s.TruncateFor[target.Model] {
			return
		}
		emit(core.Done(&core.Metadata{Model: target.Model, DoneReason: "stop", OutputTokens: len(fragments)}))
	}()
	return events, nil
}

// Generate implements backend.Backend by joining the scripted fragments.
func (s *ScriptedBackend) Generate(ctx context.Context, target core.Target) (string, *core.Metadata, error) {
	if err := s.OpenErrFor[target.Model]; err != nil {
		return "", nil, err
	}
	if err := s.FailFor[target.Model]; err != nil {
		return "", nil, err
	}
	fragments, ok := s.FragmentsFor[target.Model]
	if !ok {
		fragments = []string{"response from " + target.Model}
	}
	return strings.Join(fragments, ""), &core.Metadata{Model: target.Model, DoneReason: "stop"}, nil
}
