package orchestrator

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hupe1980/ollamafan/backend"
	"github.com/hupe1980/ollamafan/core"
	"github.com/hupe1980/ollamafan/logging"
	"github.com/hupe1980/ollamafan/sink"
)

// State identifies where a streaming task is in its lifecycle. Transitions
// are strictly forward: Pending → AcquiringPermit → Connecting → Streaming
// → Terminated, with failure paths short-circuiting to Terminated.
type State int32

const (
	// StatePending: created, not yet launched.
	StatePending State = iota
	// StateAcquiringPermit: parked until an admission slot frees up.
	StateAcquiringPermit
	// StateConnecting: permit held, stream being established.
	StateConnecting
	// StateStreaming: events flowing, fragments routed to the sink.
	StateStreaming
	// StateTerminated: done; permit released, TaskResult produced.
	StateTerminated
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAcquiringPermit:
		return "acquiring_permit"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// task drives one target end to end. Its only observable side effects are
// sink writes and the TaskResult it returns.
type task struct {
	target  core.Target
	backend backend.Backend
	permits *core.Permits
	sink    *sink.Sink
	logger  logging.Logger
	headers bool
	state   atomic.Int32
}

func newTask(target core.Target, b backend.Backend, permits *core.Permits, s *sink.Sink, logger logging.Logger, headers bool) *task {
	return &task{target: target, backend: b, permits: permits, sink: s, logger: logger, headers: headers}
}

// State returns the task's current lifecycle state.
func (t *task) State() State { return State(t.state.Load()) }

func (t *task) setState(s State) { t.state.Store(int32(s)) }

// run executes the task state machine. It always returns a TaskResult and
// always leaves the permit pool balanced, whatever path terminates it.
func (t *task) run(ctx context.Context) core.TaskResult {
	start := time.Now()
	fragments := 0

	finish := func(err error) core.TaskResult {
		t.setState(StateTerminated)
		t.logger.Debug("task terminated", "model", t.target.Model, "state", "terminated", "fragments", fragments)
		return core.TaskResult{
			Target:        t.target,
			Err:           err,
			FragmentCount: fragments,
			Duration:      time.Since(start),
		}
	}

	t.setState(StateAcquiringPermit)
	if err := t.permits.Acquire(ctx); err != nil {
		return finish(core.NewStreamError(core.ErrCancelled, t.target.Model, context.Cause(ctx)))
	}
	defer t.permits.Release()

	t.setState(StateConnecting)
	events, err := t.backend.Open(ctx, t.target)
	if err != nil {
		return finish(t.attribute(err, core.ErrConnectFailure))
	}

	t.setState(StateStreaming)
	if t.headers {
		if err := t.sink.WriteHeader(t.target); err != nil {
			return finish(err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return finish(core.NewStreamError(core.ErrCancelled, t.target.Model, context.Cause(ctx)))

		case ev, ok := <-events:
			if !ok {
				// Stream closed without a terminal event.
				return finish(core.NewStreamError(core.ErrConnectionClosedEarly, t.target.Model, nil))
			}
			switch ev.Kind {
			case core.EventFragment:
				if err := t.sink.Write(t.target, ev.Text); err != nil {
					return finish(err)
				}
				fragments++
			case core.EventDone:
				if t.headers {
					if err := t.sink.WriteTrailer(t.target); err != nil {
						return finish(err)
					}
				}
				return finish(nil)
			case core.EventError:
				return finish(t.attribute(ev.Err, core.ErrConnectionClosedEarly))
			}
		}
	}
}

// attribute makes sure an error carries a taxonomy code and the target's
// model; backends classify their own errors already, plain errors get the
// fallback code for the phase they surfaced in.
func (t *task) attribute(err error, fallback core.ErrorCode) error {
	if core.CodeOf(err) != "" {
		return err
	}
	return core.NewStreamError(fallback, t.target.Model, err)
}
