package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/ollamafan/backend"
	"github.com/hupe1980/ollamafan/core"
	"github.com/hupe1980/ollamafan/logging"
	"github.com/hupe1980/ollamafan/sink"
)

// errFailFast is the cancellation cause used when fail-fast tears a run
// down after the first failure.
var errFailFast = errors.New("fail-fast: sibling task failed")

// Options configure an orchestrator run.
type Options struct {
	// Concurrency is the permit pool size. Must be >= 1; 1 serializes all
	// tasks.
	Concurrency int
	// FailFast cancels all outstanding tasks on the first failure. Their
	// results are tagged cancelled.
	FailFast bool
	// Headers makes each task announce its stream with a banner before the
	// first fragment.
	Headers bool
	// Logger receives diagnostics. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Orchestrator owns the concurrency limit, the shared backend and the sink
// for one run configuration. Safe for concurrent Run calls; each run gets
// its own permit pool and cancellation scope.
type Orchestrator struct {
	backend backend.Backend
	sink    *sink.Sink
	opts    Options
}

// New creates an orchestrator over the given backend and sink.
func New(b backend.Backend, s *sink.Sink, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		Concurrency: 3,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Orchestrator{backend: b, sink: s, opts: opts}
}

// Run launches one streaming task per target, gated by a permit pool of
// exactly Concurrency slots, and waits for every task to terminate. All
// TaskResults are returned in target order regardless of individual
// outcomes; a failure in one task never prevents completion of the others
// unless FailFast is set. The returned error is non-nil only when the run
// could not be scheduled at all.
func (o *Orchestrator) Run(ctx context.Context, targets []core.Target) ([]core.TaskResult, error) {
	if o.backend == nil {
		return nil, fmt.Errorf("orchestrator: no backend configured")
	}
	if o.sink == nil {
		return nil, fmt.Errorf("orchestrator: no sink configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, core.NewStreamError(core.ErrPermitDenied, "", err)
	}

	permits, err := core.NewPermits(o.opts.Concurrency)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, nil
	}

	start := time.Now()
	runID := core.NewID()
	o.opts.Logger.Info("run started", "run_id", runID, "targets", len(targets), "concurrency", o.opts.Concurrency)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	results := make([]core.TaskResult, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target core.Target) {
			defer wg.Done()

			t := newTask(target, o.backend, permits, o.sink, o.opts.Logger, o.opts.Headers)
			res := t.run(runCtx)
			results[i] = res

			o.opts.Logger.Debug("task result", "run_id", runID, "model", target.Model, "status", res.Status())
			if o.opts.FailFast && !res.Success() {
				cancel(errFailFast)
			}
		}(i, target)
	}
	wg.Wait()

	failures := 0
	for _, r := range results {
		if !r.Success() {
			failures++
		}
	}
	o.opts.Logger.Info("run finished",
		"run_id", runID,
		"targets", len(targets),
		"failures", failures,
		"duration", time.Since(start),
	)
	return results, nil
}
