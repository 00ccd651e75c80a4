// Package ollamafan provides a high-level façade over the bounded
// concurrent streaming orchestrator. Most applications interact with this
// package by:
//  1. Building the target list (one entry per model to query; duplicates allowed)
//  2. Calling Run for interleaved streaming output, or Generate for
//     single-shot completions
//  3. Inspecting the returned TaskResults (one per target, in order)
//
// The façade delegates fan-out, admission control and output serialization
// to the orchestrator, sink and backend packages while keeping setup
// ergonomics concise. All defaults are safe for a locally running
// instance; other endpoints are supplied via options.
package ollamafan

import (
	"context"
	"io"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/ollamafan/backend"
	"github.com/hupe1980/ollamafan/backend/ollama"
	"github.com/hupe1980/ollamafan/core"
	"github.com/hupe1980/ollamafan/logging"
	"github.com/hupe1980/ollamafan/orchestrator"
	"github.com/hupe1980/ollamafan/sink"
)

// Options configure a run.
type Options struct {
	// Backend serves the generations. Defaults to a native local backend.
	Backend backend.Backend
	// Output receives generated text. Defaults to stdout.
	Output io.Writer
	// Status receives per-target diagnostics. Defaults to stderr.
	Status io.Writer
	// Concurrency bounds simultaneously open streams. Must be >= 1.
	Concurrency int
	// FailFast cancels outstanding tasks on the first failure.
	FailFast bool
	// Headers prints a banner before each model's output.
	Headers bool
	// Sink overrides the built output sink. When set, Output and Status
	// are ignored and the caller may issue its own status writes through
	// the same lock.
	Sink *sink.Sink
	// Logger receives diagnostics. Defaults to NoOpLogger.
	Logger logging.Logger
}

func buildSink(opts Options) *sink.Sink {
	if opts.Sink != nil {
		return opts.Sink
	}
	return sink.New(opts.Output, func(o *sink.Options) { o.Status = opts.Status })
}

func buildOptions(optFns []func(o *Options)) Options {
	opts := Options{
		Output:      os.Stdout,
		Status:      os.Stderr,
		Concurrency: 3,
		Headers:     true,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Backend == nil {
		opts.Backend = ollama.New(func(o *ollama.Options) { o.Logger = opts.Logger })
	}
	return opts
}

// Targets builds one Target per model for a shared prompt, preserving
// order and duplicates.
func Targets(models []string, prompt string) []core.Target {
	targets := make([]core.Target, 0, len(models))
	for _, m := range models {
		targets = append(targets, core.NewTarget(m, prompt))
	}
	return targets
}

// Run streams one generation per model concurrently, interleaving output
// through a shared sink, and returns one TaskResult per model in input
// order. The error is non-nil only when the run could not be scheduled.
func Run(ctx context.Context, models []string, prompt string, optFns ...func(o *Options)) ([]core.TaskResult, error) {
	opts := buildOptions(optFns)

	orch := orchestrator.New(opts.Backend, buildSink(opts), func(o *orchestrator.Options) {
		o.Concurrency = opts.Concurrency
		o.FailFast = opts.FailFast
		o.Headers = opts.Headers
		o.Logger = opts.Logger
	})

	return orch.Run(ctx, Targets(models, prompt))
}

// Generate runs one single-shot (non-streaming) generation per model with
// the same concurrency bound and result semantics as Run. Each response is
// written whole once complete, so output never interleaves across models.
func Generate(ctx context.Context, models []string, prompt string, optFns ...func(o *Options)) ([]core.TaskResult, error) {
	opts := buildOptions(optFns)
	if _, err := core.NewPermits(opts.Concurrency); err != nil {
		return nil, err
	}

	s := buildSink(opts)
	targets := Targets(models, prompt)
	results := make([]core.TaskResult, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, target := range targets {
		g.Go(func() error {
			start := time.Now()

			text, _, err := opts.Backend.Generate(gctx, target)
			res := core.TaskResult{Target: target, Err: err, Duration: time.Since(start)}
			if err == nil {
				// One lock acquisition per response so concurrent results
				// land as whole blocks, never split around another model's.
				if opts.Headers {
					_ = s.WriteBlock(target, text)
				} else {
					_ = s.Write(target, text)
				}
				res.FragmentCount = 1
			} else if opts.FailFast {
				results[i] = res
				return err
			}
			results[i] = res
			return nil
		})
	}
	// Individual failures are captured per target; the group error only
	// drives fail-fast cancellation of the siblings.
	_ = g.Wait()
	return results, nil
}
