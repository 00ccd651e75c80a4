package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/ollamafan/core"
	"github.com/hupe1980/ollamafan/internal/testutil"
	"github.com/hupe1980/ollamafan/sink"
)

func targetsFor(models ...string) []core.Target {
	out := make([]core.Target, 0, len(models))
	for _, m := range models {
		out = append(out, core.NewTarget(m, "prompt"))
	}
	return out
}

func TestOrchestrator_Run_AllSucceed(t *testing.T) {
	b := &testutil.ScriptedBackend{FragmentsFor: map[string][]string{
		"m1": {"one ", "two"},
		"m2": {"three"},
	}}
	var out bytes.Buffer
	o := New(b, sink.New(&out), func(o *Options) { o.Concurrency = 2 })

	results, err := o.Run(context.Background(), targetsFor("m1", "m2"))
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "m1", results[0].Target.Model)
	assert.True(t, results[0].Success())
	assert.Equal(t, 2, results[0].FragmentCount)
	assert.Equal(t, "m2", results[1].Target.Model)
	assert.True(t, results[1].Success())
	assert.Equal(t, 1, results[1].FragmentCount)
}

func TestOrchestrator_Run_EmptyTargets(t *testing.T) {
	o := New(&testutil.ScriptedBackend{}, sink.New(&bytes.Buffer{}))
	results, err := o.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestOrchestrator_Run_InvalidConcurrencyIsFatal(t *testing.T) {
	o := New(&testutil.ScriptedBackend{}, sink.New(&bytes.Buffer{}), func(o *Options) { o.Concurrency = 0 })
	results, err := o.Run(context.Background(), targetsFor("m1"))
	assert.Nil(t, results)
	assert.Equal(t, core.ErrPermitDenied, core.CodeOf(err))
}

// The number of simultaneously open streams never exceeds min(limit, targets).
func TestOrchestrator_Run_BoundsConcurrency(t *testing.T) {
	for _, tc := range []struct {
		limit, targets int
	}{
		{1, 5}, {2, 10}, {3, 3}, {8, 4},
	} {
		t.Run(fmt.Sprintf("limit=%d targets=%d", tc.limit, tc.targets), func(t *testing.T) {
			b := &testutil.ScriptedBackend{Delay: 2 * time.Millisecond}
			models := make([]string, tc.targets)
			for i := range models {
				models[i] = fmt.Sprintf("m%d", i)
			}
			o := New(b, sink.New(&bytes.Buffer{}), func(o *Options) { o.Concurrency = tc.limit })

			results, err := o.Run(context.Background(), targetsFor(models...))
			require.NoError(t, err)
			require.Len(t, results, tc.targets)

			max := int64(tc.limit)
			if int64(tc.targets) < max {
				max = int64(tc.targets)
			}
			assert.LessOrEqual(t, b.Peak(), max)
			assert.Zero(t, b.OpenStreams())
		})
	}
}

func TestOrchestrator_Run_FailureIsIsolated(t *testing.T) {
	b := &testutil.ScriptedBackend{
		FailFor: map[string]error{
			"bad": core.NewStreamError(core.ErrReadTimeout, "bad", errors.New("stalled")),
		},
		FragmentsFor: map[string][]string{"good": {"fine"}},
	}
	var out bytes.Buffer
	o := New(b, sink.New(&out), func(o *Options) { o.Concurrency = 2 })

	results, err := o.Run(context.Background(), targetsFor("good", "bad", "good"))
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].Success())
	assert.Equal(t, core.ErrReadTimeout, core.CodeOf(results[1].Err))
	assert.True(t, results[2].Success())
}

func TestOrchestrator_Run_EarlyCloseAfterFragments(t *testing.T) {
	b := &testutil.ScriptedBackend{
		FragmentsFor: map[string][]string{"m": {"already ", "written"}},
		TruncateFor:  map[string]bool{"m": true},
	}
	var out bytes.Buffer
	o := New(b, sink.New(&out))

	results, err := o.Run(context.Background(), targetsFor("m"))
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, core.ErrConnectionClosedEarly, core.CodeOf(results[0].Err))
	assert.Equal(t, 2, results[0].FragmentCount)
	// Output already written is not retracted.
	assert.Equal(t, "already written", out.String())
}

func TestOrchestrator_Run_OpenFailure(t *testing.T) {
	b := &testutil.ScriptedBackend{
		OpenErrFor: map[string]error{
			"m": core.NewStreamError(core.ErrConnectFailure, "m", errors.New("refused")),
		},
	}
	o := New(b, sink.New(&bytes.Buffer{}))

	results, err := o.Run(context.Background(), targetsFor("m"))
	require.NoError(t, err)
	assert.Equal(t, core.ErrConnectFailure, core.CodeOf(results[0].Err))
	assert.Zero(t, results[0].FragmentCount)
}

// Fail-fast: after the first failure every remaining task terminates
// cancelled within a bounded time and no permits stay held.
func TestOrchestrator_Run_FailFastCancelsSiblings(t *testing.T) {
	const targets = 10

	b := &testutil.ScriptedBackend{
		Block:         true, // streams run until cancelled
		FailFirstOpen: core.NewStreamError(core.ErrConnectFailure, "m0", errors.New("refused")),
	}
	models := make([]string, targets)
	for i := range models {
		models[i] = fmt.Sprintf("m%d", i)
	}
	o := New(b, sink.New(&bytes.Buffer{}), func(o *Options) {
		o.Concurrency = 2
		o.FailFast = true
	})

	done := make(chan struct{})
	var results []core.TaskResult
	var err error
	go func() {
		results, err = o.Run(context.Background(), targetsFor(models...))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("fail-fast run did not terminate in time")
	}

	require.NoError(t, err)
	require.Len(t, results, targets)

	failures := 0
	cancelled := 0
	for _, r := range results {
		if !r.Success() {
			failures++
		}
		if core.CodeOf(r.Err) == core.ErrCancelled {
			cancelled++
		}
	}
	assert.Equal(t, targets, failures)
	assert.GreaterOrEqual(t, cancelled, targets-1)
	assert.Zero(t, b.OpenStreams())
}

func TestOrchestrator_Run_ExternalCancellation(t *testing.T) {
	b := &testutil.ScriptedBackend{Block: true}
	o := New(b, sink.New(&bytes.Buffer{}), func(o *Options) { o.Concurrency = 2 })

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	results, err := o.Run(ctx, targetsFor("m1", "m2", "m3", "m4"))
	require.NoError(t, err)
	require.Len(t, results, 4)
	for _, r := range results {
		assert.Equal(t, core.ErrCancelled, core.CodeOf(r.Err))
	}
}

// Stress: many tasks writing marker fragments concurrently; the sink output
// must contain each task's bytes uncorrupted. Writers alternate between two
// coprime fragment lengths so a break on one length's boundary still shows
// up against the other.
func TestOrchestrator_Run_NoOutputCorruption(t *testing.T) {
	const writers = 6

	fragments := map[string][]string{}
	lengths := map[byte]int{}
	models := make([]string, writers)
	total := 0
	for i := 0; i < writers; i++ {
		marker := string(rune('a' + i))
		models[i] = marker
		fragLen := 37
		if i%2 == 1 {
			fragLen = 41
		}
		lengths[marker[0]] = fragLen
		total += 20 * fragLen
		var frags []string
		for j := 0; j < 20; j++ {
			frags = append(frags, strings.Repeat(marker, fragLen))
		}
		fragments[marker] = frags
	}

	b := &testutil.ScriptedBackend{FragmentsFor: fragments}
	var out bytes.Buffer
	o := New(b, sink.New(&out), func(o *Options) { o.Concurrency = writers })

	results, err := o.Run(context.Background(), targetsFor(models...))
	require.NoError(t, err)
	for _, r := range results {
		assert.True(t, r.Success())
	}

	got := out.String()
	assert.Len(t, got, total)
	for len(got) > 0 {
		run := 1
		for run < len(got) && got[run] == got[0] {
			run++
		}
		fragLen := lengths[got[0]]
		assert.Zerof(t, run%fragLen, "fragment of %q split after %d bytes", got[0], run%fragLen)
		got = got[run:]
	}
}

func TestOrchestrator_Run_SerializedWhenLimitOne(t *testing.T) {
	b := &testutil.ScriptedBackend{Delay: time.Millisecond}
	o := New(b, sink.New(&bytes.Buffer{}), func(o *Options) { o.Concurrency = 1 })

	results, err := o.Run(context.Background(), targetsFor("m1", "m2", "m3"))
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, int64(1), b.Peak())
}
