package sink

import (
	"fmt"
	"io"
	"sync"

	"github.com/hupe1980/ollamafan/core"
)

// Options configure a Sink.
type Options struct {
	// Status receives diagnostic lines (per-target outcomes). Defaults to
	// the output writer; CLIs point it at stderr so generated text and
	// status stay on separate streams.
	Status io.Writer
}

// Sink serializes output from concurrent streaming tasks onto one writer.
// Each method holds the lock only for the duration of its own write, never
// for a whole fragment-processing cycle, so decoding and network I/O of
// other tasks are not serialized behind it. Safe for concurrent use.
type Sink struct {
	mu     sync.Mutex
	out    io.Writer
	status io.Writer
}

// New creates a Sink writing generated text to out.
func New(out io.Writer, optFns ...func(o *Options)) *Sink {
	opts := Options{Status: out}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Sink{out: out, status: opts.Status}
}

// Write renders one fragment of target's output. Fragments of one target
// arrive in order; fragments of different targets may interleave between
// calls but never within one.
func (s *Sink) Write(target core.Target, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.out, text)
	return err
}

// WriteHeader renders a banner announcing target's stream, matching the
// per-model header the interactive CLI prints.
func (s *Sink) WriteHeader(target core.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.out, "\n=== %s (streaming) ===\n\n", target.Model)
	return err
}

// WriteBlock renders target's banner, the full response text and the
// closing spacing as one unit under a single lock acquisition. Used by
// non-streaming paths where the whole response arrives at once and must
// not interleave with other targets' blocks.
func (s *Sink) WriteBlock(target core.Target, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.out, "\n=== %s ===\n\n%s\n\n", target.Model, text)
	return err
}

// WriteTrailer renders the spacing that closes target's stream.
func (s *Sink) WriteTrailer(target core.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.out, "\n\n")
	return err
}

// WriteStatus renders one diagnostic line on the status stream.
func (s *Sink) WriteStatus(format string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.status, format+"\n", args...)
	return err
}
