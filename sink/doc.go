// Package sink provides the single serialization point for rendering
// output produced by concurrent streaming tasks. All writes share one
// critical section, so fragments from different targets may interleave
// with each other but never mid-fragment. The lock is scoped to one Sink
// (one orchestrator run); independent runs do not contend.
package sink
