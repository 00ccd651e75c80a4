package core

import "time"

// TaskResult records the terminal outcome of one streaming task. Produced
// exactly once per Target, immutable, collected by the orchestrator
// regardless of outcome. A non-nil Err means the output already written for
// this target may be incomplete; it is never retracted.
type TaskResult struct {
	Target        Target        `json:"target"`
	Err           error         `json:"-"`
	FragmentCount int           `json:"fragment_count"`
	Duration      time.Duration `json:"duration"`
}

// Success reports whether the task terminated with a Done event.
func (r TaskResult) Success() bool { return r.Err == nil }

// Status renders a short per-target status line for diagnostics.
func (r TaskResult) Status() string {
	if r.Success() {
		return "ok"
	}
	if code := CodeOf(r.Err); code != "" {
		return string(code)
	}
	return r.Err.Error()
}
