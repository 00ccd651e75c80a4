package core

import "time"

// Timeouts hold the independent phase deadlines of one generation request.
// They are deliberately not collapsed into a single total-request deadline:
// a slow-but-healthy generation must not be killed by a short connect
// timeout, and an unreachable host must not wait out a generation budget.
type Timeouts struct {
	// Connect bounds the dial phase. Zero disables the bound.
	Connect time.Duration
	// Write bounds sending the request and awaiting the response headers.
	// Zero disables the bound.
	Write time.Duration
	// Read bounds the gap between successive body reads while streaming.
	// Zero means unbounded, the right choice for long generations.
	Read time.Duration
	// Pool bounds acquiring a usable transport connection, covering the
	// idle-pool wait plus the dial. Zero disables the bound.
	Pool time.Duration
}

// DefaultTimeouts returns the deadlines tuned for local inference:
// generous connect and write bounds, no read bound, a short pool wait.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect: 10 * time.Second,
		Write:   60 * time.Second,
		Read:    0,
		Pool:    15 * time.Second,
	}
}
