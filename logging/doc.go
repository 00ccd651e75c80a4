// Package logging provides a tiny abstraction over slog so downstream code
// can depend on a minimal interface (Logger) while allowing users to plug
// any structured logger. It also offers a richer StreamLogger with
// contextual helpers (run, target) and domain specific logging helpers for
// streams and orchestrator runs. Library code defaults to NoOpLogger so
// diagnostics never leak onto the output streams unless asked for.
package logging
