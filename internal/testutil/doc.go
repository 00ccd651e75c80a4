// Package testutil provides shared test helpers: an httptest server that
// speaks the generate NDJSON protocol with controllable pacing and
// truncation, and a scripted in-memory backend for orchestrator tests.
// Test-only; never imported by production code.
package testutil
