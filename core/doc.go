// Package core provides the foundational domain types shared by the
// streaming orchestrator. It defines the core abstractions for:
//
//   - Targets (one model identity plus the request payload)
//   - Events (typed interpretations of decoded stream records)
//   - TaskResults (immutable terminal outcomes, one per target)
//   - Permits (the admission-control pool bounding in-flight streams)
//   - The error taxonomy used across backends and tasks
//
// The package intentionally keeps implementation concerns (transport,
// decoding, orchestration) out of scope, exposing small types so the
// decode, backend and orchestrator packages stay decoupled.
package core
