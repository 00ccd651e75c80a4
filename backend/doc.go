// Package backend defines the minimal contract the orchestrator relies on
// to drive one inference endpoint, plus shared error classification
// helpers. The contract is deliberately small: open one streaming
// generation and get typed events back in arrival order, or run one
// single-shot generation. Concrete implementations live in the
// subpackages:
//
//   - backend/ollama: the native newline-delimited JSON protocol
//   - backend/openaicompat: OpenAI-compatible local endpoints (/v1)
//   - backend/anthropic: the Anthropic Messages API
//
// Implementations must be safe for simultaneous use by multiple tasks;
// the shared HTTP client inside each is the pooled connection resource.
package backend
