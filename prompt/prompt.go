// Package prompt provides the glue around the orchestrator core: prompt
// whitespace normalization and model selection against a live endpoint.
// Multiline prompts written for readability in code or config are
// compacted before being sent, and when the caller names no models, a
// random pick from the locally available ones stands in.
package prompt

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/hupe1980/ollamafan/backend"
)

// Minify collapses every run of whitespace (spaces, tabs, newlines) into a
// single space and trims the ends, compacting multiline prompt literals.
func Minify(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// PickModels selects n models at random, with replacement, from those
// available at the endpoint. Duplicates are expected and fine: querying
// one model twice is a valid fan-out.
func PickModels(ctx context.Context, lister backend.ModelLister, n int) ([]string, error) {
	if n < 1 {
		return nil, fmt.Errorf("pick models: count must be >= 1, got %d", n)
	}

	available, err := lister.Models(ctx)
	if err != nil {
		return nil, fmt.Errorf("pick models: %w", err)
	}
	if len(available) == 0 {
		return nil, fmt.Errorf("pick models: no models available at the endpoint")
	}

	picked := make([]string, n)
	for i := range picked {
		picked[i] = available[rand.IntN(len(available))]
	}
	return picked, nil
}
