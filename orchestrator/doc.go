// Package orchestrator fans a set of targets out over a bounded number of
// concurrent streaming tasks. Each task drives one target end to end:
// acquire a permit, open the stream, route fragments to the shared sink,
// terminate with exactly one TaskResult. The permit pool is the sole
// admission-control mechanism; launching more targets than permits never
// increases the number of simultaneously open streams.
//
// Failures stay local to their task. One target failing never disturbs its
// siblings unless fail-fast was requested, in which case the first failure
// cancels the rest promptly and the cancelled tasks terminate with a
// cancelled result, permits released.
package orchestrator
