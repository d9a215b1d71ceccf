// Package tracker drives the milestone poll cycle: it fetches the status
// snapshot, derives the current step, reconciles newly completed milestones
// against the previous snapshot and dispatches one telemetry record per
// completion.
package tracker
