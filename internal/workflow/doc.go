// Package workflow is the business boundary for Warden's alert pipeline.
// It defines the four stage executors (triage, investigation, decision,
// response), the Engine state machine that sequences them, the Service
// (dedup, concurrency bound, async dispatch), the Store interface, and the
// domain models threaded through a run.
package workflow
