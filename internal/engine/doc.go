// Package engine implements the watering pipeline.
//
// The engine receives decoded plants, decides which of them may be watered
// now, limits them to the gardener's remaining budget and submits one
// water transaction per plant.
//
// ARCHITECTURE:
//
// Pipeline Steps:
// 1. Discover: decoded plants come from the discovery package
// 2. Identity: the agent's gardener and owned mint come from a Strategy
// 3. Evaluate: plants are classified as actionable, not-yet-due or expired
// 4. Govern: the gardener's window counter bounds how many are watered
// 5. Submit: the budgeted slice is watered in settled chunks
// 6. Report: a summary line is logged
//
// Ordering:
// Actionable plants are sorted by water timeout, then level. The sort is
// stable, so equal keys keep discovery order and repeated runs over the
// same ledger state produce the same batch.
//
// Failure isolation:
// A plant that fails to decode, resolve or water is logged and counted.
// It never cancels siblings and is never retried within a run; the next
// scheduled run re-evaluates it from fresh ledger state.
//
// State:
// The ledger is the only durable store. Every decoded record is a
// point-in-time snapshot and the engine keeps nothing between runs.
package engine
