// Package calibration defines the types used by the guided camera calibration
// workflows. It contains:
//
//   - Workflow and Step: the two step catalogs (install debugging, ODS batch setup)
//   - Status: the per-step state machine (pending, running, pass, fail)
//   - Verdict and FailureDetail: what a measurement provider reports for a step
//   - Snapshot and the event payloads: view models returned by HTTP APIs and
//     consumed by the CLI and the watch view
//
// These types are shared across runner, daemon, client and TUI code to avoid
// duplicate definitions and keep JSON contracts consistent.
package calibration
