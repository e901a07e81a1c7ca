// ABOUTME: Package engine wires the roster, scheduler, executor and job store into one process
// ABOUTME: Owns command intake, notifications, maintenance and the HTTP surface

// Package engine is the composition root of conclave.
//
// # Overview
//
// The Engine connects the pieces that each live in their own package:
//
//   - agent.Registry holds the agents built from the roster
//   - scheduler.Scheduler dispatches one (job, ability) item at a time
//   - executor.Executor runs the send, poll and classify cycle
//   - jobs.Store keeps in-flight jobs durable across restarts
//   - store.SQLiteStore persists agent state and the outcome ledger
//
// # Commands
//
// The observer agent listens on its source chat. Messages parsed by
// intake.Grammar become Submit, Cancel or ReportResource calls. The same
// operations are exposed over HTTP under /api, guarded by bearer JWTs.
//
// # Completion
//
// Every resolved step reaches handleCompletion, which appends it to the ledger
// and to the job's aggregate. When the last step lands the observer replies to
// the registration notice with the rendered summary.
//
// # Lifecycle
//
// Run restores agent state and in-flight jobs, then starts the dispatcher, the
// maintenance cron, the command listener and the HTTP server. Cancelling the
// context drains the dispatcher and saves agent state before closing the store.
package engine
