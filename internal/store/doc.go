// Package store persists engine state in SQLite.
//
// # Tables
//
//   - agent_state: one JSON snapshot of agent.State per agent, written by the
//     autosave job and at shutdown, read back at startup
//   - outcomes: append-only ledger of every resolved job step
//   - spend_events: one row per resource unit spent, with the counter value
//     before the spend
//
// # SQLite Configuration
//
// The store uses the pure-Go modernc.org/sqlite driver with WAL mode:
//
//	PRAGMA journal_mode=WAL;
//
// Database file locations:
//
//   - Production: /var/lib/conclave/conclave.db
//   - Testing: a file under t.TempDir()
//
// # Error Handling
//
//   - ErrNotFound: the agent has no saved snapshot
//
// All query methods accept context.Context. RecordSpend has no context because
// it is called from inside the agent's state transition; it bounds its own
// write with spendTimeout and logs failures.
package store
