// Package jobs holds user requests and their progress.
//
// A Job is one user command: an ordered sequence of ability keys ("letters").
// The Store keeps at most one in-flight job per user together with its
// Aggregate, persists every mutation through the durable record store and
// replays unfinished letters into the scheduler after a restart.
//
// ApplyCompletion reports finalize=true exactly once per job, the moment the
// completed count reaches the expected count; the entry is removed in the same
// critical section so later completions for that job are ignored.
package jobs
