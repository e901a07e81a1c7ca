// Package scheduler dispatches per-ability work items to agents.
//
// Items live in a heap ordered by ready time, ties broken by original enqueue
// order. The dispatcher pops the earliest ready item, asks the ranker for
// candidates and executes on the best one, retrying once on the runner-up.
// Failed items are requeued after a fixed backoff. Items nobody can ever
// serve are dropped and reported through the drop hook; items blocked only by
// cooldowns wait for the earliest agent to free up.
package scheduler
