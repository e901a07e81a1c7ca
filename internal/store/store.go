// ABOUTME: Record types and sentinel errors for engine persistence
// ABOUTME: Outcome ledger rows and resource spend events

package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// OutcomeRecord is one row of the outcome ledger.
type OutcomeRecord struct {
	ID           int64
	JobID        string
	UserID       string
	AgentID      string
	AgentName    string
	AbilityKey   string
	AbilityLabel string
	Value        int
	Critical     bool
	Status       string
	At           time.Time
}

// SpendEvent is one resource unit spent by an agent.
type SpendEvent struct {
	AgentID string
	Before  int
	At      time.Time
}
