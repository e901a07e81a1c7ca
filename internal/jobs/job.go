// ABOUTME: Job, per-step outcome and aggregate result types
// ABOUTME: A job is immutable apart from its cancellation flag

package jobs

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-conclave/internal/ability"
)

// Step statuses recorded in an Aggregate.
const (
	StatusApplied   = "applied"
	StatusAlready   = "already"
	StatusAbandoned = "abandoned"
)

// Job is one user request.
type Job struct {
	ID          string
	UserID      string
	ChatID      string
	TriggerText string
	Letters     string
	CreatedAt   time.Time

	cancelled atomic.Bool
}

// NewJob creates a job with a fresh id. Letters should already be normalized.
func NewJob(userID, chatID, triggerText, letters string, now time.Time) *Job {
	return &Job{
		ID:          uuid.NewString(),
		UserID:      userID,
		ChatID:      chatID,
		TriggerText: triggerText,
		Letters:     letters,
		CreatedAt:   now,
	}
}

// Keys returns the job's ability keys in order.
func (j *Job) Keys() []string {
	return ability.Keys(j.Letters)
}

// Cancel marks the job cancelled.
func (j *Job) Cancel() {
	j.cancelled.Store(true)
}

// Cancelled reports whether Cancel was called.
func (j *Job) Cancelled() bool {
	return j.cancelled.Load()
}

// Outcome is the record of one resolved step.
type Outcome struct {
	AgentID      string    `json:"agent_id,omitempty"`
	AgentName    string    `json:"agent_name,omitempty"`
	AbilityKey   string    `json:"ability_key"`
	AbilityLabel string    `json:"ability_label,omitempty"`
	Value        int       `json:"value"`
	Critical     bool      `json:"critical"`
	Status       string    `json:"status"`
	At           time.Time `json:"at"`
}

// Aggregate accumulates a job's step outcomes.
type Aggregate struct {
	Steps      []Outcome `json:"steps"`
	TotalValue int       `json:"total_value"`
	Expected   int       `json:"expected"`
	Completed  int       `json:"completed"`
}

// Done reports whether every expected step has resolved.
func (a Aggregate) Done() bool {
	return a.Completed >= a.Expected
}

func (a Aggregate) clone() Aggregate {
	out := a
	out.Steps = append([]Outcome(nil), a.Steps...)
	return out
}
