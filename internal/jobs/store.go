// ABOUTME: Job State Store: one in-flight job per user, persisted atomically
// ABOUTME: Replays unfinished letters into the scheduler on startup

package jobs

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/2389/coven-conclave/internal/ability"
	"github.com/2389/coven-conclave/internal/durable"
)

// Store errors.
var (
	ErrJobActive = errors.New("user already has an active job")
	ErrNoJob     = errors.New("no active job")
)

// Enqueuer receives replayed work.
type Enqueuer interface {
	Enqueue(job *Job, keys []string)
}

type record struct {
	Job struct {
		ID          string    `json:"id"`
		UserID      string    `json:"user_id"`
		ChatID      string    `json:"chat_id"`
		TriggerText string    `json:"trigger_text"`
		Letters     string    `json:"letters"`
		CreatedAt   time.Time `json:"created_at"`
		Cancelled   bool      `json:"cancelled"`
		MessageID   string    `json:"message_id,omitempty"`
	} `json:"job"`
	Result Aggregate `json:"result"`
}

type entry struct {
	job       *Job
	messageID string
	result    Aggregate
}

// Snapshot is a read-only view of one entry.
type Snapshot struct {
	Job       *Job
	MessageID string
	Result    Aggregate
}

// Store is the Job State Store.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	file    *durable.Store[map[string]record]
	maxAge  time.Duration
	now     func() time.Time
	dirty   bool
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open loads the store at path, discarding entries older than maxAge or
// marked cancelled. A missing file means no in-flight jobs.
func Open(path string, maxAge time.Duration, logger *slog.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		entries: make(map[string]*entry),
		file:    durable.New[map[string]record](path),
		maxAge:  maxAge,
		now:     time.Now,
		logger:  logger,
	}
	for _, o := range opts {
		o(s)
	}

	records, _, err := s.file.Load()
	switch {
	case errors.Is(err, durable.ErrCorrupt):
		aside, asideErr := s.file.SetAside()
		if asideErr != nil {
			return nil, fmt.Errorf("loading job state: %w", errors.Join(err, asideErr))
		}
		s.logger.Error("job state unreadable, starting empty", "error", err, "moved_to", aside)
		records = nil
	case err != nil:
		return nil, fmt.Errorf("loading job state: %w", err)
	}

	now := s.now()
	discarded := 0
	for userID, rec := range records {
		if rec.Job.Cancelled || (s.maxAge > 0 && now.Sub(rec.Job.CreatedAt) > s.maxAge) {
			discarded++
			continue
		}
		job := &Job{
			ID:          rec.Job.ID,
			UserID:      userID,
			ChatID:      rec.Job.ChatID,
			TriggerText: rec.Job.TriggerText,
			Letters:     rec.Job.Letters,
			CreatedAt:   rec.Job.CreatedAt,
		}
		s.entries[userID] = &entry{job: job, messageID: rec.Job.MessageID, result: rec.Result}
	}

	if discarded > 0 {
		s.logger.Info("discarded stale jobs", "count", discarded)
		s.mu.Lock()
		_ = s.persistLocked()
		s.mu.Unlock()
	}
	return s, nil
}

// Restore enqueues the letters each loaded job has not completed yet.
// Returns the number of jobs replayed.
func (s *Store) Restore(q Enqueuer) int {
	s.mu.Lock()
	type pending struct {
		job  *Job
		keys []string
	}
	var work []pending
	for _, e := range s.entries {
		keys := ability.Keys(e.job.Letters)
		done := min(e.result.Completed, len(keys))
		if rest := keys[done:]; len(rest) > 0 {
			work = append(work, pending{job: e.job, keys: rest})
		}
	}
	s.mu.Unlock()

	sort.Slice(work, func(i, j int) bool { return work[i].job.CreatedAt.Before(work[j].job.CreatedAt) })
	for _, w := range work {
		q.Enqueue(w.job, w.keys)
		s.logger.Info("restored job",
			"job_id", w.job.ID,
			"user_id", w.job.UserID,
			"pending", len(w.keys),
		)
	}
	return len(work)
}

// Register records a new job for its user.
func (s *Store) Register(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[job.UserID]; ok && !e.job.Cancelled() {
		return ErrJobActive
	}
	s.entries[job.UserID] = &entry{
		job:    job,
		result: Aggregate{Expected: len(job.Keys())},
	}
	_ = s.persistLocked()
	return nil
}

// UpdateMessageID links the job to the message announcing its registration.
func (s *Store) UpdateMessageID(userID, jobID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[userID]
	if !ok || e.job.ID != jobID {
		return ErrNoJob
	}
	e.messageID = messageID
	_ = s.persistLocked()
	return nil
}

// ApplyCompletion appends an outcome to the job's aggregate. It returns the
// final aggregate and true exactly once, when the last expected step lands.
// Outcomes for cancelled, replaced or finished jobs are ignored.
func (s *Store) ApplyCompletion(job *Job, outcome Outcome) (Aggregate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[job.UserID]
	if !ok || e.job.ID != job.ID || job.Cancelled() {
		return Aggregate{}, false
	}

	if outcome.At.IsZero() {
		outcome.At = s.now()
	}
	e.result.Steps = append(e.result.Steps, outcome)
	e.result.TotalValue += outcome.Value
	e.result.Completed++

	if e.result.Done() {
		final := e.result.clone()
		delete(s.entries, job.UserID)
		_ = s.persistLocked()
		return final, true
	}
	_ = s.persistLocked()
	return Aggregate{}, false
}

// CancelAndClear cancels the user's job and removes it.
func (s *Store) CancelAndClear(userID string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[userID]
	if !ok {
		return nil, false
	}
	e.job.Cancel()
	delete(s.entries, userID)
	_ = s.persistLocked()
	return e.job, true
}

// Active returns the user's in-flight job.
func (s *Store) Active(userID string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[userID]
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{Job: e.job, MessageID: e.messageID, Result: e.result.clone()}, true
}

// List returns every in-flight job, oldest first.
func (s *Store) List() []Snapshot {
	s.mu.Lock()
	out := make([]Snapshot, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, Snapshot{Job: e.job, MessageID: e.messageID, Result: e.result.clone()})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Job.CreatedAt.Before(out[j].Job.CreatedAt) })
	return out
}

// Len returns the number of in-flight jobs.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Flush retries persistence after an earlier failure.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	return s.persistLocked()
}

// persistLocked writes every entry. Failures are logged and leave the store
// dirty; the in-memory copy stays authoritative.
func (s *Store) persistLocked() error {
	records := make(map[string]record, len(s.entries))
	for userID, e := range s.entries {
		var rec record
		rec.Job.ID = e.job.ID
		rec.Job.UserID = userID
		rec.Job.ChatID = e.job.ChatID
		rec.Job.TriggerText = e.job.TriggerText
		rec.Job.Letters = e.job.Letters
		rec.Job.CreatedAt = e.job.CreatedAt
		rec.Job.Cancelled = e.job.Cancelled()
		rec.Job.MessageID = e.messageID
		rec.Result = e.result
		records[userID] = rec
	}
	if err := s.file.Save(records); err != nil {
		s.dirty = true
		s.logger.Error("persisting job state failed", "path", s.file.Path(), "error", err)
		return err
	}
	s.dirty = false
	return nil
}
