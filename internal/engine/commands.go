// ABOUTME: Job commands: submit, cancel, status and resource reports from chat or HTTP
// ABOUTME: Completion and drop hooks feed the job store, the ledger and the final summary

package engine

import (
	"context"
	"errors"

	"github.com/2389/coven-conclave/internal/chat"
	"github.com/2389/coven-conclave/internal/intake"
	"github.com/2389/coven-conclave/internal/jobs"
	"github.com/2389/coven-conclave/internal/metrics"
	"github.com/2389/coven-conclave/internal/notify"
)

// ErrNoLetters is returned when a request names no known ability.
var ErrNoLetters = errors.New("no known ability letters")

// Request describes a job submission.
type Request struct {
	UserID string
	// ChatID is where the trigger was posted. Empty means each agent's source chat.
	ChatID      string
	TriggerText string
	// TriggerID is the trigger message, replied to by the registration notice.
	TriggerID string
	Letters   string
}

// JobStatus is a read-only view of an in-flight job.
type JobStatus struct {
	jobs.Snapshot
	Pending []string
}

// Submit normalizes the requested letters, registers the job and enqueues
// one item per letter. A user with an active job gets jobs.ErrJobActive and
// a notice listing what is still queued.
func (e *Engine) Submit(ctx context.Context, req Request) (*jobs.Job, error) {
	letters := e.catalog.NormalizeLetters(req.Letters, e.cfg.Jobs.MaxLetters)
	if letters == "" {
		e.metrics.IncJob(metrics.JobRejected)
		return nil, ErrNoLetters
	}

	job := jobs.NewJob(req.UserID, req.ChatID, req.TriggerText, letters, e.clock())
	if err := e.jobs.Register(job); err != nil {
		e.metrics.IncJob(metrics.JobRejected)
		if errors.Is(err, jobs.ErrJobActive) {
			e.announce(ctx, req.ChatID, req.TriggerID, e.notifier.Rejected(e.scheduler.PendingKeys(req.UserID)))
		}
		return nil, err
	}

	if msgID := e.announce(ctx, req.ChatID, req.TriggerID, e.notifier.Registration(letters)); msgID != "" {
		if err := e.jobs.UpdateMessageID(job.UserID, job.ID, msgID); err != nil {
			e.logger.Warn("linking registration notice failed", "job_id", job.ID, "error", err)
		}
	}

	e.scheduler.Enqueue(job, job.Keys())
	e.metrics.IncJob(metrics.JobSubmitted)
	e.logger.Info("job submitted", "job_id", job.ID, "user_id", job.UserID, "letters", letters)
	return job, nil
}

// Cancel drops the user's active job and its queued items. Steps already
// executing finish, and their outcomes are discarded.
func (e *Engine) Cancel(userID string) bool {
	job, found := e.jobs.CancelAndClear(userID)
	removed := e.scheduler.CancelUserJobs(userID)
	if found {
		e.metrics.IncJob(metrics.JobCancelled)
		e.logger.Info("job cancelled", "job_id", job.ID, "user_id", userID, "queued_removed", removed)
	}
	return found || removed
}

// Status returns the user's in-flight job and the letters still queued.
func (e *Engine) Status(userID string) (JobStatus, bool) {
	snap, ok := e.jobs.Active(userID)
	if !ok {
		return JobStatus{}, false
	}
	return JobStatus{Snapshot: snap, Pending: e.scheduler.PendingKeys(userID)}, true
}

// ReportResource overwrites the resource counter of every resource-consuming
// agent owned by userID. Returns how many agents were updated.
func (e *Engine) ReportResource(ctx context.Context, userID string, value int) int {
	updated := 0
	for _, a := range e.registry.ByOwner(ctx, userID) {
		if !a.ConsumesResource || a.IsObserver() {
			continue
		}
		a.SetResourceManual(value)
		updated++
		e.logger.Info("resource reported", "agent_id", a.ID, "user_id", userID, "value", value)
	}
	return updated
}

// HandleMessage runs one chat command.
// Redelivered events are ignored.
func (e *Engine) HandleMessage(ctx context.Context, msg chat.Message) {
	if !e.seen.First(msg.ID) {
		e.logger.Debug("ignoring redelivered message", "message_id", msg.ID)
		return
	}
	cmd := e.grammar.Parse(msg.Text)
	switch cmd.Kind {
	case intake.KindSubmit:
		_, err := e.Submit(ctx, Request{
			UserID:      msg.AuthorID,
			ChatID:      msg.ChatID,
			TriggerText: msg.Text,
			TriggerID:   msg.ID,
			Letters:     cmd.Letters,
		})
		if err != nil && !errors.Is(err, jobs.ErrJobActive) {
			e.logger.Info("submission rejected", "user_id", msg.AuthorID, "error", err)
		}
	case intake.KindCancel:
		found := e.Cancel(msg.AuthorID)
		e.announce(ctx, msg.ChatID, msg.ID, e.notifier.Cancelled(found))
	case intake.KindResource:
		if n := e.ReportResource(ctx, msg.AuthorID, cmd.Value); n == 0 {
			e.logger.Info("resource report matched no agents", "user_id", msg.AuthorID)
		}
	}
}

// handleCompletion records one resolved step and finalizes the job when it
// was the last one.
func (e *Engine) handleCompletion(job *jobs.Job, outcome jobs.Outcome) {
	if job.Cancelled() {
		e.logger.Info("outcome for cancelled job discarded", "job_id", job.ID, "ability", outcome.AbilityKey)
		return
	}
	if outcome.At.IsZero() {
		outcome.At = e.clock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()
	if err := e.ledger.RecordOutcome(ctx, job, outcome); err != nil {
		e.logger.Warn("recording outcome failed", "job_id", job.ID, "error", err)
	}

	var registrationID string
	if snap, ok := e.jobs.Active(job.UserID); ok && snap.Job.ID == job.ID {
		registrationID = snap.MessageID
	}

	agg, done := e.jobs.ApplyCompletion(job, outcome)
	if !done {
		return
	}
	e.metrics.IncJob(metrics.JobFinalized)
	e.logger.Info("job finalized",
		"job_id", job.ID,
		"user_id", job.UserID,
		"steps", len(agg.Steps),
		"total", agg.TotalValue,
	)
	e.announce(ctx, job.ChatID, registrationID, e.notifier.Final(job.UserID, agg, e.ownerOf))
}

// handleDrop closes a step no agent can ever serve, so the job can finalize.
func (e *Engine) handleDrop(job *jobs.Job, key string) {
	outcome := jobs.Outcome{
		AbilityKey: key,
		Status:     jobs.StatusAbandoned,
		At:         e.clock(),
	}
	if ab, ok := e.catalog.Resolve(key); ok {
		outcome.AbilityLabel = ab.Label
	}
	e.handleCompletion(job, outcome)
}

func (e *Engine) ownerOf(agentID string) string {
	if a, ok := e.registry.Get(agentID); ok {
		return a.OwnerID()
	}
	return ""
}

// announce posts msg through the observer and returns the new message ID,
// or "" when nothing was posted.
func (e *Engine) announce(ctx context.Context, chatID, replyTo string, msg notify.Message) string {
	if msg.Text == "" {
		return ""
	}
	observer, ok := e.registry.Observer()
	if !ok {
		return ""
	}
	if chatID == "" {
		chatID = observer.SourceChat
	}
	id, err := observer.Session().Send(ctx, chatID, msg.Text, chat.SendOptions{ReplyTo: replyTo, HTML: msg.HTML})
	if err != nil {
		e.logger.Warn("posting notice failed", "chat_id", chatID, "status", chat.Status(err), "error", err)
		return ""
	}
	return id
}
