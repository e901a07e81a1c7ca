// ABOUTME: Executes one ability on one agent: validate, send, poll, classify, apply
// ABOUTME: Serialized per agent and per target chat; always returns a Result

package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/2389/coven-conclave/internal/ability"
	"github.com/2389/coven-conclave/internal/agent"
	"github.com/2389/coven-conclave/internal/chat"
	"github.com/2389/coven-conclave/internal/jobs"
	"github.com/2389/coven-conclave/internal/reply"
)

// Status is the machine-readable result code of an execution.
type Status string

const (
	StatusSuccess Status = "success"
	StatusAlready Status = "already"

	// validation rejections
	StatusObserver        Status = "observer"
	StatusDisabled        Status = "disabled"
	StatusSuspended       Status = "suspended"
	StatusNeedsManual     Status = "needs_manual"
	StatusUnsupported     Status = "unsupported"
	StatusNoResourceLocal Status = "no_resource_local"
	StatusSocialCooldown  Status = "social_cooldown"
	StatusAbilityCooldown Status = "ability_cooldown"
	StatusTriggerNotFound Status = "trigger_not_found"

	// transport
	StatusAuth           Status = "auth"
	StatusRateLimited    Status = "rate_limited"
	StatusChallenge      Status = "challenge"
	StatusCircuitOpen    Status = "circuit_open"
	StatusTransportError Status = "transport_error"
	StatusCancelled      Status = "cancelled"

	// classified replies
	StatusCooldown        Status = "cooldown"
	StatusWrongCapability Status = "wrong_capability"
	StatusNotEligible     Status = "not_eligible"
	StatusNoResource      Status = "no_resource"
	StatusUnknown         Status = "unknown"
)

// Result is what one execution produced.
type Result struct {
	Success bool
	Status  Status
	Outcome *jobs.Outcome
	// RetryAfter is the cooldown the platform reported, when known.
	RetryAfter time.Duration
}

// Config tunes polling and the cooldowns applied after each reply.
type Config struct {
	PollInterval time.Duration
	PollCount    int
	// PollBackoff grows each poll wait: interval * (1 + i*PollBackoff).
	PollBackoff  float64
	TriggerDepth int
	PollDepth    int

	SocialCooldown          time.Duration
	CooldownFallback        time.Duration
	WrongCapabilityCooldown time.Duration
	ChallengePause          time.Duration
	TemporaryCapabilityTTL  time.Duration

	ProfileCommand string
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		PollInterval:            2 * time.Second,
		PollCount:               20,
		PollBackoff:             0.2,
		TriggerDepth:            30,
		PollDepth:               25,
		SocialCooldown:          62 * time.Second,
		CooldownFallback:        62 * time.Second,
		WrongCapabilityCooldown: 300 * time.Second,
		ChallengePause:          60 * time.Second,
		TemporaryCapabilityTTL:  2 * time.Hour,
		ProfileCommand:          "мой профиль",
	}
}

// Registry is the part of agent.Registry the executor needs.
type Registry interface {
	ByOwner(ctx context.Context, userID string) []*agent.Agent
	Reindex(a *agent.Agent)
}

// Observer is notified of every finished execution.
type Observer interface {
	ObserveExecution(agentID string, status string, elapsed time.Duration)
}

// Executor runs abilities.
type Executor struct {
	cfg        Config
	catalog    *ability.Catalog
	registry   Registry
	classifier *reply.Classifier
	appraisal  reply.AppraisalTable
	observer   Observer
	sleep      func(ctx context.Context, d time.Duration) error
	clock      func() time.Time
	logger     *slog.Logger

	agentLocks  *keyedMutex
	targetLocks *keyedMutex
}

// Option configures an Executor.
type Option func(*Executor)

// WithClassifier replaces the default reply rules.
func WithClassifier(c *reply.Classifier) Option {
	return func(e *Executor) { e.classifier = c }
}

// WithAppraisalTable replaces the default value tiers.
func WithAppraisalTable(t reply.AppraisalTable) Option {
	return func(e *Executor) { e.appraisal = t }
}

// WithObserver reports executions to o.
func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observer = o }
}

// WithSleep replaces the poll wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = sleep }
}

// WithClock replaces the time source.
func WithClock(clock func() time.Time) Option {
	return func(e *Executor) { e.clock = clock }
}

// New creates an Executor.
func New(cfg Config, catalog *ability.Catalog, registry Registry, logger *slog.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		cfg:         cfg,
		catalog:     catalog,
		registry:    registry,
		classifier:  reply.NewClassifier(nil),
		appraisal:   reply.DefaultAppraisalTable(),
		sleep:       sleepContext,
		clock:       time.Now,
		logger:      logger.With("component", "executor"),
		agentLocks:  newKeyedMutex(),
		targetLocks: newKeyedMutex(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute performs ab on a for job. It never panics or returns an error.
func (e *Executor) Execute(ctx context.Context, a *agent.Agent, ab ability.Ability, job *jobs.Job) (res Result) {
	start := e.clock()
	log := e.logger.With("agent_id", a.ID, "ability", ab.Key, "user_id", job.UserID, "job_id", job.ID)
	defer func() {
		if e.observer != nil {
			e.observer.ObserveExecution(a.ID, string(res.Status), e.clock().Sub(start))
		}
		log.Debug("execution finished", "status", res.Status, "success", res.Success)
	}()

	// target chat outside, agent inside; Probe takes them in the same order
	unlockTarget := e.targetLocks.Lock(a.TargetChat)
	defer unlockTarget()
	unlockAgent := e.agentLocks.Lock(a.ID)
	defer unlockAgent()

	own, supported := e.catalog.Lookup(a.Role, ab.Key)
	if status := e.validate(a, own, supported); status != "" {
		a.RecordAttempt(false)
		log.Info("agent rejected", "status", status)
		return Result{Status: status}
	}

	session := a.Session()

	triggerID, status := e.findTrigger(ctx, a, job)
	if status != "" {
		a.RecordAttempt(false)
		log.Info("trigger lookup failed", "status", status)
		return Result{Status: status}
	}

	chat.Invalidate(session, a.TargetChat)
	baseline, err := session.History(ctx, a.TargetChat, e.cfg.PollDepth)
	if err != nil {
		a.RecordAttempt(false)
		log.Warn("reading baseline failed", "error", err)
		return Result{Status: e.transportFailure(a, err)}
	}
	seen := make(map[string]bool, len(baseline))
	var baseSeq int64
	for _, m := range baseline {
		seen[m.ID] = true
		baseSeq = max(baseSeq, m.Seq)
	}

	sentID, err := session.Send(ctx, a.TargetChat, own.Text, chat.SendOptions{ReplyTo: triggerID})
	if err != nil {
		a.RecordAttempt(false)
		status := e.transportFailure(a, err)
		log.Warn("send failed", "status", status, "error", err)
		return Result{Status: status}
	}
	log.Info("ability sent", "target", a.TargetChat, "message_id", sentID)

	return e.poll(ctx, log, a, own, job, seen, baseSeq, sentID)
}

// validate returns a rejection status, or "" when a may act.
func (e *Executor) validate(a *agent.Agent, ab ability.Ability, supported bool) Status {
	if a.IsObserver() {
		return StatusObserver
	}
	if !a.Enabled() {
		return StatusDisabled
	}
	if suspended, _ := a.IsSuspended(); suspended {
		return StatusSuspended
	}
	if a.NeedsManual() {
		return StatusNeedsManual
	}
	if !supported {
		return StatusUnsupported
	}
	if ab.ConsumesResource && a.ConsumesResource && !a.HasResource() {
		return StatusNoResourceLocal
	}
	if ok, _ := a.CanUseSocial(); !ok {
		return StatusSocialCooldown
	}
	if ok, _ := a.CanUseAbility(ab.Key); !ok {
		return StatusAbilityCooldown
	}
	return ""
}

func (e *Executor) findTrigger(ctx context.Context, a *agent.Agent, job *jobs.Job) (string, Status) {
	source := a.SourceChat
	if job.ChatID != "" {
		source = job.ChatID
	}
	session := a.Session()
	want := chat.NormalizeText(job.TriggerText)

	// a cached view may predate the trigger, so look twice
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			chat.Invalidate(session, source)
		}
		msgs, err := session.History(ctx, source, e.cfg.TriggerDepth)
		if err != nil {
			return "", e.transportFailure(a, err)
		}
		for i := len(msgs) - 1; i >= 0; i-- {
			m := msgs[i]
			if m.AuthorID == job.UserID && chat.NormalizeText(m.Text) == want {
				return m.ID, ""
			}
		}
	}
	return "", StatusTriggerNotFound
}

func (e *Executor) poll(ctx context.Context, log *slog.Logger, a *agent.Agent, ab ability.Ability, job *jobs.Job, seen map[string]bool, baseSeq int64, sentID string) Result {
	session := a.Session()
	for i := 0; i < e.cfg.PollCount; i++ {
		wait := time.Duration(float64(e.cfg.PollInterval) * (1 + float64(i)*e.cfg.PollBackoff))
		if err := e.sleep(ctx, wait); err != nil {
			a.RecordAttempt(false)
			return Result{Status: StatusCancelled}
		}

		chat.Invalidate(session, a.TargetChat)
		msgs, err := session.History(ctx, a.TargetChat, e.cfg.PollDepth)
		if err != nil {
			if errors.Is(err, chat.ErrChallenge) || errors.Is(err, chat.ErrAuth) {
				a.RecordAttempt(false)
				status := e.transportFailure(a, err)
				log.Warn("poll aborted", "attempt", i+1, "status", status, "error", err)
				return Result{Status: status}
			}
			log.Warn("poll failed", "attempt", i+1, "error", err)
			continue
		}

		var texts []string
		for _, m := range msgs {
			if seen[m.ID] || m.ID == sentID || m.Seq < baseSeq {
				continue
			}
			texts = append(texts, m.Text)
		}
		if len(texts) == 0 {
			continue
		}

		cls := e.classifier.Classify(texts)
		if cls.Category == reply.CategoryNone {
			if cls.HasResource {
				a.ObserveResource(cls.Resource)
			}
			continue
		}
		log.Info("reply classified", "category", cls.Category.String(), "attempt", i+1)
		return e.apply(ctx, log, a, ab, job, cls)
	}

	a.RecordAttempt(false)
	log.Warn("no classifiable reply", "polls", e.cfg.PollCount)
	return Result{Status: StatusUnknown}
}

func (e *Executor) apply(ctx context.Context, log *slog.Logger, a *agent.Agent, ab ability.Ability, job *jobs.Job, cls reply.Classification) Result {
	switch cls.Category {
	case reply.CategoryCooldown:
		d := e.cfg.CooldownFallback
		if cls.HasRemaining {
			d = cls.Remaining + time.Second
		}
		a.SetAbilityCooldown(ab.Key, d)
		a.SetSocialCooldown(d)
		if cls.HasResource {
			a.ObserveResource(cls.Resource)
		}
		return Result{Status: StatusCooldown, RetryAfter: d}

	case reply.CategoryWrongCapability, reply.CategoryNotEligible:
		if ab.Gated() && a.RevokeTemporaryCapability(ab.Capability) {
			e.registry.Reindex(a)
			log.Warn("temporary capability revoked", "capability", ab.Capability)
		}
		a.SetAbilityCooldown(ab.Key, e.cfg.WrongCapabilityCooldown)
		a.SetSocialCooldown(e.cfg.WrongCapabilityCooldown)
		a.RecordAttempt(false)
		status := StatusWrongCapability
		if cls.Category == reply.CategoryNotEligible {
			status = StatusNotEligible
		}
		return Result{Status: status, RetryAfter: e.cfg.WrongCapabilityCooldown}

	case reply.CategoryNoResource:
		_, virtual := a.Resource()
		a.ObserveResource(0)
		if virtual > 0 {
			a.MarkNeedsManual()
			log.Warn("virtual resource contradicted, manual update needed")
		}
		a.RecordAttempt(false)
		return Result{Status: StatusNoResource}

	case reply.CategoryAlready:
		a.SetSocialCooldown(e.cfg.SocialCooldown)
		if cls.HasResource {
			a.ObserveResource(cls.Resource)
		}
		a.RecordAttempt(true)
		return Result{
			Success: true,
			Status:  StatusAlready,
			Outcome: &jobs.Outcome{
				AgentID:      a.ID,
				AgentName:    a.Name,
				AbilityKey:   ab.Key,
				AbilityLabel: ab.Label,
				Status:       jobs.StatusAlready,
				At:           e.clock(),
			},
		}

	case reply.CategorySuccess:
		a.SetAbilityCooldown(ab.Key, ab.Cooldown)
		a.SetSocialCooldown(e.cfg.SocialCooldown)
		if ab.Gated() {
			e.grantRequester(ctx, log, a, job, ab.Capability)
		}
		// the game reports the counter as it stood before this spend
		if cls.HasResource {
			a.ObserveResource(cls.Resource)
		}
		if ab.ConsumesResource && a.ConsumesResource {
			if err := a.SpendResource(); err != nil {
				log.Warn("spend after success failed", "error", err)
			}
		}
		appraisal := e.appraisal.Appraise(ab, cls.Text)
		a.RecordAttempt(true)
		return Result{
			Success: true,
			Status:  StatusSuccess,
			Outcome: &jobs.Outcome{
				AgentID:      a.ID,
				AgentName:    a.Name,
				AbilityKey:   ab.Key,
				AbilityLabel: ab.Label,
				Value:        appraisal.Value,
				Critical:     appraisal.Critical,
				Status:       jobs.StatusApplied,
				At:           e.clock(),
			},
		}
	}

	a.RecordAttempt(false)
	return Result{Status: StatusUnknown}
}

// grantRequester gives the requesting user's own apostle a temporary grant
// of the capability just applied to them.
func (e *Executor) grantRequester(ctx context.Context, log *slog.Logger, actor *agent.Agent, job *jobs.Job, key string) {
	expires := e.clock().Add(e.cfg.TemporaryCapabilityTTL)
	for _, own := range e.registry.ByOwner(ctx, job.UserID) {
		if own.ID == actor.ID || own.IsObserver() || own.Role != ability.RoleApostle {
			continue
		}
		if own.ExtendTemporaryCapability(key, expires) {
			log.Info("temporary capability refreshed", "owner_agent", own.ID, "capability", key)
			return
		}
		if err := own.AddTemporaryCapability(key, expires); err != nil {
			log.Debug("temporary capability not granted", "owner_agent", own.ID, "capability", key, "reason", err)
			return
		}
		e.registry.Reindex(own)
		log.Info("temporary capability granted", "owner_agent", own.ID, "capability", key)
		return
	}
}

// Probe asks the platform for the agent's profile and records the resource
// counter it reports. Returns the observed value.
func (e *Executor) Probe(ctx context.Context, a *agent.Agent) (int, error) {
	unlockTarget := e.targetLocks.Lock(a.TargetChat)
	defer unlockTarget()
	unlockAgent := e.agentLocks.Lock(a.ID)
	defer unlockAgent()

	session := a.Session()
	chat.Invalidate(session, a.TargetChat)
	baseline, err := session.History(ctx, a.TargetChat, e.cfg.PollDepth)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool, len(baseline))
	for _, m := range baseline {
		seen[m.ID] = true
	}
	sentID, err := session.Send(ctx, a.TargetChat, e.cfg.ProfileCommand, chat.SendOptions{})
	if err != nil {
		e.transportFailure(a, err)
		return 0, err
	}

	for i := 0; i < e.cfg.PollCount; i++ {
		if err := e.sleep(ctx, e.cfg.PollInterval); err != nil {
			return 0, err
		}
		chat.Invalidate(session, a.TargetChat)
		msgs, err := session.History(ctx, a.TargetChat, e.cfg.PollDepth)
		if err != nil {
			continue
		}
		var texts []string
		for _, m := range msgs {
			if !seen[m.ID] && m.ID != sentID {
				texts = append(texts, m.Text)
			}
		}
		if cls := e.classifier.Classify(texts); cls.HasResource {
			a.ObserveResource(cls.Resource)
			return cls.Resource, nil
		}
	}
	return 0, errors.New("profile reply not found")
}

// transportFailure maps a transport error to a status, suspending the agent
// on an anti-automation challenge.
func (e *Executor) transportFailure(a *agent.Agent, err error) Status {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StatusCancelled
	case errors.Is(err, chat.ErrChallenge):
		a.Suspend(e.cfg.ChallengePause)
		e.logger.Warn("agent suspended after challenge", "agent_id", a.ID, "pause", e.cfg.ChallengePause)
		return StatusChallenge
	case errors.Is(err, chat.ErrAuth):
		return StatusAuth
	case errors.Is(err, chat.ErrRateLimited):
		return StatusRateLimited
	case errors.Is(err, chat.ErrCircuitOpen):
		return StatusCircuitOpen
	default:
		return StatusTransportError
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
