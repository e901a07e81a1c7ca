// ABOUTME: Dispatcher loop that ranks agents for each ready item and executes it
// ABOUTME: Requeues failures with backoff, drops unservable items, purges stale ones

package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/2389/coven-conclave/internal/ability"
	"github.com/2389/coven-conclave/internal/agent"
	"github.com/2389/coven-conclave/internal/executor"
	"github.com/2389/coven-conclave/internal/jobs"
)

// Executor runs one ability on one agent.
type Executor interface {
	Execute(ctx context.Context, a *agent.Agent, ab ability.Ability, job *jobs.Job) executor.Result
}

// CompletionFunc receives each successful step.
type CompletionFunc func(job *jobs.Job, outcome jobs.Outcome)

// DropFunc receives items dropped because no agent can serve them.
type DropFunc func(job *jobs.Job, key string)

// Metrics receives queue events.
type Metrics interface {
	SetQueueDepth(n int)
	IncRequeue()
	IncDrop(key string)
}

// Config tunes the dispatcher.
type Config struct {
	Backoff         time.Duration
	Retention       time.Duration
	CleanupInterval time.Duration
	IdleInterval    time.Duration
	Concurrency     int
	// MaxAttempts is how many ranked candidates are tried per cycle.
	MaxAttempts int
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		Backoff:         30 * time.Second,
		Retention:       time.Hour,
		CleanupInterval: 5 * time.Minute,
		IdleInterval:    200 * time.Millisecond,
		Concurrency:     1,
		MaxAttempts:     2,
	}
}

// Scheduler owns the work queue.
type Scheduler struct {
	cfg      Config
	catalog  *ability.Catalog
	registry *agent.Registry
	ranker   *agent.Ranker
	exec     Executor

	onComplete CompletionFunc
	onDrop     DropFunc
	metrics    Metrics
	clock      func() time.Time
	logger     *slog.Logger

	mu          sync.Mutex
	q           queue
	seq         uint64
	lastCleanup time.Time
	wake        chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithCompletion sets the success callback.
func WithCompletion(fn CompletionFunc) Option {
	return func(s *Scheduler) { s.onComplete = fn }
}

// WithDrop sets the drop callback.
func WithDrop(fn DropFunc) Option {
	return func(s *Scheduler) { s.onDrop = fn }
}

// WithMetrics reports queue events to m.
func WithMetrics(m Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithClock replaces the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) { s.clock = clock }
}

// New creates a Scheduler.
func New(cfg Config, catalog *ability.Catalog, registry *agent.Registry, ranker *agent.Ranker, exec Executor, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	s := &Scheduler{
		cfg:      cfg,
		catalog:  catalog,
		registry: registry,
		ranker:   ranker,
		exec:     exec,
		clock:    time.Now,
		logger:   logger.With("component", "scheduler"),
		wake:     make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	s.lastCleanup = s.clock()
	return s
}

// Enqueue adds one item per key, ready now.
func (s *Scheduler) Enqueue(job *jobs.Job, keys []string) {
	s.mu.Lock()
	now := s.clock()
	for _, key := range keys {
		s.seq++
		heap.Push(&s.q, &item{readyAt: now, seq: s.seq, job: job, key: key})
	}
	depth := s.q.Len()
	s.mu.Unlock()

	s.reportDepth(depth)
	s.logger.Info("job enqueued", "job_id", job.ID, "user_id", job.UserID, "keys", keys)
	s.signal()
}

// CancelUserJobs removes every queued item of userID. Items already executing
// are not affected.
func (s *Scheduler) CancelUserJobs(userID string) bool {
	removed := s.removeWhere(func(it *item) bool { return it.job.UserID == userID })
	if len(removed) > 0 {
		s.logger.Info("queued items cancelled", "user_id", userID, "count", len(removed))
	}
	return len(removed) > 0
}

// Pending returns the number of queued items.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.Len()
}

// PendingKeys returns the queued keys of userID in dispatch order.
func (s *Scheduler) PendingKeys(userID string) []string {
	s.mu.Lock()
	var items queue
	for _, it := range s.q {
		if it.job.UserID == userID {
			items = append(items, it)
		}
	}
	s.mu.Unlock()

	sort.Slice(items, func(i, j int) bool { return items.Less(i, j) })
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.key
	}
	return out
}

// Run dispatches until ctx is cancelled and in-flight items finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "concurrency", s.cfg.Concurrency)
	sem := make(chan struct{}, s.cfg.Concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		if ctx.Err() != nil {
			s.logger.Info("scheduler stopping")
			return nil
		}
		s.maybeCleanup()

		it := s.popReady()
		if it == nil {
			select {
			case <-ctx.Done():
			case <-s.wake:
			case <-time.After(s.cfg.IdleInterval):
			}
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			s.push(it)
			continue
		}
		wg.Add(1)
		go func(it *item) {
			defer wg.Done()
			defer func() { <-sem }()
			s.process(ctx, it)
		}(it)
	}
}

// ProcessNext handles one ready item synchronously. Reports whether one was ready.
func (s *Scheduler) ProcessNext(ctx context.Context) bool {
	it := s.popReady()
	if it == nil {
		return false
	}
	s.process(ctx, it)
	return true
}

// Cleanup removes items whose job is older than the retention window or
// cancelled. Stale items of live jobs go through the drop hook so the job
// can still finalize.
func (s *Scheduler) Cleanup() int {
	cutoff := s.clock().Add(-s.cfg.Retention)
	removed := s.removeWhere(func(it *item) bool {
		return it.job.Cancelled() || it.job.CreatedAt.Before(cutoff)
	})
	if len(removed) > 0 {
		s.logger.Info("stale items purged", "count", len(removed))
	}
	for _, it := range removed {
		if !it.job.Cancelled() {
			s.drop(it)
		}
	}
	return len(removed)
}

func (s *Scheduler) maybeCleanup() {
	s.mu.Lock()
	due := s.clock().Sub(s.lastCleanup) >= s.cfg.CleanupInterval
	if due {
		s.lastCleanup = s.clock()
	}
	s.mu.Unlock()
	if due {
		s.Cleanup()
	}
}

func (s *Scheduler) process(ctx context.Context, it *item) {
	log := s.logger.With("job_id", it.job.ID, "user_id", it.job.UserID, "ability", it.key)
	defer func() {
		if r := recover(); r != nil {
			log.Error("work item panicked", "panic", fmt.Sprint(r))
			s.requeue(it, s.cfg.Backoff)
		}
	}()

	if it.job.Cancelled() {
		log.Debug("skipping cancelled job")
		return
	}

	ab, ok := s.catalog.Resolve(it.key)
	if !ok {
		log.Warn("unknown ability key dropped")
		s.drop(it)
		return
	}

	sel, err := s.ranker.Select(s.registry, s.catalog, ab)
	if errors.Is(err, agent.ErrNoAgentsAvailable) {
		log.Warn("no agent can serve ability, dropping")
		s.drop(it)
		return
	}
	if len(sel.Candidates) == 0 {
		log.Debug("all candidates waiting", "wait", sel.Wait)
		s.requeue(it, max(sel.Wait, s.cfg.IdleInterval))
		return
	}

	for i, c := range sel.Candidates {
		if i >= s.cfg.MaxAttempts || it.job.Cancelled() || ctx.Err() != nil {
			break
		}
		res := s.exec.Execute(ctx, c.Agent, ab, it.job)
		if res.Success && res.Outcome != nil {
			log.Info("step completed", "agent_id", c.Agent.ID, "status", res.Status)
			if s.onComplete != nil {
				s.onComplete(it.job, *res.Outcome)
			}
			return
		}
		log.Info("attempt failed", "agent_id", c.Agent.ID, "status", res.Status, "rank", i+1)
	}

	if it.job.Cancelled() {
		return
	}
	s.requeue(it, s.cfg.Backoff)
}

func (s *Scheduler) popReady() *item {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.q.Len() == 0 || s.q[0].readyAt.After(s.clock()) {
		return nil
	}
	it := heap.Pop(&s.q).(*item)
	if s.metrics != nil {
		s.metrics.SetQueueDepth(s.q.Len())
	}
	return it
}

func (s *Scheduler) push(it *item) {
	s.mu.Lock()
	heap.Push(&s.q, it)
	depth := s.q.Len()
	s.mu.Unlock()
	s.reportDepth(depth)
}

// requeue keeps the original sequence so ties still follow enqueue order.
func (s *Scheduler) requeue(it *item, after time.Duration) {
	it.readyAt = s.clock().Add(after)
	s.push(it)
	if s.metrics != nil {
		s.metrics.IncRequeue()
	}
}

func (s *Scheduler) drop(it *item) {
	if s.metrics != nil {
		s.metrics.IncDrop(it.key)
	}
	if s.onDrop != nil {
		s.onDrop(it.job, it.key)
	}
}

func (s *Scheduler) removeWhere(match func(*item) bool) []*item {
	s.mu.Lock()
	kept := s.q[:0]
	var removed []*item
	for _, it := range s.q {
		if match(it) {
			removed = append(removed, it)
			continue
		}
		kept = append(kept, it)
	}
	for i := len(kept); i < len(s.q); i++ {
		s.q[i] = nil
	}
	s.q = kept
	for i, it := range s.q {
		it.index = i
	}
	heap.Init(&s.q)
	depth := s.q.Len()
	s.mu.Unlock()

	if len(removed) > 0 {
		s.reportDepth(depth)
	}
	return removed
}

func (s *Scheduler) reportDepth(n int) {
	if s.metrics != nil {
		s.metrics.SetQueueDepth(n)
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
