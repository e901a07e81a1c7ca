// ABOUTME: Engine orchestrator that coordinates the dispatcher, listener, cron and HTTP server
// ABOUTME: Manages restore on startup and the save-then-close shutdown sequence

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/2389/coven-conclave/internal/ability"
	"github.com/2389/coven-conclave/internal/agent"
	"github.com/2389/coven-conclave/internal/auth"
	"github.com/2389/coven-conclave/internal/chat"
	"github.com/2389/coven-conclave/internal/config"
	"github.com/2389/coven-conclave/internal/dedupe"
	"github.com/2389/coven-conclave/internal/executor"
	"github.com/2389/coven-conclave/internal/intake"
	"github.com/2389/coven-conclave/internal/jobs"
	"github.com/2389/coven-conclave/internal/metrics"
	"github.com/2389/coven-conclave/internal/notify"
	"github.com/2389/coven-conclave/internal/scheduler"
	"github.com/2389/coven-conclave/internal/store"
)

const (
	ledgerTimeout   = 5 * time.Second
	shutdownTimeout = 10 * time.Second

	// seenWindow bounds how long a chat event ID is remembered.
	seenWindow   = 10 * time.Minute
	seenCapacity = 4096
)

// Ledger persists agent state and resolved steps.
type Ledger interface {
	SaveAgents(ctx context.Context, agents []*agent.Agent) error
	RestoreAgents(ctx context.Context, agents []*agent.Agent) (int, error)
	RecordOutcome(ctx context.Context, job *jobs.Job, o jobs.Outcome) error
	ListOutcomes(ctx context.Context, userID string, limit int) ([]store.OutcomeRecord, error)
	Close() error
}

var _ Ledger = (*store.SQLiteStore)(nil)

// Deps are the collaborators built outside New.
type Deps struct {
	Catalog  *ability.Catalog
	Registry *agent.Registry
	Ledger   Ledger
	Metrics  *metrics.Recorder
	// Closers run after the ledger is saved, in order.
	Closers []func()

	ExecutorOptions []executor.Option
	Clock           func() time.Time
}

// Engine orchestrates the conclave components.
type Engine struct {
	cfg       *config.Config
	catalog   *ability.Catalog
	registry  *agent.Registry
	executor  *executor.Executor
	scheduler *scheduler.Scheduler
	jobs      *jobs.Store
	ledger    Ledger
	notifier  *notify.Notifier
	grammar   intake.Grammar
	seen      *dedupe.Window
	metrics   *metrics.Recorder
	verifier  auth.TokenVerifier
	cron      *cron.Cron

	httpServer *http.Server
	closers    []func()
	clock      func() time.Time
	logger     *slog.Logger

	// cancelRun stops the dispatcher and listener started by Run.
	cancelRun context.CancelFunc
	workers   sync.WaitGroup
	closeOnce sync.Once
}

// New creates an Engine from loaded configuration and prebuilt collaborators.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Catalog == nil || deps.Registry == nil || deps.Ledger == nil {
		return nil, errors.New("engine requires a catalog, registry and ledger")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	rec := deps.Metrics
	if rec == nil {
		rec = metrics.NewRecorder()
	}

	e := &Engine{
		cfg:      cfg,
		catalog:  deps.Catalog,
		registry: deps.Registry,
		ledger:   deps.Ledger,
		notifier: notify.New(cfg.Commands.JobPrefix),
		grammar: intake.Grammar{
			JobPrefix:      cfg.Commands.JobPrefix,
			ResourcePrefix: cfg.Commands.ResourcePrefix,
		},
		seen:    dedupe.New(seenWindow, seenCapacity, dedupe.WithClock(clock)),
		metrics: rec,
		closers: deps.Closers,
		clock:   clock,
		logger:  logger.With("component", "engine"),
	}

	execOpts := append([]executor.Option{
		executor.WithObserver(rec),
		executor.WithClock(clock),
	}, deps.ExecutorOptions...)
	e.executor = executor.New(executorConfig(cfg.Engine), deps.Catalog, deps.Registry, logger, execOpts...)

	e.scheduler = scheduler.New(schedulerConfig(cfg.Scheduler), deps.Catalog, deps.Registry, agent.NewRanker(), e.executor, logger,
		scheduler.WithCompletion(e.handleCompletion),
		scheduler.WithDrop(e.handleDrop),
		scheduler.WithMetrics(rec),
		scheduler.WithClock(clock),
	)

	jobStore, err := jobs.Open(cfg.Jobs.Path, cfg.Jobs.MaxAge, logger.With("component", "jobs"), jobs.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("opening job store: %w", err)
	}
	e.jobs = jobStore

	if cfg.Auth.JWTSecret != "" {
		e.verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	} else {
		e.logger.Warn("auth.jwt_secret not set, /api routes disabled")
	}

	e.cron, err = e.newMaintenance()
	if err != nil {
		return nil, err
	}

	e.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           e.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return e, nil
}

func executorConfig(c config.EngineConfig) executor.Config {
	return executor.Config{
		PollInterval:            c.PollInterval,
		PollCount:               c.PollCount,
		PollBackoff:             c.PollBackoff,
		TriggerDepth:            c.TriggerDepth,
		PollDepth:               c.PollDepth,
		SocialCooldown:          c.SocialCooldown,
		CooldownFallback:        c.CooldownFallback,
		WrongCapabilityCooldown: c.WrongCapabilityCooldown,
		ChallengePause:          c.ChallengePause,
		TemporaryCapabilityTTL:  c.TemporaryCapabilityTTL,
		ProfileCommand:          c.ProfileCommand,
	}
}

func schedulerConfig(c config.SchedulerConfig) scheduler.Config {
	return scheduler.Config{
		Backoff:         c.Backoff,
		Retention:       c.Retention,
		CleanupInterval: c.CleanupInterval,
		IdleInterval:    c.IdleInterval,
		Concurrency:     c.Concurrency,
		MaxAttempts:     c.MaxAttempts,
	}
}

// Restore applies saved agent state and replays unfinished jobs into the
// dispatcher. It returns the number of jobs replayed.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	agents := e.registry.All()
	restored, err := e.ledger.RestoreAgents(ctx, agents)
	if err != nil {
		return 0, fmt.Errorf("restoring agent state: %w", err)
	}
	for _, a := range agents {
		e.registry.Reindex(a)
	}

	replayed := e.jobs.Restore(e.scheduler)
	for i := 0; i < replayed; i++ {
		e.metrics.IncJob(metrics.JobRestored)
	}
	e.logger.Info("state restored", "agents", restored, "jobs", replayed)
	return replayed, nil
}

func (e *Engine) startWorkers(ctx context.Context) chan error {
	errCh := make(chan error, 3)

	e.workers.Add(1)
	go func() {
		defer e.workers.Done()
		if err := e.scheduler.Run(ctx); err != nil {
			errCh <- fmt.Errorf("scheduler: %w", err)
		}
	}()

	if observer, ok := e.registry.Observer(); ok {
		if listener, ok := observer.Session().(chat.Listener); ok {
			e.workers.Add(1)
			go func() {
				defer e.workers.Done()
				e.listen(ctx, listener, observer.SourceChat)
			}()
		} else {
			e.logger.Warn("observer session cannot listen, chat commands disabled", "agent_id", observer.ID)
		}
	} else {
		e.logger.Warn("no observer configured, chat commands and notifications disabled")
	}

	e.cron.Start()
	return errCh
}

// listen feeds chat commands to HandleMessage, restarting after sync failures.
func (e *Engine) listen(ctx context.Context, listener chat.Listener, chatID string) {
	for {
		err := listener.Listen(ctx, chatID, func(msg chat.Message) {
			e.HandleMessage(ctx, msg)
		})
		if ctx.Err() != nil {
			return
		}
		e.logger.Warn("command listener stopped", "chat_id", chatID, "error", err, "retry_in", e.cfg.Matrix.ListenRetry)
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.cfg.Matrix.ListenRetry):
		}
	}
}

func (e *Engine) startServer(ln net.Listener, errCh chan error) {
	go func() {
		e.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := e.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
}

func (e *Engine) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		e.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		e.logger.Error("engine error", "error", err)
		e.drainErrors(errCh)
		return err
	}
}

// drainErrors logs any additional errors from errCh without blocking.
func (e *Engine) drainErrors(errCh chan error) {
	for {
		select {
		case err := <-errCh:
			e.logger.Error("additional engine error", "error", err)
		default:
			return
		}
	}
}

// Run starts the engine and blocks until ctx is cancelled or a component fails.
func (e *Engine) Run(ctx context.Context) error {
	if _, err := e.Restore(ctx); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", e.cfg.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on HTTP address %s: %w", e.cfg.Server.HTTPAddr, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancelRun = cancel

	errCh := e.startWorkers(runCtx)
	e.startServer(ln, errCh)
	runErr := e.waitForShutdownSignal(ctx, errCh)

	shutdownErr := e.gracefulShutdown()

	if runErr != nil {
		return runErr
	}
	return shutdownErr
}

func (e *Engine) gracefulShutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops every component, saves agent state and closes the ledger.
func (e *Engine) Shutdown(ctx context.Context) error {
	var errs []error
	e.closeOnce.Do(func() {
		e.logger.Info("shutting down engine")

		errs = appendCloseError(errs, "HTTP shutdown", e.httpServer.Shutdown(ctx))

		cronDone := e.cron.Stop()
		if e.cancelRun != nil {
			e.cancelRun()
		}
		select {
		case <-cronDone.Done():
		case <-ctx.Done():
			e.logger.Warn("maintenance jobs still running at shutdown")
		}
		e.workers.Wait()

		errs = appendCloseError(errs, "saving agent state", e.ledger.SaveAgents(ctx, e.registry.All()))
		errs = appendCloseError(errs, "flushing job state", e.jobs.Flush())

		for _, closeFn := range e.closers {
			closeFn()
		}
		errs = appendCloseError(errs, "ledger close", e.ledger.Close())
	})

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

func (e *Engine) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (e *Engine) handleReady(w http.ResponseWriter, r *http.Request) {
	ready := 0
	for _, a := range e.registry.All() {
		if !a.IsObserver() && a.Enabled() {
			ready++
		}
	}
	if ready == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no agents enabled"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d agents, %d queued)", ready, e.scheduler.Pending())
}
