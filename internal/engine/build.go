// ABOUTME: Builds a production Engine from configuration: roster, Matrix sessions and SQLite
// ABOUTME: Each agent session is wrapped in a send guard and a short-lived history cache

package engine

import (
	"fmt"
	"log/slog"

	"github.com/2389/coven-conclave/internal/ability"
	"github.com/2389/coven-conclave/internal/agent"
	"github.com/2389/coven-conclave/internal/chat"
	"github.com/2389/coven-conclave/internal/chat/matrix"
	"github.com/2389/coven-conclave/internal/config"
	"github.com/2389/coven-conclave/internal/metrics"
	"github.com/2389/coven-conclave/internal/roster"
	"github.com/2389/coven-conclave/internal/store"
)

// NewFromConfig loads the roster, connects every agent and opens the
// SQLite ledger.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	catalog := ability.DefaultCatalog()

	r, err := roster.Load(cfg.Roster.Path, catalog)
	if err != nil {
		return nil, fmt.Errorf("loading roster: %w", err)
	}

	ledger, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	registry, closers, err := buildRegistry(cfg, r, catalog, ledger, logger)
	if err != nil {
		ledger.Close()
		return nil, err
	}

	e, err := New(cfg, Deps{
		Catalog:  catalog,
		Registry: registry,
		Ledger:   ledger,
		Metrics:  metrics.NewRecorder(),
		Closers:  closers,
	}, logger)
	if err != nil {
		for _, closeFn := range closers {
			closeFn()
		}
		ledger.Close()
		return nil, err
	}
	return e, nil
}

func buildRegistry(cfg *config.Config, r *roster.Roster, catalog *ability.Catalog, spends agent.SpendRecorder, logger *slog.Logger) (*agent.Registry, []func(), error) {
	registry := agent.NewRegistry(logger)
	var closers []func()
	fail := func(err error) (*agent.Registry, []func(), error) {
		for _, closeFn := range closers {
			closeFn()
		}
		return nil, nil, err
	}

	homeserver := r.Homeserver
	if homeserver == "" {
		homeserver = cfg.Matrix.Homeserver
	}

	for _, entry := range r.Agents {
		sess, err := matrix.NewSession(matrix.Config{
			Homeserver:  homeserver,
			UserID:      entry.UserID,
			AccessToken: entry.AccessToken,
		}, logger.With("agent_id", entry.ID))
		if err != nil {
			return fail(fmt.Errorf("connecting agent %s: %w", entry.ID, err))
		}

		guarded := chat.NewGuard(sess, chat.GuardConfig{
			Name:         entry.ID,
			SendInterval: cfg.Guard.SendInterval,
			SendBurst:    cfg.Guard.SendBurst,
			MaxFailures:  cfg.Guard.MaxFailures,
			OpenTimeout:  cfg.Guard.OpenTimeout,
		}, logger)
		cached := chat.NewCachedSession(guarded, cfg.Engine.HistoryTTL, cfg.Engine.HistoryCache)
		closers = append(closers, cached.Close)

		params := entry.Params(catalog, cfg.Engine.CapabilityMargin)
		params.Session = cached
		params.Spends = spends

		a := agent.New(params)
		if err := registry.Register(a); err != nil {
			return fail(fmt.Errorf("registering agent %s: %w", entry.ID, err))
		}
		if entry.IsObserver() {
			if err := registry.SetObserver(a.ID); err != nil {
				return fail(fmt.Errorf("marking observer %s: %w", entry.ID, err))
			}
		}
	}

	logger.Info("roster loaded", "agents", registry.Len(), "homeserver", homeserver)
	return registry, closers, nil
}
