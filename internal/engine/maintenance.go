// ABOUTME: Cron-driven upkeep: agent state autosave, capability expiry sweep, resource probes
// ABOUTME: Also refreshes the per-role agent gauges on every autosave

package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/2389/coven-conclave/internal/ability"
	"github.com/2389/coven-conclave/internal/agent"
)

const (
	autosaveTimeout = 10 * time.Second
	probeTimeout    = 2 * time.Minute

	// scheduleOff disables a maintenance job.
	scheduleOff = "off"
)

// Agent states reported by the conclave_agents gauge.
const (
	stateReady       = "ready"
	stateCooling     = "cooling"
	stateStarved     = "starved"
	stateNeedsManual = "needs_manual"
	stateSuspended   = "suspended"
	stateDisabled    = "disabled"
)

var agentStates = []string{stateReady, stateCooling, stateStarved, stateNeedsManual, stateSuspended, stateDisabled}

func (e *Engine) newMaintenance() (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	jobs := []struct {
		name string
		spec string
		fn   func()
	}{
		{"autosave", e.cfg.Maintenance.Autosave, e.autosave},
		{"sweep", e.cfg.Maintenance.Sweep, e.sweep},
		{"probe", e.cfg.Maintenance.Probe, e.probeStarved},
	}
	for _, j := range jobs {
		if j.spec == "" || j.spec == scheduleOff {
			e.logger.Info("maintenance job disabled", "job", j.name)
			continue
		}
		if _, err := c.AddFunc(j.spec, j.fn); err != nil {
			return nil, fmt.Errorf("scheduling %s %q: %w", j.name, j.spec, err)
		}
	}
	return c, nil
}

// autosave persists agent state, retries a failed job-store write and
// refreshes the agent gauges.
func (e *Engine) autosave() {
	ctx, cancel := context.WithTimeout(context.Background(), autosaveTimeout)
	defer cancel()

	if err := e.ledger.SaveAgents(ctx, e.registry.All()); err != nil {
		e.logger.Error("autosave failed", "error", err)
	}
	if err := e.jobs.Flush(); err != nil {
		e.logger.Error("job state flush failed", "error", err)
	}
	e.reportAgents()
}

func (e *Engine) sweep() {
	if n := e.registry.SweepExpired(); n > 0 {
		e.logger.Info("expired temporary capabilities purged", "agents", n)
	}
}

// probeStarved asks every resource-consuming agent without a known resource
// for its profile, which restores the real counter.
func (e *Engine) probeStarved() {
	for _, a := range e.registry.All() {
		if a.IsObserver() || !a.Enabled() || !a.ConsumesResource {
			continue
		}
		if res, _ := a.Resource(); res > 0 && !a.NeedsManual() {
			continue
		}
		if suspended, _ := a.IsSuspended(); suspended {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		value, err := e.executor.Probe(ctx, a)
		cancel()
		if err != nil {
			e.logger.Warn("resource probe failed", "agent_id", a.ID, "error", err)
			continue
		}
		e.logger.Info("resource probed", "agent_id", a.ID, "value", value)
	}
}

// reportAgents publishes how many agents of each role are in each state.
func (e *Engine) reportAgents() {
	counts := make(map[ability.Role]map[string]int)
	for _, spec := range e.catalog.Roles() {
		counts[spec.Role] = make(map[string]int, len(agentStates))
	}
	for _, a := range e.registry.All() {
		if a.IsObserver() {
			continue
		}
		if counts[a.Role] == nil {
			counts[a.Role] = make(map[string]int, len(agentStates))
		}
		counts[a.Role][agentState(a)]++
	}
	for role, byState := range counts {
		for _, state := range agentStates {
			e.metrics.SetAgents(string(role), state, byState[state])
		}
	}
}

func agentState(a *agent.Agent) string {
	switch {
	case !a.Enabled():
		return stateDisabled
	case a.NeedsManual():
		return stateNeedsManual
	}
	if suspended, _ := a.IsSuspended(); suspended {
		return stateSuspended
	}
	if a.ConsumesResource && !a.HasResource() {
		return stateStarved
	}
	if ok, _ := a.CanUseSocial(); !ok {
		return stateCooling
	}
	return stateReady
}
