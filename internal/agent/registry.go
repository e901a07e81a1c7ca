// ABOUTME: Registry of agents with lookup indexes by id, name, owner, role and capability
// ABOUTME: Supplies candidate pools to the scheduler and resyncs the capability index

package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/2389/coven-conclave/internal/ability"
)

// ErrAgentAlreadyRegistered indicates an agent with the same ID or name exists.
var ErrAgentAlreadyRegistered = errors.New("agent already registered")

// ErrAgentNotFound indicates the specified agent was not found.
var ErrAgentNotFound = errors.New("agent not found")

// maxOwnerResolutions bounds the WhoAmI calls one owner lookup may make.
const maxOwnerResolutions = 5

// Registry owns the canonical agent collection.
type Registry struct {
	mu           sync.RWMutex
	agents       map[string]*Agent
	order        []string
	byName       map[string]*Agent
	byOwner      map[string][]*Agent
	byRole       map[ability.Role][]*Agent
	byCapability map[string]map[string]*Agent
	indexed      map[string][]string // agent id -> capability keys in the index
	owners       map[string]string   // agent id -> owner in byOwner
	observerID   string
	logger       *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		agents:       make(map[string]*Agent),
		byName:       make(map[string]*Agent),
		byOwner:      make(map[string][]*Agent),
		byRole:       make(map[ability.Role][]*Agent),
		byCapability: make(map[string]map[string]*Agent),
		indexed:      make(map[string][]string),
		owners:       make(map[string]string),
		logger:       logger,
	}
}

// Register adds an agent.
// Returns ErrAgentAlreadyRegistered if the ID or display name is taken.
func (r *Registry) Register(a *Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[a.ID]; exists {
		return ErrAgentAlreadyRegistered
	}
	name := strings.ToLower(a.Name)
	if _, exists := r.byName[name]; exists && name != "" {
		return ErrAgentAlreadyRegistered
	}

	r.agents[a.ID] = a
	r.order = append(r.order, a.ID)
	if name != "" {
		r.byName[name] = a
	}
	r.byRole[a.Role] = append(r.byRole[a.Role], a)
	r.reindexLocked(a)

	r.logger.Info("agent registered",
		"agent_id", a.ID,
		"name", a.Name,
		"role", a.Role,
		"capabilities", a.Capabilities(),
		"total_agents", len(r.agents),
	)
	return nil
}

// Unregister removes an agent from every index.
func (r *Registry) Unregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, exists := r.agents[agentID]
	if !exists {
		return
	}
	delete(r.agents, agentID)
	for i, id := range r.order {
		if id == agentID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	delete(r.byName, strings.ToLower(a.Name))
	r.byRole[a.Role] = without(r.byRole[a.Role], a)
	r.unindexOwnerLocked(a)
	for _, key := range r.indexed[agentID] {
		delete(r.byCapability[key], agentID)
	}
	delete(r.indexed, agentID)
	if r.observerID == agentID {
		r.observerID = ""
	}

	r.logger.Info("agent unregistered",
		"agent_id", agentID,
		"name", a.Name,
		"total_agents", len(r.agents),
	)
}

// Get returns an agent by ID.
func (r *Registry) Get(agentID string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentID]
	return a, ok
}

// ByName returns an agent by display name, case-insensitively.
func (r *Registry) ByName(name string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byName[strings.ToLower(name)]
	return a, ok
}

// ByRole returns the agents of a role in registration order.
func (r *Registry) ByRole(role ability.Role) []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Agent(nil), r.byRole[role]...)
}

// WithCapability returns agents currently holding key.
func (r *Registry) WithCapability(key string) []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Agent
	for _, id := range r.order {
		a, ok := r.byCapability[key][id]
		if ok && a.HasCapability(key) {
			out = append(out, a)
		}
	}
	return out
}

// All returns every agent in registration order.
func (r *Registry) All() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Agent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id])
	}
	return out
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// SetObserver designates the non-acting observer agent.
func (r *Registry) SetObserver(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentID]
	if !ok {
		return ErrAgentNotFound
	}
	if prev, ok := r.agents[r.observerID]; ok {
		prev.observer.Store(false)
	}
	a.observer.Store(true)
	r.observerID = agentID
	return nil
}

// Observer returns the designated observer.
func (r *Registry) Observer() (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[r.observerID]
	return a, ok
}

// ByOwner returns the agents owned by userID. Agents with an unknown owner are
// resolved lazily, a few per call.
func (r *Registry) ByOwner(ctx context.Context, userID string) []*Agent {
	r.mu.RLock()
	found := append([]*Agent(nil), r.byOwner[userID]...)
	var unresolved []*Agent
	for _, id := range r.order {
		a := r.agents[id]
		if a.OwnerID() == "" && a.session != nil {
			unresolved = append(unresolved, a)
		}
	}
	r.mu.RUnlock()

	if len(found) > 0 {
		return found
	}

	resolved := 0
	for _, a := range unresolved {
		if resolved >= maxOwnerResolutions {
			break
		}
		owner, err := a.ResolveOwner(ctx)
		resolved++
		if err != nil {
			r.logger.Warn("owner resolution failed", "agent_id", a.ID, "error", err)
			continue
		}
		r.mu.Lock()
		if _, ok := r.agents[a.ID]; ok {
			r.indexOwnerLocked(a)
		}
		r.mu.Unlock()
		if owner == userID {
			found = append(found, a)
		}
	}
	return found
}

// Reindex resynchronizes the capability and owner indexes for one agent.
// Call it after Restore or any change to the agent's capabilities.
func (r *Registry) Reindex(a *Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[a.ID]; !ok {
		return
	}
	r.reindexLocked(a)
}

// SweepExpired purges expired grants on every agent and reindexes the ones
// whose capability set changed. Returns how many changed.
func (r *Registry) SweepExpired() int {
	changed := 0
	for _, a := range r.All() {
		if a.PurgeExpired() {
			r.Reindex(a)
			changed++
			r.logger.Info("temporary capability expired", "agent_id", a.ID)
		}
	}
	return changed
}

func (r *Registry) reindexLocked(a *Agent) {
	for _, key := range r.indexed[a.ID] {
		delete(r.byCapability[key], a.ID)
	}
	keys := a.Capabilities()
	for _, key := range keys {
		if r.byCapability[key] == nil {
			r.byCapability[key] = make(map[string]*Agent)
		}
		r.byCapability[key][a.ID] = a
	}
	r.indexed[a.ID] = keys
	r.indexOwnerLocked(a)
}

func (r *Registry) indexOwnerLocked(a *Agent) {
	owner := a.OwnerID()
	if prev, ok := r.owners[a.ID]; ok && prev == owner {
		return
	}
	r.unindexOwnerLocked(a)
	if owner == "" {
		return
	}
	r.byOwner[owner] = append(r.byOwner[owner], a)
	r.owners[a.ID] = owner
}

func (r *Registry) unindexOwnerLocked(a *Agent) {
	prev, ok := r.owners[a.ID]
	if !ok {
		return
	}
	if rest := without(r.byOwner[prev], a); len(rest) > 0 {
		r.byOwner[prev] = rest
	} else {
		delete(r.byOwner, prev)
	}
	delete(r.owners, a.ID)
}

func without(list []*Agent, a *Agent) []*Agent {
	out := list[:0:0]
	for _, x := range list {
		if x != a {
			out = append(out, x)
		}
	}
	return out
}
