// ABOUTME: Per-agent state: resources, cooldowns, capability grants and suspension
// ABOUTME: Predicates are pure functions of the clock; mutation is explicit

package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/coven-conclave/internal/ability"
	"github.com/2389/coven-conclave/internal/chat"
)

// Capability grant errors.
var (
	ErrCapabilityPermanent = errors.New("capability already held permanently")
	ErrCapabilityHeld      = errors.New("capability already held temporarily")
	ErrTemporarySlotTaken  = errors.New("another temporary capability is active")
	ErrNoResource          = errors.New("no resource available")
)

// TemporaryGrant is a capability held until ExpiresAt. ExpiresAt already has
// the safety margin subtracted.
type TemporaryGrant struct {
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the grant is no longer valid at now.
func (g TemporaryGrant) Expired(now time.Time) bool {
	return !now.Before(g.ExpiresAt)
}

// SpendRecorder receives resource spend events.
type SpendRecorder interface {
	RecordSpend(agentID string, before int, at time.Time)
}

// Availability summarizes whether an agent can take an ability right now.
type Availability int

const (
	Available Availability = iota
	// Waiting means only something that lapses on its own (a cooldown or a
	// suspension) blocks the agent.
	Waiting
	Unavailable
)

// Params configures a new Agent.
type Params struct {
	ID           string
	Name         string
	Role         ability.Role
	Session      chat.Session
	SourceChat   string
	TargetChat   string
	OwnerID      string
	Capabilities []string
	Disabled     bool

	// ConsumesResource marks roles that spend a resource unit per ability.
	ConsumesResource bool
	// CapabilityMargin is subtracted from temporary grant expiries.
	CapabilityMargin time.Duration
	Spends           SpendRecorder
	Clock            func() time.Time
}

// Agent is one acting account.
type Agent struct {
	ID               string
	Name             string
	Role             ability.Role
	SourceChat       string
	TargetChat       string
	ConsumesResource bool

	session  chat.Session
	clock    func() time.Time
	margin   time.Duration
	spends   SpendRecorder
	observer atomic.Bool

	mu             sync.RWMutex
	ownerID        string
	enabled        bool
	resource       int
	virtual        int
	needsManual    bool
	permanent      map[string]struct{}
	temp           *TemporaryGrant
	abilityUntil   map[string]time.Time
	socialUntil    time.Time
	suspendedUntil time.Time
	attempts       int
	successes      int
}

// New creates an agent from params.
func New(p Params) *Agent {
	clock := p.Clock
	if clock == nil {
		clock = time.Now
	}
	a := &Agent{
		ID:               p.ID,
		Name:             p.Name,
		Role:             p.Role,
		SourceChat:       p.SourceChat,
		TargetChat:       p.TargetChat,
		ConsumesResource: p.ConsumesResource,
		session:          p.Session,
		clock:            clock,
		margin:           p.CapabilityMargin,
		spends:           p.Spends,
		ownerID:          p.OwnerID,
		enabled:          !p.Disabled,
		permanent:        make(map[string]struct{}, len(p.Capabilities)),
		abilityUntil:     make(map[string]time.Time),
	}
	for _, c := range p.Capabilities {
		a.permanent[c] = struct{}{}
	}
	return a
}

// Session returns the agent's chat session.
func (a *Agent) Session() chat.Session {
	return a.session
}

// IsObserver reports whether the agent is the non-acting observer.
func (a *Agent) IsObserver() bool {
	return a.Role == ability.RoleObserver || a.observer.Load()
}

func (a *Agent) Enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

func (a *Agent) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = enabled
}

// OwnerID returns the resolved owner, or "" if unknown.
func (a *Agent) OwnerID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ownerID
}

// ResolveOwner asks the session who the account belongs to and caches it.
func (a *Agent) ResolveOwner(ctx context.Context) (string, error) {
	if owner := a.OwnerID(); owner != "" {
		return owner, nil
	}
	if a.session == nil {
		return "", fmt.Errorf("agent %s: no session", a.ID)
	}
	owner, err := a.session.WhoAmI(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving owner of %s: %w", a.ID, err)
	}
	a.mu.Lock()
	a.ownerID = owner
	a.mu.Unlock()
	return owner, nil
}

// CanUseAbility reports whether key is off cooldown, else the time remaining.
func (a *Agent) CanUseAbility(key string) (bool, time.Duration) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return remaining(a.clock(), a.abilityUntil[key])
}

// SetAbilityCooldown extends the cooldown of key to now+d. It never shrinks.
func (a *Agent) SetAbilityCooldown(key string, d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	until := a.clock().Add(d)
	if until.After(a.abilityUntil[key]) {
		a.abilityUntil[key] = until
	}
}

// CanUseSocial reports whether the shared social cooldown has elapsed.
func (a *Agent) CanUseSocial() (bool, time.Duration) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return remaining(a.clock(), a.socialUntil)
}

// SetSocialCooldown extends the social cooldown to now+d. It never shrinks.
func (a *Agent) SetSocialCooldown(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	until := a.clock().Add(d)
	if until.After(a.socialUntil) {
		a.socialUntil = until
	}
}

// HasCapability reports whether key is held permanently or by an unexpired grant.
func (a *Agent) HasCapability(key string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.hasCapabilityLocked(key, a.clock())
}

func (a *Agent) hasCapabilityLocked(key string, now time.Time) bool {
	if _, ok := a.permanent[key]; ok {
		return true
	}
	return a.temp != nil && a.temp.Key == key && !a.temp.Expired(now)
}

// Capabilities returns every capability currently held, sorted.
func (a *Agent) Capabilities() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.permanent)+1)
	for k := range a.permanent {
		out = append(out, k)
	}
	if a.temp != nil && !a.temp.Expired(a.clock()) {
		if _, dup := a.permanent[a.temp.Key]; !dup {
			out = append(out, a.temp.Key)
		}
	}
	sort.Strings(out)
	return out
}

// TemporaryCapability returns the active grant, if any.
func (a *Agent) TemporaryCapability() (TemporaryGrant, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.temp == nil || a.temp.Expired(a.clock()) {
		return TemporaryGrant{}, false
	}
	return *a.temp, true
}

// AddTemporaryCapability grants key until expiresAt minus the safety margin.
// An expired grant occupying the slot is replaced.
func (a *Agent) AddTemporaryCapability(key string, expiresAt time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock()
	if _, ok := a.permanent[key]; ok {
		return ErrCapabilityPermanent
	}
	if a.temp != nil && !a.temp.Expired(now) {
		if a.temp.Key == key {
			return ErrCapabilityHeld
		}
		return ErrTemporarySlotTaken
	}
	a.temp = &TemporaryGrant{Key: key, ExpiresAt: expiresAt.Add(-a.margin)}
	return nil
}

// ExtendTemporaryCapability moves the expiry of an active grant for key.
func (a *Agent) ExtendTemporaryCapability(key string, expiresAt time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.temp == nil || a.temp.Key != key || a.temp.Expired(a.clock()) {
		return false
	}
	a.temp.ExpiresAt = expiresAt.Add(-a.margin)
	return true
}

// RevokeTemporaryCapability drops the grant for key. Reports whether one was held.
func (a *Agent) RevokeTemporaryCapability(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.temp == nil || a.temp.Key != key {
		return false
	}
	a.temp = nil
	return true
}

// PurgeExpired drops an expired grant and elapsed cooldown entries. Reports
// whether the capability set changed.
func (a *Agent) PurgeExpired() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock()
	for k, until := range a.abilityUntil {
		if !now.Before(until) {
			delete(a.abilityUntil, k)
		}
	}
	if a.temp != nil && a.temp.Expired(now) {
		a.temp = nil
		return true
	}
	return false
}

// Resource returns the real and virtual counters.
func (a *Agent) Resource() (real, virtual int) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.resource, a.virtual
}

// HasResource reports whether either counter is positive.
func (a *Agent) HasResource() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.resource > 0 || a.virtual > 0
}

// SpendResource takes one unit from the real counter, else the virtual one.
func (a *Agent) SpendResource() error {
	a.mu.Lock()
	var before int
	switch {
	case a.resource > 0:
		before = a.resource
		a.resource--
	case a.virtual > 0:
		before = a.virtual
		a.virtual--
	default:
		a.mu.Unlock()
		return ErrNoResource
	}
	at := a.clock()
	a.mu.Unlock()

	if a.spends != nil {
		a.spends.RecordSpend(a.ID, before, at)
	}
	return nil
}

// ObserveResource overwrites the real counter from an external reading.
func (a *Agent) ObserveResource(value int) {
	if value < 0 {
		value = 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resource = value
	if value > 0 {
		a.virtual = 0
		a.needsManual = false
	}
}

// SetResourceManual is the operator override for the real counter.
func (a *Agent) SetResourceManual(value int) {
	a.ObserveResource(value)
	a.mu.Lock()
	a.needsManual = false
	a.mu.Unlock()
}

// GrantVirtualResource sets the stand-in counter used when the real one cannot
// be replenished normally.
func (a *Agent) GrantVirtualResource(n int) {
	if n < 0 {
		n = 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.virtual = n
	if n > 0 {
		a.needsManual = false
	}
}

// MarkNeedsManual flags the agent after the platform contradicted its counters.
func (a *Agent) MarkNeedsManual() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.virtual = 0
	a.needsManual = true
}

func (a *Agent) NeedsManual() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.needsManual
}

// IsSuspended reports whether a challenge suspension is active.
func (a *Agent) IsSuspended() (bool, time.Duration) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ok, left := remaining(a.clock(), a.suspendedUntil)
	return !ok, left
}

// Suspend makes the agent ineligible for d. It never shortens a suspension.
func (a *Agent) Suspend(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	until := a.clock().Add(d)
	if until.After(a.suspendedUntil) {
		a.suspendedUntil = until
	}
}

// RecordAttempt updates the attempt and success counters.
func (a *Agent) RecordAttempt(success bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attempts++
	if success {
		a.successes++
	}
}

// Counters returns attempts and successes.
func (a *Agent) Counters() (attempts, successes int) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.attempts, a.successes
}

// SuccessRate is the Laplace-smoothed success ratio.
func (a *Agent) SuccessRate() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return float64(a.successes+1) / float64(a.attempts+2)
}

const maxSlack = time.Hour

// Slack is how long the agent has been free for key, zero while blocked.
func (a *Agent) Slack(key string) time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	free := a.socialUntil
	if until := a.abilityUntil[key]; until.After(free) {
		free = until
	}
	now := a.clock()
	switch {
	case free.IsZero():
		return maxSlack
	case now.Before(free):
		return 0
	default:
		return min(now.Sub(free), maxSlack)
	}
}

// Availability reports whether the agent can take ab now, and how long to
// wait when only a cooldown or suspension is in the way.
func (a *Agent) Availability(ab ability.Ability) (Availability, time.Duration) {
	if a.IsObserver() {
		return Unavailable, 0
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	now := a.clock()
	if !a.enabled || a.needsManual {
		return Unavailable, 0
	}
	if ab.ConsumesResource && a.ConsumesResource && a.resource <= 0 && a.virtual <= 0 {
		return Unavailable, 0
	}
	var wait time.Duration
	for _, until := range []time.Time{a.suspendedUntil, a.socialUntil, a.abilityUntil[ab.Key]} {
		if now.Before(until) && until.Sub(now) > wait {
			wait = until.Sub(now)
		}
	}
	if wait > 0 {
		return Waiting, wait
	}
	return Available, 0
}

// State is the persisted form of an agent's mutable state.
type State struct {
	Enabled          bool                 `json:"enabled"`
	OwnerID          string               `json:"owner_id,omitempty"`
	Resource         int                  `json:"resource"`
	Virtual          int                  `json:"virtual"`
	NeedsManual      bool                 `json:"needs_manual"`
	Temporary        *TemporaryGrant      `json:"temporary,omitempty"`
	AbilityCooldowns map[string]time.Time `json:"ability_cooldowns,omitempty"`
	SocialUntil      time.Time            `json:"social_until"`
	SuspendedUntil   time.Time            `json:"suspended_until"`
	Attempts         int                  `json:"attempts"`
	Successes        int                  `json:"successes"`
}

// Snapshot copies the mutable state.
func (a *Agent) Snapshot() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := State{
		Enabled:          a.enabled,
		OwnerID:          a.ownerID,
		Resource:         a.resource,
		Virtual:          a.virtual,
		NeedsManual:      a.needsManual,
		AbilityCooldowns: make(map[string]time.Time, len(a.abilityUntil)),
		SocialUntil:      a.socialUntil,
		SuspendedUntil:   a.suspendedUntil,
		Attempts:         a.attempts,
		Successes:        a.successes,
	}
	if a.temp != nil {
		t := *a.temp
		s.Temporary = &t
	}
	for k, v := range a.abilityUntil {
		s.AbilityCooldowns[k] = v
	}
	return s
}

// Restore replaces the mutable state, dropping anything already expired.
func (a *Agent) Restore(s State) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock()
	a.enabled = s.Enabled
	if s.OwnerID != "" {
		a.ownerID = s.OwnerID
	}
	a.resource = max(s.Resource, 0)
	a.virtual = max(s.Virtual, 0)
	a.needsManual = s.NeedsManual
	a.temp = nil
	if s.Temporary != nil && !s.Temporary.Expired(now) {
		t := *s.Temporary
		a.temp = &t
	}
	a.abilityUntil = make(map[string]time.Time, len(s.AbilityCooldowns))
	for k, v := range s.AbilityCooldowns {
		if now.Before(v) {
			a.abilityUntil[k] = v
		}
	}
	a.socialUntil = s.SocialUntil
	a.suspendedUntil = s.SuspendedUntil
	a.attempts = s.Attempts
	a.successes = s.Successes
}

func remaining(now, until time.Time) (bool, time.Duration) {
	if now.Before(until) {
		return false, until.Sub(now)
	}
	return true, 0
}
