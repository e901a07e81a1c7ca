// ABOUTME: Tests for per-agent cooldowns, capability grants and resources
// ABOUTME: Uses an injected clock so expiry is deterministic

package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-conclave/internal/ability"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

type spendLog struct {
	agentIDs []string
	befores  []int
}

func (s *spendLog) RecordSpend(agentID string, before int, _ time.Time) {
	s.agentIDs = append(s.agentIDs, agentID)
	s.befores = append(s.befores, before)
}

func newTestAgent(t *testing.T, clock *fakeClock, opts ...func(*Params)) *Agent {
	t.Helper()
	p := Params{
		ID:               "a1",
		Name:             "Первый",
		Role:             ability.RoleApostle,
		ConsumesResource: true,
		CapabilityMargin: 30 * time.Second,
		Clock:            clock.Now,
	}
	for _, o := range opts {
		o(&p)
	}
	return New(p)
}

func TestAbilityCooldownBlocksUntilElapsed(t *testing.T) {
	clock := newClock()
	a := newTestAgent(t, clock)

	ok, left := a.CanUseAbility("а")
	assert.True(t, ok)
	assert.Zero(t, left)

	a.SetAbilityCooldown("а", 61*time.Second)
	ok, left = a.CanUseAbility("а")
	assert.False(t, ok)
	assert.Equal(t, 61*time.Second, left)

	clock.Advance(60 * time.Second)
	ok, _ = a.CanUseAbility("а")
	assert.False(t, ok)

	clock.Advance(time.Second)
	ok, _ = a.CanUseAbility("а")
	assert.True(t, ok)
}

func TestCooldownsOnlyExtend(t *testing.T) {
	clock := newClock()
	a := newTestAgent(t, clock)

	a.SetAbilityCooldown("а", 10*time.Second)
	a.SetAbilityCooldown("а", 5*time.Second)
	_, left := a.CanUseAbility("а")
	assert.Equal(t, 10*time.Second, left)

	a.SetSocialCooldown(62 * time.Second)
	a.SetSocialCooldown(time.Second)
	_, left = a.CanUseSocial()
	assert.Equal(t, 62*time.Second, left)

	a.Suspend(time.Minute)
	a.Suspend(time.Second)
	suspended, left := a.IsSuspended()
	assert.True(t, suspended)
	assert.Equal(t, time.Minute, left)
}

func TestTemporaryCapabilityCapacity(t *testing.T) {
	clock := newClock()
	a := newTestAgent(t, clock, func(p *Params) { p.Capabilities = []string{"ч"} })
	expires := clock.Now().Add(2 * time.Hour)

	assert.ErrorIs(t, a.AddTemporaryCapability("ч", expires), ErrCapabilityPermanent)

	require.NoError(t, a.AddTemporaryCapability("г", expires))
	assert.True(t, a.HasCapability("г"))

	assert.ErrorIs(t, a.AddTemporaryCapability("г", expires), ErrCapabilityHeld)
	assert.ErrorIs(t, a.AddTemporaryCapability("э", expires), ErrTemporarySlotTaken)
	assert.False(t, a.HasCapability("э"), "failed grant must not mutate state")

	grant, ok := a.TemporaryCapability()
	require.True(t, ok)
	assert.Equal(t, "г", grant.Key)
	assert.Equal(t, expires.Add(-30*time.Second), grant.ExpiresAt)
	assert.Equal(t, []string{"г", "ч"}, a.Capabilities())
}

func TestTemporaryCapabilityExpiresWithMargin(t *testing.T) {
	clock := newClock()
	a := newTestAgent(t, clock)
	require.NoError(t, a.AddTemporaryCapability("г", clock.Now().Add(time.Hour)))

	clock.Advance(time.Hour - 31*time.Second)
	assert.True(t, a.HasCapability("г"))

	clock.Advance(time.Second)
	assert.False(t, a.HasCapability("г"), "margin-adjusted expiry has passed")

	// the slot frees up even before an explicit purge
	require.NoError(t, a.AddTemporaryCapability("э", clock.Now().Add(time.Hour)))
	assert.True(t, a.HasCapability("э"))
}

func TestPurgeExpired(t *testing.T) {
	clock := newClock()
	a := newTestAgent(t, clock)
	require.NoError(t, a.AddTemporaryCapability("г", clock.Now().Add(time.Minute)))

	assert.False(t, a.PurgeExpired())
	clock.Advance(time.Minute)
	assert.True(t, a.PurgeExpired())
	assert.False(t, a.PurgeExpired())
	_, ok := a.TemporaryCapability()
	assert.False(t, ok)
}

func TestExtendAndRevokeTemporaryCapability(t *testing.T) {
	clock := newClock()
	a := newTestAgent(t, clock)

	assert.False(t, a.ExtendTemporaryCapability("г", clock.Now().Add(time.Hour)))
	require.NoError(t, a.AddTemporaryCapability("г", clock.Now().Add(time.Minute)))
	assert.True(t, a.ExtendTemporaryCapability("г", clock.Now().Add(2*time.Hour)))

	clock.Advance(time.Hour)
	assert.True(t, a.HasCapability("г"))

	assert.False(t, a.RevokeTemporaryCapability("э"))
	assert.True(t, a.RevokeTemporaryCapability("г"))
	assert.False(t, a.HasCapability("г"))
}

func TestSpendResource(t *testing.T) {
	clock := newClock()
	spends := &spendLog{}
	a := newTestAgent(t, clock, func(p *Params) { p.Spends = spends })

	assert.ErrorIs(t, a.SpendResource(), ErrNoResource)

	a.ObserveResource(1)
	a.GrantVirtualResource(1)
	require.NoError(t, a.SpendResource())
	real, virtual := a.Resource()
	assert.Equal(t, 0, real)
	assert.Equal(t, 1, virtual)

	require.NoError(t, a.SpendResource())
	real, virtual = a.Resource()
	assert.Equal(t, 0, real)
	assert.Equal(t, 0, virtual)
	assert.ErrorIs(t, a.SpendResource(), ErrNoResource)

	assert.Equal(t, []string{"a1", "a1"}, spends.agentIDs)
	assert.Equal(t, []int{1, 1}, spends.befores)
}

func TestObserveResourceClearsManualAndVirtual(t *testing.T) {
	a := newTestAgent(t, newClock())

	a.GrantVirtualResource(3)
	a.MarkNeedsManual()
	assert.True(t, a.NeedsManual())
	_, virtual := a.Resource()
	assert.Zero(t, virtual)

	a.ObserveResource(0)
	assert.True(t, a.NeedsManual(), "zero observation keeps the flag")

	a.GrantVirtualResource(2)
	a.ObserveResource(4)
	assert.False(t, a.NeedsManual())
	real, virtual := a.Resource()
	assert.Equal(t, 4, real)
	assert.Zero(t, virtual)

	a.ObserveResource(-3)
	real, _ = a.Resource()
	assert.Zero(t, real, "counter never goes negative")
}

func TestAvailability(t *testing.T) {
	clock := newClock()
	cat := ability.DefaultCatalog()
	attack, _ := cat.Resolve("а")
	a := newTestAgent(t, clock)

	state, _ := a.Availability(attack)
	assert.Equal(t, Unavailable, state, "no resource")

	a.ObserveResource(5)
	state, _ = a.Availability(attack)
	assert.Equal(t, Available, state)

	a.SetSocialCooldown(10 * time.Second)
	a.SetAbilityCooldown("а", 20*time.Second)
	state, wait := a.Availability(attack)
	assert.Equal(t, Waiting, state)
	assert.Equal(t, 20*time.Second, wait)

	clock.Advance(20 * time.Second)
	a.Suspend(time.Minute)
	state, wait = a.Availability(attack)
	assert.Equal(t, Waiting, state)
	assert.Equal(t, time.Minute, wait)

	clock.Advance(time.Minute)
	a.SetEnabled(false)
	state, _ = a.Availability(attack)
	assert.Equal(t, Unavailable, state)
}

func TestSnapshotRestore(t *testing.T) {
	clock := newClock()
	a := newTestAgent(t, clock, func(p *Params) { p.OwnerID = "@owner:test" })
	a.ObserveResource(3)
	a.SetAbilityCooldown("а", time.Minute)
	a.SetAbilityCooldown("з", time.Second)
	a.SetSocialCooldown(time.Minute)
	require.NoError(t, a.AddTemporaryCapability("г", clock.Now().Add(time.Hour)))
	a.RecordAttempt(true)
	a.RecordAttempt(false)

	snap := a.Snapshot()
	clock.Advance(2 * time.Second)

	b := newTestAgent(t, clock)
	b.Restore(snap)
	assert.Equal(t, "@owner:test", b.OwnerID())
	real, _ := b.Resource()
	assert.Equal(t, 3, real)
	assert.True(t, b.HasCapability("г"))
	ok, _ := b.CanUseAbility("а")
	assert.False(t, ok)
	ok, _ = b.CanUseAbility("з")
	assert.True(t, ok)
	attempts, successes := b.Counters()
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 1, successes)
	assert.InDelta(t, 0.5, b.SuccessRate(), 1e-9)
}
