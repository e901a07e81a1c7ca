// ABOUTME: Tests for candidate selection and scoring
// ABOUTME: Covers capability preference, fallback, waiting and no-candidate cases

package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-conclave/internal/ability"
)

func setupPool(t *testing.T) (*Registry, *fakeClock, map[string]*Agent) {
	t.Helper()
	reg := NewRegistry(nil)
	clock := newClock()
	pool := map[string]*Agent{
		"human": newTestAgent(t, clock, func(p *Params) { p.ID = "human"; p.Name = "Человек"; p.Capabilities = []string{"ч"} }),
		"elf":   newTestAgent(t, clock, func(p *Params) { p.ID = "elf"; p.Name = "Эльф"; p.Capabilities = []string{"э"} }),
		"lock": newTestAgent(t, clock, func(p *Params) {
			p.ID = "lock"
			p.Name = "Чернокнижник"
			p.Role = ability.RoleWarlock
			p.ConsumesResource = false
		}),
		"obs": newTestAgent(t, clock, func(p *Params) { p.ID = "obs"; p.Name = "Глаз"; p.Role = ability.RoleObserver }),
	}
	for _, id := range []string{"human", "elf", "lock", "obs"} {
		pool[id].ObserveResource(5)
		require.NoError(t, reg.Register(pool[id]))
	}
	return reg, clock, pool
}

func TestSelectPrefersCapabilityHolders(t *testing.T) {
	reg, _, pool := setupPool(t)
	cat := ability.DefaultCatalog()
	human, _ := cat.Resolve("ч")

	sel, err := NewRanker().Select(reg, cat, human)
	require.NoError(t, err)
	require.Len(t, sel.Candidates, 1)
	assert.Same(t, pool["human"], sel.Candidates[0].Agent)
	assert.True(t, sel.Candidates[0].CapabilityMatch)
	assert.Greater(t, sel.Candidates[0].Score, 1000.0)
}

func TestSelectFallsBackToRoleEligible(t *testing.T) {
	reg, _, pool := setupPool(t)
	cat := ability.DefaultCatalog()
	goblin, _ := cat.Resolve("г")

	sel, err := NewRanker().Select(reg, cat, goblin)
	require.NoError(t, err)
	require.Len(t, sel.Candidates, 2)
	for _, c := range sel.Candidates {
		assert.False(t, c.CapabilityMatch)
		assert.NotSame(t, pool["lock"], c.Agent)
	}
}

func TestSelectRanksByResource(t *testing.T) {
	reg, _, pool := setupPool(t)
	cat := ability.DefaultCatalog()
	attack, _ := cat.Resolve("а")
	pool["elf"].ObserveResource(9)

	sel, err := NewRanker().Select(reg, cat, attack)
	require.NoError(t, err)
	require.Len(t, sel.Candidates, 2)
	assert.Same(t, pool["elf"], sel.Candidates[0].Agent)
	assert.Same(t, pool["human"], sel.Candidates[1].Agent)
}

func TestSelectWaitsForCooldown(t *testing.T) {
	reg, _, pool := setupPool(t)
	cat := ability.DefaultCatalog()
	curse, _ := cat.Resolve("л")
	pool["lock"].SetAbilityCooldown("л", time.Hour)

	sel, err := NewRanker().Select(reg, cat, curse)
	require.NoError(t, err)
	assert.Empty(t, sel.Candidates)
	assert.Equal(t, time.Hour, sel.Wait)
}

func TestSelectNoCandidates(t *testing.T) {
	reg, _, pool := setupPool(t)
	cat := ability.DefaultCatalog()

	// no crusader or light incarnation is registered
	cleanse, _ := cat.Resolve("т")
	_, err := NewRanker().Select(reg, cat, cleanse)
	assert.ErrorIs(t, err, ErrNoAgentsAvailable)

	// the only warlock is disabled
	pool["lock"].SetEnabled(false)
	curse, _ := cat.Resolve("л")
	_, err = NewRanker().Select(reg, cat, curse)
	assert.ErrorIs(t, err, ErrNoAgentsAvailable)
}

func TestRankTieBreaksByID(t *testing.T) {
	clock := newClock()
	cat := ability.DefaultCatalog()
	attack, _ := cat.Resolve("а")
	b := newTestAgent(t, clock, func(p *Params) { p.ID = "b" })
	a := newTestAgent(t, clock, func(p *Params) { p.ID = "a" })

	ranked := NewRanker().Rank([]*Agent{b, a}, attack, false)
	require.Len(t, ranked, 2)
	assert.Equal(t, "a", ranked[0].Agent.ID)
}
