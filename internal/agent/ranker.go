// ABOUTME: Scores eligible agents for an ability and sorts them best first.
// ABOUTME: Capability holders get a fixed bonus over resource, slack and success rate.

package agent

import (
	"errors"
	"sort"
	"time"

	"github.com/2389/coven-conclave/internal/ability"
)

// ErrNoAgentsAvailable indicates no agent can take an ability.
var ErrNoAgentsAvailable = errors.New("no agents available")

// Candidate is a scored agent.
type Candidate struct {
	Agent           *Agent
	Score           float64
	CapabilityMatch bool
}

// Ranker weighs candidates. The zero value is not useful; use NewRanker.
type Ranker struct {
	CapabilityBonus float64
	ResourceWeight  float64
	ResourceCap     int
	SlackWeight     float64 // per minute of slack
	SuccessWeight   float64
}

// NewRanker returns a ranker with the production weights.
func NewRanker() *Ranker {
	return &Ranker{
		CapabilityBonus: 1000,
		ResourceWeight:  5,
		ResourceCap:     10,
		SlackWeight:     0.5,
		SuccessWeight:   50,
	}
}

// Score returns the base score of a for ab.
func (r *Ranker) Score(a *Agent, ab ability.Ability) float64 {
	var score float64
	if ab.ConsumesResource {
		real, virtual := a.Resource()
		score += float64(min(real+virtual, r.ResourceCap)) * r.ResourceWeight
	}
	score += a.Slack(ab.Key).Minutes() * r.SlackWeight
	score += a.SuccessRate() * r.SuccessWeight
	return score
}

// Rank scores agents and sorts them by descending score, ties by ID.
func (r *Ranker) Rank(agents []*Agent, ab ability.Ability, capabilityMatch bool) []Candidate {
	out := make([]Candidate, 0, len(agents))
	for _, a := range agents {
		c := Candidate{Agent: a, Score: r.Score(a, ab), CapabilityMatch: capabilityMatch}
		if capabilityMatch {
			c.Score += r.CapabilityBonus
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Agent.ID < out[j].Agent.ID
	})
	return out
}

// Selection is the result of picking candidates for one ability.
type Selection struct {
	Candidates []Candidate
	// Wait is set when role-eligible agents exist but all are cooling down.
	Wait time.Duration
}

// Select builds the candidate list for ab: agents holding the required
// capability first, else any role-eligible agent. Observer, disabled,
// suspended, resource-starved and cooling-down agents are excluded. When the
// only obstacles are cooldowns or suspensions, Selection.Wait says how long
// until the first agent frees up. ErrNoAgentsAvailable means nothing can
// serve ab without outside intervention.
func (r *Ranker) Select(reg *Registry, cat *ability.Catalog, ab ability.Ability) (Selection, error) {
	var roleEligible []*Agent
	for _, a := range reg.All() {
		if cat.Supports(a.Role, ab.Key) && !a.IsObserver() {
			roleEligible = append(roleEligible, a)
		}
	}
	if len(roleEligible) == 0 {
		return Selection{}, ErrNoAgentsAvailable
	}

	var holders map[string]bool
	if ab.Gated() {
		holders = make(map[string]bool)
		for _, a := range reg.WithCapability(ab.Capability) {
			holders[a.ID] = true
		}
	}

	var capable, fallback []*Agent
	var wait time.Duration
	anyWaiting := false
	for _, a := range roleEligible {
		own, _ := cat.Lookup(a.Role, ab.Key)
		state, left := a.Availability(own)
		switch state {
		case Available:
			if holders == nil || holders[a.ID] {
				capable = append(capable, a)
			} else {
				fallback = append(fallback, a)
			}
		case Waiting:
			if !anyWaiting || left < wait {
				wait = left
			}
			anyWaiting = true
		}
	}

	switch {
	case len(capable) > 0:
		return Selection{Candidates: r.Rank(capable, ab, true)}, nil
	case len(fallback) > 0:
		return Selection{Candidates: r.Rank(fallback, ab, false)}, nil
	case anyWaiting:
		return Selection{Wait: wait}, nil
	default:
		return Selection{}, ErrNoAgentsAvailable
	}
}
