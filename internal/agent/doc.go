// Package agent models the acting accounts and how they are chosen.
//
// # Agent
//
// An Agent carries one account's mutable state:
//
//   - resource counter ("voices") plus a virtual stand-in counter
//   - per-ability cooldowns and one social cooldown shared by all abilities
//   - permanent capabilities and at most one temporary grant
//   - suspension after an anti-automation challenge
//   - attempt and success counters
//
// Cooldowns and suspensions only ever move forward. Predicates such as
// HasCapability are pure functions of the clock: an expired grant is simply not
// reported. PurgeExpired removes it explicitly.
//
// # Registry
//
// The Registry owns all agents and indexes them by id, display name, owner,
// role and capability:
//
//	reg := agent.NewRegistry(logger)
//	reg.Register(a)
//	holders := reg.WithCapability("г")
//
// Whenever an agent's capability set changes the caller must Reindex it.
//
// # Ranking
//
// Ranker.Select builds the candidate list for an ability. Agents holding the
// ability's capability are preferred and receive a large fixed bonus; only
// when none is available does selection fall back to any role-eligible agent.
//
// # Thread Safety
//
// Agent and Registry are safe for concurrent use. Agent methods never call
// into the Registry, so the two locks cannot deadlock.
package agent
