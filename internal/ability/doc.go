// Package ability describes the closed set of agent roles and the abilities
// each role can perform.
//
// # Catalog
//
// A Catalog maps single-letter keys to abilities. Roles are kept in priority
// order (apostle, warlock, crusader, light_incarnation) and a key resolves to
// the first role offering it:
//
//	cat := ability.DefaultCatalog()
//	ab, ok := cat.Resolve("ч")
//
// # Capabilities
//
// Race keys double as capability keys. An ability whose Capability field is
// set may only be performed by an agent currently holding that capability.
//
// # Letters
//
// NormalizeLetters turns raw user input into the ordered key sequence a job
// carries: known keys only, no duplicates, capability keys first, truncated.
package ability
