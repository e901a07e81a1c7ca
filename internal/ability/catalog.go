// ABOUTME: Role and ability catalog with capability-gated race keys
// ABOUTME: Resolves single-letter keys to the ability text an agent sends

package ability

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role is one of the closed set of agent roles.
type Role string

const (
	RoleApostle          Role = "apostle"
	RoleWarlock          Role = "warlock"
	RoleCrusader         Role = "crusader"
	RoleLightIncarnation Role = "light_incarnation"
	RoleObserver         Role = "observer"
)

// ErrUnknownRole is returned when parsing a role name outside the closed set.
var ErrUnknownRole = errors.New("unknown role")

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleApostle, RoleWarlock, RoleCrusader, RoleLightIncarnation, RoleObserver:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

// Ability is a single timed action.
type Ability struct {
	Key              string
	Label            string
	Text             string // exact message sent to the target chat
	Role             Role
	Cooldown         time.Duration
	ConsumesResource bool
	// Capability is set for abilities only an agent holding that key may use.
	Capability string
}

// Gated reports whether the ability requires a capability.
func (a Ability) Gated() bool {
	return a.Capability != ""
}

// RoleSpec describes a role and the abilities it offers.
type RoleSpec struct {
	Role             Role
	Title            string
	Prefix           string
	ConsumesResource bool
	DefaultCooldown  time.Duration
	Abilities        []Ability
}

// Catalog is an immutable lookup over roles, abilities and capability keys.
type Catalog struct {
	roles        []RoleSpec
	byRole       map[Role]map[string]Ability
	capabilities map[string]string
}

// NewCatalog builds a catalog from role specs (in priority order) and the set of
// capability keys with their display names.
func NewCatalog(roles []RoleSpec, capabilities map[string]string) *Catalog {
	c := &Catalog{
		roles:        roles,
		byRole:       make(map[Role]map[string]Ability, len(roles)),
		capabilities: make(map[string]string, len(capabilities)),
	}
	for k, v := range capabilities {
		c.capabilities[k] = v
	}
	for _, rs := range roles {
		m := make(map[string]Ability, len(rs.Abilities))
		for _, ab := range rs.Abilities {
			ab.Role = rs.Role
			if ab.Cooldown == 0 {
				ab.Cooldown = rs.DefaultCooldown
			}
			if ab.Text == "" {
				ab.Text = rs.Prefix + " " + ab.Label
			}
			m[ab.Key] = ab
		}
		c.byRole[rs.Role] = m
	}
	return c
}

// Resolve returns the ability for a key from the highest-priority role offering it.
func (c *Catalog) Resolve(key string) (Ability, bool) {
	for _, rs := range c.roles {
		if ab, ok := c.byRole[rs.Role][key]; ok {
			return ab, true
		}
	}
	return Ability{}, false
}

// Lookup returns the ability a specific role performs for key.
func (c *Catalog) Lookup(role Role, key string) (Ability, bool) {
	ab, ok := c.byRole[role][key]
	return ab, ok
}

// Supports reports whether role can perform key at all.
func (c *Catalog) Supports(role Role, key string) bool {
	_, ok := c.byRole[role][key]
	return ok
}

// Roles returns the role specs in priority order.
func (c *Catalog) Roles() []RoleSpec {
	out := make([]RoleSpec, len(c.roles))
	copy(out, c.roles)
	return out
}

// IsCapability reports whether key is a capability (race) key.
func (c *Catalog) IsCapability(key string) bool {
	_, ok := c.capabilities[key]
	return ok
}

// CapabilityName returns the display name of a capability key, or the key itself.
func (c *Catalog) CapabilityName(key string) string {
	if name, ok := c.capabilities[key]; ok {
		return name
	}
	return key
}

// ConsumesResource reports whether the role spends a resource unit per ability.
func (c *Catalog) ConsumesResource(role Role) bool {
	for _, rs := range c.roles {
		if rs.Role == role {
			return rs.ConsumesResource
		}
	}
	return false
}

// NormalizeLetters lower-cases raw input, keeps only known keys, drops
// duplicates, moves capability keys to the front and truncates to max.
func (c *Catalog) NormalizeLetters(raw string, max int) string {
	seen := make(map[string]bool)
	var gated, plain []string
	for _, r := range strings.ToLower(raw) {
		key := string(r)
		if seen[key] {
			continue
		}
		if _, ok := c.Resolve(key); !ok {
			continue
		}
		seen[key] = true
		if c.IsCapability(key) {
			gated = append(gated, key)
		} else {
			plain = append(plain, key)
		}
	}
	keys := append(gated, plain...)
	if max > 0 && len(keys) > max {
		keys = keys[:max]
	}
	return strings.Join(keys, "")
}

// Keys splits a normalized letter sequence into single keys.
func Keys(letters string) []string {
	keys := make([]string, 0, len(letters))
	for _, r := range letters {
		keys = append(keys, string(r))
	}
	return keys
}
