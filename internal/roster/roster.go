// ABOUTME: TOML agent roster: identities, roles, chats, tokens and permanent capabilities
// ABOUTME: Loads with environment variable expansion and validates against the ability catalog

// Package roster loads the set of agents the engine drives.
package roster

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/2389/coven-conclave/internal/ability"
	"github.com/2389/coven-conclave/internal/agent"
)

// Roster is the decoded agents file.
type Roster struct {
	// Homeserver overrides matrix.homeserver from the main config when set.
	Homeserver string  `toml:"homeserver"`
	Agents     []Entry `toml:"agent"`
}

// Entry is one configured agent.
type Entry struct {
	ID           string   `toml:"id"`
	Name         string   `toml:"name"`
	Role         string   `toml:"role"`
	UserID       string   `toml:"user_id"`
	AccessToken  string   `toml:"access_token"`
	OwnerID      string   `toml:"owner_id"`
	SourceChat   string   `toml:"source_chat"`
	TargetChat   string   `toml:"target_chat"`
	Capabilities []string `toml:"capabilities"`
	Enabled      *bool    `toml:"enabled"`
	Observer     bool     `toml:"observer"`
}

// Load reads the roster from path, expanding ${VAR} references.
func Load(path string, catalog *ability.Catalog) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading roster file: %w", err)
	}

	var r Roster
	if _, err := toml.Decode(expandEnvVars(string(data)), &r); err != nil {
		return nil, fmt.Errorf("parsing roster: %w", err)
	}

	if err := r.Validate(catalog); err != nil {
		return nil, fmt.Errorf("validating roster: %w", err)
	}
	return &r, nil
}

func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// Validate checks identities, roles, chats and capability keys.
func (r *Roster) Validate(catalog *ability.Catalog) error {
	if r.Homeserver != "" {
		if _, err := url.Parse(r.Homeserver); err != nil {
			return fmt.Errorf("homeserver is not a valid URL: %w", err)
		}
	}
	if len(r.Agents) == 0 {
		return fmt.Errorf("at least one [[agent]] is required")
	}

	ids := make(map[string]bool, len(r.Agents))
	observers := 0
	for i, e := range r.Agents {
		where := fmt.Sprintf("agent[%d]", i)
		if e.ID == "" {
			return fmt.Errorf("%s: id is required", where)
		}
		where = fmt.Sprintf("agent %q", e.ID)
		if ids[e.ID] {
			return fmt.Errorf("%s: duplicate id", where)
		}
		ids[e.ID] = true

		role, err := ability.ParseRole(e.Role)
		if err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}
		if e.UserID == "" {
			return fmt.Errorf("%s: user_id is required", where)
		}
		if e.AccessToken == "" {
			return fmt.Errorf("%s: access_token is required", where)
		}
		if e.SourceChat == "" {
			return fmt.Errorf("%s: source_chat is required", where)
		}
		if e.IsObserver() {
			observers++
		} else if e.TargetChat == "" {
			return fmt.Errorf("%s: target_chat is required", where)
		}
		for _, c := range e.Capabilities {
			if !catalog.IsCapability(c) {
				return fmt.Errorf("%s: unknown capability %q", where, c)
			}
			if role != ability.RoleApostle {
				return fmt.Errorf("%s: capabilities are only valid for apostles", where)
			}
		}
	}
	if observers > 1 {
		return fmt.Errorf("at most one observer agent is allowed, found %d", observers)
	}
	return nil
}

// IsObserver reports whether the entry is the designated observer.
func (e Entry) IsObserver() bool {
	return e.Observer || strings.EqualFold(strings.TrimSpace(e.Role), string(ability.RoleObserver))
}

// Observer returns the observer entry, if any.
func (r *Roster) Observer() (Entry, bool) {
	for _, e := range r.Agents {
		if e.IsObserver() {
			return e, true
		}
	}
	return Entry{}, false
}

// Params converts the entry into agent construction parameters. The caller
// supplies the chat session and shared collaborators.
func (e Entry) Params(catalog *ability.Catalog, margin time.Duration) agent.Params {
	role, _ := ability.ParseRole(e.Role)
	name := e.Name
	if name == "" {
		name = e.ID
	}
	return agent.Params{
		ID:               e.ID,
		Name:             name,
		Role:             role,
		SourceChat:       e.SourceChat,
		TargetChat:       e.TargetChat,
		OwnerID:          e.OwnerID,
		Capabilities:     e.Capabilities,
		Disabled:         e.Enabled != nil && !*e.Enabled,
		ConsumesResource: catalog.ConsumesResource(role),
		CapabilityMargin: margin,
	}
}
