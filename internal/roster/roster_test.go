// ABOUTME: Tests for roster loading and validation
// ABOUTME: Covers TOML decoding, env expansion, observer selection and agent params

package roster

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-conclave/internal/ability"
)

const sampleRoster = `
[[agent]]
id = "watcher"
role = "observer"
user_id = "@watcher:example.org"
access_token = "${ROSTER_TEST_TOKEN}"
source_chat = "!src:example.org"

[[agent]]
id = "apo1"
name = "Первый"
role = "apostle"
user_id = "@apo1:example.org"
access_token = "tok-apo1"
owner_id = "@alice:example.org"
source_chat = "!src:example.org"
target_chat = "!game:example.org"
capabilities = ["ч", "э"]

[[agent]]
id = "lock1"
role = "warlock"
user_id = "@lock1:example.org"
access_token = "tok-lock1"
source_chat = "!src:example.org"
target_chat = "!game:example.org"
enabled = false
`

func writeRoster(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agents.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("ROSTER_TEST_TOKEN", "tok-watcher")
	cat := ability.DefaultCatalog()

	r, err := Load(writeRoster(t, sampleRoster), cat)
	require.NoError(t, err)
	require.Len(t, r.Agents, 3)

	obs, ok := r.Observer()
	require.True(t, ok)
	assert.Equal(t, "watcher", obs.ID)
	assert.Equal(t, "tok-watcher", obs.AccessToken)

	p := r.Agents[1].Params(cat, 30*time.Second)
	assert.Equal(t, "apo1", p.ID)
	assert.Equal(t, "Первый", p.Name)
	assert.Equal(t, ability.RoleApostle, p.Role)
	assert.Equal(t, []string{"ч", "э"}, p.Capabilities)
	assert.Equal(t, "@alice:example.org", p.OwnerID)
	assert.True(t, p.ConsumesResource)
	assert.False(t, p.Disabled)
	assert.Equal(t, 30*time.Second, p.CapabilityMargin)

	lock := r.Agents[2].Params(cat, 0)
	assert.Equal(t, "lock1", lock.Name, "name defaults to id")
	assert.True(t, lock.Disabled)
	assert.False(t, lock.ConsumesResource)
}

func TestValidate(t *testing.T) {
	cat := ability.DefaultCatalog()

	tests := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			name:    "unknown role",
			mutate:  func(s string) string { return strings.Replace(s, `role = "warlock"`, `role = "bard"`, 1) },
			wantErr: "unknown role",
		},
		{
			name:    "duplicate id",
			mutate:  func(s string) string { return strings.Replace(s, `id = "lock1"`, `id = "apo1"`, 1) },
			wantErr: "duplicate id",
		},
		{
			name:    "unknown capability",
			mutate:  func(s string) string { return strings.Replace(s, `["ч", "э"]`, `["ч", "x"]`, 1) },
			wantErr: "unknown capability",
		},
		{
			name: "capability on non-apostle",
			mutate: func(s string) string {
				return strings.Replace(s, "enabled = false", "enabled = false\ncapabilities = [\"ч\"]", 1)
			},
			wantErr: "only valid for apostles",
		},
		{
			name: "missing target chat",
			mutate: func(s string) string {
				return strings.Replace(s, "enabled = false", "", 1) + "\n[[agent]]\nid = \"x\"\nrole = \"crusader\"\nuser_id = \"@x:e\"\naccess_token = \"t\"\nsource_chat = \"!s:e\"\n"
			},
			wantErr: "target_chat is required",
		},
		{
			name: "two observers",
			mutate: func(s string) string {
				return strings.Replace(s, `id = "lock1"`, "id = \"lock1\"\nobserver = true", 1)
			},
			wantErr: "at most one observer",
		},
		{
			name:    "missing token",
			mutate:  func(s string) string { return strings.Replace(s, `access_token = "tok-apo1"`, "", 1) },
			wantErr: "access_token is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ROSTER_TEST_TOKEN", "tok-watcher")
			_, err := Load(writeRoster(t, tt.mutate(sampleRoster)), cat)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_Empty(t *testing.T) {
	_, err := Load(writeRoster(t, "homeserver = \"https://hs.example.org\"\n"), ability.DefaultCatalog())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one")
}
