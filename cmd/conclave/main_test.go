// ABOUTME: Tests for config path resolution and token flag parsing in the conclave binary
// ABOUTME: Token minting is checked end to end against a temp config file

package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetConfigPath(t *testing.T) {
	t.Setenv("CONCLAVE_CONFIG", "/etc/conclave.yaml")
	if got := getConfigPath(); got != "/etc/conclave.yaml" {
		t.Fatalf("getConfigPath() = %q, want env override", got)
	}

	t.Setenv("CONCLAVE_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	want := filepath.Join("/xdg", "conclave", "conclave.yaml")
	if got := getConfigPath(); got != want {
		t.Fatalf("getConfigPath() = %q, want %q", got, want)
	}
}

func TestRunTokenFlagErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing subject", nil},
		{"subject without value", []string{"--subject"}},
		{"bad ttl", []string{"--subject", "@a:test", "--ttl", "soon"}},
		{"negative ttl", []string{"--subject=@a:test", "--ttl=-1h"}},
		{"unknown flag", []string{"--subject", "@a:test", "--admin"}},
		{"stray argument", []string{"@a:test"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := runToken(tt.args); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestRunTokenNeedsSecret(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conclave.yaml")
	cfg := `
server:
  http_addr: "127.0.0.1:8090"
database:
  path: "` + filepath.Join(dir, "conclave.db") + `"
jobs:
  path: "` + filepath.Join(dir, "jobs.json") + `"
roster:
  path: "` + filepath.Join(dir, "roster.toml") + `"
matrix:
  homeserver: "https://matrix.test"
`
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONCLAVE_CONFIG", path)

	if err := runToken([]string{"--subject", "@a:test", "--operator"}); err == nil {
		t.Fatal("expected an error without auth.jwt_secret")
	}
}
