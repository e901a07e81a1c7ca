// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers schema creation, agent state snapshots, outcome ledger and spend events

package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/2389/coven-conclave/internal/ability"
	"github.com/2389/coven-conclave/internal/agent"
	"github.com/2389/coven-conclave/internal/jobs"
)

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	first, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	first.Close()

	second, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen failed (migrations must be idempotent): %v", err)
	}
	second.Close()
}

func TestGetAgentState_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetAgentState(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveAndRestoreAgents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	newAgent := func(id string) *agent.Agent {
		return agent.New(agent.Params{
			ID:               id,
			Name:             id,
			Role:             ability.RoleApostle,
			ConsumesResource: true,
			Clock:            clock,
		})
	}

	saved := newAgent("alpha")
	saved.ObserveResource(7)
	saved.SetSocialCooldown(time.Minute)
	saved.RecordAttempt(true)
	if err := saved.AddTemporaryCapability("г", now.Add(2*time.Hour)); err != nil {
		t.Fatalf("AddTemporaryCapability failed: %v", err)
	}

	if err := store.SaveAgents(ctx, []*agent.Agent{saved, newAgent("beta")}); err != nil {
		t.Fatalf("SaveAgents failed: %v", err)
	}

	fresh := newAgent("alpha")
	unsaved := newAgent("gamma")
	n, err := store.RestoreAgents(ctx, []*agent.Agent{fresh, unsaved})
	if err != nil {
		t.Fatalf("RestoreAgents failed: %v", err)
	}
	if n != 1 {
		t.Errorf("restored %d agents, want 1", n)
	}

	if real, _ := fresh.Resource(); real != 7 {
		t.Errorf("resource = %d, want 7", real)
	}
	if ok, left := fresh.CanUseSocial(); ok || left != time.Minute {
		t.Errorf("social cooldown not restored: ok=%v left=%v", ok, left)
	}
	if !fresh.HasCapability("г") {
		t.Error("temporary capability not restored")
	}
	if attempts, successes := fresh.Counters(); attempts != 1 || successes != 1 {
		t.Errorf("counters = %d/%d, want 1/1", attempts, successes)
	}
	if real, _ := unsaved.Resource(); real != 0 {
		t.Errorf("agent without snapshot changed: resource %d", real)
	}
}

func TestSaveAgentState_Overwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveAgentState(ctx, "a", agent.State{Resource: 1}); err != nil {
		t.Fatalf("SaveAgentState failed: %v", err)
	}
	if err := store.SaveAgentState(ctx, "a", agent.State{Resource: 4, NeedsManual: true}); err != nil {
		t.Fatalf("SaveAgentState failed: %v", err)
	}

	got, err := store.GetAgentState(ctx, "a")
	if err != nil {
		t.Fatalf("GetAgentState failed: %v", err)
	}
	if got.Resource != 4 || !got.NeedsManual {
		t.Errorf("got %+v, want the second snapshot", got)
	}
}

func TestRecordAndListOutcomes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	jobA := jobs.NewJob("@a:test", "!room", "!баф аз", "аз", base)
	jobB := jobs.NewJob("@b:test", "!room", "!баф у", "у", base)

	records := []struct {
		job *jobs.Job
		out jobs.Outcome
	}{
		{jobA, jobs.Outcome{AgentID: "x", AgentName: "X", AbilityKey: "а", AbilityLabel: "атаки", Value: 100, Status: jobs.StatusApplied, At: base}},
		{jobB, jobs.Outcome{AgentID: "y", AgentName: "Y", AbilityKey: "у", AbilityLabel: "удачи", Value: 9, Critical: true, Status: jobs.StatusApplied, At: base.Add(time.Second)}},
		{jobA, jobs.Outcome{AbilityKey: "з", Status: jobs.StatusAbandoned, At: base.Add(2 * time.Second)}},
	}
	for _, r := range records {
		if err := store.RecordOutcome(ctx, r.job, r.out); err != nil {
			t.Fatalf("RecordOutcome failed: %v", err)
		}
	}

	all, err := store.ListOutcomes(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListOutcomes failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d outcomes, want 3", len(all))
	}
	if all[0].AbilityKey != "з" || all[0].Status != jobs.StatusAbandoned {
		t.Errorf("newest outcome should come first, got %+v", all[0])
	}

	mine, err := store.ListOutcomes(ctx, "@a:test", 10)
	if err != nil {
		t.Fatalf("ListOutcomes failed: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("got %d outcomes for @a, want 2", len(mine))
	}
	first := mine[1]
	if first.JobID != jobA.ID || first.AgentName != "X" || first.Value != 100 || first.Critical {
		t.Errorf("unexpected row %+v", first)
	}
	if !first.At.Equal(base) {
		t.Errorf("At = %v, want %v", first.At, base)
	}

	limited, err := store.ListOutcomes(ctx, "", 1)
	if err != nil {
		t.Fatalf("ListOutcomes failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit ignored: got %d rows", len(limited))
	}
}

func TestRecordSpend(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	store.RecordSpend("x", 5, base)
	store.RecordSpend("x", 4, base.Add(time.Minute))
	store.RecordSpend("y", 2, base.Add(time.Minute))

	events, err := store.SpendEvents(context.Background(), "x", base.Add(30*time.Second))
	if err != nil {
		t.Fatalf("SpendEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Before != 4 || !events[0].At.Equal(base.Add(time.Minute)) {
		t.Errorf("unexpected event %+v", events[0])
	}
}

func TestSpendRecorderWiring(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	a := agent.New(agent.Params{
		ID:               "x",
		Role:             ability.RoleApostle,
		ConsumesResource: true,
		Spends:           store,
		Clock:            func() time.Time { return now },
	})
	a.ObserveResource(3)
	if err := a.SpendResource(); err != nil {
		t.Fatalf("SpendResource failed: %v", err)
	}

	events, err := store.SpendEvents(context.Background(), "x", time.Time{})
	if err != nil {
		t.Fatalf("SpendEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].Before != 3 {
		t.Errorf("got %+v, want one spend from 3", events)
	}
}

// newTestStore creates a new SQLite store in a temporary directory for testing
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}
