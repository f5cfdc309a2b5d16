package executor

import (
	"context"
	"database/sql"
	"testing"
	"time"
)

func newTestAuditStore(t *testing.T) *SQLiteAuditStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	store, err := NewSQLiteAuditStore(db)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestAuditRecordAndList(t *testing.T) {
	store := newTestAuditStore(t)
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	events := []AuditEvent{
		{PlanID: "p1", Skill: "deploy-blog", StepIndex: 0, Command: "echo a", Status: "succeeded", StartedAt: now, FinishedAt: now.Add(time.Second)},
		{PlanID: "p1", Skill: "deploy-blog", StepIndex: 1, Command: "exit 1", Status: "failed", Error: "exit status 1", StartedAt: now.Add(time.Second)},
		{PlanID: "p2", Skill: "backup", StepIndex: 0, Command: "echo b", Status: "succeeded"},
	}
	for _, event := range events {
		if err := store.Record(ctx, event); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := store.List(ctx, AuditFilter{PlanID: "p1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events", len(got))
	}
	if got[0].Command != "echo a" || got[1].Error != "exit status 1" {
		t.Fatalf("unexpected events: %+v", got)
	}
	if !got[0].StartedAt.Equal(now) {
		t.Errorf("started_at = %v", got[0].StartedAt)
	}
	if !got[1].FinishedAt.IsZero() {
		t.Errorf("zero finished_at must stay zero, got %v", got[1].FinishedAt)
	}

	failed, err := store.List(ctx, AuditFilter{Status: "failed"})
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(failed) != 1 || failed[0].PlanID != "p1" {
		t.Fatalf("unexpected failed events: %+v", failed)
	}

	limited, err := store.List(ctx, AuditFilter{Limit: 1})
	if err != nil {
		t.Fatalf("list with limit: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("limit ignored, got %d events", len(limited))
	}
}

func TestOpenAuditDBCreatesSchema(t *testing.T) {
	path := t.TempDir() + "/audit.db"
	store, err := OpenAuditDB(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Record(context.Background(), AuditEvent{PlanID: "p1", Command: "echo", Status: "succeeded"}); err != nil {
		t.Fatalf("record: %v", err)
	}
}
