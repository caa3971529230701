package strata

import (
	"context"
	"errors"
	"testing"

	"github.com/cadencehq/strata/config"
	"github.com/cadencehq/strata/entity"
	"github.com/cadencehq/strata/repo"
	"github.com/cadencehq/strata/storage"
)

type note struct {
	entity.Meta
	Title string `db:"title"`
	Body  string `db:"body"`
}

func (note) TableName() string { return "notes" }

func openMemoryDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), &config.Config{
		Backend: config.BackendMemory,
		Actor:   "svc-test",
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenAndRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openMemoryDB(t)

	notes, err := NewRepository[note](db, repo.Options{})
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}

	n := &note{Title: "first", Body: "hello"}
	if err := notes.Save(ctx, n, false); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if n.ChangedByID != "svc-test" {
		t.Fatalf("changed_by_id = %q, want the configured actor", n.ChangedByID)
	}

	got, err := notes.Get(ctx, n.EntityID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "first" {
		t.Fatalf("title = %q, want first", got.Title)
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), &config.Config{Backend: "oracle"})
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestAuditDisabledFromConfig(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, &config.Config{
		Backend:      config.BackendMemory,
		DisableAudit: true,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	notes, err := NewRepository[note](db, repo.Options{})
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}

	n := &note{Title: "draft"}
	if err := notes.Save(ctx, n, false); err != nil {
		t.Fatalf("create: %v", err)
	}
	n.Body = "revised"
	if err := notes.Save(ctx, n, false); err != nil {
		t.Fatalf("update: %v", err)
	}

	rows, err := db.Port.Query(ctx, storage.AuditTable("notes"), storage.Filter{})
	if err != nil {
		t.Fatalf("query audit: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("audit disabled but found %d rows", len(rows))
	}
}

func TestSoftDeleteThroughHandle(t *testing.T) {
	ctx := context.Background()
	db := openMemoryDB(t)

	notes, err := NewRepository[note](db, repo.Options{})
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}

	n := &note{Title: "ephemeral"}
	if err := notes.Save(ctx, n, false); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := notes.Delete(ctx, n, false); err != nil {
		t.Fatalf("delete: %v", err)
	}

	_, err = notes.GetOne(ctx, repo.Query{Conditions: map[string]any{"title": "ephemeral"}})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetOne after delete = %v, want ErrNotFound", err)
	}
}
