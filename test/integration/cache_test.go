//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/labportal/labportal/internal/platform/cache"
	"github.com/labportal/labportal/internal/platform/db"
	"github.com/labportal/labportal/migrations"
)

func TestMigrator_Idempotent(t *testing.T) {
	ctx := context.Background()
	m := db.NewMigrator(globalPool, migrations.FS)

	applied, err := m.Up(ctx)
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if applied != 0 {
		t.Errorf("expected no pending migrations on second run, applied %d", applied)
	}

	statuses, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	for _, s := range statuses {
		if !s.Applied || s.AppliedAt == nil {
			t.Errorf("expected %s applied, got %+v", s.Name, s)
		}
	}
}

func TestPGStore_RoundTrip(t *testing.T) {
	truncateCache(t)
	ctx := context.Background()
	store := cache.NewPGStore(globalPool)

	if err := store.Set(ctx, "results|u-1|PageIndex=0", []byte(`{"page":1}`), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok := store.Get(ctx, "results|u-1|PageIndex=0")
	if !ok || string(got) != `{"page":1}` {
		t.Fatalf("expected cached payload, got %q ok=%v", got, ok)
	}

	// Upsert replaces the payload and extends the expiry.
	if err := store.Set(ctx, "results|u-1|PageIndex=0", []byte(`{"page":2}`), time.Minute); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	got, _ = store.Get(ctx, "results|u-1|PageIndex=0")
	if string(got) != `{"page":2}` {
		t.Errorf("expected overwritten payload, got %q", got)
	}

	if err := store.Delete(ctx, "results|u-1|PageIndex=0"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := store.Get(ctx, "results|u-1|PageIndex=0"); ok {
		t.Error("expected miss after delete")
	}
}

func TestPGStore_ExpiryAndPurge(t *testing.T) {
	truncateCache(t)
	ctx := context.Background()
	store := cache.NewPGStore(globalPool)

	if err := store.Set(ctx, "short", []byte("a"), 50*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set(ctx, "long", []byte("b"), time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	if _, ok := store.Get(ctx, "short"); ok {
		t.Error("expected expired entry to miss")
	}
	n, err := store.Purge(ctx)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged row, got %d", n)
	}
	if _, ok := store.Get(ctx, "long"); !ok {
		t.Error("expected live entry to survive purge")
	}
}
