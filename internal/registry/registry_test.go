package registry

import (
	"context"
	"testing"

	"github.com/relaybot/engine/internal/model"
)

func TestMemoryUpsertAndGet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.UpsertChat(ctx, model.Chat{ID: "1", Active: true, IsDestination: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c, err := m.GetChat(ctx, "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.Active || !c.IsDestination {
		t.Errorf("got %+v", c)
	}

	if _, err := m.GetChat(ctx, "missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryListActiveDestinationsExcludesInactive(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.UpsertChat(ctx, model.Chat{ID: "1", Active: true, IsDestination: true})
	m.UpsertChat(ctx, model.Chat{ID: "2", Active: false, IsDestination: true})
	m.UpsertChat(ctx, model.Chat{ID: "3", Active: true, IsDestination: false})

	dests, err := m.ListActiveDestinations(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dests) != 1 || dests[0].ID != "1" {
		t.Errorf("got %+v", dests)
	}
}

func TestMemoryMigrate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.UpsertChat(ctx, model.Chat{ID: "old", Active: true})

	if err := m.Migrate(ctx, "old", "new"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.GetChat(ctx, "old"); err != ErrNotFound {
		t.Errorf("expected old id to be gone, got %v", err)
	}
	c, err := m.GetChat(ctx, "new")
	if err != nil || c.ID != "new" {
		t.Errorf("expected chat under new id, got %+v err=%v", c, err)
	}
}

func TestMemoryDeactivate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.UpsertChat(ctx, model.Chat{ID: "1", Active: true})

	if err := m.Deactivate(ctx, "1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, _ := m.GetChat(ctx, "1")
	if c.Active {
		t.Error("expected chat to be deactivated")
	}
}
