package entitlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/relaybot/engine/internal/model"
	"github.com/relaybot/engine/internal/store/rediscache"
)

var errNotFound = errors.New("chat not found")

type fakeRegistry struct {
	chats map[string]model.Chat
	gets  int
}

func (f *fakeRegistry) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	f.gets++
	c, ok := f.chats[id]
	if !ok {
		return nil, errNotFound
	}
	return &c, nil
}

func TestEntitledChecksTrialAndPaidUntil(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	reg := &fakeRegistry{chats: map[string]model.Chat{
		"entitled":    {ID: "entitled", TrialUntil: now.Add(time.Hour)},
		"notentitled": {ID: "notentitled", TrialUntil: now.Add(-time.Hour)},
	}}
	c := New(reg, rediscache.NewMemoryCache())

	ok, err := c.Entitled(context.Background(), "entitled", now)
	if err != nil || !ok {
		t.Errorf("expected entitled, got ok=%v err=%v", ok, err)
	}

	ok, err = c.Entitled(context.Background(), "notentitled", now)
	if err != nil || ok {
		t.Errorf("expected not entitled, got ok=%v err=%v", ok, err)
	}
}

func TestEntitledCachesResult(t *testing.T) {
	now := time.Now()
	reg := &fakeRegistry{chats: map[string]model.Chat{
		"1": {ID: "1", TrialUntil: now.Add(time.Hour)},
	}}
	c := New(reg, rediscache.NewMemoryCache())

	for i := 0; i < 3; i++ {
		if _, err := c.Entitled(context.Background(), "1", now); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if reg.gets != 1 {
		t.Errorf("expected registry to be hit once, got %d", reg.gets)
	}
}
