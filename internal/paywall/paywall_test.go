package paywall

import (
	"context"
	"testing"
	"time"

	"github.com/relaybot/engine/internal/model"
	"github.com/relaybot/engine/internal/store/rediscache"
)

type fakeEntitlement struct{ entitled bool }

func (f fakeEntitlement) Entitled(ctx context.Context, chatID string, now time.Time) (bool, error) {
	return f.entitled, nil
}

func TestEvaluateSelfSend(t *testing.T) {
	g := New(fakeEntitlement{entitled: false}, rediscache.NewMemoryCache(), 24*time.Hour)
	source := model.Chat{ID: "1", SelfSendEnabled: true}

	d, err := g.Evaluate(context.Background(), source, source, time.Now())
	if err != nil || !d.Allow {
		t.Errorf("expected self-send allowed, got %+v err=%v", d, err)
	}

	source.SelfSendEnabled = false
	d, err = g.Evaluate(context.Background(), source, source, time.Now())
	if err != nil || d.Allow {
		t.Errorf("expected self-send disallowed when not enabled, got %+v err=%v", d, err)
	}
}

func TestEvaluatePausedFlagsSuppressWithoutNudge(t *testing.T) {
	g := New(fakeEntitlement{entitled: false}, rediscache.NewMemoryCache(), 24*time.Hour)
	source := model.Chat{ID: "1", OutPaused: true}
	dest := model.Chat{ID: "2"}

	d, err := g.Evaluate(context.Background(), source, dest, time.Now())
	if err != nil || d.Allow || d.Nudge {
		t.Errorf("expected suppressed without nudge, got %+v err=%v", d, err)
	}
}

func TestEvaluateNotEntitledNudgesOncePerCooldown(t *testing.T) {
	g := New(fakeEntitlement{entitled: false}, rediscache.NewMemoryCache(), 24*time.Hour)
	source := model.Chat{ID: "1"}
	now := time.Now()

	d, err := g.Evaluate(context.Background(), source, model.Chat{ID: "2"}, now)
	if err != nil || d.Allow || !d.Nudge {
		t.Fatalf("expected first rejection to nudge, got %+v err=%v", d, err)
	}

	d, err = g.Evaluate(context.Background(), source, model.Chat{ID: "3"}, now)
	if err != nil || d.Allow || d.Nudge {
		t.Errorf("expected second destination in the same cycle to not re-nudge, got %+v err=%v", d, err)
	}
}

func TestEvaluateEntitledAllows(t *testing.T) {
	g := New(fakeEntitlement{entitled: true}, rediscache.NewMemoryCache(), 24*time.Hour)
	d, err := g.Evaluate(context.Background(), model.Chat{ID: "1"}, model.Chat{ID: "2"}, time.Now())
	if err != nil || !d.Allow || d.Nudge {
		t.Errorf("got %+v err=%v", d, err)
	}
}
