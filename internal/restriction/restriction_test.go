package restriction

import (
	"context"
	"testing"
	"time"

	"github.com/relaybot/engine/internal/model"
	"github.com/relaybot/engine/internal/store/postgres"
)

type fakeStore struct {
	restriction *model.Restriction
	err         error
}

func (f *fakeStore) ActiveRestriction(ctx context.Context, userID string, now time.Time) (*model.Restriction, error) {
	return f.restriction, f.err
}

func TestBlockedEmptyUserID(t *testing.T) {
	c := New(&fakeStore{err: postgres.ErrNotFound})
	blocked, err := c.Blocked(context.Background(), "", time.Now())
	if err != nil || blocked {
		t.Fatalf("expected unblocked nil-error for empty userID, got blocked=%v err=%v", blocked, err)
	}
}

func TestBlockedNotFoundIsUnblocked(t *testing.T) {
	c := New(&fakeStore{err: postgres.ErrNotFound})
	blocked, err := c.Blocked(context.Background(), "u1", time.Now())
	if err != nil || blocked {
		t.Fatalf("expected unblocked nil-error, got blocked=%v err=%v", blocked, err)
	}
}

func TestBlockedActiveBan(t *testing.T) {
	now := time.Now()
	c := New(&fakeStore{restriction: &model.Restriction{
		Kind:      model.RestrictionBan,
		ExpiresAt: now.Add(100 * 365 * 24 * time.Hour),
	}})
	blocked, err := c.Blocked(context.Background(), "u1", now)
	if err != nil || !blocked {
		t.Fatalf("expected blocked, got blocked=%v err=%v", blocked, err)
	}
}

func TestBlockedExpiredMuteIsUnblocked(t *testing.T) {
	now := time.Now()
	c := New(&fakeStore{restriction: &model.Restriction{
		Kind:      model.RestrictionMute,
		ExpiresAt: now.Add(-time.Minute),
	}})
	blocked, err := c.Blocked(context.Background(), "u1", now)
	if err != nil || blocked {
		t.Fatalf("expected unblocked for expired mute, got blocked=%v err=%v", blocked, err)
	}
}

func TestBlockedPropagatesOtherErrors(t *testing.T) {
	wantErr := context.DeadlineExceeded
	c := New(&fakeStore{err: wantErr})
	_, err := c.Blocked(context.Background(), "u1", time.Now())
	if err != wantErr {
		t.Fatalf("expected error to propagate, got %v", err)
	}
}
