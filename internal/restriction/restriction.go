// Package restriction provides the ingress moderation check: a banned or
// currently-muted user's messages are dropped before normalization-derived
// processing ever runs. Restrictions themselves are only ever written by
// the external moderation command surface; this package only reads them.
package restriction

import (
	"context"
	"time"

	"github.com/relaybot/engine/internal/model"
	"github.com/relaybot/engine/internal/store/postgres"
)

// Store is the persistence interface the Checker needs.
type Store interface {
	ActiveRestriction(ctx context.Context, userID string, now time.Time) (*model.Restriction, error)
}

var _ Store = (*postgres.Store)(nil)

// Checker answers whether a user's messages should be dropped at ingress.
type Checker struct {
	store Store
}

func New(store Store) *Checker {
	return &Checker{store: store}
}

// Blocked reports whether userID is currently banned or muted. An empty
// userID (senderless updates, e.g. channel posts) is never blocked.
func (c *Checker) Blocked(ctx context.Context, userID string, now time.Time) (bool, error) {
	if userID == "" {
		return false, nil
	}
	r, err := c.store.ActiveRestriction(ctx, userID, now)
	if err != nil {
		if err == postgres.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return r.Active(now), nil
}
