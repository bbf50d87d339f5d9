// Package entitlement defines the Entitlement consumed interface the
// Paywall Gate uses: whether a chat is entitled at a point in time, cached
// for 5 minutes so the gate doesn't hit the durable store on every send.
package entitlement

import (
	"context"
	"time"

	"github.com/relaybot/engine/internal/model"
	"github.com/relaybot/engine/internal/store/rediscache"
)

const cacheTTL = 5 * time.Minute

// ChatLookup is the slice of the chat registry the Checker needs.
type ChatLookup interface {
	GetChat(ctx context.Context, id string) (*model.Chat, error)
}

// Checker answers entitlement questions, per Chat.EntitledAt: a chat is
// entitled at time T iff max(trial-until, paid-until) >= T.
type Checker struct {
	registry ChatLookup
	cache    rediscache.Cache
}

func New(registry ChatLookup, cache rediscache.Cache) *Checker {
	return &Checker{registry: registry, cache: cache}
}

// Entitled reports whether chatID is entitled at time now.
func (c *Checker) Entitled(ctx context.Context, chatID string, now time.Time) (bool, error) {
	key := "entitlement:" + chatID
	if v, ok, err := c.cache.Get(ctx, key); err == nil && ok {
		return v == "1", nil
	}

	chat, err := c.registry.GetChat(ctx, chatID)
	if err != nil {
		return false, err
	}

	entitled := chat.EntitledAt(now)
	val := "0"
	if entitled {
		val = "1"
	}
	_ = c.cache.Set(ctx, key, val, cacheTTL)

	return entitled, nil
}
