// Package paywall implements the Paywall Gate: per (source, destination)
// pair at dispatch time, decides whether delivery proceeds and whether the
// source chat should receive a nudge.
package paywall

import (
	"context"
	"fmt"
	"time"

	"github.com/relaybot/engine/internal/model"
	"github.com/relaybot/engine/internal/store/rediscache"
)

// Entitlement is the slice of internal/entitlement.Checker the gate needs.
type Entitlement interface {
	Entitled(ctx context.Context, chatID string, now time.Time) (bool, error)
}

// Decision is the gate's verdict for one (source, destination) pair.
type Decision struct {
	// Allow reports whether the send should proceed.
	Allow bool
	// Nudge reports whether the caller should deliver a nudge message to
	// the source chat. True at most once per 24h per source chat: the
	// nudge cooldown key is what de-duplicates across destinations and
	// across dispatch cycles.
	Nudge bool
}

// Gate evaluates paywall decisions.
type Gate struct {
	entitlement   Entitlement
	cache         rediscache.Cache
	nudgeCooldown time.Duration
}

func New(entitlement Entitlement, cache rediscache.Cache, nudgeCooldown time.Duration) *Gate {
	return &Gate{entitlement: entitlement, cache: cache, nudgeCooldown: nudgeCooldown}
}

// Evaluate decides whether a send from source to dest should proceed.
func (g *Gate) Evaluate(ctx context.Context, source, dest model.Chat, now time.Time) (Decision, error) {
	if source.ID == dest.ID {
		return Decision{Allow: source.SelfSendEnabled}, nil
	}

	if dest.InPaused || source.OutPaused {
		return Decision{Allow: false}, nil
	}

	entitled, err := g.entitlement.Entitled(ctx, source.ID, now)
	if err != nil {
		return Decision{}, fmt.Errorf("paywall: evaluate: %w", err)
	}
	if entitled {
		return Decision{Allow: true}, nil
	}

	key := "paywall:nudge:" + source.ID
	nudge, err := g.cache.SetNX(ctx, key, "1", g.nudgeCooldown)
	if err != nil {
		return Decision{}, fmt.Errorf("paywall: nudge cooldown: %w", err)
	}
	return Decision{Allow: false, Nudge: nudge}, nil
}
