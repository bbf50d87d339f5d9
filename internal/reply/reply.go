// Package reply implements the Reply Resolver: given a NormalizedMessage
// that replies to a bot-delivered message, it finds the per-destination
// reply anchor for each fan-out target, best-effort.
package reply

import (
	"context"

	"github.com/relaybot/engine/internal/model"
	"github.com/relaybot/engine/internal/sendlog"
)

// Anchor is the resolved per-destination reply target. When Missing is
// true, the resolver could not find an anchor for this destination (never
// sent there, or the row was pruned) and the send must proceed unthreaded.
type Anchor struct {
	DestMessageID string
	Missing       bool
}

// Resolver resolves reply anchors via the Send Log.
type Resolver struct {
	store sendlog.Store
}

func New(store sendlog.Store) *Resolver {
	return &Resolver{store: store}
}

// ResolveForDestination resolves the reply anchor nm should use when sent
// to destChatID. ok is false when nm carries no reply context at all, in
// which case the caller sends unthreaded without consulting Anchor.
func (r *Resolver) ResolveForDestination(ctx context.Context, nm model.NormalizedMessage, destChatID string) (anchor Anchor, ok bool) {
	if nm.Reply == nil {
		return Anchor{}, false
	}

	// Step 1: map the bot message being replied to back to its origin.
	origin, err := r.store.ReverseLookup(ctx, nm.SourceChatID, nm.Reply.SourceMessageID)
	if err != nil {
		// Origin unknown (miss or pruned): send without a reply anchor.
		return Anchor{}, false
	}

	// Step 2: find the copy of the origin message sent to this destination.
	copies, err := r.store.ForwardLookup(ctx, origin.SourceChatID, origin.SourceMessageID)
	if err != nil {
		return Anchor{Missing: true}, true
	}
	for _, c := range copies {
		if c.DestChatID == destChatID {
			return Anchor{DestMessageID: c.DestMessageID}, true
		}
	}

	return Anchor{Missing: true}, true
}
