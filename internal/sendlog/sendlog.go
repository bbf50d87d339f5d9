// Package sendlog declares the Send Log component's operations as an
// interface, decoupling the Distributor, Worker Pool, and Reply Resolver
// from the concrete durable store. internal/store/postgres.Store already
// implements this interface.
package sendlog

import (
	"context"
	"errors"
	"time"

	"github.com/relaybot/engine/internal/model"
	"github.com/relaybot/engine/internal/store/postgres"
)

// ErrNotFound is returned by ReverseLookup when the row has been pruned or
// never existed. Callers must tolerate this and fall back to sending
// without a reply anchor, per the 48h retention policy.
var ErrNotFound = postgres.ErrNotFound

// Store is the Send Log's operation set.
type Store interface {
	// RecordSend persists one successful fan-out copy.
	RecordSend(ctx context.Context, e model.SendLogEntry) error
	// ForwardLookup returns every destination copy of a source message.
	ForwardLookup(ctx context.Context, sourceChatID, sourceMessageID string) ([]model.SendLogEntry, error)
	// ReverseLookup finds the source row a destination copy was derived
	// from. Returns ErrNotFound if the row is missing or pruned.
	ReverseLookup(ctx context.Context, destChatID, destMessageID string) (*model.SendLogEntry, error)
	// PruneSendLogBefore deletes up to limit rows older than cutoff,
	// returning how many were deleted. The retention sweeper calls this
	// repeatedly until it returns 0.
	PruneSendLogBefore(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

var _ Store = (*postgres.Store)(nil)

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// Retention is how long a send log row remains reliable for reply-thread
// resolution and edit propagation before the sweeper may prune it.
const Retention = model.Retention
