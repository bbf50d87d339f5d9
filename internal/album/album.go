// Package album implements the Album Buffer: it accumulates the separate
// messages that make up a platform media group under a shared album id and
// flushes them as one ordered NormalizedMessage once the group goes quiet.
package album

import (
	"sync"
	"time"

	"github.com/relaybot/engine/internal/model"
)

// idleWindow is how long the buffer waits after the last part before
// flushing. hardCap is the absolute maximum an album may be held open,
// regardless of how often new parts keep arriving, so a pathologically
// long-lived group can't grow the buffer without bound.
const (
	idleWindow = 1 * time.Second
	hardCap    = 5 * time.Second
)

// Buffer aggregates album parts and flushes completed albums via onFlush.
// Safe for concurrent use.
type Buffer struct {
	mu      sync.Mutex
	pending map[string]*entry
	onFlush func(model.NormalizedMessage)
}

type entry struct {
	sourceChatID    string
	originUserID    string
	firstMessageID  string
	reply           *model.ReplyContext
	parts           []model.AlbumPart
	arrivedAt       time.Time
	idleTimer       *time.Timer
	hardTimer       *time.Timer
}

// New builds a Buffer that invokes onFlush with the assembled album
// NormalizedMessage once a group is complete.
func New(onFlush func(model.NormalizedMessage)) *Buffer {
	return &Buffer{
		pending: make(map[string]*entry),
		onFlush: onFlush,
	}
}

// Add appends one part to the album identified by part.AlbumID, arming (or
// re-arming) the idle timer. part must carry a non-empty AlbumID; single
// messages never pass through the buffer.
func (b *Buffer) Add(part model.NormalizedMessage) {
	albumID := part.AlbumID

	b.mu.Lock()
	defer b.mu.Unlock()

	e, exists := b.pending[albumID]
	if !exists {
		e = &entry{
			sourceChatID:   part.SourceChatID,
			originUserID:   part.OriginUserID,
			firstMessageID: part.SourceMessageID,
			reply:          part.Reply,
			arrivedAt:      part.ArrivedAt,
		}
		b.pending[albumID] = e
		e.hardTimer = time.AfterFunc(hardCap, func() { b.flush(albumID) })
	}

	e.parts = append(e.parts, model.AlbumPart{
		SourceMessageID: part.SourceMessageID,
		Kind:            part.Kind,
		Payload:         part.Payload,
	})

	if e.idleTimer != nil {
		e.idleTimer.Stop()
	}
	e.idleTimer = time.AfterFunc(idleWindow, func() { b.flush(albumID) })
}

// flush removes the entry and, if it hasn't already been flushed by the
// other timer racing in, emits it.
func (b *Buffer) flush(albumID string) {
	b.mu.Lock()
	e, exists := b.pending[albumID]
	if exists {
		delete(b.pending, albumID)
		if e.idleTimer != nil {
			e.idleTimer.Stop()
		}
		if e.hardTimer != nil {
			e.hardTimer.Stop()
		}
	}
	b.mu.Unlock()

	if !exists {
		return
	}

	b.onFlush(model.NormalizedMessage{
		SourceChatID:    e.sourceChatID,
		SourceMessageID: e.firstMessageID,
		OriginUserID:    e.originUserID,
		AlbumID:         albumID,
		Kind:            model.ContentAlbum,
		Reply:           e.reply,
		ArrivedAt:       e.arrivedAt,
		Parts:           e.parts,
	})
}
