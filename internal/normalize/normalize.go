// Package normalize implements the Normalizer: it turns a raw platform
// update into a model.NormalizedMessage, or reports that the update should
// be skipped (polls, service notices, inline-only updates, and anything
// else with no supported payload).
package normalize

import (
	"time"

	"github.com/relaybot/engine/internal/model"
)

// RawUpdate is the platform-neutral view of an inbound update that the
// Normalizer inspects. A platform adapter (internal/platform/telegram)
// is responsible for filling this in from its own wire types; the
// Normalizer itself never imports a platform SDK.
type RawUpdate struct {
	ChatID    string
	MessageID string
	UserID    string // empty for channel posts and other senderless updates

	Text    string
	Caption string

	// Media carries the handle for whichever media field was present, and
	// Kind names which one. Exactly one of these may be set; the Normalizer
	// does not itself decide priority among multiple present fields beyond
	// what the adapter already resolved (e.g. largest photo variant).
	MediaKind   model.ContentKind // empty when the update carries no media
	MediaHandle string

	AlbumID string

	// ReplyToMessageID and ReplyWasOwnMessage together encode the "reply
	// context copied only when the referenced message was sent by this bot
	// in the same chat" rule; the adapter resolves ReplyWasOwnMessage since
	// only it can recognize its own sent messages.
	ReplyToMessageID string
	ReplyWasOwnMessage bool

	ArrivedAt time.Time
}

// Normalize converts one RawUpdate into a NormalizedMessage. ok is false
// for updates the engine does not handle at all (no text and no
// recognized media field).
func Normalize(u RawUpdate) (nm model.NormalizedMessage, ok bool) {
	kind, payload, ok := classify(u)
	if !ok {
		return model.NormalizedMessage{}, false
	}

	nm = model.NormalizedMessage{
		SourceChatID:    u.ChatID,
		SourceMessageID: u.MessageID,
		OriginUserID:    u.UserID,
		AlbumID:         u.AlbumID,
		Kind:            kind,
		Payload:         payload,
		ArrivedAt:       u.ArrivedAt,
	}

	if u.ReplyToMessageID != "" && u.ReplyWasOwnMessage {
		nm.Reply = &model.ReplyContext{SourceMessageID: u.ReplyToMessageID}
	}

	return nm, true
}

// classify decides the content kind by priority order (text, then the
// media kind the adapter already resolved) and builds the payload.
// Captions are lifted out uniformly and only ever apply to media kinds.
func classify(u RawUpdate) (model.ContentKind, model.Payload, bool) {
	if u.Text != "" {
		return model.ContentText, model.Payload{Text: u.Text}, true
	}

	if u.MediaKind != "" && u.MediaHandle != "" {
		return u.MediaKind, model.Payload{MediaHandle: u.MediaHandle, Caption: u.Caption}, true
	}

	return "", model.Payload{}, false
}
