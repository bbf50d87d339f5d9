// Package model defines the shared data types the distribution engine
// passes between its components: normalized messages, chat registry
// entries, send-log rows, subscriptions, aliases, and restrictions.
package model

import "time"

// ContentKind classifies the payload carried by a NormalizedMessage.
// Exactly one kind applies to a given message — see NormalizedMessage.
type ContentKind string

const (
	ContentText      ContentKind = "text"
	ContentPhoto     ContentKind = "photo"
	ContentVideo     ContentKind = "video"
	ContentAnimation ContentKind = "animation"
	ContentAudio     ContentKind = "audio"
	ContentDocument  ContentKind = "document"
	ContentVoice     ContentKind = "voice"
	ContentVideoNote ContentKind = "video_note"
	ContentSticker   ContentKind = "sticker"
	ContentAlbum     ContentKind = "album"
)

// contentKindPriority is the order in which the Normalizer inspects an
// inbound update's payload fields to decide the message kind.
var contentKindPriority = []ContentKind{
	ContentText,
	ContentPhoto,
	ContentVideo,
	ContentAnimation,
	ContentAudio,
	ContentDocument,
	ContentVoice,
	ContentVideoNote,
	ContentSticker,
}

// ContentKindPriority returns the kind-detection priority order, highest
// priority first. Callers must not mutate the returned slice.
func ContentKindPriority() []ContentKind { return contentKindPriority }

// Payload carries the kind-specific content of a NormalizedMessage. For
// ContentText only Text is set. For media kinds, MediaHandle is the
// platform-stable opaque identifier that lets the engine re-send the same
// bytes without re-uploading, and Caption is the optional text alongside it.
type Payload struct {
	Text        string
	MediaHandle string
	Caption     string
}

// ReplyContext identifies the message a NormalizedMessage is replying to,
// in source-chat coordinates. Present only when the inbound reply target
// was a message this bot itself sent into the same source chat.
type ReplyContext struct {
	SourceMessageID string
}

// NormalizedMessage is the canonical content-bearing record the Normalizer
// produces from a raw platform update, and the unit the rest of the engine
// operates on.
type NormalizedMessage struct {
	SourceChatID    string
	SourceMessageID string
	OriginUserID    string // empty if the update carries no sender (e.g. channel post)
	AlbumID         string // empty unless Kind == ContentAlbum or the message is part of one
	Kind            ContentKind
	Payload         Payload
	Reply           *ReplyContext
	ArrivedAt       time.Time

	// Parts holds the ordered member messages when Kind == ContentAlbum.
	// Each part carries its own SourceMessageID and Payload so the Send Log
	// can record one row per album part, per the spec's album send-log
	// invariant.
	Parts []AlbumPart
}

// AlbumPart is one member of an album NormalizedMessage, in arrival order.
type AlbumPart struct {
	SourceMessageID string
	Kind            ContentKind
	Payload         Payload
}
