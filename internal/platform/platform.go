// Package platform defines the transport-agnostic boundary between the
// distribution engine and the chat platform. internal/platform/telegram is
// the concrete adapter; the engine itself only depends on this package.
package platform

import (
	"context"
	"time"

	"github.com/relaybot/engine/internal/model"
)

// Target addresses one outbound send: the destination chat and, when the
// Reply Resolver found one, the platform message id to thread under.
// AcceptMissingAnchor mirrors the spec's "accept missing anchor" flag: when
// true the anchor was not found and the send must still proceed, unthreaded.
type Target struct {
	ChatID              string
	ReplyToMessageID    string
	AcceptMissingAnchor bool
}

// Client is the outbound half of the platform boundary: one operation per
// content kind, so the worker pool can dispatch on NormalizedMessage.Kind
// without the platform adapter needing to branch on it twice.
type Client interface {
	SendText(ctx context.Context, target Target, text string) (messageID string, err error)
	SendPhoto(ctx context.Context, target Target, mediaHandle, caption string) (messageID string, err error)
	SendVideo(ctx context.Context, target Target, mediaHandle, caption string) (messageID string, err error)
	SendAnimation(ctx context.Context, target Target, mediaHandle, caption string) (messageID string, err error)
	SendAudio(ctx context.Context, target Target, mediaHandle, caption string) (messageID string, err error)
	SendDocument(ctx context.Context, target Target, mediaHandle, caption string) (messageID string, err error)
	SendVoice(ctx context.Context, target Target, mediaHandle string) (messageID string, err error)
	SendVideoNote(ctx context.Context, target Target, mediaHandle string) (messageID string, err error)
	SendSticker(ctx context.Context, target Target, mediaHandle string) (messageID string, err error)
	// SendMediaGroup sends up to 10 media parts as one grouped operation and
	// returns one dest-message-id per part, in the same order as parts.
	SendMediaGroup(ctx context.Context, target Target, parts []model.AlbumPart) (messageIDs []string, err error)
	Close(ctx context.Context) error
}

// InboundHandler receives one normalized inbound message. Implementations
// must not block for long; the engine ingest path does its own queuing.
type InboundHandler func(ctx context.Context, nm model.NormalizedMessage)

// Source is the inbound half: it owns the platform's event loop and turns
// raw updates into NormalizedMessage via its own Normalizer, invoking
// handler for each one.
type Source interface {
	Start(ctx context.Context, handler InboundHandler) error
	Stop(ctx context.Context) error
}

// ErrorKind classifies a send failure by recovery policy, per the error
// handling taxonomy: transient errors retry, destination-fatal errors
// deactivate the chat, destination-update errors re-address, and
// message-fatal errors drop just the one task.
type ErrorKind int

const (
	ErrKindUnknown ErrorKind = iota
	ErrKindTransient
	ErrKindRateLimited
	ErrKindDestinationFatal
	ErrKindDestinationMigrated
	ErrKindMessageFatal
)

// SendError wraps a platform send failure with enough structure for the
// worker pool to apply the right recovery policy without string-matching
// provider error messages outside this package.
type SendError struct {
	Kind       ErrorKind
	RetryAfter time.Duration // meaningful only for ErrKindRateLimited
	NewChatID  string        // meaningful only for ErrKindDestinationMigrated
	Err        error
}

func (e *SendError) Error() string {
	if e.Err == nil {
		return "platform: send error"
	}
	return e.Err.Error()
}

func (e *SendError) Unwrap() error { return e.Err }
