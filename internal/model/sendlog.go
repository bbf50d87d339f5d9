package model

import "time"

// SendLogEntry records one successful fan-out copy: a source message that
// was re-emitted into one destination chat. (DestChatID, DestMessageID) is
// unique; (SourceChatID, SourceMessageID) may map to many rows, one per
// destination.
type SendLogEntry struct {
	SourceChatID    string
	SourceMessageID string
	DestChatID      string
	DestMessageID   string
	SourceUserID    string
	CreatedAt       time.Time
}

// Retention is how long a SendLogEntry remains reliable for reply-thread
// resolution and edit propagation before the sweeper may prune it.
const Retention = 48 * time.Hour

// Plan is a subscription plan identifier. The engine does not interpret
// plan semantics beyond trial/paid-until comparison; plan names are
// carried for the external purchase-flow collaborator.
type Plan string

// Subscription is a chat's paywall entitlement state. A chat is entitled at
// time T iff max(TrialUntil, PaidUntil) >= T (see Chat.EntitledAt).
type Subscription struct {
	ChatID    string
	Plan      Plan
	PaidUntil time.Time
	Stacking  bool
}

// RestrictionKind classifies a moderation restriction on a user.
type RestrictionKind string

const (
	RestrictionMute RestrictionKind = "mute"
	RestrictionBan  RestrictionKind = "ban"
)

// Restriction is a moderation action against a user. A banned user, or a
// muted user whose restriction has not yet expired, has their ingress
// messages dropped before normalization ever runs.
type Restriction struct {
	UserID    string
	Kind      RestrictionKind
	ExpiresAt time.Time
	Issuer    string
}

// Active reports whether the restriction still applies at time t.
// Bans never expire in this model beyond the stored ExpiresAt (issuers may
// set it far in the future for a permanent ban).
func (r Restriction) Active(t time.Time) bool {
	return r.ExpiresAt.After(t)
}

// Alias is a stable, short pseudonym for a user, used to annotate outbound
// messages without revealing platform identity across chats.
type Alias struct {
	UserID string
	Token  string
}
