package model

import "time"

// ChatKind mirrors the platform's chat classification.
type ChatKind string

const (
	ChatPrivate    ChatKind = "private"
	ChatGroup      ChatKind = "group"
	ChatSupergroup ChatKind = "supergroup"
	ChatChannel    ChatKind = "channel"
)

// EditMode controls how an edited source message is propagated.
type EditMode string

const (
	EditModeOff    EditMode = "off"
	EditModeResend EditMode = "resend"
)

// Chat is a registry entry for one chat the bot belongs to. Chats are
// created on first sight or explicit registration (handled by the external
// command surface) and mutated by it; the engine only reads and
// soft-deletes (Deactivate) them.
type Chat struct {
	ID                string
	Kind              ChatKind
	Active            bool
	IsSource          bool
	IsDestination     bool
	SelfSendEnabled   bool
	InPaused          bool
	OutPaused         bool
	EditMode          EditMode
	RegisteredAt      time.Time
	TrialUntil        time.Time
	PaidUntil         time.Time
	SubscriptionStack bool
}

// CooldownFor returns the minimum spacing between consecutive sends to this
// chat, per §4.F: 1s for private chats and channels, 3s for groups and
// supergroups.
func (c Chat) CooldownFor() time.Duration {
	switch c.Kind {
	case ChatGroup, ChatSupergroup:
		return 3 * time.Second
	default:
		return 1 * time.Second
	}
}

// EntitledAt reports whether the chat is entitled at time t: the trial or
// paid subscription window extends at or past t.
func (c Chat) EntitledAt(t time.Time) bool {
	deadline := c.TrialUntil
	if c.PaidUntil.After(deadline) {
		deadline = c.PaidUntil
	}
	return !deadline.Before(t)
}
