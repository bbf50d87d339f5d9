package normalize

import (
	"testing"
	"time"

	"github.com/relaybot/engine/internal/model"
)

func TestNormalizeText(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	nm, ok := Normalize(RawUpdate{
		ChatID:    "1",
		MessageID: "2",
		UserID:    "3",
		Text:      "hello",
		ArrivedAt: now,
	})
	if !ok {
		t.Fatal("expected ok")
	}
	if nm.Kind != model.ContentText || nm.Payload.Text != "hello" {
		t.Errorf("got kind=%v payload=%+v", nm.Kind, nm.Payload)
	}
}

func TestNormalizePhotoWithCaption(t *testing.T) {
	nm, ok := Normalize(RawUpdate{
		ChatID:      "1",
		MessageID:   "2",
		MediaKind:   model.ContentPhoto,
		MediaHandle: "handle-1",
		Caption:     "nice shot",
	})
	if !ok {
		t.Fatal("expected ok")
	}
	if nm.Kind != model.ContentPhoto || nm.Payload.MediaHandle != "handle-1" || nm.Payload.Caption != "nice shot" {
		t.Errorf("got %+v", nm)
	}
}

func TestNormalizeSkipsUnsupportedUpdate(t *testing.T) {
	_, ok := Normalize(RawUpdate{ChatID: "1", MessageID: "2"})
	if ok {
		t.Fatal("expected skip for update with no text and no media")
	}
}

func TestNormalizeReplyOnlyWhenOwnMessage(t *testing.T) {
	nm, ok := Normalize(RawUpdate{
		ChatID:             "1",
		MessageID:          "2",
		Text:               "hi",
		ReplyToMessageID:   "9",
		ReplyWasOwnMessage: false,
	})
	if !ok {
		t.Fatal("expected ok")
	}
	if nm.Reply != nil {
		t.Errorf("expected no reply context when reply target wasn't this bot's message, got %+v", nm.Reply)
	}

	nm, ok = Normalize(RawUpdate{
		ChatID:             "1",
		MessageID:          "2",
		Text:               "hi",
		ReplyToMessageID:   "9",
		ReplyWasOwnMessage: true,
	})
	if !ok {
		t.Fatal("expected ok")
	}
	if nm.Reply == nil || nm.Reply.SourceMessageID != "9" {
		t.Errorf("expected reply context to source message 9, got %+v", nm.Reply)
	}
}
