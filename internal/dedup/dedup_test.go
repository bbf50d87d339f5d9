package dedup

import (
	"context"
	"testing"

	"github.com/relaybot/engine/internal/model"
	"github.com/relaybot/engine/internal/store/rediscache"
)

func TestFingerprintTextIgnoresTrailingWhitespace(t *testing.T) {
	a := Fingerprint(model.NormalizedMessage{Kind: model.ContentText, Payload: model.Payload{Text: "hello  "}})
	b := Fingerprint(model.NormalizedMessage{Kind: model.ContentText, Payload: model.Payload{Text: "hello"}})
	if a != b {
		t.Errorf("expected trailing whitespace to be ignored: %q != %q", a, b)
	}
}

func TestFingerprintMediaUsesHandle(t *testing.T) {
	fp := Fingerprint(model.NormalizedMessage{Kind: model.ContentPhoto, Payload: model.Payload{MediaHandle: "h1"}})
	if fp != "h1" {
		t.Errorf("got %q, want h1", fp)
	}
}

func TestFingerprintAlbumOrderSensitive(t *testing.T) {
	nm1 := model.NormalizedMessage{Kind: model.ContentAlbum, Parts: []model.AlbumPart{
		{Kind: model.ContentPhoto, Payload: model.Payload{MediaHandle: "a"}},
		{Kind: model.ContentPhoto, Payload: model.Payload{MediaHandle: "b"}},
	}}
	nm2 := model.NormalizedMessage{Kind: model.ContentAlbum, Parts: []model.AlbumPart{
		{Kind: model.ContentPhoto, Payload: model.Payload{MediaHandle: "b"}},
		{Kind: model.ContentPhoto, Payload: model.Payload{MediaHandle: "a"}},
	}}
	if Fingerprint(nm1) == Fingerprint(nm2) {
		t.Error("expected different album order to produce different fingerprints")
	}
}

func TestCheckerSeenMarksDuplicate(t *testing.T) {
	c := New(rediscache.NewMemoryCache())
	ctx := context.Background()

	dup, err := c.Seen(ctx, "chat-1", "fp-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dup {
		t.Fatal("expected first sighting to not be a duplicate")
	}

	dup, err = c.Seen(ctx, "chat-1", "fp-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dup {
		t.Fatal("expected second sighting of same fingerprint to be a duplicate")
	}

	dup, err = c.Seen(ctx, "chat-2", "fp-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dup {
		t.Fatal("expected same fingerprint in a different chat to not be a duplicate")
	}
}
