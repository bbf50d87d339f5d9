package reply

import (
	"context"
	"testing"
	"time"

	"github.com/relaybot/engine/internal/model"
	"github.com/relaybot/engine/internal/sendlog"
)

type fakeStore struct {
	reverse map[string]model.SendLogEntry // key: destChatID+":"+destMessageID
	forward map[string][]model.SendLogEntry
}

func key(a, b string) string { return a + ":" + b }

func (f *fakeStore) RecordSend(ctx context.Context, e model.SendLogEntry) error { return nil }

func (f *fakeStore) ForwardLookup(ctx context.Context, sourceChatID, sourceMessageID string) ([]model.SendLogEntry, error) {
	return f.forward[key(sourceChatID, sourceMessageID)], nil
}

func (f *fakeStore) ReverseLookup(ctx context.Context, destChatID, destMessageID string) (*model.SendLogEntry, error) {
	e, ok := f.reverse[key(destChatID, destMessageID)]
	if !ok {
		return nil, sendlog.ErrNotFound
	}
	return &e, nil
}

func (f *fakeStore) PruneSendLogBefore(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	return 0, nil
}

func TestResolveForDestinationFindsAnchor(t *testing.T) {
	store := &fakeStore{
		reverse: map[string]model.SendLogEntry{
			key("dest-a", "100"): {SourceChatID: "origin", SourceMessageID: "5"},
		},
		forward: map[string][]model.SendLogEntry{
			key("origin", "5"): {
				{DestChatID: "dest-a", DestMessageID: "100"},
				{DestChatID: "dest-b", DestMessageID: "200"},
			},
		},
	}
	r := New(store)

	nm := model.NormalizedMessage{
		SourceChatID: "dest-a",
		Reply:        &model.ReplyContext{SourceMessageID: "100"},
	}

	anchor, ok := r.ResolveForDestination(context.Background(), nm, "dest-b")
	if !ok {
		t.Fatal("expected ok")
	}
	if anchor.Missing || anchor.DestMessageID != "200" {
		t.Errorf("got %+v", anchor)
	}
}

func TestResolveForDestinationMissingWhenNeverSentThere(t *testing.T) {
	store := &fakeStore{
		reverse: map[string]model.SendLogEntry{
			key("dest-a", "100"): {SourceChatID: "origin", SourceMessageID: "5"},
		},
		forward: map[string][]model.SendLogEntry{
			key("origin", "5"): {{DestChatID: "dest-a", DestMessageID: "100"}},
		},
	}
	r := New(store)

	nm := model.NormalizedMessage{
		SourceChatID: "dest-a",
		Reply:        &model.ReplyContext{SourceMessageID: "100"},
	}

	anchor, ok := r.ResolveForDestination(context.Background(), nm, "dest-c")
	if !ok {
		t.Fatal("expected ok")
	}
	if !anchor.Missing {
		t.Errorf("expected missing anchor for a destination never sent to, got %+v", anchor)
	}
}

func TestResolveForDestinationNoReplyContext(t *testing.T) {
	r := New(&fakeStore{})
	_, ok := r.ResolveForDestination(context.Background(), model.NormalizedMessage{}, "dest-a")
	if ok {
		t.Fatal("expected not ok when nm has no reply context")
	}
}

func TestResolveForDestinationOriginUnknown(t *testing.T) {
	r := New(&fakeStore{})
	nm := model.NormalizedMessage{
		SourceChatID: "dest-a",
		Reply:        &model.ReplyContext{SourceMessageID: "nonexistent"},
	}
	_, ok := r.ResolveForDestination(context.Background(), nm, "dest-b")
	if ok {
		t.Fatal("expected not ok when the reverse lookup misses")
	}
}
