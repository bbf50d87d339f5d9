package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/relaybot/engine/internal/model"
	"github.com/relaybot/engine/internal/platform"
	"github.com/relaybot/engine/internal/ratelimit"
	"github.com/relaybot/engine/internal/registry"
	"github.com/relaybot/engine/internal/store/rediscache"
)

type fakeClient struct {
	mu       sync.Mutex
	sent     []string
	nextErr  error
	nextID   string
}

func (f *fakeClient) takeErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.nextErr
	f.nextErr = nil
	return err
}

func (f *fakeClient) SendText(ctx context.Context, target platform.Target, text string) (string, error) {
	if err := f.takeErr(); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.sent = append(f.sent, text)
	f.mu.Unlock()
	return "msg-1", nil
}
func (f *fakeClient) SendPhoto(ctx context.Context, target platform.Target, h, c string) (string, error) {
	return "msg-1", nil
}
func (f *fakeClient) SendVideo(ctx context.Context, target platform.Target, h, c string) (string, error) {
	return "msg-1", nil
}
func (f *fakeClient) SendAnimation(ctx context.Context, target platform.Target, h, c string) (string, error) {
	return "msg-1", nil
}
func (f *fakeClient) SendAudio(ctx context.Context, target platform.Target, h, c string) (string, error) {
	return "msg-1", nil
}
func (f *fakeClient) SendDocument(ctx context.Context, target platform.Target, h, c string) (string, error) {
	return "msg-1", nil
}
func (f *fakeClient) SendVoice(ctx context.Context, target platform.Target, h string) (string, error) {
	return "msg-1", nil
}
func (f *fakeClient) SendVideoNote(ctx context.Context, target platform.Target, h string) (string, error) {
	return "msg-1", nil
}
func (f *fakeClient) SendSticker(ctx context.Context, target platform.Target, h string) (string, error) {
	return "msg-1", nil
}
func (f *fakeClient) SendMediaGroup(ctx context.Context, target platform.Target, parts []model.AlbumPart) ([]string, error) {
	ids := make([]string, len(parts))
	for i := range parts {
		ids[i] = "album-msg"
	}
	return ids, nil
}
func (f *fakeClient) Close(ctx context.Context) error { return nil }

type fakeSendlog struct {
	mu      sync.Mutex
	records []model.SendLogEntry
}

func (f *fakeSendlog) RecordSend(ctx context.Context, e model.SendLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, e)
	return nil
}
func (f *fakeSendlog) ForwardLookup(ctx context.Context, a, b string) ([]model.SendLogEntry, error) {
	return nil, nil
}
func (f *fakeSendlog) ReverseLookup(ctx context.Context, a, b string) (*model.SendLogEntry, error) {
	return nil, nil
}
func (f *fakeSendlog) PruneSendLogBefore(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	return 0, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestPoolDeliversTextAndRecordsSend(t *testing.T) {
	client := &fakeClient{}
	sl := &fakeSendlog{}
	reg := registry.NewMemory()
	limiter := ratelimit.New(rediscache.NewMemoryCache(), 25)

	p := New(client, limiter, sl, reg, 2, 10)
	defer p.Stop(context.Background())

	err := p.Enqueue(context.Background(), Task{
		DestChatID: "dest-1",
		NM: model.NormalizedMessage{
			SourceChatID: "src-1", SourceMessageID: "1",
			Kind: model.ContentText, Payload: model.Payload{Text: "hello"},
		},
		Cooldown: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitFor(t, func() bool {
		sl.mu.Lock()
		defer sl.mu.Unlock()
		return len(sl.records) == 1
	})
}

func TestPoolDropsDestinationAfterForbidden(t *testing.T) {
	client := &fakeClient{nextErr: &platform.SendError{Kind: platform.ErrKindDestinationFatal}}
	sl := &fakeSendlog{}
	reg := registry.NewMemory()
	reg.UpsertChat(context.Background(), model.Chat{ID: "dest-1", Active: true, IsDestination: true})
	limiter := ratelimit.New(rediscache.NewMemoryCache(), 25)

	p := New(client, limiter, sl, reg, 2, 10)
	defer p.Stop(context.Background())

	_ = p.Enqueue(context.Background(), Task{
		DestChatID: "dest-1",
		NM: model.NormalizedMessage{
			SourceChatID: "src-1", SourceMessageID: "1",
			Kind: model.ContentText, Payload: model.Payload{Text: "hello"},
		},
		Cooldown: time.Millisecond,
	})

	waitFor(t, func() bool {
		c, err := reg.GetChat(context.Background(), "dest-1")
		return err == nil && !c.Active
	})
}

func TestComposeBodyTruncatesBodyNotSuffix(t *testing.T) {
	body := make([]byte, 5000)
	for i := range body {
		body[i] = 'a'
	}
	out := composeBody(string(body), "u-a3x7k2", "-- sig", maxTextLen)
	if len(out) > maxTextLen {
		t.Fatalf("expected output capped at %d, got %d", maxTextLen, len(out))
	}
	if out[len(out)-len("-- sig"):] != "-- sig" {
		t.Errorf("expected signature preserved at tail, got suffix %q", out[len(out)-10:])
	}
}
