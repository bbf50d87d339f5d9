package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/relaybot/engine/internal/store/rediscache"
)

func TestChatBreakerTripsAtThreshold(t *testing.T) {
	l := New(rediscache.NewMemoryCache(), 25)

	for i := 0; i < chatBreakerThreshold-1; i++ {
		l.RecordChatError("chat-1")
		if l.ChatBreakerOpen("chat-1") {
			t.Fatalf("breaker tripped early after %d errors", i+1)
		}
	}
	l.RecordChatError("chat-1")
	if !l.ChatBreakerOpen("chat-1") {
		t.Fatal("expected breaker to trip at threshold")
	}
}

func TestChatBreakerResetsOnSuccess(t *testing.T) {
	l := New(rediscache.NewMemoryCache(), 25)
	l.RecordChatError("chat-1")
	l.RecordChatError("chat-1")
	l.RecordChatSuccess("chat-1")
	l.RecordChatError("chat-1")
	if l.ChatBreakerOpen("chat-1") {
		t.Fatal("expected success to reset the consecutive error counter")
	}
}

func TestGlobalBreakerTripsAfterFiveRejections(t *testing.T) {
	l := New(rediscache.NewMemoryCache(), 25)
	for i := 0; i < globalRejectionThreshold; i++ {
		l.RecordRateLimitRejection()
	}
	if !l.GlobalBreakerOpen() {
		t.Fatal("expected global breaker to be open after 5 rejections")
	}
}

func TestAcquireCooldownSerializesPerChat(t *testing.T) {
	l := New(rediscache.NewMemoryCache(), 25)
	ctx := context.Background()

	start := time.Now()
	if err := l.AcquireCooldown(ctx, "chat-1", 100*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.AcquireCooldown(ctx, "chat-1", 100*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("expected the second acquire to wait out the cooldown, elapsed=%v", elapsed)
	}
}

func TestAcquireGlobalTokenRespectsCapacity(t *testing.T) {
	l := New(rediscache.NewMemoryCache(), 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.AcquireGlobalToken(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- l.AcquireGlobalToken(ctx) }()

	select {
	case <-done:
		t.Fatal("expected third acquire within the same second to block")
	case <-time.After(200 * time.Millisecond):
	}
}
