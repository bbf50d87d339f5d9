// Package ratelimit implements the Rate Limiter and Circuit Breaker
// component: a cross-process global token bucket, an in-process per-chat
// cooldown (safe because a single process serializes sends to any one
// destination via its lane queue), a per-chat circuit breaker, and a
// global circuit breaker.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/relaybot/engine/internal/pkg/metrics"
	"github.com/relaybot/engine/internal/store/rediscache"
)

const (
	chatBreakerThreshold = 3
	chatBreakerCooldown  = 5 * time.Minute

	globalRejectionThreshold = 5
	globalRejectionWindow    = 60 * time.Second
	globalPauseDuration      = 30 * time.Second

	globalWindowKey  = "ratelimit:global"
	globalWindow     = time.Second
	globalWindowTTL  = 2 * time.Second
	globalRetryDelay = 20 * time.Millisecond
)

// Limiter enforces the global token bucket and both circuit breakers.
// Safe for concurrent use.
type Limiter struct {
	cache           rediscache.Cache
	globalPerSecond int

	// fallback is a local token bucket used instead of the fast store's
	// cross-process counter when cache is a MemoryCache (single-process
	// deployment, no Redis configured): there is no other process to
	// coordinate with, so golang.org/x/time/rate's bucket is enough and
	// avoids a tick-aligned busy-wait loop.
	fallback *rate.Limiter

	mu               sync.Mutex
	lastSendAt       map[string]time.Time
	chatErrors       map[string]int
	chatTrippedUntil map[string]time.Time
	rejections       []time.Time
	pausedUntil      time.Time
}

func New(cache rediscache.Cache, globalPerSecond int) *Limiter {
	l := &Limiter{
		cache:            cache,
		globalPerSecond:  globalPerSecond,
		lastSendAt:       make(map[string]time.Time),
		chatErrors:       make(map[string]int),
		chatTrippedUntil: make(map[string]time.Time),
	}
	if _, ok := cache.(*rediscache.MemoryCache); ok {
		l.fallback = rate.NewLimiter(rate.Limit(globalPerSecond), globalPerSecond)
	}
	return l
}

// AcquireGlobalToken blocks until a send slot in the shared sliding window is
// available. With Redis configured the window is a sorted set of emitted-send
// timestamps keyed by globalWindowKey: each attempt trims members older than
// globalWindow, counts what's left, and — if under capacity — adds its own
// timestamp and proceeds; otherwise it waits for the oldest member to age out
// and retries. Every process sharing that Redis sees the same set, so the
// rolling-window rate compliance holds across processes. Without Redis there
// is only one process to coordinate, so an in-process golang.org/x/time/rate
// bucket stands in.
func (l *Limiter) AcquireGlobalToken(ctx context.Context) error {
	if l.fallback != nil {
		return l.fallback.Wait(ctx)
	}
	for {
		now := time.Now()
		nowMs := float64(now.UnixMilli())
		windowStart := nowMs - float64(globalWindow.Milliseconds())

		if err := l.cache.ZRemRangeByScore(ctx, globalWindowKey, -math.MaxFloat64, windowStart); err != nil {
			return fmt.Errorf("ratelimit: trim global window: %w", err)
		}
		count, err := l.cache.ZCard(ctx, globalWindowKey)
		if err != nil {
			return fmt.Errorf("ratelimit: count global window: %w", err)
		}

		if int(count) < l.globalPerSecond {
			member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.New().String())
			if err := l.cache.ZAdd(ctx, globalWindowKey, nowMs, member, globalWindowTTL); err != nil {
				return fmt.Errorf("ratelimit: acquire global token: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(globalRetryDelay):
		}
	}
}

// AcquireCooldown blocks until cooldown has elapsed since the last send to
// chatID, then records now as the new last-send time.
func (l *Limiter) AcquireCooldown(ctx context.Context, chatID string, cooldown time.Duration) error {
	l.mu.Lock()
	last, ok := l.lastSendAt[chatID]
	l.mu.Unlock()

	if ok {
		elapsed := time.Since(last)
		if remaining := cooldown - elapsed; remaining > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(remaining):
			}
		}
	}

	l.mu.Lock()
	l.lastSendAt[chatID] = time.Now()
	l.mu.Unlock()
	return nil
}

// ChatBreakerOpen reports whether chatID's circuit breaker is currently
// tripped.
func (l *Limiter) ChatBreakerOpen(chatID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	until, tripped := l.chatTrippedUntil[chatID]
	if !tripped {
		return false
	}
	if time.Now().After(until) {
		delete(l.chatTrippedUntil, chatID)
		l.chatErrors[chatID] = 0
		return false
	}
	return true
}

// RecordChatSuccess resets chatID's consecutive error counter.
func (l *Limiter) RecordChatSuccess(chatID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.chatErrors[chatID] = 0
}

// RecordChatError increments chatID's consecutive error counter, tripping
// the breaker for chatBreakerCooldown once it reaches the threshold.
func (l *Limiter) RecordChatError(chatID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.chatErrors[chatID]++
	if l.chatErrors[chatID] >= chatBreakerThreshold {
		l.chatTrippedUntil[chatID] = time.Now().Add(chatBreakerCooldown)
		metrics.CircuitBreakerTrips.WithLabelValues("chat").Inc()
	}
}

// GlobalBreakerOpen reports whether the engine is in its global pause.
func (l *Limiter) GlobalBreakerOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pausedUntil.IsZero() {
		return false
	}
	return time.Now().Before(l.pausedUntil)
}

// RecordRateLimitRejection records a platform "too many requests" response.
// Five rejections within globalRejectionWindow trip the global pause.
func (l *Limiter) RecordRateLimitRejection() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-globalRejectionWindow)
	kept := l.rejections[:0]
	for _, t := range l.rejections {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	l.rejections = kept

	if len(l.rejections) >= globalRejectionThreshold {
		l.pausedUntil = now.Add(globalPauseDuration)
		l.rejections = nil
		metrics.CircuitBreakerTrips.WithLabelValues("global").Inc()
	}
}
