// Package worker implements the Worker Pool / Sender: a fixed set of
// workers consuming SendTasks, one lane per destination chat so sends to a
// single destination stay strictly serial while different destinations
// proceed concurrently, bounded by a global semaphore. Grounded on the
// teacher's per-session lane-queue gateway, re-keyed by destination chat.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/relaybot/engine/internal/model"
	"github.com/relaybot/engine/internal/pkg/logs"
	"github.com/relaybot/engine/internal/pkg/metrics"
	"github.com/relaybot/engine/internal/platform"
	"github.com/relaybot/engine/internal/ratelimit"
	"github.com/relaybot/engine/internal/registry"
	"github.com/relaybot/engine/internal/sendlog"
)

const (
	maxTextLen    = 4096
	maxCaptionLen = 1024
	maxAttempts   = 3

	breakerRetryDelay   = 2 * time.Second
	migrationMaxRetries = 1
)

// ReplyAnchor is the per-destination reply target the Distributor resolved
// via the Reply Resolver. A nil *ReplyAnchor on a Task means nm carried no
// reply context; a non-nil one with an empty DestMessageID means the
// anchor could not be found and the send proceeds unthreaded.
type ReplyAnchor struct {
	DestMessageID string
}

// Task carries everything a worker needs to deliver one message to one
// destination, immutable once enqueued except for the attempt counter.
type Task struct {
	DestChatID string
	NM         model.NormalizedMessage
	Reply      *ReplyAnchor
	AliasTag   string
	Signature  string
	// Cooldown is the minimum spacing between consecutive sends to
	// DestChatID, per Chat.CooldownFor: 1s for private/channel, 3s for
	// group/supergroup. Set by the Distributor, which knows the chat kind.
	Cooldown time.Duration
	Attempt  int
}

// Pool is the worker pool. Safe for concurrent use.
type Pool struct {
	client   platform.Client
	limiter  *ratelimit.Limiter
	sendlog  sendlog.Store
	registry registry.Store

	sem chan struct{}

	mu    sync.Mutex
	lanes map[string]chan Task

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	queueSize int
}

func New(client platform.Client, limiter *ratelimit.Limiter, store sendlog.Store, reg registry.Store, workerCount, queueSize int) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		client:    client,
		limiter:   limiter,
		sendlog:   store,
		registry:  reg,
		sem:       make(chan struct{}, workerCount),
		lanes:     make(map[string]chan Task),
		ctx:       ctx,
		cancel:    cancel,
		queueSize: queueSize,
	}
}

// Enqueue submits a task to its destination's lane, blocking (applying
// backpressure to the caller, per §4.H) when that lane's bounded queue is
// full.
func (p *Pool) Enqueue(ctx context.Context, t Task) error {
	lane := p.getOrCreateLane(t.DestChatID)
	select {
	case lane <- t:
		metrics.QueueDepth.WithLabelValues(t.DestChatID).Set(float64(len(lane)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return fmt.Errorf("worker: pool stopped")
	}
}

func (p *Pool) getOrCreateLane(destChatID string) chan Task {
	p.mu.Lock()
	defer p.mu.Unlock()

	lane, ok := p.lanes[destChatID]
	if ok {
		return lane
	}

	lane = make(chan Task, p.queueSize)
	p.lanes[destChatID] = lane
	p.wg.Add(1)
	go p.processLane(destChatID, lane)
	return lane
}

func (p *Pool) processLane(destChatID string, lane chan Task) {
	defer p.wg.Done()
	for {
		select {
		case t := <-lane:
			select {
			case p.sem <- struct{}{}:
			case <-p.ctx.Done():
				return
			}
			p.handle(t)
			<-p.sem
		case <-p.ctx.Done():
			return
		}
	}
}

// Stop cancels all lanes and waits for in-flight sends to finish.
func (p *Pool) Stop(ctx context.Context) error {
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) handle(t Task) {
	ctx := p.ctx

	if p.limiter.GlobalBreakerOpen() {
		p.requeueAfter(t, breakerRetryDelay)
		return
	}

	if p.limiter.ChatBreakerOpen(t.DestChatID) {
		p.requeueAfter(t, breakerRetryDelay)
		return
	}

	if err := p.limiter.AcquireGlobalToken(ctx); err != nil {
		return
	}

	cooldown := t.Cooldown
	if cooldown <= 0 {
		cooldown = time.Second
	}
	if err := p.limiter.AcquireCooldown(ctx, t.DestChatID, cooldown); err != nil {
		return
	}

	messageIDs, err := p.send(ctx, t)
	if err == nil {
		p.onSuccess(t, messageIDs)
		return
	}
	p.onError(t, err)
}

func (p *Pool) requeueAfter(t Task, delay time.Duration) {
	time.AfterFunc(delay, func() {
		_ = p.Enqueue(p.ctx, t)
	})
}

func (p *Pool) onSuccess(t Task, messageIDs []string) {
	p.limiter.RecordChatSuccess(t.DestChatID)
	metrics.SendsTotal.WithLabelValues("success").Inc()

	ctx := p.ctx
	if t.NM.Kind == model.ContentAlbum {
		for i, part := range t.NM.Parts {
			if i >= len(messageIDs) {
				break
			}
			p.record(ctx, t.NM.SourceChatID, part.SourceMessageID, t.DestChatID, messageIDs[i], t.NM.OriginUserID)
		}
		return
	}
	if len(messageIDs) > 0 {
		p.record(ctx, t.NM.SourceChatID, t.NM.SourceMessageID, t.DestChatID, messageIDs[0], t.NM.OriginUserID)
	}
}

func (p *Pool) record(ctx context.Context, sourceChatID, sourceMsgID, destChatID, destMsgID, userID string) {
	err := p.sendlog.RecordSend(ctx, model.SendLogEntry{
		SourceChatID:    sourceChatID,
		SourceMessageID: sourceMsgID,
		DestChatID:      destChatID,
		DestMessageID:   destMsgID,
		SourceUserID:    userID,
		CreatedAt:       time.Now(),
	})
	if err != nil {
		logs.Error("worker: record send log: %v", err)
	}
}

func (p *Pool) onError(t Task, err error) {
	ctx := p.ctx
	sendErr, ok := err.(*platform.SendError)
	if !ok {
		p.genericFailure(t)
		return
	}

	switch sendErr.Kind {
	case platform.ErrKindTransient, platform.ErrKindRateLimited:
		p.limiter.RecordRateLimitRejection()
		metrics.SendsTotal.WithLabelValues("transient_error").Inc()
		if t.Attempt+1 >= maxAttempts {
			logs.CtxWarn(ctx, "worker: dropping task to %s after %d transient attempts", t.DestChatID, t.Attempt+1)
			return
		}
		next := t
		next.Attempt++
		delay := sendErr.RetryAfter
		if delay <= 0 {
			delay = time.Second
		}
		p.requeueAfter(next, delay)

	case platform.ErrKindDestinationMigrated:
		metrics.SendsTotal.WithLabelValues("migrated").Inc()
		if sendErr.NewChatID == "" || t.Attempt >= migrationMaxRetries {
			return
		}
		if err := p.registry.Migrate(ctx, t.DestChatID, sendErr.NewChatID); err != nil {
			logs.CtxError(ctx, "worker: migrate chat %s -> %s: %v", t.DestChatID, sendErr.NewChatID, err)
			return
		}
		next := t
		next.DestChatID = sendErr.NewChatID
		next.Attempt++
		_ = p.Enqueue(ctx, next)

	case platform.ErrKindDestinationFatal:
		metrics.SendsTotal.WithLabelValues("destination_fatal").Inc()
		if err := p.registry.Deactivate(ctx, t.DestChatID); err != nil {
			logs.CtxError(ctx, "worker: deactivate chat %s: %v", t.DestChatID, err)
		}
		p.dropLane(t.DestChatID)

	case platform.ErrKindMessageFatal:
		metrics.SendsTotal.WithLabelValues("message_fatal").Inc()
		logs.CtxWarn(ctx, "worker: dropping message-fatal task kind=%s dest=%s: %v", t.NM.Kind, t.DestChatID, sendErr)

	default:
		p.genericFailure(t)
	}
}

func (p *Pool) genericFailure(t Task) {
	metrics.SendsTotal.WithLabelValues("error").Inc()
	p.limiter.RecordChatError(t.DestChatID)
	if t.Attempt+1 < maxAttempts {
		next := t
		next.Attempt++
		p.requeueAfter(next, breakerRetryDelay)
	}
}

// dropLane discards everything still queued for a destination that was
// just deactivated, per "drop remaining tasks to that chat."
func (p *Pool) dropLane(destChatID string) {
	p.mu.Lock()
	lane, ok := p.lanes[destChatID]
	if ok {
		delete(p.lanes, destChatID)
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	for {
		select {
		case <-lane:
		default:
			return
		}
	}
}

func (p *Pool) send(ctx context.Context, t Task) ([]string, error) {
	target := platform.Target{ChatID: t.DestChatID}
	if t.Reply != nil {
		if t.Reply.DestMessageID != "" {
			target.ReplyToMessageID = t.Reply.DestMessageID
		} else {
			target.AcceptMissingAnchor = true
		}
	}

	switch t.NM.Kind {
	case model.ContentText:
		body := composeBody(t.NM.Payload.Text, t.AliasTag, t.Signature, maxTextLen)
		id, err := p.client.SendText(ctx, target, body)
		return single(id, err)
	case model.ContentPhoto:
		caption := composeBody(t.NM.Payload.Caption, t.AliasTag, t.Signature, maxCaptionLen)
		id, err := p.client.SendPhoto(ctx, target, t.NM.Payload.MediaHandle, caption)
		return single(id, err)
	case model.ContentVideo:
		caption := composeBody(t.NM.Payload.Caption, t.AliasTag, t.Signature, maxCaptionLen)
		id, err := p.client.SendVideo(ctx, target, t.NM.Payload.MediaHandle, caption)
		return single(id, err)
	case model.ContentAnimation:
		caption := composeBody(t.NM.Payload.Caption, t.AliasTag, t.Signature, maxCaptionLen)
		id, err := p.client.SendAnimation(ctx, target, t.NM.Payload.MediaHandle, caption)
		return single(id, err)
	case model.ContentAudio:
		caption := composeBody(t.NM.Payload.Caption, t.AliasTag, t.Signature, maxCaptionLen)
		id, err := p.client.SendAudio(ctx, target, t.NM.Payload.MediaHandle, caption)
		return single(id, err)
	case model.ContentDocument:
		caption := composeBody(t.NM.Payload.Caption, t.AliasTag, t.Signature, maxCaptionLen)
		id, err := p.client.SendDocument(ctx, target, t.NM.Payload.MediaHandle, caption)
		return single(id, err)
	case model.ContentVoice:
		id, err := p.client.SendVoice(ctx, target, t.NM.Payload.MediaHandle)
		return single(id, err)
	case model.ContentVideoNote:
		id, err := p.client.SendVideoNote(ctx, target, t.NM.Payload.MediaHandle)
		return single(id, err)
	case model.ContentSticker:
		id, err := p.client.SendSticker(ctx, target, t.NM.Payload.MediaHandle)
		return single(id, err)
	case model.ContentAlbum:
		return p.client.SendMediaGroup(ctx, target, t.NM.Parts)
	default:
		return nil, &platform.SendError{Kind: platform.ErrKindMessageFatal, Err: fmt.Errorf("unsupported content kind %q", t.NM.Kind)}
	}
}

func single(id string, err error) ([]string, error) {
	if err != nil {
		return nil, err
	}
	return []string{id}, nil
}

// composeBody concatenates body with the alias tag and signature suffix,
// truncating only the body to stay within maxLen.
func composeBody(body, aliasTag, signature string, maxLen int) string {
	var suffix string
	if aliasTag != "" {
		suffix += "\n— " + aliasTag
	}
	if signature != "" {
		suffix += "\n" + signature
	}

	budget := maxLen - len(suffix)
	if budget < 0 {
		budget = 0
	}
	if len(body) > budget {
		body = body[:budget]
	}
	return body + suffix
}
