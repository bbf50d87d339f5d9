// Package engine wires every component of the distribution engine together
// and exposes the two operations the platform boundary and the edit-mode
// ingress need: Distribute (via the inbound handler) and PropagateEdit.
// Grounded on the teacher's gateway: sequential subsystem init in Start,
// sync.Once teardown in Stop.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/relaybot/engine/internal/alias"
	"github.com/relaybot/engine/internal/album"
	"github.com/relaybot/engine/internal/config"
	"github.com/relaybot/engine/internal/cronjob"
	"github.com/relaybot/engine/internal/dedup"
	"github.com/relaybot/engine/internal/distributor"
	"github.com/relaybot/engine/internal/entitlement"
	"github.com/relaybot/engine/internal/health"
	"github.com/relaybot/engine/internal/model"
	"github.com/relaybot/engine/internal/paywall"
	"github.com/relaybot/engine/internal/pkg/logs"
	"github.com/relaybot/engine/internal/pkg/metrics"
	pkgutils "github.com/relaybot/engine/internal/pkg/utils"
	"github.com/relaybot/engine/internal/platform"
	"github.com/relaybot/engine/internal/platform/telegram"
	"github.com/relaybot/engine/internal/ratelimit"
	"github.com/relaybot/engine/internal/reply"
	"github.com/relaybot/engine/internal/restriction"
	"github.com/relaybot/engine/internal/retention"
	"github.com/relaybot/engine/internal/store/postgres"
	"github.com/relaybot/engine/internal/store/rediscache"
	"github.com/relaybot/engine/internal/worker"
)

const defaultNudgeTemplate = "This chat's trial or subscription has lapsed. New messages are no longer being relayed here."

// Engine owns every long-lived subsystem and is the single object cmd/relaybot
// constructs and runs.
type Engine struct {
	cfg *config.Config

	store *postgres.Store
	cache rediscache.Cache

	client platform.Client
	source platform.Source

	dedup       *dedup.Checker
	album       *album.Buffer
	reply       *reply.Resolver
	restriction *restriction.Checker
	paywall     *paywall.Gate
	alias       *alias.Service
	limiter     *ratelimit.Limiter
	pool        *worker.Pool
	dist        *distributor.Distributor
	retention   *retention.Sweeper
	health      *health.Checker

	runCtx    context.Context
	runCancel context.CancelFunc
	stopOnce  sync.Once
}

// New builds every subsystem but starts nothing.
func New(ctx context.Context, cfg *config.Config) (*Engine, error) {
	store, err := postgres.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("engine: open store: %w", err)
	}
	if err := store.MigrateSchema(ctx); err != nil {
		return nil, fmt.Errorf("engine: migrate schema: %w", err)
	}

	cache, err := rediscache.New(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("engine: open cache: %w", err)
	}

	client, err := telegram.New(ctx, cfg.Platform)
	if err != nil {
		return nil, fmt.Errorf("engine: open platform client: %w", err)
	}

	nudgeCooldown, err := time.ParseDuration(cfg.Paywall.NudgeCooldown)
	if err != nil {
		return nil, fmt.Errorf("engine: paywall.nudge_cooldown: %w", err)
	}

	entitlementChecker := entitlement.New(store, cache)
	gate := paywall.New(entitlementChecker, cache, nudgeCooldown)
	replyResolver := reply.New(store)
	aliasSvc := alias.New(store, cache, cfg.Alias.Salt)
	limiter := ratelimit.New(cache, cfg.RateLimit.GlobalPerSecond)
	restrictionChecker := restriction.New(store)

	workerCount := cfg.RateLimit.WorkerCount
	if workerCount <= 0 {
		workerCount = 10
	}
	queueSize := cfg.RateLimit.QueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}
	pool := worker.New(client, limiter, store, store, workerCount, queueSize)

	nudgeTemplate := cfg.Paywall.NudgeTemplate
	if nudgeTemplate == "" {
		nudgeTemplate = defaultNudgeTemplate
	}

	e := &Engine{
		cfg:         cfg,
		store:       store,
		cache:       cache,
		client:      client,
		dedup:       dedup.New(cache),
		reply:       replyResolver,
		restriction: restrictionChecker,
		paywall:     gate,
		alias:       aliasSvc,
		limiter:     limiter,
		pool:        pool,
		retention:   retention.New(store, cronjob.ScheduleCron, cfg.Retention.Interval),
		health:      health.New(store, cache),
	}

	signer := &cacheSigner{cache: cache}
	nudger := &chatNudger{client: client, template: nudgeTemplate}
	e.dist = distributor.New(store, gate, replyResolver, aliasSvc, pool, limiter, nudger, signer)
	e.album = album.New(e.flushAlbum)

	if src, ok := client.(platform.Source); ok {
		e.source = src
	}

	return e, nil
}

// Start brings every subsystem up in dependency order: the retention
// sweeper first (it only depends on the store), then the platform source,
// whose inbound updates start flowing into Distribute immediately.
func (e *Engine) Start(ctx context.Context) error {
	e.runCtx, e.runCancel = context.WithCancel(ctx)

	e.retention.Start(e.runCtx)

	if e.source == nil {
		return fmt.Errorf("engine: platform client does not implement an inbound source")
	}
	if err := e.source.Start(e.runCtx, e.handleInbound); err != nil {
		return fmt.Errorf("engine: start platform source: %w", err)
	}

	logs.CtxInfo(ctx, "engine: started")
	return nil
}

// Stop tears down every subsystem in reverse order, waiting up to the
// configured shutdown grace for in-flight sends to drain.
func (e *Engine) Stop(ctx context.Context) error {
	var stopErr error
	e.stopOnce.Do(func() {
		if e.runCancel != nil {
			e.runCancel()
		}

		if e.source != nil {
			if err := e.source.Stop(ctx); err != nil {
				logs.CtxWarn(ctx, "engine: stop platform source: %v", err)
			}
		}

		e.retention.Stop(ctx)

		grace := 30 * time.Second
		if d, err := time.ParseDuration(e.cfg.Worker.ShutdownGrace); err == nil {
			grace = d
		}
		graceCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		if err := e.pool.Stop(graceCtx); err != nil {
			logs.CtxWarn(ctx, "engine: stop worker pool: %v", err)
		}

		if err := e.client.Close(ctx); err != nil {
			logs.CtxWarn(ctx, "engine: close platform client: %v", err)
		}
		if err := e.cache.Close(); err != nil {
			logs.CtxWarn(ctx, "engine: close cache: %v", err)
		}
		if err := e.store.Close(); err != nil {
			logs.CtxWarn(ctx, "engine: close store: %v", err)
		}

		logs.CtxInfo(ctx, "engine: stopped")
	})
	return stopErr
}

// handleInbound is the platform.InboundHandler passed to the source. A
// restricted user's message is dropped before it ever reaches the album
// buffer or the deduplicator. Album parts are buffered; everything else
// flows straight through to ingest.
func (e *Engine) handleInbound(ctx context.Context, nm model.NormalizedMessage) {
	blocked, err := e.restriction.Blocked(ctx, nm.OriginUserID, nm.ArrivedAt)
	if err != nil {
		logs.CtxError(ctx, "engine: restriction check failed for %s: %v", nm.OriginUserID, err)
	} else if blocked {
		logs.CtxDebug(ctx, "engine: dropping message from restricted user %s", nm.OriginUserID)
		return
	}

	if nm.AlbumID != "" && nm.Kind != model.ContentAlbum {
		e.album.Add(nm)
		return
	}

	logs.CtxDebug(ctx, "engine: <- (%s#%s) %s", nm.SourceChatID, nm.OriginUserID, pkgutils.Truncate80(nm.Payload.Text))
	e.ingest(ctx, nm)
}

// flushAlbum is the album.Buffer's onFlush callback. It runs off the
// buffer's own timer goroutine, outside the request that triggered the
// flush, so it gets a fresh background context rather than the context of
// whichever inbound update happened to arrive last.
func (e *Engine) flushAlbum(nm model.NormalizedMessage) {
	ctx := e.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	e.ingest(ctx, nm)
}

func (e *Engine) ingest(ctx context.Context, nm model.NormalizedMessage) {
	seen, err := e.dedup.Seen(ctx, nm.SourceChatID, dedup.Fingerprint(nm))
	if err != nil {
		logs.CtxError(ctx, "engine: dedup check failed for %s: %v", nm.SourceChatID, err)
	} else if seen {
		metrics.DedupHitsTotal.Inc()
		logs.CtxDebug(ctx, "engine: dropping duplicate message in %s", nm.SourceChatID)
		return
	}

	if err := e.dist.Distribute(ctx, nm); err != nil {
		logs.CtxError(ctx, "engine: distribute failed: %v", err)
	}
}

// HealthStatus reports durable- and fast-store reachability.
func (e *Engine) HealthStatus(ctx context.Context) health.Status {
	return e.health.Status(ctx)
}

// PropagateEdit implements edit-mode resend: the platform client exposes no
// in-place edit operation, so an edited source message is re-sent as a
// brand-new message to every destination the original was already
// delivered to, found via the Send Log's forward lookup.
func (e *Engine) PropagateEdit(ctx context.Context, edited model.NormalizedMessage) error {
	source, err := e.store.GetChat(ctx, edited.SourceChatID)
	if err != nil {
		return fmt.Errorf("engine: propagate edit: source chat lookup: %w", err)
	}
	if source.EditMode != model.EditModeResend {
		return nil
	}

	entries, err := e.store.ForwardLookup(ctx, edited.SourceChatID, edited.SourceMessageID)
	if err != nil {
		return fmt.Errorf("engine: propagate edit: forward lookup: %w", err)
	}

	aliasTag, err := e.alias.AliasFor(ctx, edited.OriginUserID)
	if err != nil {
		logs.CtxWarn(ctx, "engine: propagate edit: alias lookup failed for %s: %v", edited.OriginUserID, err)
	}

	signer := &cacheSigner{cache: e.cache}
	for _, entry := range entries {
		dest, err := e.store.GetChat(ctx, entry.DestChatID)
		if err != nil {
			logs.CtxWarn(ctx, "engine: propagate edit: dest chat lookup %s: %v", entry.DestChatID, err)
			continue
		}
		task := worker.Task{
			DestChatID: entry.DestChatID,
			NM:         edited,
			AliasTag:   aliasTag,
			Signature:  signer.SignatureFor(entry.DestChatID),
			Cooldown:   dest.CooldownFor(),
		}
		if err := e.pool.Enqueue(ctx, task); err != nil {
			logs.CtxWarn(ctx, "engine: propagate edit: enqueue to %s: %v", entry.DestChatID, err)
		}
	}
	return nil
}

// chatNudger delivers the paywall's single nudge message via the platform
// client directly, bypassing the worker pool and its destination lanes:
// a nudge targets the source chat, not a distribution destination, and
// must not wait behind a backed-up fan-out lane.
type chatNudger struct {
	client   platform.Client
	template string
}

func (n *chatNudger) Nudge(ctx context.Context, sourceChatID string) {
	if _, err := n.client.SendText(ctx, platform.Target{ChatID: sourceChatID}, n.template); err != nil {
		logs.CtxWarn(ctx, "engine: nudge send to %s failed: %v", sourceChatID, err)
	}
}

// cacheSigner reads the optional per-destination signature text the
// external signature editor writes into the fast store. This package only
// reads it; writing is out of scope here.
type cacheSigner struct {
	cache rediscache.Cache
}

func (s *cacheSigner) SignatureFor(destChatID string) string {
	val, ok, err := s.cache.Get(context.Background(), "signature:"+destChatID)
	if err != nil || !ok {
		return ""
	}
	return val
}
