// Package distributor implements the Distributor: the entry point that
// turns one NormalizedMessage into SendTasks for every eligible
// destination and enqueues them to the worker pool.
package distributor

import (
	"context"
	"fmt"

	"github.com/relaybot/engine/internal/alias"
	"github.com/relaybot/engine/internal/model"
	"github.com/relaybot/engine/internal/paywall"
	"github.com/relaybot/engine/internal/pkg/logs"
	"github.com/relaybot/engine/internal/pkg/metrics"
	"github.com/relaybot/engine/internal/ratelimit"
	"github.com/relaybot/engine/internal/registry"
	"github.com/relaybot/engine/internal/reply"
	"github.com/relaybot/engine/internal/worker"
)

// Nudger delivers the single paywall nudge message to a source chat.
// Implemented by the engine wiring on top of the worker pool / platform
// client, kept as its own interface so the distributor doesn't need to
// understand how a nudge is actually sent.
type Nudger interface {
	Nudge(ctx context.Context, sourceChatID string)
}

// Signer resolves the optional per-destination signature text. Signatures
// are an external configuration concern (per-chat branding); the engine
// wiring supplies a concrete implementation.
type Signer interface {
	SignatureFor(destChatID string) string
}

// Distributor is the 4.H entry point.
type Distributor struct {
	registry registry.Store
	paywall  *paywall.Gate
	reply    *reply.Resolver
	alias    *alias.Service
	pool     *worker.Pool
	limiter  *ratelimit.Limiter
	nudger   Nudger
	signer   Signer
}

func New(reg registry.Store, gate *paywall.Gate, resolver *reply.Resolver, aliasSvc *alias.Service,
	pool *worker.Pool, limiter *ratelimit.Limiter, nudger Nudger, signer Signer) *Distributor {
	return &Distributor{
		registry: reg,
		paywall:  gate,
		reply:    resolver,
		alias:    aliasSvc,
		pool:     pool,
		limiter:  limiter,
		nudger:   nudger,
		signer:   signer,
	}
}

// Distribute runs the full fan-out algorithm for one normalized message.
func (d *Distributor) Distribute(ctx context.Context, nm model.NormalizedMessage) error {
	if d.limiter.GlobalBreakerOpen() {
		logs.CtxDebug(ctx, "distributor: dropping message from %s during global pause", nm.SourceChatID)
		return nil
	}

	source, err := d.registry.GetChat(ctx, nm.SourceChatID)
	if err != nil {
		return fmt.Errorf("distributor: source chat lookup: %w", err)
	}

	destinations, err := d.registry.ListActiveDestinations(ctx)
	if err != nil {
		return fmt.Errorf("distributor: list destinations: %w", err)
	}

	aliasTag, err := d.alias.AliasFor(ctx, nm.OriginUserID)
	if err != nil {
		logs.CtxWarn(ctx, "distributor: alias lookup failed for %s: %v", nm.OriginUserID, err)
	}

	nudged := false
	now := nm.ArrivedAt

	for _, dest := range destinations {
		if dest.ID == source.ID && !source.SelfSendEnabled {
			continue
		}

		decision, err := d.paywall.Evaluate(ctx, *source, dest, now)
		if err != nil {
			logs.CtxError(ctx, "distributor: paywall evaluate %s -> %s: %v", source.ID, dest.ID, err)
			continue
		}
		if !decision.Allow {
			metrics.PaywallBlocksTotal.Inc()
			if decision.Nudge && !nudged {
				d.nudger.Nudge(ctx, source.ID)
				nudged = true
			}
			continue
		}

		anchor, hasReply := d.reply.ResolveForDestination(ctx, nm, dest.ID)
		var replyAnchor *worker.ReplyAnchor
		if hasReply {
			if anchor.Missing {
				replyAnchor = &worker.ReplyAnchor{}
			} else {
				replyAnchor = &worker.ReplyAnchor{DestMessageID: anchor.DestMessageID}
			}
		}

		task := worker.Task{
			DestChatID: dest.ID,
			NM:         nm,
			Reply:      replyAnchor,
			AliasTag:   aliasTag,
			Signature:  d.signer.SignatureFor(dest.ID),
			Cooldown:   dest.CooldownFor(),
		}

		if err := d.pool.Enqueue(ctx, task); err != nil {
			return fmt.Errorf("distributor: enqueue to %s: %w", dest.ID, err)
		}
	}

	return nil
}
