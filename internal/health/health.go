// Package health aggregates durable- and fast-store reachability into a
// single status the external health endpoint collaborator polls. Grounded
// on the teacher's bare /health handler in Gateway.initHTTPServer, expanded
// here because the engine must track this state itself, not just report
// "ok" unconditionally.
package health

import (
	"context"
	"time"
)

// StorePinger is the slice of postgres.Store the health check needs.
type StorePinger interface {
	Ping(ctx context.Context) error
}

// CachePinger is the slice of rediscache.Cache the health check needs.
type CachePinger interface {
	Ping(ctx context.Context) error
}

// Status is the aggregated health snapshot.
type Status struct {
	Healthy   bool
	Store     bool
	StoreErr  string
	Cache     bool
	CacheErr  string
	CheckedAt time.Time
}

const checkTimeout = 3 * time.Second

// Checker polls the durable and fast stores on demand.
type Checker struct {
	store StorePinger
	cache CachePinger
}

func New(store StorePinger, cache CachePinger) *Checker {
	return &Checker{store: store, cache: cache}
}

// Status pings both stores and reports the aggregated result. The engine
// is healthy only when both are reachable: a durable-store outage is
// fatal-to-core per the error taxonomy, and a fast-store outage degrades
// dedup, rate limiting, and the paywall all at once.
func (c *Checker) Status(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	s := Status{CheckedAt: time.Now()}

	if err := c.store.Ping(ctx); err != nil {
		s.StoreErr = err.Error()
	} else {
		s.Store = true
	}

	if err := c.cache.Ping(ctx); err != nil {
		s.CacheErr = err.Error()
	} else {
		s.Cache = true
	}

	s.Healthy = s.Store && s.Cache
	return s
}
