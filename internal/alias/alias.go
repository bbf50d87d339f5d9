// Package alias implements the Alias Service: a short, stable, opaque
// pseudonym per user, generated deterministically so it never needs to
// change, persisted on first use and cached in the fast store for 5 min.
package alias

import (
	"context"
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"fmt"
	"time"

	"github.com/relaybot/engine/internal/model"
	"github.com/relaybot/engine/internal/store/postgres"
	"github.com/relaybot/engine/internal/store/rediscache"
)

const (
	cacheTTL    = 5 * time.Minute
	tokenLength = 6
)

// ErrNotFound mirrors the durable store's not-found sentinel.
var ErrNotFound = postgres.ErrNotFound

// ErrConflict is returned by InsertAliasIfAbsent when another writer beat
// this one to the row.
var ErrConflict = postgres.ErrConflict

// Store is the alias persistence interface.
type Store interface {
	GetAlias(ctx context.Context, userID string) (*model.Alias, error)
	InsertAliasIfAbsent(ctx context.Context, a model.Alias) error
}

var _ Store = (*postgres.Store)(nil)

// Service computes and caches aliases.
type Service struct {
	store Store
	cache rediscache.Cache
	salt  string
}

// New builds a Service. salt is a per-install secret mixed into every
// generated token so aliases aren't guessable across deployments sharing
// the same user id space.
func New(store Store, cache rediscache.Cache, salt string) *Service {
	return &Service{store: store, cache: cache, salt: salt}
}

// AliasFor returns userID's alias tag, e.g. "u-a3x7k2". Returns "" with no
// error for a senderless message (userID == "").
func (s *Service) AliasFor(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", nil
	}

	cacheKey := "alias:" + userID
	if v, ok, err := s.cache.Get(ctx, cacheKey); err == nil && ok {
		return v, nil
	}

	if a, err := s.store.GetAlias(ctx, userID); err == nil {
		s.cacheToken(ctx, cacheKey, a.Token)
		return a.Token, nil
	} else if !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("alias: lookup: %w", err)
	}

	token := generate(s.salt, userID)
	if err := s.store.InsertAliasIfAbsent(ctx, model.Alias{UserID: userID, Token: token}); err != nil {
		if !errors.Is(err, ErrConflict) {
			return "", fmt.Errorf("alias: insert: %w", err)
		}
		existing, err := s.store.GetAlias(ctx, userID)
		if err != nil {
			return "", fmt.Errorf("alias: refetch after conflict: %w", err)
		}
		token = existing.Token
	}

	s.cacheToken(ctx, cacheKey, token)
	return token, nil
}

func (s *Service) cacheToken(ctx context.Context, key, token string) {
	_ = s.cache.Set(ctx, key, token, cacheTTL)
}

// generate deterministically derives a short opaque token from salt and
// userID: base32 of SHA-256(salt + userID), truncated and lowercased,
// prefixed "u-" to mark it as a user alias in outbound text.
func generate(salt, userID string) string {
	sum := sha256.Sum256([]byte(salt + userID))
	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(sum[:])
	if len(encoded) > tokenLength {
		encoded = encoded[:tokenLength]
	}
	return "u-" + lower(encoded)
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c - 'A' + 'a'
		}
	}
	return string(b)
}
