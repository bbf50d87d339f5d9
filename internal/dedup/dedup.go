// Package dedup implements the Fingerprinter / Dedup component: it
// computes a stable fingerprint for a NormalizedMessage and atomically
// tests-and-sets a 24h marker in the fast store to catch redelivery.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/relaybot/engine/internal/model"
	"github.com/relaybot/engine/internal/store/rediscache"
)

// markerTTL is the dedup marker lifetime.
const markerTTL = 24 * time.Hour

const keyPrefix = "dedup:"

// Checker computes fingerprints and enforces the dedup marker.
type Checker struct {
	cache rediscache.Cache
}

func New(cache rediscache.Cache) *Checker {
	return &Checker{cache: cache}
}

// Fingerprint computes the stable fingerprint for nm per the spec rules:
// media uses the handle directly, text uses SHA-256 of NFC-normalized,
// trailing-whitespace-stripped text, and an album hashes the concatenation
// of its member fingerprints in arrival order.
func Fingerprint(nm model.NormalizedMessage) string {
	if nm.Kind == model.ContentAlbum {
		var b strings.Builder
		for _, part := range nm.Parts {
			b.WriteString(fingerprintOne(part.Kind, part.Payload))
		}
		sum := sha256.Sum256([]byte(b.String()))
		return hex.EncodeToString(sum[:])
	}
	return fingerprintOne(nm.Kind, nm.Payload)
}

func fingerprintOne(kind model.ContentKind, payload model.Payload) string {
	if kind == model.ContentText {
		normalized := norm.NFC.String(payload.Text)
		normalized = strings.TrimRightFunc(normalized, unicode.IsSpace)
		sum := sha256.Sum256([]byte(normalized))
		return hex.EncodeToString(sum[:])
	}
	return payload.MediaHandle
}

// Seen atomically tests-and-sets the dedup marker for (sourceChatID,
// fingerprint), reporting true if the marker already existed (the message
// is a duplicate and ingress should drop it).
func (c *Checker) Seen(ctx context.Context, sourceChatID, fingerprint string) (bool, error) {
	key := fmt.Sprintf("%s%s:%s", keyPrefix, sourceChatID, fingerprint)
	created, err := c.cache.SetNX(ctx, key, "1", markerTTL)
	if err != nil {
		return false, fmt.Errorf("dedup: seen: %w", err)
	}
	return !created, nil
}
