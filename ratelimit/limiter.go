package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/meridian-labs/cerberus/ports"
)

// Rule is one fixed-window limit applied to a keyed counter.
type Rule struct {
	Limit  int64
	Window time.Duration
}

// Limiter is a fixed-window counter limiter over the shared store. Counting
// and checking happen in one atomic store operation, so concurrent callers
// for the same key cannot overshoot the limit; a denied call does not
// consume window budget.
type Limiter struct {
	store  ports.Store
	prefix string
}

// NewLimiter creates a limiter backed by the given store.
func NewLimiter(store ports.Store) *Limiter {
	return &Limiter{store: store, prefix: "ratelimit:"}
}

// Allow records one event against the rule's window for key. When the limit
// is exhausted it returns false and the duration until the window resets.
func (l *Limiter) Allow(ctx context.Context, key string, rule Rule) (bool, time.Duration, error) {
	allowed, retryAfter, err := l.store.Allow(ctx, l.prefix+key, rule.Limit, rule.Window)
	if err != nil {
		return false, 0, fmt.Errorf("rate limit check for %q: %w", key, err)
	}
	return allowed, retryAfter, nil
}

// Reset clears the window for key early, before its interval elapses.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Delete(ctx, l.prefix+key)
}

// OriginKey keys the coarse volumetric limit by network origin alone.
func OriginKey(origin string) string {
	return "origin:" + origin
}

// OriginIdentityKey keys the issuance limit by origin and identity, so one
// origin can still serve many identities.
func OriginIdentityKey(origin, identity string) string {
	return "origin:" + origin + ":identity:" + identity
}

// IdentityKey keys the strict per-account limit by identity alone, covering
// brute force from rotating origins.
func IdentityKey(identity string) string {
	return "identity:" + identity
}
