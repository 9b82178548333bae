package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-labs/cerberus/core"
	"github.com/meridian-labs/cerberus/ports"
)

const noncePrefix = "nonce:"

// nonceBytes gives 256 bits of entropy per challenge value.
const nonceBytes = 32

// NonceStore issues challenges, tracks their TTL and enforces one-time use.
// Challenges live in the shared store under nonce:<identity> with a
// store-level TTL; the used transition is a single compare-and-swap, which
// is what makes a challenge consumable at most once under concurrency.
type NonceStore struct {
	store  ports.Store
	ttl    time.Duration
	logger *slog.Logger
}

// NewNonceStore creates a NonceStore with the given challenge TTL.
func NewNonceStore(store ports.Store, ttl time.Duration, logger *slog.Logger) *NonceStore {
	return &NonceStore{store: store, ttl: ttl, logger: logger}
}

// TTL returns the configured challenge time-to-live.
func (n *NonceStore) TTL() time.Duration {
	return n.ttl
}

// Issue generates a fresh random challenge for the identity, overwriting
// any prior active challenge. Every call rotates; there is deliberately no
// idempotency.
func (n *NonceStore) Issue(ctx context.Context, address string) (*core.Challenge, error) {
	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	challenge := &core.Challenge{
		Address:  address,
		Value:    hex.EncodeToString(buf),
		IssuedAt: time.Now().UTC(),
	}

	raw, err := json.Marshal(challenge)
	if err != nil {
		return nil, fmt.Errorf("failed to encode challenge: %w", err)
	}

	if err := n.store.Set(ctx, noncePrefix+address, string(raw), n.ttl); err != nil {
		return nil, fmt.Errorf("failed to store challenge: %w", errors.Join(err, core.ErrStorageUnavailable))
	}

	return challenge, nil
}

// Active returns the current unused, unexpired challenge for the identity.
// A missing challenge maps to core.ErrNonceExpired, a used one to
// core.ErrNonceReused.
func (n *NonceStore) Active(ctx context.Context, address string) (*core.Challenge, error) {
	challenge, _, err := n.load(ctx, address)
	if err != nil {
		return nil, err
	}
	if challenge.Used {
		return nil, core.ErrNonceReused
	}
	if challenge.Expired(n.ttl, time.Now()) {
		return nil, core.ErrNonceExpired
	}
	return challenge, nil
}

// MarkUsed atomically transitions the identity's challenge from unused to
// used, provided its value matches. Exactly one of any number of concurrent
// callers wins; the rest get core.ErrNonceReused. Store failures fail
// closed as core.ErrNonceReused: failing open would reopen the replay
// window.
func (n *NonceStore) MarkUsed(ctx context.Context, address, value string) error {
	challenge, raw, err := n.load(ctx, address)
	if err != nil {
		if errors.Is(err, core.ErrStorageUnavailable) {
			n.logger.Warn("nonce store unavailable, failing closed", "address", address, "err", err)
			return core.ErrNonceReused
		}
		return err
	}

	if challenge.Value != value {
		return core.ErrNonceMismatch
	}
	if challenge.Used {
		return core.ErrNonceReused
	}
	if challenge.Expired(n.ttl, time.Now()) {
		return core.ErrNonceExpired
	}

	used := *challenge
	used.Used = true
	next, err := json.Marshal(&used)
	if err != nil {
		return fmt.Errorf("failed to encode challenge: %w", err)
	}

	swapped, err := n.store.CompareAndSwap(ctx, noncePrefix+address, raw, string(next))
	if err != nil {
		n.logger.Warn("nonce store unavailable, failing closed", "address", address, "err", err)
		return core.ErrNonceReused
	}
	if !swapped {
		// Lost the race to a concurrent submission or to a rotation.
		return core.ErrNonceReused
	}
	return nil
}

// Invalidate removes the identity's active challenge.
func (n *NonceStore) Invalidate(ctx context.Context, address string) error {
	return n.store.Delete(ctx, noncePrefix+address)
}

// PurgeExpired deletes every consumed or expired challenge still present in
// the store and reports how many were removed. The compare-and-delete guard
// keeps a purge from clobbering a challenge rotated mid-sweep.
func (n *NonceStore) PurgeExpired(ctx context.Context) (int, error) {
	keys, err := n.store.Scan(ctx, noncePrefix)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	purged := 0
	for _, key := range keys {
		raw, err := n.store.Get(ctx, key)
		if err != nil {
			continue
		}
		var challenge core.Challenge
		if err := json.Unmarshal([]byte(raw), &challenge); err != nil {
			continue
		}
		if !challenge.Used && !challenge.Expired(n.ttl, now) {
			continue
		}
		deleted, err := n.store.CompareAndDelete(ctx, key, raw)
		if err != nil {
			return purged, err
		}
		if deleted {
			purged++
		}
	}
	return purged, nil
}

func (n *NonceStore) load(ctx context.Context, address string) (*core.Challenge, string, error) {
	raw, err := n.store.Get(ctx, noncePrefix+address)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, "", core.ErrNonceExpired
		}
		return nil, "", fmt.Errorf("failed to load challenge: %w", errors.Join(err, core.ErrStorageUnavailable))
	}

	var challenge core.Challenge
	if err := json.Unmarshal([]byte(raw), &challenge); err != nil {
		return nil, "", fmt.Errorf("failed to decode challenge: %w", err)
	}
	return &challenge, raw, nil
}
