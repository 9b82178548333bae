package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/meridian-labs/cerberus/ports"
)

// StaleSweeper reclaims abandoned state in the background: unverified
// accounts past the grace period and challenges past their TTL. Each pass
// is idempotent and relies only on the store's per-key atomicity, so it is
// safe to run concurrently with live authentication; an in-flight attempt
// whose challenge is swept simply fails its nonce check.
type StaleSweeper struct {
	nonces      *NonceStore
	accounts    ports.AccountRepository
	events      ports.EventPublisher
	gracePeriod time.Duration
	logger      *slog.Logger
}

// NewStaleSweeper creates a sweeper with the given unverified-account grace
// period.
func NewStaleSweeper(
	nonces *NonceStore,
	accounts ports.AccountRepository,
	events ports.EventPublisher,
	gracePeriod time.Duration,
	logger *slog.Logger,
) *StaleSweeper {
	if gracePeriod == 0 {
		gracePeriod = DefaultGracePeriod
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StaleSweeper{
		nonces:      nonces,
		accounts:    accounts,
		events:      events,
		gracePeriod: gracePeriod,
		logger:      logger,
	}
}

// Sweep performs one reclamation pass. Running it more or less often only
// affects efficiency, never correctness.
func (s *StaleSweeper) Sweep(ctx context.Context) error {
	purged, err := s.nonces.PurgeExpired(ctx)
	if err != nil {
		return err
	}

	deleted, err := s.accounts.DeleteUnverifiedBefore(ctx, time.Now().Add(-s.gracePeriod))
	if err != nil {
		return err
	}

	if purged > 0 || deleted > 0 {
		s.logger.Info("sweep complete", "challenges_purged", purged, "accounts_deleted", deleted)
		if err := s.events.PublishSweep(ctx, deleted, purged); err != nil {
			s.logger.Warn("failed to publish sweep event", "err", err)
		}
	}

	return nil
}

// Run sweeps on a fixed interval until the context is cancelled.
func (s *StaleSweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep failed", "err", err)
			}
		}
	}
}
