package ports

import (
	"context"
	"time"

	"github.com/meridian-labs/cerberus/core"
)

// AccountRepository owns find-or-create semantics for account records.
// Uniqueness on the normalized address is enforced by the storage layer.
type AccountRepository interface {
	// FindOrCreate returns the record for address, creating an unverified
	// one when none exists.
	FindOrCreate(ctx context.Context, address string) (*core.Account, error)

	// Find returns the record for address or core.ErrNotFound.
	Find(ctx context.Context, address string) (*core.Account, error)

	// MarkVerified sets the verified flag. Idempotent.
	MarkVerified(ctx context.Context, address string) error

	// DeleteUnverifiedBefore removes unverified records created before the
	// cutoff and reports how many were deleted.
	DeleteUnverifiedBefore(ctx context.Context, cutoff time.Time) (int, error)
}
