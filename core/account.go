package core

import "time"

// Account is the persistent record for an identity. It is created eagerly
// when the first challenge is issued and stays unverified until the first
// successful authentication. Unverified accounts older than the sweeper's
// grace period are reclaimable.
type Account struct {
	Address   string    // Normalized ethereum address, unique
	Verified  bool      // Set only after a successful signature verification
	CreatedAt time.Time // When the record was created
}

// Challenge is a single-use random value bound to one identity. At most one
// active (unused, unexpired) challenge exists per identity; issuing a new
// one rotates the previous.
type Challenge struct {
	Address  string    `json:"address"`
	Value    string    `json:"value"`
	IssuedAt time.Time `json:"issued_at"`
	Used     bool      `json:"used"`
}

// ExpiresAt returns the end of the challenge's validity window.
func (c Challenge) ExpiresAt(ttl time.Duration) time.Time {
	return c.IssuedAt.Add(ttl)
}

// Expired reports whether the challenge is past its TTL at the given time.
func (c Challenge) Expired(ttl time.Duration, now time.Time) bool {
	return now.After(c.ExpiresAt(ttl))
}
