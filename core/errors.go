package core

import "errors"

// Authentication failure kinds. Handlers collapse all of these except
// ErrRateLimited into a generic "authentication failed" response; the kind
// itself is for callers and logs, never for the end user.
var (
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrNonceExpired       = errors.New("challenge has expired")
	ErrNonceReused        = errors.New("challenge has already been used")
	ErrNonceMismatch      = errors.New("challenge does not match")
	ErrAddressMismatch    = errors.New("message address does not match identity")
	ErrChainUnsupported   = errors.New("chain id is not supported")
	ErrDomainMismatch     = errors.New("message domain does not match server origin")
	ErrMessageMalformed   = errors.New("message is malformed")
	ErrMessageExpired     = errors.New("message has expired")
	ErrMessageNotYetValid = errors.New("message is not yet valid")
	ErrSignatureInvalid   = errors.New("invalid signature")
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNotFound is returned by stores and repositories on a missing key.
	ErrNotFound = errors.New("not found")

	// ErrInvalidAddress is returned when an address fails normalization.
	ErrInvalidAddress = errors.New("invalid ethereum address")
)

// Session token errors.
var (
	ErrTokenExpired     = errors.New("token has expired")
	ErrTokenInvalidated = errors.New("token has been invalidated")
	ErrInvalidToken     = errors.New("invalid token")
	ErrInvalidClaims    = errors.New("invalid claims")
)
