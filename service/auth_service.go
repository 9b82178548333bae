package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/meridian-labs/cerberus/core"
	"github.com/meridian-labs/cerberus/ports"
	"github.com/meridian-labs/cerberus/ratelimit"
	"github.com/meridian-labs/cerberus/siwe"
)

const (
	attemptPrefix = "attempts:"
	revokedPrefix = "revoked:"

	// DefaultChallengeTTL is the default validity window of a challenge
	DefaultChallengeTTL = 10 * time.Minute

	// DefaultAccessTTL is the default expiration time for access tokens
	DefaultAccessTTL = 5 * time.Minute

	// DefaultRefreshTTL is the default expiration time for refresh tokens
	DefaultRefreshTTL = 5 * 24 * time.Hour

	// DefaultGracePeriod is how long an unverified account survives before
	// the sweeper reclaims it
	DefaultGracePeriod = 7 * 24 * time.Hour
)

// Default rate limit rules. Origin alone guards the cryptographically
// expensive login endpoint, origin+identity guards challenge issuance, and
// identity alone bounds failed attempts against a single account even from
// rotating origins.
var (
	DefaultOriginRule         = ratelimit.Rule{Limit: 10, Window: time.Minute}
	DefaultOriginIdentityRule = ratelimit.Rule{Limit: 30, Window: time.Minute}
	DefaultIdentityRule       = ratelimit.Rule{Limit: 3, Window: time.Minute}
)

// Config holds AuthService configuration.
// A zero value is a valid configuration, see constants for default values.
type Config struct {
	// Domain is the server's origin label, bound into every challenge
	// message and checked on verification.
	Domain string

	// URI is the resource URI embedded in challenge messages.
	URI string

	// Statement is the human-readable statement shown by wallets.
	Statement string

	// ChainIDs is the optional chain allow-list.
	ChainIDs []int64

	ChallengeTTL time.Duration
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	GracePeriod  time.Duration

	OriginRule         ratelimit.Rule
	OriginIdentityRule ratelimit.Rule
	IdentityRule       ratelimit.Rule
}

func (c Config) withDefaults() Config {
	if c.ChallengeTTL == 0 {
		c.ChallengeTTL = DefaultChallengeTTL
	}
	if c.AccessTTL == 0 {
		c.AccessTTL = DefaultAccessTTL
	}
	if c.RefreshTTL == 0 {
		c.RefreshTTL = DefaultRefreshTTL
	}
	if c.GracePeriod == 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.OriginRule.Limit == 0 {
		c.OriginRule = DefaultOriginRule
	}
	if c.OriginIdentityRule.Limit == 0 {
		c.OriginIdentityRule = DefaultOriginIdentityRule
	}
	if c.IdentityRule.Limit == 0 {
		c.IdentityRule = DefaultIdentityRule
	}
	return c
}

// ChallengeGrant is what a caller receives from challenge issuance: the
// exact message to sign, the embedded nonce and its expiry.
type ChallengeGrant struct {
	Message   string
	Nonce     string
	ExpiresAt time.Time
}

// TokenPair is the session handle returned on successful authentication.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// AuthService sequences rate limiting, nonce checks, message verification
// and the account-state commit into a single pass/fail decision. The first
// failing step short-circuits with its typed error and none of the later
// side effects happen.
type AuthService struct {
	nonces    *NonceStore
	accounts  ports.AccountRepository
	limiter   *ratelimit.Limiter
	verifier  *siwe.Verifier
	tokenizer ports.Tokenizer
	store     ports.Store
	events    ports.EventPublisher
	logger    *slog.Logger
	cfg       Config
}

// NewAuthService creates a new authentication service
func NewAuthService(
	store ports.Store,
	accounts ports.AccountRepository,
	tokenizer ports.Tokenizer,
	events ports.EventPublisher,
	logger *slog.Logger,
	cfg Config,
) *AuthService {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		nonces:    NewNonceStore(store, cfg.ChallengeTTL, logger),
		accounts:  accounts,
		limiter:   ratelimit.NewLimiter(store),
		verifier:  siwe.NewVerifier(cfg.Domain, cfg.ChainIDs...),
		tokenizer: tokenizer,
		store:     store,
		events:    events,
		logger:    logger,
		cfg:       cfg,
	}
}

// Nonces exposes the nonce store for the sweeper.
func (s *AuthService) Nonces() *NonceStore {
	return s.nonces
}

// CreateChallenge issues a fresh challenge for the identity and renders the
// message the wallet must sign. Every call rotates the previous challenge.
func (s *AuthService) CreateChallenge(ctx context.Context, address, origin string) (*ChallengeGrant, error) {
	address, err := core.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	if err := s.allow(ctx, ratelimit.OriginIdentityKey(origin, address), s.cfg.OriginIdentityRule); err != nil {
		return nil, err
	}

	// Account records are created eagerly at issuance; the record itself
	// carries no security weight until its verified flag is set.
	if _, err := s.accounts.FindOrCreate(ctx, address); err != nil {
		return nil, fmt.Errorf("find-or-create account: %w", err)
	}

	challenge, err := s.nonces.Issue(ctx, address)
	if err != nil {
		return nil, err
	}

	chainID := int64(1)
	if len(s.cfg.ChainIDs) > 0 {
		chainID = s.cfg.ChainIDs[0]
	}
	msg := &siwe.Message{
		Domain:         s.cfg.Domain,
		Address:        common.HexToAddress(address).Hex(),
		Statement:      s.cfg.Statement,
		URI:            s.cfg.URI,
		Version:        "1",
		ChainID:        chainID,
		Nonce:          challenge.Value,
		IssuedAt:       challenge.IssuedAt,
		ExpirationTime: challenge.ExpiresAt(s.cfg.ChallengeTTL),
	}

	return &ChallengeGrant{
		Message:   msg.String(),
		Nonce:     challenge.Value,
		ExpiresAt: challenge.ExpiresAt(s.cfg.ChallengeTTL),
	}, nil
}

// Authenticate runs the ordered decision pipeline over one submission:
// origin rate limit, identity rate limit, active-challenge check, atomic
// consumption, message verification, then the commit. The challenge stays
// consumed even when verification fails afterwards; a fresh one must be
// requested per attempt.
func (s *AuthService) Authenticate(ctx context.Context, address, message, signature, origin string) (*TokenPair, error) {
	address, err := core.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	if err := s.allow(ctx, ratelimit.OriginKey(origin), s.cfg.OriginRule); err != nil {
		return nil, err
	}
	if err := s.allow(ctx, ratelimit.IdentityKey(address), s.cfg.IdentityRule); err != nil {
		return nil, err
	}

	challenge, err := s.nonces.Active(ctx, address)
	if err != nil {
		return nil, s.fail(ctx, address, err)
	}

	// Consume before the signature check: of two concurrent submissions
	// only the atomic winner pays the cryptographic cost.
	if err := s.nonces.MarkUsed(ctx, address, challenge.Value); err != nil {
		return nil, s.fail(ctx, address, err)
	}

	if _, err := s.verifier.Verify(message, signature, address, challenge.Value, time.Now()); err != nil {
		return nil, s.fail(ctx, address, err)
	}

	// Commit. Nothing before this point has touched the verified flag.
	// The consumed challenge stays behind as a used tombstone until its
	// TTL or the sweeper reaps it, so a replay of the same message is
	// reported as reuse rather than as a missing challenge.
	if err := s.accounts.MarkVerified(ctx, address); err != nil {
		return nil, fmt.Errorf("mark verified: %w", err)
	}
	s.resetCounters(ctx, address)

	pair, session, err := s.createSession(address)
	if err != nil {
		return nil, err
	}

	if err := s.events.PublishLogin(ctx, address, session.ID); err != nil {
		s.logger.Warn("failed to publish login event", "address", address, "err", err)
	}

	return pair, nil
}

// Refresh rotates the refresh token and issues new access and refresh tokens
func (s *AuthService) Refresh(ctx context.Context, refreshTokenStr string) (*TokenPair, error) {
	session, err := s.tokenizer.RefreshTokenToSession(refreshTokenStr)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh token: %w", core.ErrInvalidToken)
	}

	if time.Now().After(session.RefreshExpiry) {
		return nil, core.ErrTokenExpired
	}

	if _, err := s.store.Get(ctx, revokedPrefix+session.RefreshID); err == nil {
		return nil, core.ErrTokenInvalidated
	} else if !errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("revocation check: %w", err)
	}

	// Old token is revoked for the remainder of its own lifetime.
	if err := s.store.Set(ctx, revokedPrefix+session.RefreshID, "1", time.Until(session.RefreshExpiry)); err != nil {
		return nil, fmt.Errorf("revoke old refresh token: %w", err)
	}

	pair, _, err := s.createSession(session.Address)
	return pair, err
}

// Logout invalidates a refresh token
func (s *AuthService) Logout(ctx context.Context, refreshTokenStr string) error {
	session, err := s.tokenizer.RefreshTokenToSession(refreshTokenStr)
	if err != nil {
		return fmt.Errorf("invalid refresh token: %w", core.ErrInvalidToken)
	}

	// Expired tokens still get a short-lived revocation record so slightly
	// skewed clocks cannot resurrect them.
	ttl := time.Until(session.RefreshExpiry)
	if ttl <= 0 {
		ttl = time.Hour
	}
	if err := s.store.Set(ctx, revokedPrefix+session.RefreshID, "1", ttl); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}

	if err := s.events.PublishLogout(ctx, session.Address, session.RefreshID); err != nil {
		// The token is already revoked, which is the critical part.
		s.logger.Warn("failed to publish logout event", "address", session.Address, "err", err)
	}

	return nil
}

// ValidateAccessToken parses an access token and checks it against the
// revocation list of its backing refresh token.
func (s *AuthService) ValidateAccessToken(ctx context.Context, accessToken string) (*core.Session, error) {
	session, err := s.tokenizer.AccessTokenToSession(accessToken)
	if err != nil {
		return nil, fmt.Errorf("invalid access token: %w", core.ErrInvalidToken)
	}

	if time.Now().After(session.AccessExpiry) {
		return nil, core.ErrTokenExpired
	}

	if session.RefreshID != "" {
		if _, err := s.store.Get(ctx, revokedPrefix+session.RefreshID); err == nil {
			return nil, core.ErrTokenInvalidated
		} else if !errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("revocation check: %w", err)
		}
	}

	return session, nil
}

func (s *AuthService) createSession(address string) (*TokenPair, *core.Session, error) {
	now := time.Now()
	session := &core.Session{
		ID:            uuid.New().String(),
		Address:       address,
		IssuedAt:      now,
		AccessExpiry:  now.Add(s.cfg.AccessTTL),
		RefreshExpiry: now.Add(s.cfg.RefreshTTL),
		RefreshID:     uuid.New().String(),
	}

	accessToken, err := s.tokenizer.SessionToAccessToken(session)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create access token: %w", err)
	}
	refreshToken, err := s.tokenizer.SessionToRefreshToken(session)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create refresh token: %w", err)
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, session, nil
}

// allow maps a limiter denial onto ErrRateLimited. A degraded limiter store
// fails open with a warning: rate limiting is abuse protection, not a
// cryptographic guarantee, and blocking all logins on a cache outage is the
// worse failure mode.
func (s *AuthService) allow(ctx context.Context, key string, rule ratelimit.Rule) error {
	allowed, retryAfter, err := s.limiter.Allow(ctx, key, rule)
	if err != nil {
		s.logger.Warn("rate limiter unavailable, failing open", "key", key, "err", err)
		return nil
	}
	if !allowed {
		return &RateLimitError{RetryAfter: retryAfter}
	}
	return nil
}

// fail records a failed attempt against the identity and passes the typed
// error through. Attempt accounting is best effort; a store failure here
// degrades to a warning instead of masking the real failure kind.
func (s *AuthService) fail(ctx context.Context, address string, cause error) error {
	if _, err := s.store.Incr(ctx, attemptPrefix+address, s.cfg.IdentityRule.Window); err != nil {
		s.logger.Warn("failed to record attempt", "address", address, "err", err)
	}
	return cause
}

func (s *AuthService) resetCounters(ctx context.Context, address string) {
	if err := s.limiter.Reset(ctx, ratelimit.IdentityKey(address)); err != nil {
		s.logger.Warn("failed to reset identity rate window", "address", address, "err", err)
	}
	if err := s.store.Delete(ctx, attemptPrefix+address); err != nil {
		s.logger.Warn("failed to reset attempt counter", "address", address, "err", err)
	}
}

// RateLimitError is the only failure kind safe to disclose in detail: it
// carries how long the caller should wait before retrying.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return core.ErrRateLimited.Error()
}

func (e *RateLimitError) Unwrap() error {
	return core.ErrRateLimited
}
