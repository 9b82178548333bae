package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	accountsrepo "github.com/meridian-labs/cerberus/adapters/accounts"
	"github.com/meridian-labs/cerberus/adapters/store"
	"github.com/meridian-labs/cerberus/adapters/tokenizer"
	"github.com/meridian-labs/cerberus/core"
	"github.com/meridian-labs/cerberus/ratelimit"
)

type nopPublisher struct{}

func (nopPublisher) PublishLogin(ctx context.Context, address, sessionID string) error { return nil }
func (nopPublisher) PublishLogout(ctx context.Context, address, tokenID string) error  { return nil }
func (nopPublisher) PublishSweep(ctx context.Context, deleted, purged int) error       { return nil }

type authFixture struct {
	svc      *AuthService
	kv       *store.MemoryStore
	accounts *accountsrepo.MemoryRepository
	key      *ecdsa.PrivateKey
	address  string
}

func newAuthFixture(t *testing.T, cfg Config) *authFixture {
	t.Helper()

	if cfg.Domain == "" {
		cfg.Domain = "example.com"
	}
	if cfg.URI == "" {
		cfg.URI = "https://example.com"
	}

	signKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	walletKey, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	kv := store.NewMemoryStore()
	repo := accountsrepo.NewMemoryRepository()
	svc := NewAuthService(kv, repo, tokenizer.NewJWTTokenizer(signKey), nopPublisher{}, slog.Default(), cfg)

	return &authFixture{
		svc:      svc,
		kv:       kv,
		accounts: repo,
		key:      walletKey,
		address:  ethcrypto.PubkeyToAddress(walletKey.PublicKey).Hex(),
	}
}

// obtainSigned requests a challenge and signs its message with the fixture
// wallet key, returning the message and signature ready for Authenticate.
func (f *authFixture) obtainSigned(t *testing.T, origin string) (string, string) {
	t.Helper()
	grant, err := f.svc.CreateChallenge(context.Background(), f.address, origin)
	require.NoError(t, err)
	return grant.Message, f.sign(t, grant.Message)
}

func (f *authFixture) sign(t *testing.T, message string) string {
	t.Helper()
	sig, err := ethcrypto.Sign(accounts.TextHash([]byte(message)), f.key)
	require.NoError(t, err)
	sig[ethcrypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

func TestAuthenticateEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, Config{})

	message, signature := f.obtainSigned(t, "1.2.3.4")

	pair, err := f.svc.Authenticate(ctx, f.address, message, signature, "1.2.3.4")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	// The account is now verified.
	normalized, err := core.NormalizeAddress(f.address)
	require.NoError(t, err)
	account, err := f.accounts.Find(ctx, normalized)
	require.NoError(t, err)
	assert.True(t, account.Verified)

	// The consumed challenge is no longer active.
	_, err = f.svc.Nonces().Active(ctx, normalized)
	assert.ErrorIs(t, err, core.ErrNonceReused)

	// Replaying the identical message and signature is reported as reuse.
	_, err = f.svc.Authenticate(ctx, f.address, message, signature, "1.2.3.4")
	assert.ErrorIs(t, err, core.ErrNonceReused)

	// And the session token round-trips.
	session, err := f.svc.ValidateAccessToken(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, normalized, session.Address)
}

func TestAuthenticateReplayAfterFailure(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, Config{})

	message, _ := f.obtainSigned(t, "1.2.3.4")

	// A garbage signature consumes the challenge before failing.
	_, err := f.svc.Authenticate(ctx, f.address, message, "0x"+hexutil.Encode(make([]byte, 65))[2:], "1.2.3.4")
	assert.ErrorIs(t, err, core.ErrSignatureInvalid)

	// A correct retry on the same challenge is refused: one shot per
	// challenge, a fresh one must be requested.
	_, err = f.svc.Authenticate(ctx, f.address, message, f.sign(t, message), "1.2.3.4")
	assert.ErrorIs(t, err, core.ErrNonceReused)
}

func TestAuthenticateConcurrentSubmissions(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, Config{
		// Generous windows so the limiter is not what rejects.
		OriginRule:   ratelimit.Rule{Limit: 100, Window: time.Minute},
		IdentityRule: ratelimit.Rule{Limit: 100, Window: time.Minute},
	})

	message, signature := f.obtainSigned(t, "1.2.3.4")

	const callers = 16
	var wg sync.WaitGroup
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Authenticate(ctx, f.address, message, signature, "1.2.3.4")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, core.ErrNonceReused)
		}
	}
	assert.Equal(t, 1, wins, "exactly one of the simultaneous submissions succeeds")
}

func TestAuthenticateWrongSigner(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, Config{})

	message, _ := f.obtainSigned(t, "1.2.3.4")

	intruder, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	sig, err := ethcrypto.Sign(accounts.TextHash([]byte(message)), intruder)
	require.NoError(t, err)
	sig[ethcrypto.RecoveryIDOffset] += 27

	_, err = f.svc.Authenticate(ctx, f.address, message, hexutil.Encode(sig), "1.2.3.4")
	assert.ErrorIs(t, err, core.ErrSignatureInvalid)
}

func TestAuthenticateDomainMismatch(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, Config{})

	grant, err := f.svc.CreateChallenge(ctx, f.address, "1.2.3.4")
	require.NoError(t, err)

	// A message signed for another site, embedding the right nonce.
	forged := "evil.example.org wants you to sign in with your Ethereum account:\n" +
		f.address + "\n" +
		"\nURI: https://evil.example.org\n" +
		"Version: 1\n" +
		"Chain ID: 1\n" +
		"Nonce: " + grant.Nonce + "\n" +
		"Issued At: " + time.Now().UTC().Format(time.RFC3339)

	_, err = f.svc.Authenticate(ctx, f.address, forged, f.sign(t, forged), "1.2.3.4")
	assert.ErrorIs(t, err, core.ErrDomainMismatch)
}

func TestAuthenticateRateLimited(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, Config{
		IdentityRule: ratelimit.Rule{Limit: 1, Window: time.Minute},
	})

	// First attempt consumes the identity window (and fails on the
	// missing challenge), the second is denied outright.
	_, err := f.svc.Authenticate(ctx, f.address, "x", "0x00", "1.2.3.4")
	assert.ErrorIs(t, err, core.ErrNonceExpired)

	_, err = f.svc.Authenticate(ctx, f.address, "x", "0x00", "5.6.7.8")
	assert.ErrorIs(t, err, core.ErrRateLimited)

	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Greater(t, rle.RetryAfter, time.Duration(0))
}

func TestAuthenticateSuccessResetsIdentityWindow(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, Config{
		IdentityRule: ratelimit.Rule{Limit: 2, Window: time.Hour},
	})

	message, signature := f.obtainSigned(t, "1.2.3.4")
	_, err := f.svc.Authenticate(ctx, f.address, message, signature, "1.2.3.4")
	require.NoError(t, err)

	// The success cleared the window early: two fresh attempts fit again
	// without waiting out the hour.
	_, err = f.svc.Authenticate(ctx, f.address, "x", "0x00", "1.2.3.4")
	assert.ErrorIs(t, err, core.ErrNonceExpired)
	_, err = f.svc.Authenticate(ctx, f.address, "x", "0x00", "1.2.3.4")
	assert.ErrorIs(t, err, core.ErrNonceExpired)
	_, err = f.svc.Authenticate(ctx, f.address, "x", "0x00", "1.2.3.4")
	assert.ErrorIs(t, err, core.ErrRateLimited)
}

func TestCreateChallengeRateLimited(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, Config{
		OriginIdentityRule: ratelimit.Rule{Limit: 2, Window: time.Minute},
	})

	for i := 0; i < 2; i++ {
		_, err := f.svc.CreateChallenge(ctx, f.address, "1.2.3.4")
		require.NoError(t, err)
	}

	_, err := f.svc.CreateChallenge(ctx, f.address, "1.2.3.4")
	assert.ErrorIs(t, err, core.ErrRateLimited)

	// The same origin can still serve a different identity.
	other, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	_, err = f.svc.CreateChallenge(ctx, ethcrypto.PubkeyToAddress(other.PublicKey).Hex(), "1.2.3.4")
	assert.NoError(t, err)
}

func TestCreateChallengeRotation(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, Config{})

	first, err := f.svc.CreateChallenge(ctx, f.address, "1.2.3.4")
	require.NoError(t, err)
	second, err := f.svc.CreateChallenge(ctx, f.address, "1.2.3.4")
	require.NoError(t, err)
	require.NotEqual(t, first.Nonce, second.Nonce)

	// Only the second message still authenticates.
	_, err = f.svc.Authenticate(ctx, f.address, first.Message, f.sign(t, first.Message), "1.2.3.4")
	assert.ErrorIs(t, err, core.ErrNonceMismatch)

	second, err = f.svc.CreateChallenge(ctx, f.address, "1.2.3.4")
	require.NoError(t, err)
	_, err = f.svc.Authenticate(ctx, f.address, second.Message, f.sign(t, second.Message), "1.2.3.4")
	assert.NoError(t, err)
}

func TestCreateChallengeInvalidAddress(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, Config{})

	_, err := f.svc.CreateChallenge(ctx, "not-an-address", "1.2.3.4")
	assert.ErrorIs(t, err, core.ErrInvalidAddress)
}

func TestRefreshRotation(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, Config{})

	message, signature := f.obtainSigned(t, "1.2.3.4")
	pair, err := f.svc.Authenticate(ctx, f.address, message, signature, "1.2.3.4")
	require.NoError(t, err)

	rotated, err := f.svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	// The old refresh token is revoked after rotation.
	_, err = f.svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, core.ErrTokenInvalidated)
}

func TestLogoutRevokesSession(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, Config{})

	message, signature := f.obtainSigned(t, "1.2.3.4")
	pair, err := f.svc.Authenticate(ctx, f.address, message, signature, "1.2.3.4")
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, pair.RefreshToken))

	_, err = f.svc.ValidateAccessToken(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, core.ErrTokenInvalidated)
	_, err = f.svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, core.ErrTokenInvalidated)
}
