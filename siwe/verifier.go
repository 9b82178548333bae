package siwe

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/meridian-labs/cerberus/core"
)

// Verifier checks a signed EIP-4361 message against the server's own domain
// and chain configuration. It is pure: no side effects, a typed failure per
// gate, cheap structural checks before the single cryptographic one.
type Verifier struct {
	// Domain is the server's origin label; the message domain must equal
	// it exactly.
	Domain string

	// ChainIDs is an optional allow-list. Empty means any chain.
	ChainIDs []int64
}

// NewVerifier creates a Verifier for the given serving domain.
func NewVerifier(domain string, chainIDs ...int64) *Verifier {
	return &Verifier{Domain: domain, ChainIDs: chainIDs}
}

// Verify runs the ordered verification gates over the raw message text:
// parse, address match, chain allow-list, domain binding, validity window,
// nonce equality, and finally signature recovery. The recovery step is the
// only one with cryptographic cost and runs last. Returns the parsed
// message on success.
func (v *Verifier) Verify(raw, signature, address, nonce string, now time.Time) (*Message, error) {
	msg, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	if !core.SameAddress(msg.Address, address) {
		return nil, core.ErrAddressMismatch
	}

	if len(v.ChainIDs) > 0 {
		supported := false
		for _, id := range v.ChainIDs {
			if msg.ChainID == id {
				supported = true
				break
			}
		}
		if !supported {
			return nil, core.ErrChainUnsupported
		}
	}

	if msg.Domain != v.Domain {
		return nil, core.ErrDomainMismatch
	}

	if !msg.ExpirationTime.IsZero() && now.After(msg.ExpirationTime) {
		return nil, core.ErrMessageExpired
	}
	if !msg.NotBefore.IsZero() && now.Before(msg.NotBefore) {
		return nil, core.ErrMessageNotYetValid
	}

	if msg.Nonce != nonce {
		return nil, core.ErrNonceMismatch
	}

	if err := verifySignature(raw, signature, address); err != nil {
		return nil, err
	}

	return msg, nil
}

// verifySignature recovers the signer from an EIP-191 personal-sign
// signature over the exact message bytes and requires it to match the
// claimed address.
func verifySignature(raw, signature, address string) error {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return fmt.Errorf("signature is not valid hex: %w", core.ErrSignatureInvalid)
	}
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("signature must be %d bytes: %w", crypto.SignatureLength, core.ErrSignatureInvalid)
	}

	// Wallets produce V as 27/28; go-ethereum expects 0/1.
	recovery := make([]byte, crypto.SignatureLength)
	copy(recovery, sig)
	if recovery[crypto.RecoveryIDOffset] >= 27 {
		recovery[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(raw)), recovery)
	if err != nil {
		return fmt.Errorf("public key recovery failed: %w", core.ErrSignatureInvalid)
	}

	if !core.SameAddress(crypto.PubkeyToAddress(*pub).Hex(), address) {
		return core.ErrSignatureInvalid
	}
	return nil
}
