package ingestion

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrMissingSignature means an escrow operation arrived unsigned.
	ErrMissingSignature = errors.New("signature required")
	// ErrBadSignature means the signature could not be decoded or recovered.
	ErrBadSignature = errors.New("invalid signature")
	// ErrSignerMismatch means the signature recovers to someone other than the claimed caller.
	ErrSignerMismatch = errors.New("signature does not match caller")
	// ErrMalformed means a request failed field validation before reaching the core.
	ErrMalformed = errors.New("malformed request")
)

// OperationRequest is the signed wire form shared by every escrow operation.
// Fields an operation does not use are left zero and still covered by the digest.
type OperationRequest struct {
	Op             string `json:"op"`
	RequestID      string `json:"request_id"`
	Caller         string `json:"caller"`
	Nonce          int64  `json:"nonce"`
	Timestamp      int64  `json:"timestamp"`
	Maker          string `json:"maker,omitempty"`
	ID             uint64 `json:"id"`
	OfferedAmount  int64  `json:"offered_amount,omitempty"`
	ExpectedAmount int64  `json:"expected_amount,omitempty"`
	ExpiryTime     int64  `json:"expiry_time,omitempty"`
	Taker          string `json:"taker,omitempty"`
	Signature      string `json:"signature"`
}

func normalizeIdentity(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return strings.ToLower(common.HexToAddress(s).Hex())
}

// Digest is keccak256 over the canonical pipe-joined request fields.
// Identities are lower-cased so checksum casing does not change the digest.
func (r *OperationRequest) Digest() []byte {
	payload := fmt.Sprintf("escrow|%s|%s|%s|%d|%d|%s|%d|%d|%d|%d|%s",
		r.Op,
		r.RequestID,
		normalizeIdentity(r.Caller),
		r.Nonce,
		r.Timestamp,
		normalizeIdentity(r.Maker),
		r.ID,
		r.OfferedAmount,
		r.ExpectedAmount,
		r.ExpiryTime,
		normalizeIdentity(r.Taker),
	)
	return ethcrypto.Keccak256([]byte(payload))
}

// Sign fills Signature with a 65 byte recoverable secp256k1 signature.
func (r *OperationRequest) Sign(key *ecdsa.PrivateKey) error {
	sig, err := ethcrypto.Sign(r.Digest(), key)
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	r.Signature = "0x" + hex.EncodeToString(sig)
	return nil
}

// VerifyCaller recovers the signer and checks it is the claimed caller.
func (r *OperationRequest) VerifyCaller() (common.Address, error) {
	if r.Signature == "" {
		return common.Address{}, ErrMissingSignature
	}
	if !common.IsHexAddress(r.Caller) {
		return common.Address{}, fmt.Errorf("%w: invalid caller %q", ErrMalformed, r.Caller)
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(r.Signature), "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("%w: signature must be 65 bytes", ErrBadSignature)
	}

	pub, err := ethcrypto.SigToPub(r.Digest(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	recovered := ethcrypto.PubkeyToAddress(*pub)
	claimed := common.HexToAddress(r.Caller)
	if recovered != claimed {
		return common.Address{}, fmt.Errorf("%w: claimed %s, recovered %s", ErrSignerMismatch, claimed.Hex(), recovered.Hex())
	}
	return recovered, nil
}
