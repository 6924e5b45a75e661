package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNonceReused means the caller already consumed this nonce.
	ErrNonceReused = errors.New("nonce already used")
	// ErrNonceGap means an earlier nonce has not been accepted yet.
	ErrNonceGap = errors.New("nonce gap")
)

// NonceValidator enforces strictly sequential nonces per caller partition.
// A nonce is only consumed once its command is accepted, so a rejected
// command can be resubmitted with the same nonce.
// Not thread-safe; only accessed from the deterministic core.
type NonceValidator struct {
	expectedNext map[string]int64 // partition -> next expected nonce
}

func NewNonceValidator() *NonceValidator {
	return &NonceValidator{
		expectedNext: make(map[string]int64),
	}
}

// Check reports whether nonce is the next one for partition. It does not
// advance the partition.
func (nv *NonceValidator) Check(partition string, nonce int64) error {
	expected := nv.expectedNext[partition]
	switch {
	case nonce < expected:
		return fmt.Errorf("%w: partition=%s, expected=%d, got=%d", ErrNonceReused, partition, expected, nonce)
	case nonce > expected:
		return fmt.Errorf("%w: partition=%s, expected=%d, got=%d", ErrNonceGap, partition, expected, nonce)
	}
	return nil
}

// Consume advances partition past nonce.
func (nv *NonceValidator) Consume(partition string, nonce int64) {
	nv.expectedNext[partition] = nonce + 1
}

// Expected returns next expected nonce for a partition
func (nv *NonceValidator) Expected(partition string) int64 {
	return nv.expectedNext[partition]
}

// Restore sets a partition's next nonce during recovery
func (nv *NonceValidator) Restore(partition string, next int64) {
	nv.expectedNext[partition] = next
}

// Partitions returns a copy of all partition positions for snapshots
func (nv *NonceValidator) Partitions() map[string]int64 {
	out := make(map[string]int64, len(nv.expectedNext))
	for k, v := range nv.expectedNext {
		out[k] = v
	}
	return out
}
