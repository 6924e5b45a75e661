package ledger

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInsufficientBalance is returned when a batch would drive an identity or
	// escrow account below zero. External boundary accounts may go negative.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	// ErrBalanceOverflow is returned when a batch would carry any account
	// outside the int64 range.
	ErrBalanceOverflow = errors.New("ledger: balance overflow")
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// CheckBatch reports whether the batch is well-formed and covered. It never
// mutates balances.
func (bt *BalanceTracker) CheckBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}
	deltas, err := batch.CheckedNetChanges()
	if err != nil {
		return err
	}
	for key, delta := range deltas {
		have := bt.balances[key]
		after, ok := addInt64(have, delta)
		if !ok {
			return fmt.Errorf("%w: %s have=%d, delta=%d", ErrBalanceOverflow, key.AccountPath(), have, delta)
		}
		if key.Scope != AccountScopeExternal && after < 0 {
			return fmt.Errorf("%w: %s have=%d, need=%d", ErrInsufficientBalance, key.AccountPath(), have, -delta)
		}
	}
	return nil
}

// addInt64 returns a+b and false when the sum wraps.
func addInt64(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}

// ApplyBatch applies all journals in a batch, or none of them
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := bt.CheckBatch(batch); err != nil {
		return err
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// SetBalance overwrites one balance. Only snapshot restore uses it.
func (bt *BalanceTracker) SetBalance(key AccountKey, amount int64) {
	if amount == 0 {
		delete(bt.balances, key)
		return
	}
	bt.balances[key] = amount
}

// GetIdentityBalance returns the spendable balance of an identity
func (bt *BalanceTracker) GetIdentityBalance(id common.Address, assetID AssetID) int64 {
	return bt.GetBalance(NewIdentityAccountKey(id, assetID))
}

// GetCustodyBalance returns the value held at an escrow address
func (bt *BalanceTracker) GetCustodyBalance(addr [32]byte, assetID AssetID) int64 {
	return bt.GetBalance(NewEscrowAccountKey(addr, assetID))
}

// ValidateSufficientAvailable checks if an identity can pay amount
func (bt *BalanceTracker) ValidateSufficientAvailable(id common.Address, assetID AssetID, required int64) error {
	available := bt.GetIdentityBalance(id, assetID)
	if available < required {
		return fmt.Errorf("%w: have=%d, need=%d", ErrInsufficientBalance, available, required)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)

	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}

	return totals
}

// TotalCustody sums every escrow custody balance for an asset.
func (bt *BalanceTracker) TotalCustody(assetID AssetID) int64 {
	var total int64
	for key, balance := range bt.balances {
		if key.Scope == AccountScopeEscrow && key.AssetID == assetID {
			total += balance
		}
	}
	return total
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}
