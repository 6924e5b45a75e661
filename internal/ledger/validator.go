package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateCustody verifies an escrow address holds exactly what its record
// requires.
func (v *InvariantValidator) ValidateCustody(addr [32]byte, assetID AssetID, expected int64) error {
	held := v.tracker.GetCustodyBalance(addr, assetID)
	if held != expected {
		return fmt.Errorf("custody %s holds %d, record requires %d",
			NewEscrowAccountKey(addr, assetID).AccountPath(), held, expected)
	}
	return nil
}

// ValidateNoNegativeBalances checks every identity and escrow account is >= 0
func (v *InvariantValidator) ValidateNoNegativeBalances() error {
	for key, balance := range v.tracker.balances {
		if key.Scope == AccountScopeExternal {
			continue
		}
		if balance < 0 {
			return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
		}
	}
	return nil
}

// ValidateGlobalBalance verifies system is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}
