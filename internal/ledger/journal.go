package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeWithdrawal
	JournalTypeEscrowLock
	JournalTypeEscrowFund
	JournalTypeEscrowRelease
	JournalTypeEscrowCancel
	JournalTypeEscrowRefund
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypeWithdrawal:
		return "withdrawal"
	case JournalTypeEscrowLock:
		return "escrow_lock"
	case JournalTypeEscrowFund:
		return "escrow_fund"
	case JournalTypeEscrowRelease:
		return "escrow_release"
	case JournalTypeEscrowCancel:
		return "escrow_cancel"
	case JournalTypeEscrowRefund:
		return "escrow_refund"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Derived from batch id and leg index
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Idempotency key of source command
	Sequence      int64       // Global event sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        int64       // Smallest unit, always positive
	JournalType   JournalType // Entry type
	Timestamp     int64       // Ledger clock, unix seconds
}

// Batch represents a balanced set of journal entries applied atomically
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed. Each journal moves one positive
// amount from its credit account to its debit account, so every entry and
// therefore the whole batch is balanced by construction.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s mixes assets", j.JournalID)
		}
	}

	return nil
}

// NetChanges returns the balance delta the batch produces on each account.
func (b *Batch) NetChanges() map[AccountKey]int64 {
	out := make(map[AccountKey]int64)
	for _, j := range b.Journals {
		out[j.DebitAccount] += j.Amount
		out[j.CreditAccount] -= j.Amount
	}
	return out
}

// CheckedNetChanges is NetChanges with ErrBalanceOverflow when an account's
// delta does not fit in an int64.
func (b *Batch) CheckedNetChanges() (map[AccountKey]int64, error) {
	out := make(map[AccountKey]int64)
	for _, j := range b.Journals {
		debit, ok := addInt64(out[j.DebitAccount], j.Amount)
		if !ok {
			return nil, fmt.Errorf("%w: %s delta", ErrBalanceOverflow, j.DebitAccount.AccountPath())
		}
		credit, ok := addInt64(out[j.CreditAccount], -j.Amount)
		if !ok {
			return nil, fmt.Errorf("%w: %s delta", ErrBalanceOverflow, j.CreditAccount.AccountPath())
		}
		out[j.DebitAccount] = debit
		out[j.CreditAccount] = credit
	}
	return out, nil
}
