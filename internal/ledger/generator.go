package ledger

import (
	"fmt"

	"EscrowLedger/internal/escrow"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// batchNamespace scopes derived batch and journal ids so replaying the same
// command stream yields the same ids.
var batchNamespace = uuid.MustParse("6f1c2a4e-8d0b-5e37-9a62-0c4b1f7d3e58")

// JournalGenerator creates balanced journal batches from commands
type JournalGenerator struct {
	sequence       int64
	balanceTracker *BalanceTracker
}

func NewJournalGenerator(startSequence int64, tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		sequence:       startSequence,
		balanceTracker: tracker,
	}
}

// Sequence returns the sequence the next batch will carry.
func (jg *JournalGenerator) Sequence() int64 { return jg.sequence }

// SetSequence repositions the generator after a snapshot restore.
func (jg *JournalGenerator) SetSequence(seq int64) { jg.sequence = seq }

func (jg *JournalGenerator) newBatch(eventRef string, timestamp int64, legs int) *Batch {
	batchID := uuid.NewSHA1(batchNamespace, []byte(fmt.Sprintf("%s/%d", eventRef, jg.sequence)))
	return &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, legs),
	}
}

func (jg *JournalGenerator) addLeg(b *Batch, debit, credit AccountKey, amount int64, jt JournalType) {
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.NewSHA1(b.BatchID, []byte{byte(len(b.Journals))}),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      b.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       debit.AssetID,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

// GenerateDeposit credits an identity from the external boundary. A credit
// that would overflow the identity's balance is refused.
// Moves funds: external:deposits → identity:available
func (jg *JournalGenerator) GenerateDeposit(
	eventRef string,
	id common.Address,
	amount int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("deposit amount must be positive: %d", amount)
	}
	batch := jg.newBatch(eventRef, timestamp, 1)
	jg.addLeg(batch,
		NewIdentityAccountKey(id, assetID),
		NewExternalAccountKey(SubTypeExternalDeposits, assetID),
		amount, JournalTypeDeposit)
	if err := jg.balanceTracker.CheckBatch(batch); err != nil {
		return nil, fmt.Errorf("deposit pre-check failed: %w", err)
	}
	jg.sequence++
	return batch, nil
}

// GenerateWithdrawal pays an identity's balance out across the boundary.
// Pre-check: the identity must hold at least amount.
func (jg *JournalGenerator) GenerateWithdrawal(
	eventRef string,
	id common.Address,
	amount int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("withdrawal amount must be positive: %d", amount)
	}
	if err := jg.balanceTracker.ValidateSufficientAvailable(id, assetID, amount); err != nil {
		return nil, fmt.Errorf("withdrawal pre-check failed: %w", err)
	}
	batch := jg.newBatch(eventRef, timestamp, 1)
	jg.addLeg(batch,
		NewExternalAccountKey(SubTypeExternalWithdrawals, assetID),
		NewIdentityAccountKey(id, assetID),
		amount, JournalTypeWithdrawal)
	if err := jg.balanceTracker.CheckBatch(batch); err != nil {
		return nil, fmt.Errorf("withdrawal pre-check failed: %w", err)
	}
	jg.sequence++
	return batch, nil
}

// GenerateTransition turns the movements of an accepted escrow transition into
// one batch. Pre-check: every paying account must cover its legs, so either
// all movements apply or none do.
func (jg *JournalGenerator) GenerateTransition(
	eventRef string,
	t *escrow.Transition,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	if len(t.Movements) == 0 {
		return nil, fmt.Errorf("transition %s has no movements", t.Op)
	}
	jt := journalTypeFor(t.Op)
	custody := NewEscrowAccountKey(t.Address, assetID)

	batch := jg.newBatch(eventRef, timestamp, len(t.Movements))
	for _, m := range t.Movements {
		party := NewIdentityAccountKey(m.Party, assetID)
		switch m.Direction {
		case escrow.DirectionIn:
			jg.addLeg(batch, custody, party, m.Amount, jt)
		case escrow.DirectionOut:
			jg.addLeg(batch, party, custody, m.Amount, jt)
		default:
			return nil, fmt.Errorf("transition %s: unknown direction %d", t.Op, m.Direction)
		}
	}

	if err := jg.balanceTracker.CheckBatch(batch); err != nil {
		return nil, fmt.Errorf("%s pre-check failed: %w", t.Op, err)
	}
	jg.sequence++
	return batch, nil
}

func journalTypeFor(op escrow.Op) JournalType {
	switch op {
	case escrow.OpCreate:
		return JournalTypeEscrowLock
	case escrow.OpFund:
		return JournalTypeEscrowFund
	case escrow.OpComplete:
		return JournalTypeEscrowRelease
	case escrow.OpCancel:
		return JournalTypeEscrowCancel
	default:
		return JournalTypeEscrowRefund
	}
}
