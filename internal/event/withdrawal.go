package event

import "github.com/ethereum/go-ethereum/common"

// Withdrawal pays an identity's available balance out of the ledger
type Withdrawal struct {
	WithdrawalID string         `json:"withdrawal_id"`
	Identity     common.Address `json:"identity"`
	Asset        string         `json:"asset"`
	Amount       int64          `json:"amount"`
	Timestamp    int64          `json:"timestamp"`
}

func (w *Withdrawal) IdempotencyKey() string {
	return w.WithdrawalID
}

func (w *Withdrawal) EventType() EventType {
	return EventTypeWithdrawal
}

func (w *Withdrawal) CallerID() common.Address {
	return w.Identity
}

func (w *Withdrawal) Partition() string {
	return ""
}

func (w *Withdrawal) SourceSequence() int64 {
	return -1
}

func (w *Withdrawal) RequestTime() int64 {
	return w.Timestamp
}
