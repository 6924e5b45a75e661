package event

import "github.com/ethereum/go-ethereum/common"

// Deposit credits an identity from outside the ledger. Funds events are
// operator-injected, carry no caller nonce and are timestamped at ingress.
type Deposit struct {
	DepositID string         `json:"deposit_id"`
	Identity  common.Address `json:"identity"`
	Asset     string         `json:"asset"`
	Amount    int64          `json:"amount"`
	Timestamp int64          `json:"timestamp"`
}

func (d *Deposit) IdempotencyKey() string {
	return d.DepositID
}

func (d *Deposit) EventType() EventType {
	return EventTypeDeposit
}

func (d *Deposit) CallerID() common.Address {
	return d.Identity
}

func (d *Deposit) Partition() string {
	return ""
}

func (d *Deposit) SourceSequence() int64 {
	return -1
}

func (d *Deposit) RequestTime() int64 {
	return d.Timestamp
}
