package event

import (
	"github.com/ethereum/go-ethereum/common"
)

// Header carries the fields every signed escrow command shares. Timestamp is
// the ledger time assigned at ingress, not the requester's clock.
type Header struct {
	RequestID string         `json:"request_id"`
	Caller    common.Address `json:"caller"`
	Nonce     int64          `json:"nonce"`
	Timestamp int64          `json:"timestamp"`
}

func (h *Header) IdempotencyKey() string {
	return h.RequestID
}

func (h *Header) CallerID() common.Address {
	return h.Caller
}

// Partition scopes nonces and request ids to the caller.
func (h *Header) Partition() string {
	return CallerPartition(h.Caller)
}

// CallerPartition is the nonce and dedup scope of a signed command.
func CallerPartition(caller common.Address) string {
	return "caller:" + caller.Hex()
}

func (h *Header) SourceSequence() int64 {
	return h.Nonce
}

func (h *Header) RequestTime() int64 {
	return h.Timestamp
}

// CreateEscrow opens a record with the caller as maker
type CreateEscrow struct {
	Header
	ID             uint64         `json:"id"`
	OfferedAmount  int64          `json:"offered_amount"`
	ExpectedAmount int64          `json:"expected_amount"`
	ExpiryTime     int64          `json:"expiry_time"`
	Taker          common.Address `json:"taker"`
}

func (c *CreateEscrow) EventType() EventType {
	return EventTypeEscrowCreate
}

// FundEscrow deposits the expected amount into (Maker, ID)
type FundEscrow struct {
	Header
	Maker common.Address `json:"maker"`
	ID    uint64         `json:"id"`
}

func (f *FundEscrow) EventType() EventType {
	return EventTypeEscrowFund
}

// CompleteEscrow swaps custody of a funded record
type CompleteEscrow struct {
	Header
	Maker common.Address `json:"maker"`
	ID    uint64         `json:"id"`
}

func (c *CompleteEscrow) EventType() EventType {
	return EventTypeEscrowComplete
}

// CancelEscrow retires the caller's unfunded record
type CancelEscrow struct {
	Header
	ID uint64 `json:"id"`
}

func (c *CancelEscrow) EventType() EventType {
	return EventTypeEscrowCancel
}

// RefundEscrow retires the caller's unfunded record after expiry
type RefundEscrow struct {
	Header
	ID uint64 `json:"id"`
}

func (r *RefundEscrow) EventType() EventType {
	return EventTypeEscrowRefund
}

// EscrowKey returns the (maker, id) pair a command targets.
func EscrowKey(evt Event) (maker common.Address, id uint64, ok bool) {
	switch e := evt.(type) {
	case *CreateEscrow:
		return e.Caller, e.ID, true
	case *FundEscrow:
		return e.Maker, e.ID, true
	case *CompleteEscrow:
		return e.Maker, e.ID, true
	case *CancelEscrow:
		return e.Caller, e.ID, true
	case *RefundEscrow:
		return e.Caller, e.ID, true
	}
	return common.Address{}, 0, false
}
