package event

import (
	"github.com/ethereum/go-ethereum/common"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeEscrowCreate
	EventTypeEscrowFund
	EventTypeEscrowComplete
	EventTypeEscrowCancel
	EventTypeEscrowRefund
	EventTypeDeposit
	EventTypeWithdrawal
)

// EventEnvelope wraps every accepted command in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Identity the command acted for
	Caller common.Address

	// Derived escrow address (nil for funds events)
	EscrowAddress *[32]byte

	// Ledger clock after clamping, unix seconds (NOT wall-clock)
	Timestamp int64

	// Caller nonce, -1 for funds events
	SourceSequence int64

	// JSON-encoded command, see Marshal
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all command payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// CallerID returns the identity the command acts for
	CallerID() common.Address

	// Partition returns the nonce partition, empty when unsequenced. It also
	// scopes the idempotency key.
	Partition() string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64

	// RequestTime returns the time assigned at ingress, unix seconds
	RequestTime() int64
}

// DedupScope is the Partition of the command the envelope wraps. Funds
// events share the global scope.
func (e *EventEnvelope) DedupScope() string {
	switch e.EventType {
	case EventTypeDeposit, EventTypeWithdrawal:
		return ""
	}
	return CallerPartition(e.Caller)
}

func (et EventType) String() string {
	switch et {
	case EventTypeEscrowCreate:
		return "EscrowCreate"
	case EventTypeEscrowFund:
		return "EscrowFund"
	case EventTypeEscrowComplete:
		return "EscrowComplete"
	case EventTypeEscrowCancel:
		return "EscrowCancel"
	case EventTypeEscrowRefund:
		return "EscrowRefund"
	case EventTypeDeposit:
		return "Deposit"
	case EventTypeWithdrawal:
		return "Withdrawal"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of EventType.String.
func ParseEventType(s string) EventType {
	for et := EventTypeEscrowCreate; et <= EventTypeWithdrawal; et++ {
		if et.String() == s {
			return et
		}
	}
	return EventTypeUnknown
}
