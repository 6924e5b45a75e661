package escrow

import "github.com/ethereum/go-ethereum/common"

// Event type names, one per accepted operation.
const (
	EventCreated   = "escrow.created"
	EventFunded    = "escrow.funded"
	EventCompleted = "escrow.completed"
	EventCancelled = "escrow.cancelled"
	EventRefunded  = "escrow.refunded"
)

// Event is the public notification for an accepted transition.
type Event struct {
	Type      string         `json:"type"`
	Address   string         `json:"address"`
	ID        uint64         `json:"id"`
	Maker     common.Address `json:"maker"`
	Taker     common.Address `json:"taker"`
	Offered   int64          `json:"offered_amount"`
	Expected  int64          `json:"expected_amount"`
	Expiry    int64          `json:"expiry_time,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// EventFor builds the event describing t at time now. The taker field carries
// the realized taker when one exists, otherwise the designated taker.
func EventFor(t *Transition, now int64) Event {
	rec := t.After
	ev := Event{
		Address:   t.Address.Hex(),
		ID:        rec.ID,
		Maker:     rec.Maker,
		Taker:     rec.DesignatedTaker,
		Offered:   rec.OfferedAmount,
		Expected:  rec.ExpectedAmount,
		Timestamp: now,
	}
	if rec.Taker != nil {
		ev.Taker = *rec.Taker
	}
	switch t.Op {
	case OpCreate:
		ev.Type = EventCreated
		ev.Expiry = rec.ExpiryTime
	case OpFund:
		ev.Type = EventFunded
	case OpComplete:
		ev.Type = EventCompleted
	case OpCancel:
		ev.Type = EventCancelled
	case OpRefundAfterExpiry:
		ev.Type = EventRefunded
	}
	return ev
}
