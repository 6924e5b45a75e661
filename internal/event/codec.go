package event

import (
	"encoding/json"
	"fmt"
)

// Marshal encodes a command for the envelope payload.
func Marshal(evt Event) ([]byte, error) {
	return json.Marshal(evt)
}

// Unmarshal rebuilds a command from an envelope payload during replay.
func Unmarshal(et EventType, payload []byte) (Event, error) {
	var evt Event
	switch et {
	case EventTypeEscrowCreate:
		evt = &CreateEscrow{}
	case EventTypeEscrowFund:
		evt = &FundEscrow{}
	case EventTypeEscrowComplete:
		evt = &CompleteEscrow{}
	case EventTypeEscrowCancel:
		evt = &CancelEscrow{}
	case EventTypeEscrowRefund:
		evt = &RefundEscrow{}
	case EventTypeDeposit:
		evt = &Deposit{}
	case EventTypeWithdrawal:
		evt = &Withdrawal{}
	default:
		return nil, fmt.Errorf("unmarshal event: unknown type %d", et)
	}
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", et, err)
	}
	return evt, nil
}
