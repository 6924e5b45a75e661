package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"EscrowLedger/internal/event"

	"github.com/ethereum/go-ethereum/common"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a
// typed event.Event stamped with the message's receive time. Escrow operations
// must carry a valid caller signature; funds events are authenticated by the
// Dispatcher before they get here.
func ParseRawEvent(raw RawEvent, eventType string, clock *IngressClock) (event.Event, error) {
	switch et := event.ParseEventType(eventType); et {
	case event.EventTypeEscrowCreate,
		event.EventTypeEscrowFund,
		event.EventTypeEscrowComplete,
		event.EventTypeEscrowCancel,
		event.EventTypeEscrowRefund:
		var req OperationRequest
		if err := json.Unmarshal(raw.Data, &req); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", ErrMalformed, eventType, err)
		}
		if req.Op == "" {
			req.Op = OpName(et)
		}
		if req.Op != OpName(et) {
			return nil, fmt.Errorf("%w: parse %s: op %q does not match subject", ErrMalformed, eventType, req.Op)
		}
		return ParseOperation(&req, clock, raw.Timestamp)
	case event.EventTypeDeposit:
		return parseDeposit(raw.Data, raw.Timestamp.Unix())
	case event.EventTypeWithdrawal:
		return parseWithdrawal(raw.Data, raw.Timestamp.Unix())
	default:
		return nil, fmt.Errorf("%w: unknown event type: %s", ErrMalformed, eventType)
	}
}

// OpName is the wire name of an escrow operation.
func OpName(et event.EventType) string {
	switch et {
	case event.EventTypeEscrowCreate:
		return "create"
	case event.EventTypeEscrowFund:
		return "fund"
	case event.EventTypeEscrowComplete:
		return "complete"
	case event.EventTypeEscrowCancel:
		return "cancel"
	case event.EventTypeEscrowRefund:
		return "refund"
	}
	return ""
}

// ParseOperation verifies the request signature and builds the typed command.
// The command's caller is the recovered signer and its time is the receive
// time, provided the signed timestamp is within the clock's skew window.
func ParseOperation(req *OperationRequest, clock *IngressClock, received time.Time) (event.Event, error) {
	if req.RequestID == "" {
		return nil, fmt.Errorf("%w: parse %s: request_id required", ErrMalformed, req.Op)
	}
	if req.Nonce < 0 {
		return nil, fmt.Errorf("%w: parse %s: negative nonce", ErrMalformed, req.Op)
	}

	caller, err := req.VerifyCaller()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", req.Op, err)
	}
	at, err := clock.Admit(req.Timestamp, received)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", req.Op, err)
	}

	header := event.Header{
		RequestID: req.RequestID,
		Caller:    caller,
		Nonce:     req.Nonce,
		Timestamp: at,
	}

	switch req.Op {
	case "create":
		taker, err := parseAddress("taker", req.Taker)
		if err != nil {
			return nil, err
		}
		return &event.CreateEscrow{
			Header:         header,
			ID:             req.ID,
			OfferedAmount:  req.OfferedAmount,
			ExpectedAmount: req.ExpectedAmount,
			ExpiryTime:     req.ExpiryTime,
			Taker:          taker,
		}, nil
	case "fund":
		maker, err := parseAddress("maker", req.Maker)
		if err != nil {
			return nil, err
		}
		return &event.FundEscrow{Header: header, Maker: maker, ID: req.ID}, nil
	case "complete":
		maker, err := parseAddress("maker", req.Maker)
		if err != nil {
			return nil, err
		}
		return &event.CompleteEscrow{Header: header, Maker: maker, ID: req.ID}, nil
	case "cancel":
		return &event.CancelEscrow{Header: header, ID: req.ID}, nil
	case "refund":
		return &event.RefundEscrow{Header: header, ID: req.ID}, nil
	}
	return nil, fmt.Errorf("%w: unknown op %q", ErrMalformed, req.Op)
}

func parseAddress(field, s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: parse %s: invalid address %q", ErrMalformed, field, s)
	}
	return common.HexToAddress(s), nil
}

// --- JSON wire formats ---
// Funds events come from the operator bridge. Field names use snake_case to
// match upstream producers. Any timestamp the bridge sends is ignored.

type depositJSON struct {
	DepositID string `json:"deposit_id"`
	Identity  string `json:"identity"`
	Asset     string `json:"asset"`
	Amount    int64  `json:"amount"`
}

func parseDeposit(data []byte, at int64) (*event.Deposit, error) {
	var j depositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("%w: parse Deposit: %v", ErrMalformed, err)
	}
	if j.DepositID == "" {
		return nil, fmt.Errorf("%w: parse Deposit: deposit_id required", ErrMalformed)
	}
	id, err := parseAddress("identity", j.Identity)
	if err != nil {
		return nil, err
	}
	if j.Amount <= 0 {
		return nil, fmt.Errorf("%w: parse Deposit: amount must be positive: %d", ErrMalformed, j.Amount)
	}
	return &event.Deposit{
		DepositID: j.DepositID,
		Identity:  id,
		Asset:     strings.ToUpper(j.Asset),
		Amount:    j.Amount,
		Timestamp: at,
	}, nil
}

type withdrawalJSON struct {
	WithdrawalID string `json:"withdrawal_id"`
	Identity     string `json:"identity"`
	Asset        string `json:"asset"`
	Amount       int64  `json:"amount"`
}

func parseWithdrawal(data []byte, at int64) (*event.Withdrawal, error) {
	var j withdrawalJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("%w: parse Withdrawal: %v", ErrMalformed, err)
	}
	if j.WithdrawalID == "" {
		return nil, fmt.Errorf("%w: parse Withdrawal: withdrawal_id required", ErrMalformed)
	}
	id, err := parseAddress("identity", j.Identity)
	if err != nil {
		return nil, err
	}
	if j.Amount <= 0 {
		return nil, fmt.Errorf("%w: parse Withdrawal: amount must be positive: %d", ErrMalformed, j.Amount)
	}
	return &event.Withdrawal{
		WithdrawalID: j.WithdrawalID,
		Identity:     id,
		Asset:        strings.ToUpper(j.Asset),
		Amount:       j.Amount,
		Timestamp:    at,
	}, nil
}
