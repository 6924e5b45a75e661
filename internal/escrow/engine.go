package escrow

import (
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
)

// Op identifies an engine operation.
type Op uint8

const (
	OpCreate Op = iota + 1
	OpFund
	OpComplete
	OpCancel
	OpRefundAfterExpiry
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpFund:
		return "fund"
	case OpComplete:
		return "complete"
	case OpCancel:
		return "cancel"
	case OpRefundAfterExpiry:
		return "refund"
	default:
		return "unknown"
	}
}

// Direction of a value movement relative to the record's custody address.
type Direction uint8

const (
	// DirectionIn moves value from a party into custody.
	DirectionIn Direction = iota + 1
	// DirectionOut moves value from custody to a party.
	DirectionOut
)

// Movement is one leg the custody ledger must apply. All movements of a
// Transition are applied as a single atomic batch or not at all.
type Movement struct {
	Direction Direction
	Party     common.Address
	Amount    int64
}

// Transition is the accepted outcome of an operation.
type Transition struct {
	Op        Op
	Address   Address
	Before    *Record // nil for create
	After     *Record
	Movements []Movement
}

// NetChange returns the custody balance delta the movements produce.
func (t *Transition) NetChange() int64 {
	var net int64
	for _, m := range t.Movements {
		if m.Direction == DirectionIn {
			net += m.Amount
		} else {
			net -= m.Amount
		}
	}
	return net
}

// CreateParams are the maker-chosen terms of a new escrow.
type CreateParams struct {
	ID             uint64
	OfferedAmount  int64
	ExpectedAmount int64
	ExpiryTime     int64
	Taker          common.Address
}

// Create opens a record for caller as maker. existing is whatever the custody
// ledger holds at DeriveAddress(caller, p.ID), or nil.
func Create(existing *Record, caller common.Address, p CreateParams, now int64) (*Transition, error) {
	if p.OfferedAmount <= 0 {
		return nil, fmt.Errorf("%w: offered amount %d", ErrInvalidAmount, p.OfferedAmount)
	}
	if p.ExpectedAmount <= 0 {
		return nil, fmt.Errorf("%w: expected amount %d", ErrInvalidAmount, p.ExpectedAmount)
	}
	// Custody peaks at offered + expected, which must stay representable.
	if p.OfferedAmount > math.MaxInt64-p.ExpectedAmount {
		return nil, fmt.Errorf("%w: offered %d plus expected %d overflows", ErrInvalidAmount, p.OfferedAmount, p.ExpectedAmount)
	}
	if p.ExpiryTime <= now {
		return nil, fmt.Errorf("%w: expiry %d not after %d", ErrInvalidExpiry, p.ExpiryTime, now)
	}
	if existing != nil && existing.Active {
		return nil, fmt.Errorf("%w: maker %s id %d", ErrRecordCollision, caller.Hex(), p.ID)
	}

	rec := &Record{
		ID:              p.ID,
		Maker:           caller,
		DesignatedTaker: p.Taker,
		OfferedAmount:   p.OfferedAmount,
		ExpectedAmount:  p.ExpectedAmount,
		Active:          true,
		ExpiryTime:      p.ExpiryTime,
		CreatedAt:       now,
		Outcome:         OutcomeOpen,
	}
	return &Transition{
		Op:      OpCreate,
		Address: rec.Address(),
		After:   rec,
		Movements: []Movement{
			{Direction: DirectionIn, Party: caller, Amount: rec.OfferedAmount},
		},
	}, nil
}

// Fund deposits the expected amount from the designated taker.
func Fund(rec *Record, caller common.Address, now int64) (*Transition, error) {
	if rec == nil {
		return nil, ErrNotFound
	}
	if caller != rec.DesignatedTaker {
		return nil, fmt.Errorf("%w: fund requires designated taker", ErrUnauthorized)
	}
	if !rec.Active {
		return nil, fmt.Errorf("%w: record inactive", ErrWrongState)
	}
	if rec.Funded {
		return nil, fmt.Errorf("%w: already funded", ErrWrongState)
	}
	if now >= rec.ExpiryTime {
		return nil, fmt.Errorf("%w: at %d, expiry %d", ErrExpired, now, rec.ExpiryTime)
	}

	next := rec.Clone()
	taker := caller
	next.Taker = &taker
	next.Funded = true
	next.FundedAt = now
	return &Transition{
		Op:      OpFund,
		Address: rec.Address(),
		Before:  rec.Clone(),
		After:   next,
		Movements: []Movement{
			{Direction: DirectionIn, Party: caller, Amount: rec.ExpectedAmount},
		},
	}, nil
}

// Complete swaps custody: the expected amount goes to the maker and the
// offered amount to the taker, in one batch.
func Complete(rec *Record, caller common.Address, now int64) (*Transition, error) {
	if rec == nil {
		return nil, ErrNotFound
	}
	// The taker role only exists once funding has happened.
	if rec.Taker == nil {
		return nil, fmt.Errorf("%w: not funded", ErrWrongState)
	}
	if caller != *rec.Taker {
		return nil, fmt.Errorf("%w: complete requires taker", ErrUnauthorized)
	}
	if !rec.Active {
		return nil, fmt.Errorf("%w: record inactive", ErrWrongState)
	}
	if !rec.Funded {
		return nil, fmt.Errorf("%w: not funded", ErrWrongState)
	}

	next := rec.Clone()
	next.Completed = true
	next.Active = false
	next.Funded = false
	next.ClosedAt = now
	next.Outcome = OutcomeCompleted
	return &Transition{
		Op:      OpComplete,
		Address: rec.Address(),
		Before:  rec.Clone(),
		After:   next,
		Movements: []Movement{
			{Direction: DirectionOut, Party: rec.Maker, Amount: rec.ExpectedAmount},
			{Direction: DirectionOut, Party: *rec.Taker, Amount: rec.OfferedAmount},
		},
	}, nil
}

// Cancel returns the offered amount of an unfunded record to its maker.
func Cancel(rec *Record, caller common.Address, now int64) (*Transition, error) {
	if rec == nil {
		return nil, ErrNotFound
	}
	if caller != rec.Maker {
		return nil, fmt.Errorf("%w: cancel requires maker", ErrUnauthorized)
	}
	if err := requireOpenUnfunded(rec); err != nil {
		return nil, err
	}
	return closeToMaker(rec, OpCancel, OutcomeCancelled, now), nil
}

// RefundAfterExpiry is Cancel gated on expiry having been reached.
func RefundAfterExpiry(rec *Record, caller common.Address, now int64) (*Transition, error) {
	if rec == nil {
		return nil, ErrNotFound
	}
	if caller != rec.Maker {
		return nil, fmt.Errorf("%w: refund requires maker", ErrUnauthorized)
	}
	if err := requireOpenUnfunded(rec); err != nil {
		return nil, err
	}
	if now < rec.ExpiryTime {
		return nil, fmt.Errorf("%w: at %d, expiry %d", ErrNotYetExpired, now, rec.ExpiryTime)
	}
	return closeToMaker(rec, OpRefundAfterExpiry, OutcomeRefunded, now), nil
}

func requireOpenUnfunded(rec *Record) error {
	if !rec.Active {
		return fmt.Errorf("%w: record inactive", ErrWrongState)
	}
	// TODO: a funded record whose taker never completes has no exit path; revisit
	// once a mutual-abort operation is agreed with product.
	if rec.Funded {
		return fmt.Errorf("%w: already funded", ErrWrongState)
	}
	return nil
}

func closeToMaker(rec *Record, op Op, outcome Outcome, now int64) *Transition {
	next := rec.Clone()
	next.Active = false
	next.ClosedAt = now
	next.Outcome = outcome
	return &Transition{
		Op:      op,
		Address: rec.Address(),
		Before:  rec.Clone(),
		After:   next,
		Movements: []Movement{
			{Direction: DirectionOut, Party: rec.Maker, Amount: rec.OfferedAmount},
		},
	}
}
