// Package escrow implements the two-party escrow state machine.
//
// Every operation is a pure function of (record, request, caller, now) that either
// rejects with a typed error or returns a Transition: the next record state plus the
// exact value movements the custody ledger must apply atomically. Nothing in this
// package reads a clock, touches storage or holds mutable package state.
package escrow

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressSeed prefixes every derived escrow address.
const AddressSeed = "escrow"

// Address is the custody location of one escrow record.
type Address [32]byte

// DeriveAddress computes keccak256("escrow" || maker || le64(id)).
// Clients must reproduce this exactly to locate records without an index.
func DeriveAddress(maker common.Address, id uint64) Address {
	var idBuf [8]byte
	binary.LittleEndian.PutUint64(idBuf[:], id)
	return Address(crypto.Keccak256Hash([]byte(AddressSeed), maker.Bytes(), idBuf[:]))
}

// Hex returns the 0x-prefixed hex encoding.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) String() string { return a.Hex() }

// ParseAddress decodes a 0x-prefixed or bare 64 char hex string.
func ParseAddress(s string) (Address, bool) {
	var a Address
	b := common.FromHex(s)
	if len(b) != len(a) {
		return a, false
	}
	copy(a[:], b)
	return a, true
}

// Outcome records how a record left the active state.
type Outcome uint8

const (
	OutcomeOpen Outcome = iota
	OutcomeCompleted
	OutcomeCancelled
	OutcomeRefunded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOpen:
		return "open"
	case OutcomeCompleted:
		return "completed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// ParseOutcome is the inverse of Outcome.String.
func ParseOutcome(s string) (Outcome, bool) {
	switch s {
	case "open":
		return OutcomeOpen, true
	case "completed":
		return OutcomeCompleted, true
	case "cancelled":
		return OutcomeCancelled, true
	case "refunded":
		return OutcomeRefunded, true
	}
	return OutcomeOpen, false
}

// Record is the canonical in-memory escrow record. Amounts are in the ledger's
// smallest unit; times are unix seconds supplied by the custody ledger.
type Record struct {
	ID              uint64
	Maker           common.Address
	DesignatedTaker common.Address
	// Taker is nil until a fund operation succeeds.
	Taker          *common.Address
	OfferedAmount  int64
	ExpectedAmount int64
	Funded         bool
	Active         bool
	Completed      bool
	ExpiryTime     int64
	CreatedAt      int64
	FundedAt       int64
	ClosedAt       int64
	Outcome        Outcome
}

// Address returns the derived custody address of the record.
func (r *Record) Address() Address {
	return DeriveAddress(r.Maker, r.ID)
}

// Clone returns a deep copy so callers can mutate it without touching stored state.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Taker != nil {
		taker := *r.Taker
		clone.Taker = &taker
	}
	return &clone
}

// CustodyHeld is the value the custody address must hold for the record's flags.
func (r *Record) CustodyHeld() int64 {
	switch {
	case !r.Active:
		return 0
	case r.Funded:
		return r.OfferedAmount + r.ExpectedAmount
	default:
		return r.OfferedAmount
	}
}

// IsTerminal reports whether the record has been retired.
func (r *Record) IsTerminal() bool {
	return !r.Active
}
