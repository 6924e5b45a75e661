package escrow

import "errors"

var (
	ErrInvalidAmount   = errors.New("escrow: invalid amount")
	ErrInvalidExpiry   = errors.New("escrow: invalid expiry")
	ErrRecordCollision = errors.New("escrow: active record already exists")
	ErrNotFound        = errors.New("escrow: record not found")
	ErrUnauthorized    = errors.New("escrow: caller not authorized")
	ErrWrongState      = errors.New("escrow: operation not allowed in current state")
	ErrNotYetExpired   = errors.New("escrow: not yet expired")
	ErrExpired         = errors.New("escrow: expired")
)

// Kind is a stable, transport-neutral name for an engine error.
type Kind string

const (
	KindNone            Kind = ""
	KindInvalidAmount   Kind = "InvalidAmount"
	KindInvalidExpiry   Kind = "InvalidExpiry"
	KindRecordCollision Kind = "RecordCollision"
	KindNotFound        Kind = "NotFound"
	KindUnauthorized    Kind = "Unauthorized"
	KindWrongState      Kind = "WrongState"
	KindNotYetExpired   Kind = "NotYetExpired"
	KindExpired         Kind = "Expired"
	KindInternal        Kind = "Internal"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrInvalidAmount, KindInvalidAmount},
	{ErrInvalidExpiry, KindInvalidExpiry},
	{ErrRecordCollision, KindRecordCollision},
	{ErrNotFound, KindNotFound},
	{ErrUnauthorized, KindUnauthorized},
	{ErrWrongState, KindWrongState},
	{ErrNotYetExpired, KindNotYetExpired},
	{ErrExpired, KindExpired},
}

// KindOf classifies err. Errors outside the taxonomy are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
