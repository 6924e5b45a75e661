package state

import (
	"EscrowLedger/internal/escrow"
)

// CanonicalRecordBytes is the deterministic serialization of a record used in
// the state digest. Layout is fixed; append new fields at the end only.
func CanonicalRecordBytes(r *escrow.Record) []byte {
	buf := make([]byte, 0, 160)

	addr := r.Address()
	buf = append(buf, addr[:]...)
	buf = appendInt64LE(buf, int64(r.ID))
	buf = append(buf, r.Maker.Bytes()...)
	buf = append(buf, r.DesignatedTaker.Bytes()...)

	// taker (presence byte + 20 bytes)
	if r.Taker != nil {
		buf = append(buf, 1)
		buf = append(buf, r.Taker.Bytes()...)
	} else {
		buf = append(buf, 0)
	}

	buf = appendInt64LE(buf, r.OfferedAmount)
	buf = appendInt64LE(buf, r.ExpectedAmount)

	var flags byte
	if r.Funded {
		flags |= 1
	}
	if r.Active {
		flags |= 2
	}
	if r.Completed {
		flags |= 4
	}
	buf = append(buf, flags, byte(r.Outcome))

	buf = appendInt64LE(buf, r.ExpiryTime)
	buf = appendInt64LE(buf, r.CreatedAt)
	buf = appendInt64LE(buf, r.FundedAt)
	buf = appendInt64LE(buf, r.ClosedAt)

	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}
