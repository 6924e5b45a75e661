package state_test

import (
	"bytes"
	"testing"

	"EscrowLedger/internal/escrow"
	"EscrowLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
)

var (
	maker = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	taker = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func newRecord(id uint64) *escrow.Record {
	return &escrow.Record{
		ID:              id,
		Maker:           maker,
		DesignatedTaker: taker,
		OfferedAmount:   10,
		ExpectedAmount:  20,
		Active:          true,
		ExpiryTime:      100,
	}
}

func TestRecordBook_PutIndexesMaker(t *testing.T) {
	rb := state.NewRecordBook()
	for _, id := range []uint64{5, 1, 3, 1} {
		rb.Put(newRecord(id))
	}

	ids := rb.MakerIDs(maker)
	want := []uint64{1, 3, 5}
	if len(ids) != len(want) {
		t.Fatalf("ids: got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids: got %v, want %v", ids, want)
		}
	}
	if rb.ActiveCount() != 3 {
		t.Errorf("active: got %d, want 3", rb.ActiveCount())
	}
	if len(rb.MakerIDs(taker)) != 0 {
		t.Error("taker should have no index entries")
	}
}

func TestRecordBook_GetReturnsCopy(t *testing.T) {
	rb := state.NewRecordBook()
	rb.Put(newRecord(1))

	rec := rb.Lookup(maker, 1)
	rec.Active = false
	if !rb.Lookup(maker, 1).Active {
		t.Fatal("mutating a returned record must not change the book")
	}
	if rb.Lookup(maker, 2) != nil {
		t.Error("unknown id should be nil")
	}
}

func TestRecordBook_ActiveCountTracksRetirement(t *testing.T) {
	rb := state.NewRecordBook()
	rec := newRecord(1)
	rb.Put(rec)

	retired := rec.Clone()
	retired.Active = false
	rb.Put(retired)
	if rb.ActiveCount() != 0 {
		t.Errorf("active: got %d, want 0", rb.ActiveCount())
	}
	if rb.Len() != 1 {
		t.Errorf("len: got %d, want 1", rb.Len())
	}
}

func TestCanonicalRecordBytes_ChangesWithState(t *testing.T) {
	a := newRecord(1)
	b := a.Clone()
	if !bytes.Equal(state.CanonicalRecordBytes(a), state.CanonicalRecordBytes(b)) {
		t.Fatal("identical records must serialize identically")
	}
	tk := taker
	b.Taker = &tk
	b.Funded = true
	if bytes.Equal(state.CanonicalRecordBytes(a), state.CanonicalRecordBytes(b)) {
		t.Fatal("funding must change the canonical bytes")
	}
}
