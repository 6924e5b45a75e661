package state

import (
	"sort"

	"EscrowLedger/internal/escrow"

	"github.com/ethereum/go-ethereum/common"
)

// RecordBook holds one escrow record per derived address plus the maker
// index used for discovery. Not thread-safe; owned by the deterministic core.
type RecordBook struct {
	records    map[escrow.Address]*escrow.Record
	makerIndex map[common.Address][]uint64 // ascending, unique
	active     int
}

func NewRecordBook() *RecordBook {
	return &RecordBook{
		records:    make(map[escrow.Address]*escrow.Record),
		makerIndex: make(map[common.Address][]uint64),
	}
}

// Get returns the stored record at addr or nil. The returned record is a copy.
func (rb *RecordBook) Get(addr escrow.Address) *escrow.Record {
	return rb.records[addr].Clone()
}

// Lookup returns the record for (maker, id).
func (rb *RecordBook) Lookup(maker common.Address, id uint64) *escrow.Record {
	return rb.Get(escrow.DeriveAddress(maker, id))
}

// Put stores rec at its derived address and indexes it under its maker.
func (rb *RecordBook) Put(rec *escrow.Record) {
	addr := rec.Address()
	if prev := rb.records[addr]; prev != nil && prev.Active {
		rb.active--
	}
	if rec.Active {
		rb.active++
	}
	rb.records[addr] = rec.Clone()
	rb.index(rec.Maker, rec.ID)
}

func (rb *RecordBook) index(maker common.Address, id uint64) {
	ids := rb.makerIndex[maker]
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	if i < len(ids) && ids[i] == id {
		return
	}
	ids = append(ids, 0)
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	rb.makerIndex[maker] = ids
}

// MakerIDs returns the ids a maker has ever created, ascending.
func (rb *RecordBook) MakerIDs(maker common.Address) []uint64 {
	ids := rb.makerIndex[maker]
	out := make([]uint64, len(ids))
	copy(out, ids)
	return out
}

// MakerRecords returns copies of a maker's records in id order.
func (rb *RecordBook) MakerRecords(maker common.Address) []*escrow.Record {
	ids := rb.makerIndex[maker]
	out := make([]*escrow.Record, 0, len(ids))
	for _, id := range ids {
		if rec := rb.Lookup(maker, id); rec != nil {
			out = append(out, rec)
		}
	}
	return out
}

// ActiveCount returns the number of records with active=true.
func (rb *RecordBook) ActiveCount() int {
	return rb.active
}

// Len returns the number of stored records.
func (rb *RecordBook) Len() int {
	return len(rb.records)
}

// All returns copies of every record ordered by address.
func (rb *RecordBook) All() []*escrow.Record {
	addrs := make([]escrow.Address, 0, len(rb.records))
	for addr := range rb.records {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return string(addrs[i][:]) < string(addrs[j][:])
	})
	out := make([]*escrow.Record, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, rb.records[addr].Clone())
	}
	return out
}
