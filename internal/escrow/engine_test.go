package escrow_test

import (
	"math"
	"testing"

	"EscrowLedger/internal/escrow"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const t0 = int64(1_700_000_000)

var (
	maker    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	taker    = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	stranger = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

func defaultParams() escrow.CreateParams {
	return escrow.CreateParams{
		ID:             1,
		OfferedAmount:  1000,
		ExpectedAmount: 500,
		ExpiryTime:     t0 + 3600,
		Taker:          taker,
	}
}

func mustCreate(t *testing.T) *escrow.Record {
	t.Helper()
	tr, err := escrow.Create(nil, maker, defaultParams(), t0)
	require.NoError(t, err)
	return tr.After
}

func mustFunded(t *testing.T) *escrow.Record {
	t.Helper()
	tr, err := escrow.Fund(mustCreate(t), taker, t0+10)
	require.NoError(t, err)
	return tr.After
}

// netFor sums the value each party receives (positive) or pays (negative).
func netFor(trs ...*escrow.Transition) map[common.Address]int64 {
	out := make(map[common.Address]int64)
	for _, tr := range trs {
		for _, m := range tr.Movements {
			if m.Direction == escrow.DirectionIn {
				out[m.Party] -= m.Amount
			} else {
				out[m.Party] += m.Amount
			}
		}
	}
	return out
}

// ============================================================================
// Test: Create
// ============================================================================

func TestCreate_RecordsTermsAndMovesOffered(t *testing.T) {
	tr, err := escrow.Create(nil, maker, defaultParams(), t0)
	require.NoError(t, err)

	rec := tr.After
	assert.Equal(t, maker, rec.Maker)
	assert.Equal(t, taker, rec.DesignatedTaker)
	assert.Nil(t, rec.Taker)
	assert.True(t, rec.Active)
	assert.False(t, rec.Funded)
	assert.False(t, rec.Completed)
	assert.Equal(t, escrow.OutcomeOpen, rec.Outcome)
	assert.Equal(t, t0, rec.CreatedAt)
	assert.Equal(t, escrow.DeriveAddress(maker, 1), tr.Address)

	require.Len(t, tr.Movements, 1)
	assert.Equal(t, escrow.Movement{Direction: escrow.DirectionIn, Party: maker, Amount: 1000}, tr.Movements[0])
	assert.Equal(t, rec.CustodyHeld(), tr.NetChange())
}

func TestCreate_RejectsNonPositiveAmounts(t *testing.T) {
	cases := []struct {
		name     string
		offered  int64
		expected int64
	}{
		{"zero offered", 0, 500},
		{"negative offered", -1, 500},
		{"zero expected", 1000, 0},
		{"negative expected", 1000, -5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := defaultParams()
			p.OfferedAmount = tc.offered
			p.ExpectedAmount = tc.expected
			tr, err := escrow.Create(nil, maker, p, t0)
			require.ErrorIs(t, err, escrow.ErrInvalidAmount)
			assert.Nil(t, tr)
			assert.Equal(t, escrow.KindInvalidAmount, escrow.KindOf(err))
		})
	}
}

func TestCreate_RejectsCustodyOverflow(t *testing.T) {
	p := defaultParams()
	p.OfferedAmount = math.MaxInt64 - 10
	p.ExpectedAmount = 11
	tr, err := escrow.Create(nil, maker, p, t0)
	require.ErrorIs(t, err, escrow.ErrInvalidAmount)
	assert.Nil(t, tr)

	// The largest representable custody is still accepted.
	p.ExpectedAmount = 10
	tr, err = escrow.Create(nil, maker, p, t0)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), tr.After.OfferedAmount+tr.After.ExpectedAmount)
}

func TestCreate_RejectsExpiryNotInFuture(t *testing.T) {
	for _, expiry := range []int64{t0, t0 - 1} {
		p := defaultParams()
		p.ExpiryTime = expiry
		_, err := escrow.Create(nil, maker, p, t0)
		require.ErrorIs(t, err, escrow.ErrInvalidExpiry)
	}
}

func TestCreate_AmountCheckedBeforeExpiry(t *testing.T) {
	p := defaultParams()
	p.OfferedAmount = 0
	p.ExpiryTime = t0 - 100
	_, err := escrow.Create(nil, maker, p, t0)
	require.ErrorIs(t, err, escrow.ErrInvalidAmount)
}

func TestCreate_CollisionWithActiveRecord(t *testing.T) {
	existing := mustCreate(t)
	_, err := escrow.Create(existing, maker, defaultParams(), t0+1)
	require.ErrorIs(t, err, escrow.ErrRecordCollision)
}

func TestCreate_ReusesRetiredAddress(t *testing.T) {
	cancelled, err := escrow.Cancel(mustCreate(t), maker, t0+5)
	require.NoError(t, err)

	tr, err := escrow.Create(cancelled.After, maker, defaultParams(), t0+6)
	require.NoError(t, err)
	assert.True(t, tr.After.Active)
	assert.Equal(t, cancelled.Address, tr.Address)
}

// ============================================================================
// Test: Fund
// ============================================================================

func TestFund_SetsTakerAndMovesExpected(t *testing.T) {
	rec := mustCreate(t)
	tr, err := escrow.Fund(rec, taker, t0+10)
	require.NoError(t, err)

	require.NotNil(t, tr.After.Taker)
	assert.Equal(t, taker, *tr.After.Taker)
	assert.True(t, tr.After.Funded)
	assert.True(t, tr.After.Active)
	assert.Equal(t, t0+10, tr.After.FundedAt)
	assert.Equal(t, []escrow.Movement{{Direction: escrow.DirectionIn, Party: taker, Amount: 500}}, tr.Movements)

	// input record untouched
	assert.Nil(t, rec.Taker)
	assert.False(t, rec.Funded)
}

func TestFund_Errors(t *testing.T) {
	funded := mustFunded(t)
	cancelled, err := escrow.Cancel(mustCreate(t), maker, t0+1)
	require.NoError(t, err)

	cases := []struct {
		name   string
		rec    *escrow.Record
		caller common.Address
		now    int64
		want   error
	}{
		{"missing", nil, taker, t0, escrow.ErrNotFound},
		{"not designated", mustCreate(t), stranger, t0 + 1, escrow.ErrUnauthorized},
		{"maker cannot fund", mustCreate(t), maker, t0 + 1, escrow.ErrUnauthorized},
		{"already funded", funded, taker, t0 + 20, escrow.ErrWrongState},
		{"inactive", cancelled.After, taker, t0 + 2, escrow.ErrWrongState},
		{"at expiry", mustCreate(t), taker, t0 + 3600, escrow.ErrExpired},
		{"after expiry", mustCreate(t), taker, t0 + 4000, escrow.ErrExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr, err := escrow.Fund(tc.rec, tc.caller, tc.now)
			require.ErrorIs(t, err, tc.want)
			assert.Nil(t, tr)
		})
	}
}

// ============================================================================
// Test: Complete
// ============================================================================

func TestComplete_SwapsCustody(t *testing.T) {
	created, err := escrow.Create(nil, maker, defaultParams(), t0)
	require.NoError(t, err)
	funded, err := escrow.Fund(created.After, taker, t0+10)
	require.NoError(t, err)
	completed, err := escrow.Complete(funded.After, taker, t0+20)
	require.NoError(t, err)

	rec := completed.After
	assert.True(t, rec.Completed)
	assert.False(t, rec.Active)
	assert.False(t, rec.Funded)
	assert.Equal(t, escrow.OutcomeCompleted, rec.Outcome)
	require.NotNil(t, rec.Taker)
	assert.Equal(t, taker, *rec.Taker)
	assert.Equal(t, int64(0), rec.CustodyHeld())

	net := netFor(created, funded, completed)
	assert.Equal(t, int64(-500), net[maker])
	assert.Equal(t, int64(500), net[taker])

	// Gross receipts: maker +500, taker +1000.
	var makerIn, takerIn int64
	for _, m := range completed.Movements {
		require.Equal(t, escrow.DirectionOut, m.Direction)
		switch m.Party {
		case maker:
			makerIn += m.Amount
		case taker:
			takerIn += m.Amount
		}
	}
	assert.Equal(t, int64(500), makerIn)
	assert.Equal(t, int64(1000), takerIn)
	assert.Equal(t, -(funded.After.CustodyHeld()), completed.NetChange())
}

func TestComplete_Errors(t *testing.T) {
	funded := mustFunded(t)
	done, err := escrow.Complete(funded, taker, t0+30)
	require.NoError(t, err)

	cases := []struct {
		name   string
		rec    *escrow.Record
		caller common.Address
		want   error
	}{
		{"missing", nil, taker, escrow.ErrNotFound},
		{"unfunded", mustCreate(t), taker, escrow.ErrWrongState},
		{"maker completes", mustFunded(t), maker, escrow.ErrUnauthorized},
		{"stranger completes", mustFunded(t), stranger, escrow.ErrUnauthorized},
		{"twice", done.After, taker, escrow.ErrWrongState},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := escrow.Complete(tc.rec, tc.caller, t0+40)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestComplete_AllowedAfterExpiry(t *testing.T) {
	_, err := escrow.Complete(mustFunded(t), taker, t0+1_000_000)
	require.NoError(t, err)
}

// ============================================================================
// Test: Cancel and RefundAfterExpiry
// ============================================================================

func TestCancel_ReturnsOfferedToMaker(t *testing.T) {
	tr, err := escrow.Cancel(mustCreate(t), maker, t0+5)
	require.NoError(t, err)

	assert.False(t, tr.After.Active)
	assert.False(t, tr.After.Completed)
	assert.Equal(t, escrow.OutcomeCancelled, tr.After.Outcome)
	assert.Equal(t, []escrow.Movement{{Direction: escrow.DirectionOut, Party: maker, Amount: 1000}}, tr.Movements)
}

func TestCancel_UnauthorizedLeavesRecord(t *testing.T) {
	rec := mustCreate(t)
	before := rec.Clone()

	_, err := escrow.Cancel(rec, taker, t0+5)
	require.ErrorIs(t, err, escrow.ErrUnauthorized)
	assert.Equal(t, before, rec)
}

func TestCancel_Errors(t *testing.T) {
	cancelled, err := escrow.Cancel(mustCreate(t), maker, t0+1)
	require.NoError(t, err)

	_, err = escrow.Cancel(nil, maker, t0)
	require.ErrorIs(t, err, escrow.ErrNotFound)
	_, err = escrow.Cancel(mustFunded(t), maker, t0+20)
	require.ErrorIs(t, err, escrow.ErrWrongState)
	_, err = escrow.Cancel(cancelled.After, maker, t0+2)
	require.ErrorIs(t, err, escrow.ErrWrongState)
}

func TestRefund_AtAndAfterExpiry(t *testing.T) {
	for _, now := range []int64{t0 + 3600, t0 + 7200} {
		tr, err := escrow.RefundAfterExpiry(mustCreate(t), maker, now)
		require.NoError(t, err)
		assert.False(t, tr.After.Active)
		assert.Equal(t, escrow.OutcomeRefunded, tr.After.Outcome)
		assert.Equal(t, int64(-1000), tr.NetChange())
	}
}

func TestRefund_Errors(t *testing.T) {
	_, err := escrow.RefundAfterExpiry(mustCreate(t), maker, t0+3599)
	require.ErrorIs(t, err, escrow.ErrNotYetExpired)

	_, err = escrow.RefundAfterExpiry(mustCreate(t), taker, t0+3600)
	require.ErrorIs(t, err, escrow.ErrUnauthorized)

	_, err = escrow.RefundAfterExpiry(nil, maker, t0+3600)
	require.ErrorIs(t, err, escrow.ErrNotFound)
}

// A funded record that the taker never completes cannot be cancelled or
// refunded, before or after expiry. Its custody stays at offered+expected.
func TestFundedRecord_StaysLocked(t *testing.T) {
	rec := mustFunded(t)
	for _, now := range []int64{t0 + 100, t0 + 3600, t0 + 1_000_000} {
		_, err := escrow.Cancel(rec, maker, now)
		require.ErrorIs(t, err, escrow.ErrWrongState)
		_, err = escrow.RefundAfterExpiry(rec, maker, now)
		require.ErrorIs(t, err, escrow.ErrWrongState)
	}
	assert.Equal(t, int64(1500), rec.CustodyHeld())
}

// ============================================================================
// Test: Terminal records and invariants
// ============================================================================

func TestTerminalRecords_RejectEverything(t *testing.T) {
	done, err := escrow.Complete(mustFunded(t), taker, t0+20)
	require.NoError(t, err)
	cancelled, err := escrow.Cancel(mustCreate(t), maker, t0+5)
	require.NoError(t, err)
	refunded, err := escrow.RefundAfterExpiry(mustCreate(t), maker, t0+3600)
	require.NoError(t, err)

	for _, rec := range []*escrow.Record{done.After, cancelled.After, refunded.After} {
		assert.True(t, rec.IsTerminal())
		_, err := escrow.Fund(rec, taker, t0+30)
		assert.Error(t, err)
		_, err = escrow.Complete(rec, taker, t0+30)
		assert.Error(t, err)
		_, err = escrow.Cancel(rec, maker, t0+30)
		assert.Error(t, err)
		_, err = escrow.RefundAfterExpiry(rec, maker, t0+4000)
		assert.Error(t, err)
	}
}

func TestTransitions_PreserveImmutableFields(t *testing.T) {
	created, err := escrow.Create(nil, maker, defaultParams(), t0)
	require.NoError(t, err)
	funded, err := escrow.Fund(created.After, taker, t0+1)
	require.NoError(t, err)
	completed, err := escrow.Complete(funded.After, taker, t0+2)
	require.NoError(t, err)

	for _, tr := range []*escrow.Transition{created, funded, completed} {
		rec := tr.After
		assert.Equal(t, uint64(1), rec.ID)
		assert.Equal(t, maker, rec.Maker)
		assert.Equal(t, taker, rec.DesignatedTaker)
		assert.Equal(t, int64(1000), rec.OfferedAmount)
		assert.Equal(t, int64(500), rec.ExpectedAmount)
		assert.Equal(t, t0+3600, rec.ExpiryTime)
		// completed implies not active; funded implies active
		if rec.Completed {
			assert.False(t, rec.Active)
		}
		if rec.Funded {
			assert.True(t, rec.Active)
		}
		if tr.Before != nil {
			assert.Equal(t, tr.NetChange(), rec.CustodyHeld()-tr.Before.CustodyHeld())
		}
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, escrow.KindNone, escrow.KindOf(nil))
	assert.Equal(t, escrow.KindNotFound, escrow.KindOf(escrow.ErrNotFound))
	_, err := escrow.Fund(mustCreate(t), stranger, t0)
	assert.Equal(t, escrow.KindUnauthorized, escrow.KindOf(err))
	assert.Equal(t, escrow.KindInternal, escrow.KindOf(assert.AnError))
}
