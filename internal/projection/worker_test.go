package projection_test

import (
	"context"
	"testing"

	"EscrowLedger/internal/core"
	"EscrowLedger/internal/escrow"
	"EscrowLedger/internal/event"
	"EscrowLedger/internal/persistence"
	"EscrowLedger/internal/projection"
	"EscrowLedger/internal/testutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	maker = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	taker = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

const baseTime = int64(1_700_000_000)

func swapOutputs(t *testing.T) []core.CoreOutput {
	t.Helper()
	projChan := make(chan core.CoreOutput, 16)
	c, err := core.NewDeterministicCore(core.Options{Asset: "SOL", LRUCapacity: 64, Logger: zerolog.Nop()}, nil, projChan)
	require.NoError(t, err)

	events := []event.Event{
		&event.Deposit{DepositID: "d-m", Identity: maker, Asset: "SOL", Amount: 1_000, Timestamp: baseTime},
		&event.Deposit{DepositID: "d-t", Identity: taker, Asset: "SOL", Amount: 1_000, Timestamp: baseTime},
		&event.CreateEscrow{
			Header: event.Header{RequestID: "c", Caller: maker, Nonce: 0, Timestamp: baseTime + 1},
			ID:     1, OfferedAmount: 300, ExpectedAmount: 700, ExpiryTime: baseTime + 3_600, Taker: taker,
		},
		&event.FundEscrow{Header: event.Header{RequestID: "f", Caller: taker, Nonce: 0, Timestamp: baseTime + 2}, Maker: maker, ID: 1},
		&event.CompleteEscrow{Header: event.Header{RequestID: "x", Caller: taker, Nonce: 1, Timestamp: baseTime + 3}, Maker: maker, ID: 1},
	}
	for _, evt := range events {
		_, err := c.ProcessEvent(evt)
		require.NoError(t, err)
	}

	outputs := make([]core.CoreOutput, 0, len(events))
	for len(projChan) > 0 {
		outputs = append(outputs, <-projChan)
	}
	return outputs
}

func TestProjectionWorker_AppliesSwap(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	w := projection.NewProjectionWorker(db, nil, nil, zerolog.Nop())
	for _, out := range swapOutputs(t) {
		require.NoError(t, w.Apply(ctx, out))
	}
	assert.Equal(t, int64(4), w.LastSequence())

	var balance int64
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT balance FROM projections.balances WHERE account_path = $1`,
		"identity:"+maker.Hex()+":available:SOL").Scan(&balance))
	assert.Equal(t, int64(1_400), balance)

	var data []byte
	var active bool
	var outcome string
	addr := escrow.DeriveAddress(maker, 1).Hex()
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT data, active, outcome FROM projections.escrows WHERE address = $1`, addr).
		Scan(&data, &active, &outcome))
	assert.False(t, active)
	assert.Equal(t, "completed", outcome)

	rec, err := escrow.DecodeRecord(data)
	require.NoError(t, err)
	assert.True(t, rec.Completed)

	var indexed string
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT address FROM projections.maker_index WHERE maker = $1 AND escrow_id = 1`, maker.Hex()).Scan(&indexed))
	assert.Equal(t, addr, indexed)

	seq, err := projection.Watermark(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(4), seq)
}

func TestProjectionWorker_StaleOutputDoesNotRegress(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	outputs := swapOutputs(t)
	w := projection.NewProjectionWorker(db, nil, nil, zerolog.Nop())
	for _, out := range outputs {
		require.NoError(t, w.Apply(ctx, out))
	}
	// Re-applying the create must not resurrect the completed record.
	require.NoError(t, w.Apply(ctx, outputs[2]))

	var active bool
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT active FROM projections.escrows WHERE address = $1`,
		escrow.DeriveAddress(maker, 1).Hex()).Scan(&active))
	assert.False(t, active)
}

func TestMigrateLegacyRecords(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	addr := escrow.DeriveAddress(maker, 9).Hex()
	legacy := `{"escrow_id":9,"maker":"` + maker.Hex() + `","taker":"` + taker.Hex() + `",
		"amount_a":10,"amount_b_expected":20,"is_funded":true,"is_active":true,"is_completed":false,"expiry_ts":99}`
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.escrows (address, maker, escrow_id, schema_version, data, active, outcome, last_sequence)
		VALUES ($1, $2, 9, 1, $3, TRUE, 'open', 0)
	`, addr, maker.Hex(), legacy)
	require.NoError(t, err)

	n, err := projection.MigrateLegacyRecords(ctx, db, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var version int
	var data []byte
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT schema_version, data FROM projections.escrows WHERE address = $1`, addr).Scan(&version, &data))
	assert.Equal(t, escrow.SchemaVersion, version)

	rec, err := escrow.DecodeRecord(data)
	require.NoError(t, err)
	require.NotNil(t, rec.Taker)
	assert.Equal(t, taker, *rec.Taker)
	assert.Equal(t, int64(30), rec.CustodyHeld())

	n, err = projection.MigrateLegacyRecords(ctx, db, zerolog.Nop())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRebuild_FromEventLog(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	outputs := swapOutputs(t)
	rows := make([]persistence.EventRow, 0, len(outputs))
	for _, out := range outputs {
		rows = append(rows, persistence.EventRowFromEnvelope(out.Envelope))
	}
	require.NoError(t, persistence.NewEventLogWriter(db).WriteEventBatch(ctx, db, rows))

	// Stale read model that the rebuild must replace.
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, balance, last_sequence) VALUES ('identity:junk:available:SOL', 5, 99)
	`)
	require.NoError(t, err)

	n, err := projection.Rebuild(ctx, db, "SOL", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, int64(len(outputs)), n)

	var balance int64
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT balance FROM projections.balances WHERE account_path = $1`,
		"identity:"+taker.Hex()+":available:SOL").Scan(&balance))
	assert.Equal(t, int64(600), balance)

	var junk int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM projections.balances WHERE account_path = 'identity:junk:available:SOL'`).Scan(&junk))
	assert.Zero(t, junk)

	seq, err := projection.Watermark(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(4), seq)
}
