package persistence_test

import (
	"context"
	"testing"
	"time"

	"EscrowLedger/internal/core"
	"EscrowLedger/internal/event"
	"EscrowLedger/internal/persistence"
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

// produce runs a deposit and a create through a fresh core and returns both outputs.
func produce(t *testing.T) (*core.DeterministicCore, []core.CoreOutput) {
	t.Helper()
	persistChan := make(chan core.CoreOutput, 16)
	c, err := core.NewDeterministicCore(core.Options{
		Asset:       "SOL",
		LRUCapacity: 64,
		Logger:      zerolog.Nop(),
	}, persistChan, nil)
	require.NoError(t, err)

	events := []event.Event{
		&event.Deposit{DepositID: "dep-1", Identity: maker, Asset: "SOL", Amount: 1_000, Timestamp: baseTime},
		&event.CreateEscrow{
			Header:         event.Header{RequestID: "req-1", Caller: maker, Nonce: 0, Timestamp: baseTime + 1},
			ID:             7,
			OfferedAmount:  400,
			ExpectedAmount: 600,
			ExpiryTime:     baseTime + 3_600,
			Taker:          taker,
		},
	}
	for _, evt := range events {
		_, err := c.ProcessEvent(evt)
		require.NoError(t, err)
	}

	outputs := make([]core.CoreOutput, 0, len(events))
	for len(persistChan) > 0 {
		outputs = append(outputs, <-persistChan)
	}
	require.Len(t, outputs, len(events))
	return c, outputs
}

func TestEventRow_EnvelopeRoundTrip(t *testing.T) {
	_, outputs := produce(t)

	for _, out := range outputs {
		row := persistence.EventRowFromEnvelope(out.Envelope)
		env, err := row.ToEnvelope()
		require.NoError(t, err)
		assert.Equal(t, out.Envelope, env)
	}
}

func TestEventRowFromEnvelope_EscrowAddress(t *testing.T) {
	_, outputs := produce(t)

	funds := persistence.EventRowFromEnvelope(outputs[0].Envelope)
	assert.Nil(t, funds.EscrowAddress, "funds events carry no escrow address")
	assert.Equal(t, "", funds.DedupScope, "deposit ids are global")

	row := persistence.EventRowFromEnvelope(outputs[1].Envelope)
	assert.Equal(t, "caller:"+maker.Hex(), row.DedupScope)
	require.NotNil(t, row.EscrowAddress)
	assert.Len(t, *row.EscrowAddress, 66)
	assert.Equal(t, "EscrowCreate", row.EventType)
	assert.Equal(t, int64(0), row.SourceSequence)
}

func TestEventRow_ToEnvelopeRejectsCorruptRows(t *testing.T) {
	_, outputs := produce(t)
	good := persistence.EventRowFromEnvelope(outputs[1].Envelope)

	unknown := good
	unknown.EventType = "TradeFill"
	_, err := unknown.ToEnvelope()
	assert.Error(t, err)

	short := good
	short.StateHash = short.StateHash[:16]
	_, err = short.ToEnvelope()
	assert.Error(t, err)

	badAddr := good
	s := "0xnothex"
	badAddr.EscrowAddress = &s
	_, err = badAddr.ToEnvelope()
	assert.Error(t, err)
}

func TestJournalRowsFromOutput(t *testing.T) {
	_, outputs := produce(t)

	deposit := persistence.JournalRowsFromOutput(outputs[0])
	require.Len(t, deposit, 1)
	assert.Equal(t, "identity:"+maker.Hex()+":available:SOL", deposit[0].DebitAccount)
	assert.Equal(t, "external:deposits:SOL", deposit[0].CreditAccount)
	assert.Equal(t, int64(1_000), deposit[0].Amount)
	assert.Equal(t, outputs[0].Envelope.Sequence, deposit[0].Sequence)

	create := persistence.JournalRowsFromOutput(outputs[1])
	require.Len(t, create, 1)
	assert.Equal(t, int64(400), create[0].Amount)
	assert.Contains(t, create[0].DebitAccount, "escrow:")
	assert.Equal(t, "identity:"+maker.Hex()+":available:SOL", create[0].CreditAccount)

	assert.Nil(t, persistence.JournalRowsFromOutput(core.CoreOutput{Envelope: outputs[0].Envelope}))
}

// --- Integration: requires Postgres with migrations applied ---

func TestPersistenceWorker_FlushAndRecover(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	c, outputs := produce(t)

	input := make(chan core.CoreOutput, len(outputs))
	for _, out := range outputs {
		input <- out
	}
	close(input)

	var committed []int64
	w := persistence.NewPersistenceWorker(db, input, 8, 50*time.Millisecond, nil, zerolog.Nop())
	w.OnCommit(func(batch []core.CoreOutput) {
		for _, out := range batch {
			committed = append(committed, out.Envelope.Sequence)
		}
	})
	require.NoError(t, w.Run(context.Background()))
	assert.Equal(t, []int64{0, 1}, committed)

	ctx := context.Background()
	sm := persistence.NewSnapshotManager(db)

	latest, err := sm.GetLatestSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), latest)

	rows, err := sm.LoadEventsFrom(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// Replaying the log into a fresh core lands on the same state.
	replica, err := core.NewDeterministicCore(core.Options{Asset: "SOL", Logger: zerolog.Nop()}, nil, nil)
	require.NoError(t, err)
	for _, row := range rows {
		env, err := row.ToEnvelope()
		require.NoError(t, err)
		require.NoError(t, replica.ReplayEnvelope(env))
	}
	assert.Equal(t, c.GetStateHash(), replica.GetStateHash())

	checker := persistence.NewPostgresIdempotencyChecker(db, time.Second)
	createEnv := outputs[1].Envelope
	dup, err := checker.IsDuplicate("EscrowCreate", createEnv.DedupScope(), "req-1")
	require.NoError(t, err)
	assert.True(t, dup)

	dup, err = checker.IsDuplicate("EscrowCreate", event.CallerPartition(common.HexToAddress("0x00000000000000000000000000000000000000ff")), "req-1")
	require.NoError(t, err)
	assert.False(t, dup, "request ids are unique per caller only")
}

func TestSnapshotManager_SaveVerifyLoad(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	c, outputs := produce(t)
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	rows := make([]persistence.EventRow, 0, len(outputs))
	for _, out := range outputs {
		rows = append(rows, persistence.EventRowFromEnvelope(out.Envelope))
	}
	require.NoError(t, persistence.NewEventLogWriter(db).WriteEventBatch(ctx, tx, rows))
	require.NoError(t, tx.Commit())

	snap, err := c.CreateSnapshot()
	require.NoError(t, err)

	sm := persistence.NewSnapshotManager(db)
	size, err := sm.SaveSnapshot(ctx, snap)
	require.NoError(t, err)
	assert.Greater(t, size, 0)

	loaded, err := sm.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded, "unverified snapshots are not used for recovery")

	ok, err := sm.VerifyAgainstLog(ctx, snap)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, sm.MarkVerified(ctx, snap.Sequence))

	loaded, err = sm.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, snap.StateHash, loaded.StateHash)
	assert.Equal(t, snap.Sequence, loaded.Sequence)
}
