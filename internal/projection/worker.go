package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"EscrowLedger/internal/core"
	"EscrowLedger/internal/escrow"
	"EscrowLedger/internal/observability"

	"github.com/rs/zerolog"
)

// watermarkName is the row the main worker advances in projections.watermark.
const watermarkName = "main"

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// ProjectionWorker maintains the read-side tables from core outputs. The
// projection channel is lossy, so these tables are eventually consistent and
// can always be rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	lastSeq   int64
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		lastSeq:   -1,
		metrics:   metrics,
		logger:    logger,
	}
}

// LastSequence returns the sequence of the last output applied.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if err := pw.Apply(ctx, output); err != nil {
				pw.logger.Warn().Err(err).
					Int64("seq", output.Envelope.Sequence).
					Msg("projection update failed")
			}
		}
	}
}

// Apply writes one output to the projection tables in a single transaction.
// Balances are stored as absolute values, so re-applying an output is harmless.
func (pw *ProjectionWorker) Apply(ctx context.Context, output core.CoreOutput) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	seq := output.Envelope.Sequence
	if err := writeBalances(ctx, tx, output, seq); err != nil {
		return fmt.Errorf("balance projection: %w", err)
	}
	pw.observe("balances", start)

	if output.Record != nil {
		recStart := time.Now()
		if err := writeRecord(ctx, tx, output.Record, seq); err != nil {
			return fmt.Errorf("escrow projection: %w", err)
		}
		pw.observe("escrows", recStart)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (projection) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, watermarkName, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	pw.lastSeq = seq
	return nil
}

func (pw *ProjectionWorker) observe(projection string, start time.Time) {
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues(projection).Observe(time.Since(start).Seconds())
	}
}

func writeBalances(ctx context.Context, tx execer, output core.CoreOutput, seq int64) error {
	paths := make([]string, 0, len(output.Balances))
	byPath := make(map[string]int64, len(output.Balances))
	for key, balance := range output.Balances {
		path := key.AccountPath()
		paths = append(paths, path)
		byPath[path] = balance
	}
	// Fixed order keeps row locks consistent across concurrent rebuilds.
	sort.Strings(paths)

	for _, path := range paths {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.balances (account_path, balance, last_sequence, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (account_path)
			DO UPDATE SET balance = $2, last_sequence = $3, updated_at = NOW()
			WHERE projections.balances.last_sequence <= $3
		`, path, byPath[path], seq); err != nil {
			return err
		}
	}
	return nil
}

func writeRecord(ctx context.Context, tx execer, rec *escrow.Record, seq int64) error {
	data, err := escrow.EncodeRecord(rec)
	if err != nil {
		return err
	}
	addr := rec.Address().Hex()
	maker := rec.Maker.Hex()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.escrows
			(address, maker, escrow_id, schema_version, data, active, outcome, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (address) DO UPDATE SET
			schema_version = $4, data = $5, active = $6, outcome = $7,
			last_sequence = $8, updated_at = NOW()
		WHERE projections.escrows.last_sequence <= $8
	`, addr, maker, rec.ID, escrow.SchemaVersion, data, rec.Active, rec.Outcome.String(), seq); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO projections.maker_index (maker, escrow_id, address)
		VALUES ($1, $2, $3)
		ON CONFLICT (maker, escrow_id) DO NOTHING
	`, maker, rec.ID, addr)
	return err
}

// Truncate clears every projection table ahead of a rebuild from the event log.
func Truncate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.escrows`,
		`TRUNCATE projections.maker_index`,
		`DELETE FROM projections.watermark WHERE projection = '` + watermarkName + `'`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}
	return nil
}

// Watermark returns the last sequence the main worker applied, or -1.
func Watermark(ctx context.Context, db *sql.DB) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE projection = $1
	`, watermarkName).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}
