package projection

import (
	"context"
	"database/sql"
	"fmt"

	"EscrowLedger/internal/escrow"

	"github.com/rs/zerolog"
)

// MigrateLegacyRecords rewrites projected records stored in an older schema
// into the current one. Rows that fail to decode are reported and left as is.
// It returns the number of rows rewritten.
func MigrateLegacyRecords(ctx context.Context, db *sql.DB, logger zerolog.Logger) (int, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT address, data FROM projections.escrows
		WHERE schema_version < $1
		ORDER BY address
	`, escrow.SchemaVersion)
	if err != nil {
		return 0, fmt.Errorf("scan legacy records: %w", err)
	}

	type legacyRow struct {
		address string
		data    []byte
	}
	var pending []legacyRow
	for rows.Next() {
		var r legacyRow
		if err := rows.Scan(&r.address, &r.data); err != nil {
			rows.Close()
			return 0, err
		}
		pending = append(pending, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	migrated := 0
	for _, r := range pending {
		rec, err := escrow.DecodeRecord(r.data)
		if err != nil {
			logger.Error().Err(err).Str("address", r.address).Msg("legacy record unreadable")
			continue
		}
		if got := rec.Address().Hex(); got != r.address {
			logger.Error().Str("address", r.address).Str("derived", got).Msg("legacy record address mismatch")
			continue
		}
		data, err := escrow.EncodeRecord(rec)
		if err != nil {
			return migrated, err
		}
		if _, err := db.ExecContext(ctx, `
			UPDATE projections.escrows
			SET schema_version = $2, data = $3, active = $4, outcome = $5, updated_at = NOW()
			WHERE address = $1
		`, r.address, escrow.SchemaVersion, data, rec.Active, rec.Outcome.String()); err != nil {
			return migrated, fmt.Errorf("rewrite %s: %w", r.address, err)
		}
		migrated++
	}

	logger.Info().Int("migrated", migrated).Int("scanned", len(pending)).Msg("legacy record migration complete")
	return migrated, nil
}
