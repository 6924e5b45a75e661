package projection

import (
	"context"
	"database/sql"
	"fmt"

	"EscrowLedger/internal/core"
	"EscrowLedger/internal/persistence"

	"github.com/rs/zerolog"
)

const rebuildPageSize = 1000

// Rebuild truncates the projection tables and re-derives them by replaying
// the whole event log through a scratch core. The live core is not involved.
// It returns the number of events replayed.
func Rebuild(ctx context.Context, db *sql.DB, asset string, logger zerolog.Logger) (int64, error) {
	if err := Truncate(ctx, db); err != nil {
		return 0, err
	}

	out := make(chan core.CoreOutput, 1)
	scratch, err := core.NewDeterministicCore(core.Options{
		Asset:       asset,
		LRUCapacity: 1,
		Logger:      zerolog.Nop(),
	}, nil, out)
	if err != nil {
		return 0, err
	}

	worker := NewProjectionWorker(db, nil, nil, logger)
	source := persistence.NewSnapshotManager(db)

	var count int64
	for {
		rows, err := source.LoadEventsFrom(ctx, scratch.GetSequence(), rebuildPageSize)
		if err != nil {
			return count, fmt.Errorf("load events from %d: %w", scratch.GetSequence(), err)
		}
		for _, row := range rows {
			env, err := row.ToEnvelope()
			if err != nil {
				return count, err
			}
			if err := scratch.ReplayEnvelope(env); err != nil {
				return count, err
			}
			if err := worker.Apply(ctx, <-out); err != nil {
				return count, fmt.Errorf("apply seq=%d: %w", env.Sequence, err)
			}
			count++
		}
		if len(rows) < rebuildPageSize {
			break
		}
	}

	logger.Info().Int64("events", count).Int64("sequence", scratch.GetSequence()).Msg("projections rebuilt")
	return count, nil
}
