package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"EscrowLedger/internal/core"
	"EscrowLedger/internal/observability"
	"EscrowLedger/internal/persistence"

	"github.com/rs/zerolog"
)

const (
	verifyAttempts = 20
	verifyBackoff  = 250 * time.Millisecond
)

// snapshotter captures core state on the core goroutine and stores it. A
// snapshot is marked verified once the persistence worker has written the
// envelope it follows.
type snapshotter struct {
	submitter *core.Submitter
	snapMgr   *persistence.SnapshotManager
	metrics   *observability.Metrics
	logger    zerolog.Logger

	mu      sync.Mutex
	lastSeq int64
}

func newSnapshotter(
	submitter *core.Submitter,
	snapMgr *persistence.SnapshotManager,
	metrics *observability.Metrics,
	logger zerolog.Logger,
	startSeq int64,
) *snapshotter {
	return &snapshotter{
		submitter: submitter,
		snapMgr:   snapMgr,
		metrics:   metrics,
		logger:    logger,
		lastSeq:   startSeq,
	}
}

// capture runs CreateSnapshot on the core goroutine.
func (s *snapshotter) capture(ctx context.Context) (*core.Snapshot, error) {
	var (
		snap    *core.Snapshot
		snapErr error
	)
	if err := s.submitter.Do(ctx, func(c *core.DeterministicCore) {
		snap, snapErr = c.CreateSnapshot()
	}); err != nil {
		return nil, err
	}
	return snap, snapErr
}

// store saves snap and marks it verified once the log has caught up.
func (s *snapshotter) store(ctx context.Context, snap *core.Snapshot) error {
	size, err := s.snapMgr.SaveSnapshot(ctx, snap)
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotSizeBytes.Set(float64(size))
	}

	for attempt := 0; attempt < verifyAttempts; attempt++ {
		ok, err := s.snapMgr.VerifyAgainstLog(ctx, snap)
		if err != nil {
			return err
		}
		if ok {
			if err := s.snapMgr.MarkVerified(ctx, snap.Sequence); err != nil {
				return fmt.Errorf("mark snapshot verified: %w", err)
			}
			s.mu.Lock()
			s.lastSeq = snap.Sequence
			s.mu.Unlock()
			s.logger.Info().
				Int64("sequence", snap.Sequence).
				Int("size_bytes", size).
				Msg("snapshot saved")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(verifyBackoff):
		}
	}
	return fmt.Errorf("snapshot seq=%d saved but log has not caught up", snap.Sequence)
}

// TakeSnapshot captures and stores a snapshot and returns its sequence.
func (s *snapshotter) TakeSnapshot(ctx context.Context) (int64, error) {
	snap, err := s.capture(ctx)
	if err != nil {
		return 0, fmt.Errorf("create snapshot: %w", err)
	}
	if err := s.store(ctx, snap); err != nil {
		return 0, err
	}
	return snap.Sequence, nil
}

// runPeriodic takes a snapshot whenever at least interval events have been
// applied since the last one.
func (s *snapshotter) runPeriodic(ctx context.Context, checkEvery time.Duration, interval int64) {
	ticker := time.NewTicker(checkEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var seq int64
		if err := s.submitter.Do(ctx, func(c *core.DeterministicCore) {
			seq = c.GetSequence()
		}); err != nil {
			continue
		}

		s.mu.Lock()
		due := seq-s.lastSeq >= interval
		s.mu.Unlock()
		if !due {
			continue
		}

		if _, err := s.TakeSnapshot(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Int64("sequence", seq).Msg("periodic snapshot failed")
		}
	}
}
