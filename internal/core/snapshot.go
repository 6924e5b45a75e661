package core

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"EscrowLedger/internal/escrow"
	"EscrowLedger/internal/ledger"
)

// Snapshot is the full in-memory state at a sequence boundary. Replay resumes
// from Sequence.
type Snapshot struct {
	Sequence        int64             `json:"sequence"`
	StateHash       string            `json:"state_hash"`
	Clock           int64             `json:"clock"`
	BatchSequence   int64             `json:"batch_sequence"`
	Asset           string            `json:"asset"`
	Balances        map[string]int64  `json:"balances"` // AccountPath -> balance
	Records         []json.RawMessage `json:"records"`  // escrow.EncodeRecord output
	Nonces          map[string]int64  `json:"nonces"`   // partition -> next expected nonce
	IdempotencyKeys []string          `json:"idempotency_keys"`
	CreatedAt       time.Time         `json:"created_at"`
}

// CreateSnapshot captures the current state. Call it on the core goroutine,
// usually through Submitter.Do.
func (c *DeterministicCore) CreateSnapshot() (*Snapshot, error) {
	start := time.Now()
	assetName, _ := ledger.GetAssetName(c.assetID)
	hash := c.hasher.GetPrevHash()

	snap := &Snapshot{
		Sequence:        c.sequence,
		StateHash:       hex.EncodeToString(hash[:]),
		Clock:           c.clock.Now(),
		BatchSequence:   c.journalGen.Sequence(),
		Asset:           assetName,
		Balances:        make(map[string]int64),
		Nonces:          c.nonces.Partitions(),
		IdempotencyKeys: c.idempotency.LRU().Keys(),
		CreatedAt:       time.Now().UTC(),
	}

	for key, bal := range c.balanceTracker.Snapshot() {
		snap.Balances[key.AccountPath()] = bal
	}

	for _, rec := range c.records.All() {
		data, err := escrow.EncodeRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("snapshot record %s: %w", rec.Address(), err)
		}
		snap.Records = append(snap.Records, data)
	}

	if c.metrics != nil {
		c.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		c.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	return snap, nil
}

// RestoreFromSnapshot loads snap into a freshly constructed core. The
// restored state must reproduce the snapshot's custody and zero-sum
// invariants or the restore fails.
func (c *DeterministicCore) RestoreFromSnapshot(snap *Snapshot) error {
	if c.sequence != 0 || c.records.Len() != 0 {
		return fmt.Errorf("restore into a core that already holds state (sequence=%d)", c.sequence)
	}
	assetName, _ := ledger.GetAssetName(c.assetID)
	if snap.Asset != "" && snap.Asset != assetName {
		return fmt.Errorf("snapshot asset %s does not match core asset %s", snap.Asset, assetName)
	}

	hashBytes, err := hex.DecodeString(snap.StateHash)
	if err != nil || len(hashBytes) != 32 {
		return fmt.Errorf("snapshot state hash %q is not 32 hex bytes", snap.StateHash)
	}

	paths := make([]string, 0, len(snap.Balances))
	for path := range snap.Balances {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return fmt.Errorf("snapshot balance: %w", err)
		}
		c.balanceTracker.SetBalance(key, snap.Balances[path])
	}

	for i, raw := range snap.Records {
		rec, err := escrow.DecodeRecord(raw)
		if err != nil {
			return fmt.Errorf("snapshot record %d: %w", i, err)
		}
		c.records.Put(rec)
	}

	for partition, next := range snap.Nonces {
		c.nonces.Restore(partition, next)
	}
	c.idempotency.LRU().WarmFromKeys(snap.IdempotencyKeys)

	var hash [32]byte
	copy(hash[:], hashBytes)
	c.hasher.SetPrevHash(hash)
	c.clock.Commit(snap.Clock)
	c.sequence = snap.Sequence
	c.journalGen.SetSequence(snap.BatchSequence)

	if report := c.CheckIntegrity(); !report.OK() {
		return fmt.Errorf("snapshot at sequence %d fails integrity: %v", snap.Sequence, report.Violations)
	}

	c.logger.Info().
		Int64("sequence", snap.Sequence).
		Int("records", len(snap.Records)).
		Int("balances", len(snap.Balances)).
		Msg("state restored from snapshot")
	return nil
}
