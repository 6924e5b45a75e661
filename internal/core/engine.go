package core

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"EscrowLedger/internal/escrow"
	"EscrowLedger/internal/event"
	"EscrowLedger/internal/ledger"
	"EscrowLedger/internal/observability"
	"EscrowLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// ErrUnknownAsset is returned for funds events naming an unregistered asset.
var ErrUnknownAsset = errors.New("unknown asset")

// ErrStateHashMismatch is returned when replaying an envelope does not
// reproduce the hash recorded for it.
var ErrStateHashMismatch = errors.New("state hash mismatch")

// DeterministicCore is the single-writer custody ledger. It owns every
// balance and escrow record; callers reach it through Run.
type DeterministicCore struct {
	sequence       int64
	assetID        ledger.AssetID
	hasher         *StateHasher
	clock          MonotonicClock
	balanceTracker *ledger.BalanceTracker
	journalGen     *ledger.JournalGenerator
	validator      *ledger.InvariantValidator
	records        *state.RecordBook
	idempotency    *IdempotencyChecker
	nonces         *NonceValidator
	metrics        *observability.Metrics
	logger         zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// Options configure a DeterministicCore.
type Options struct {
	StartSequence int64
	Asset         string
	LRUCapacity   int
	DBChecker     DBIdempotencyChecker
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
}

// CoreOutput is everything downstream workers need about one accepted command.
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch
	Record     *escrow.Record // nil for funds events
	Event      *escrow.Event  // nil for funds events
	Balances   map[ledger.AccountKey]int64
	StateDelta []byte
}

func NewDeterministicCore(opts Options, persistChan, projectionChan chan<- CoreOutput) (*DeterministicCore, error) {
	assetID, ok := ledger.GetAssetID(opts.Asset)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAsset, opts.Asset)
	}
	if opts.LRUCapacity <= 0 {
		opts.LRUCapacity = 1_000_000
	}

	balanceTracker := ledger.NewBalanceTracker()
	return &DeterministicCore{
		sequence:       opts.StartSequence,
		assetID:        assetID,
		hasher:         NewStateHasher(),
		balanceTracker: balanceTracker,
		journalGen:     ledger.NewJournalGenerator(opts.StartSequence, balanceTracker),
		validator:      ledger.NewInvariantValidator(balanceTracker),
		records:        state.NewRecordBook(),
		idempotency:    NewIdempotencyChecker(opts.LRUCapacity, opts.DBChecker),
		nonces:         NewNonceValidator(),
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		persistChan:    persistChan,
		projectionChan: projectionChan,
	}, nil
}

// ProcessEvent is the main processing pipeline. A duplicate returns
// (nil, nil). A rejected command returns an error and changes nothing.
func (c *DeterministicCore) ProcessEvent(evt event.Event) (*CoreOutput, error) {
	start := time.Now()
	eventType := evt.EventType().String()

	// Step 1: Idempotency check (two-tier)
	tier2Before := c.idempotency.Tier2Errors()
	tier := c.idempotency.Check(eventType, evt.Partition(), evt.IdempotencyKey())
	if c.metrics != nil && c.idempotency.Tier2Errors() > tier2Before {
		c.metrics.DedupTier2Errors.Inc()
	}
	if tier != DedupNone {
		if c.metrics != nil {
			c.metrics.IdempotencyDuplicates.WithLabelValues(string(tier)).Inc()
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return nil, nil
	}

	output, err := c.apply(evt)
	if err != nil {
		if c.metrics != nil {
			reason := rejectReason(err)
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
			if errors.Is(err, ErrNonceReused) || errors.Is(err, ErrNonceGap) {
				c.metrics.NonceRejected.WithLabelValues(reason).Inc()
			}
		}
		c.logger.Debug().
			Err(err).
			Str("event_type", eventType).
			Str("request_id", evt.IdempotencyKey()).
			Msg("command rejected")
		return nil, err
	}

	c.emit(output, true)
	c.idempotency.MarkProcessed(eventType, evt.Partition(), evt.IdempotencyKey())

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		c.metrics.CoreClock.Set(float64(c.clock.Now()))
		c.metrics.DedupLRUSize.Set(float64(c.idempotency.LRU().Size()))
		c.metrics.EscrowActive.Set(float64(c.records.ActiveCount()))
		assetName, _ := ledger.GetAssetName(c.assetID)
		c.metrics.EscrowCustodyHeld.WithLabelValues(assetName).Set(float64(c.balanceTracker.TotalCustody(c.assetID)))
		for _, j := range output.Batch.Journals {
			c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
		if output.Event != nil {
			c.metrics.EscrowTransitions.WithLabelValues(output.Event.Type).Inc()
		}
	}

	return output, nil
}

// ReplayEnvelope re-applies a logged envelope during recovery. It skips the
// dedup tiers and the persist channel, and fails if the recomputed state hash
// differs from the logged one.
func (c *DeterministicCore) ReplayEnvelope(env *event.EventEnvelope) error {
	evt, err := event.Unmarshal(env.EventType, env.Payload)
	if err != nil {
		return fmt.Errorf("replay seq=%d: %w", env.Sequence, err)
	}
	if env.Sequence != c.sequence {
		return fmt.Errorf("replay: expected sequence %d, log has %d", c.sequence, env.Sequence)
	}

	output, err := c.apply(evt)
	if err != nil {
		return fmt.Errorf("replay seq=%d rejected: %w", env.Sequence, err)
	}
	if output.Envelope.StateHash != env.StateHash {
		return fmt.Errorf("%w at seq=%d: log %x, replay %x",
			ErrStateHashMismatch, env.Sequence, env.StateHash, output.Envelope.StateHash)
	}

	c.emit(output, false)
	c.idempotency.MarkProcessed(evt.EventType().String(), evt.Partition(), evt.IdempotencyKey())
	if c.metrics != nil {
		c.metrics.ReplayEventsTotal.Inc()
	}
	return nil
}

// apply runs steps 2 through 10 of the pipeline. Every check happens before
// the first mutation.
func (c *DeterministicCore) apply(evt event.Event) (*CoreOutput, error) {
	// Step 2: Nonce validation (checked now, consumed on success)
	partition := evt.Partition()
	if partition != "" {
		if err := c.nonces.Check(partition, evt.SourceSequence()); err != nil {
			return nil, err
		}
	}

	// Step 3: Ledger clock
	now := c.clock.Peek(evt.RequestTime())

	// Step 4: Dispatch to a batch
	var (
		batch *ledger.Batch
		tr    *escrow.Transition
		err   error
	)
	switch e := evt.(type) {
	case *event.Deposit:
		batch, err = c.handleDeposit(e, now)
	case *event.Withdrawal:
		batch, err = c.handleWithdrawal(e, now)
	default:
		tr, err = c.transition(evt, now)
		if err == nil {
			batch, err = c.journalGen.GenerateTransition(evt.IdempotencyKey(), tr, c.assetID, now)
		}
	}
	if err != nil {
		return nil, err
	}

	// Step 5: Validate and apply atomically
	if err := c.validator.ValidateBatchBalance(batch); err != nil {
		panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
	}
	if err := c.balanceTracker.ApplyBatch(batch); err != nil {
		// Pre-checked by the generator; reaching here means the tracker moved
		// underneath us.
		panic(fmt.Sprintf("FATAL: apply pre-checked batch: %v", err))
	}

	// Step 6: Commit record, nonce, clock
	if tr != nil {
		c.records.Put(tr.After)
	}
	if partition != "" {
		c.nonces.Consume(partition, evt.SourceSequence())
	}
	c.clock.Commit(now)

	// Step 7: Post-checks
	if err := c.postCheckInvariants(batch, tr); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 8: Hash chain
	stateDigest := c.computeStateDigest(batch, tr)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

	payload, err := event.Marshal(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: marshal accepted event: %v", err))
	}

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: evt.IdempotencyKey(),
		EventType:      evt.EventType(),
		Caller:         evt.CallerID(),
		Timestamp:      now,
		SourceSequence: evt.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := &CoreOutput{
		Envelope:   envelope,
		Batch:      batch,
		Balances:   c.affectedBalances(batch),
		StateDelta: stateDigest,
	}
	if tr != nil {
		addr := [32]byte(tr.Address)
		envelope.EscrowAddress = &addr
		output.Record = tr.After.Clone()
		ev := escrow.EventFor(tr, now)
		output.Event = &ev
	}

	c.sequence++
	return output, nil
}

// transition looks up the target record and runs the matching engine operation.
func (c *DeterministicCore) transition(evt event.Event, now int64) (*escrow.Transition, error) {
	maker, id, ok := event.EscrowKey(evt)
	if !ok {
		return nil, fmt.Errorf("unknown event type: %T", evt)
	}
	rec := c.records.Lookup(maker, id)
	caller := evt.CallerID()

	switch e := evt.(type) {
	case *event.CreateEscrow:
		return escrow.Create(rec, caller, escrow.CreateParams{
			ID:             e.ID,
			OfferedAmount:  e.OfferedAmount,
			ExpectedAmount: e.ExpectedAmount,
			ExpiryTime:     e.ExpiryTime,
			Taker:          e.Taker,
		}, now)
	case *event.FundEscrow:
		return escrow.Fund(rec, caller, now)
	case *event.CompleteEscrow:
		return escrow.Complete(rec, caller, now)
	case *event.CancelEscrow:
		return escrow.Cancel(rec, caller, now)
	case *event.RefundEscrow:
		return escrow.RefundAfterExpiry(rec, caller, now)
	}
	return nil, fmt.Errorf("unknown event type: %T", evt)
}

func (c *DeterministicCore) handleDeposit(evt *event.Deposit, now int64) (*ledger.Batch, error) {
	assetID, ok := ledger.GetAssetID(evt.Asset)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAsset, evt.Asset)
	}
	return c.journalGen.GenerateDeposit(evt.DepositID, evt.Identity, evt.Amount, assetID, now)
}

func (c *DeterministicCore) handleWithdrawal(evt *event.Withdrawal, now int64) (*ledger.Batch, error) {
	assetID, ok := ledger.GetAssetID(evt.Asset)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAsset, evt.Asset)
	}
	return c.journalGen.GenerateWithdrawal(evt.WithdrawalID, evt.Identity, evt.Amount, assetID, now)
}

// postCheckInvariants validates invariants after batch application
func (c *DeterministicCore) postCheckInvariants(batch *ledger.Batch, tr *escrow.Transition) error {
	for key := range batch.NetChanges() {
		if key.Scope == ledger.AccountScopeExternal {
			continue
		}
		if err := c.balanceTracker.ValidateNonNegative(key); err != nil {
			return err
		}
	}
	if tr != nil {
		rec := tr.After
		if err := c.validator.ValidateCustody(tr.Address, c.assetID, rec.CustodyHeld()); err != nil {
			return err
		}
		if rec.Completed && rec.Active {
			return fmt.Errorf("record %s completed but active", tr.Address)
		}
		if rec.Funded && !rec.Active {
			return fmt.Errorf("record %s funded but inactive", tr.Address)
		}
	}
	return nil
}

func (c *DeterministicCore) affectedBalances(batch *ledger.Batch) map[ledger.AccountKey]int64 {
	out := make(map[ledger.AccountKey]int64)
	for key := range batch.NetChanges() {
		out[key] = c.balanceTracker.GetBalance(key)
	}
	return out
}

// computeStateDigest creates canonical bytes for the state hash: every touched
// account's new balance in path order, then the touched record.
func (c *DeterministicCore) computeStateDigest(batch *ledger.Batch, tr *escrow.Transition) []byte {
	accounts := make([]ledger.AccountKey, 0, len(batch.Journals)*2)
	for key := range batch.NetChanges() {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*96+160)
	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, path...)
		digest = appendInt64LE(digest, c.balanceTracker.GetBalance(key))
	}
	if tr != nil {
		digest = append(digest, state.CanonicalRecordBytes(tr.After)...)
	}
	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// emit sends output downstream. The persist channel blocks (backpressure, no
// loss); the projection channel drops when full since projections rebuild
// from the event log.
func (c *DeterministicCore) emit(output *CoreOutput, persist bool) {
	if persist && c.persistChan != nil {
		select {
		case c.persistChan <- *output:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- *output
		}
	}

	if c.projectionChan != nil {
		select {
		case c.projectionChan <- *output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
			}
		}
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrNonceReused):
		return "nonce_reused"
	case errors.Is(err, ErrNonceGap):
		return "nonce_gap"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ledger.ErrBalanceOverflow):
		return "balance_overflow"
	case errors.Is(err, ErrUnknownAsset):
		return "unknown_asset"
	}
	return string(escrow.KindOf(err))
}

// --- Read accessors (core goroutine only) ---

// GetSequence returns the next sequence to assign.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// Clock returns the ledger clock.
func (c *DeterministicCore) Clock() int64 {
	return c.clock.Now()
}

// AssetID returns the escrow asset.
func (c *DeterministicCore) AssetID() ledger.AssetID {
	return c.assetID
}

// Lookup returns a copy of the record for (maker, id), or nil.
func (c *DeterministicCore) Lookup(maker common.Address, id uint64) *escrow.Record {
	return c.records.Lookup(maker, id)
}

// Records exposes the record book for read-only queries.
func (c *DeterministicCore) Records() *state.RecordBook {
	return c.records
}

// Balances exposes the balance tracker for read-only queries.
func (c *DeterministicCore) Balances() *ledger.BalanceTracker {
	return c.balanceTracker
}

// NextNonce returns the nonce the partition expects next.
func (c *DeterministicCore) NextNonce(partition string) int64 {
	return c.nonces.Expected(partition)
}
