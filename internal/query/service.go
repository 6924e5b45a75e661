package query

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"EscrowLedger/internal/core"
	"EscrowLedger/internal/escrow"
	"EscrowLedger/internal/ledger"
	"EscrowLedger/internal/observability"
	"EscrowLedger/internal/projection"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalidArgument marks malformed query input.
var ErrInvalidArgument = errors.New("invalid argument")

// CoreReader runs fn on the core goroutine. core.Submitter implements it.
type CoreReader interface {
	Do(ctx context.Context, fn func(*core.DeterministicCore)) error
}

// QueryService answers reads. Record and balance reads run on the core
// goroutine, so they are exact as of AsOfSequence; journal history and log
// audits read Postgres and are optional.
type QueryService struct {
	reader    CoreReader
	db        *sql.DB
	metrics   *observability.Metrics
	startTime time.Time
}

// NewQueryService builds a query service. db may be nil, in which case the
// Postgres-backed endpoints return an error.
func NewQueryService(reader CoreReader, db *sql.DB, metrics *observability.Metrics) *QueryService {
	return &QueryService{
		reader:    reader,
		db:        db,
		metrics:   metrics,
		startTime: time.Now(),
	}
}

// GetEscrow returns the public fields of the record at (maker, id).
func (qs *QueryService) GetEscrow(ctx context.Context, maker string, id uint64) (view *EscrowView, err error) {
	defer qs.observe("get_escrow", time.Now(), &err)

	makerAddr, err := parseIdentity("maker", maker)
	if err != nil {
		return nil, err
	}

	var rec *escrow.Record
	var seq int64
	if err := qs.reader.Do(ctx, func(c *core.DeterministicCore) {
		rec = c.Lookup(makerAddr, id)
		seq = c.GetSequence()
	}); err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("escrow %s/%d: %w", makerAddr.Hex(), id, escrow.ErrNotFound)
	}
	v := viewOf(rec, seq)
	return &v, nil
}

// ListMakerEscrows returns every record a maker has created, read through
// the maker index.
func (qs *QueryService) ListMakerEscrows(ctx context.Context, maker string, activeOnly bool) (list *MakerEscrows, err error) {
	defer qs.observe("list_maker_escrows", time.Now(), &err)

	makerAddr, err := parseIdentity("maker", maker)
	if err != nil {
		return nil, err
	}

	var recs []*escrow.Record
	var seq int64
	if err := qs.reader.Do(ctx, func(c *core.DeterministicCore) {
		recs = c.Records().MakerRecords(makerAddr)
		seq = c.GetSequence()
	}); err != nil {
		return nil, err
	}

	out := &MakerEscrows{
		Maker:        makerAddr.Hex(),
		Escrows:      make([]EscrowView, 0, len(recs)),
		AsOfSequence: seq,
	}
	for _, rec := range recs {
		if activeOnly && !rec.Active {
			continue
		}
		out.Escrows = append(out.Escrows, viewOf(rec, seq))
	}
	return out, nil
}

// GetBalance returns the identity's available balance and the value it has
// locked as a maker in active records.
func (qs *QueryService) GetBalance(ctx context.Context, identity string) (bal *BalanceResponse, err error) {
	defer qs.observe("get_balance", time.Now(), &err)

	id, err := parseIdentity("identity", identity)
	if err != nil {
		return nil, err
	}

	resp := &BalanceResponse{Identity: id.Hex()}
	if err := qs.reader.Do(ctx, func(c *core.DeterministicCore) {
		asset := c.AssetID()
		resp.Asset, _ = ledger.GetAssetName(asset)
		resp.Available = c.Balances().GetIdentityBalance(id, asset)
		for _, rec := range c.Records().MakerRecords(id) {
			if rec.Active {
				resp.LockedAsMaker += rec.OfferedAmount
			}
		}
		resp.AsOfSequence = c.GetSequence()
	}); err != nil {
		return nil, err
	}
	return resp, nil
}

// DeriveAddress computes the custody address of (maker, id) without touching state.
func (qs *QueryService) DeriveAddress(maker string, id uint64) (addr *AddressResponse, err error) {
	defer qs.observe("derive_address", time.Now(), &err)

	makerAddr, err := parseIdentity("maker", maker)
	if err != nil {
		return nil, err
	}
	return &AddressResponse{
		Maker:   makerAddr.Hex(),
		ID:      id,
		Address: escrow.DeriveAddress(makerAddr, id).Hex(),
	}, nil
}

// GetStatus reports the core's position and runs a full integrity pass.
func (qs *QueryService) GetStatus(ctx context.Context) (st *StatusResponse, err error) {
	defer qs.observe("get_status", time.Now(), &err)

	st = &StatusResponse{ProjectionSeq: -1}
	if err := qs.reader.Do(ctx, func(c *core.DeterministicCore) {
		hash := c.GetStateHash()
		report := c.CheckIntegrity()
		st.Sequence = c.GetSequence()
		st.StateHash = hex.EncodeToString(hash[:])
		st.Clock = c.Clock()
		st.Asset, _ = ledger.GetAssetName(c.AssetID())
		st.Records = c.Records().Len()
		st.ActiveRecords = c.Records().ActiveCount()
		st.CustodyHeld = report.Custody
		st.Healthy = report.OK()
		st.Violations = report.Violations
	}); err != nil {
		return nil, err
	}

	if qs.db != nil {
		seq, err := projection.Watermark(ctx, qs.db)
		if err != nil {
			return nil, fmt.Errorf("projection watermark: %w", err)
		}
		st.ProjectionSeq = seq
	}
	st.UptimeSeconds = int64(time.Since(qs.startTime).Seconds())
	return st, nil
}

func (qs *QueryService) observe(endpoint string, start time.Time, errp *error) {
	if qs.metrics == nil {
		return
	}
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	status := "ok"
	if *errp != nil {
		status = "error"
		qs.metrics.QueryErrors.WithLabelValues(endpoint, ErrorCode(*errp)).Inc()
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
}

// ErrorCode maps a query error to a stable label.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return "InvalidArgument"
	case errors.Is(err, core.ErrCoreStopped):
		return "Unavailable"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "Deadline"
	}
	return string(escrow.KindOf(err))
}

func viewOf(rec *escrow.Record, seq int64) EscrowView {
	v := EscrowView{
		Address:         rec.Address().Hex(),
		ID:              rec.ID,
		Maker:           rec.Maker.Hex(),
		DesignatedTaker: rec.DesignatedTaker.Hex(),
		OfferedAmount:   rec.OfferedAmount,
		ExpectedAmount:  rec.ExpectedAmount,
		Funded:          rec.Funded,
		Active:          rec.Active,
		Completed:       rec.Completed,
		ExpiryTime:      rec.ExpiryTime,
		Outcome:         rec.Outcome.String(),
		AsOfSequence:    seq,
	}
	if rec.Taker != nil {
		taker := rec.Taker.Hex()
		v.Taker = &taker
	}
	return v
}

func parseIdentity(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s %q is not an identity", ErrInvalidArgument, field, s)
	}
	return common.HexToAddress(s), nil
}
