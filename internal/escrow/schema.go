package escrow

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
)

// SchemaVersion is the layout written by EncodeRecord.
const SchemaVersion = 2

// recordJSON is the current storage layout.
type recordJSON struct {
	SchemaVersion   int     `json:"schema_version"`
	ID              uint64  `json:"id"`
	Maker           string  `json:"maker"`
	DesignatedTaker string  `json:"designated_taker"`
	Taker           *string `json:"taker,omitempty"`
	OfferedAmount   int64   `json:"offered_amount"`
	ExpectedAmount  int64   `json:"expected_amount"`
	Funded          bool    `json:"funded"`
	Active          bool    `json:"active"`
	Completed       bool    `json:"completed"`
	ExpiryTime      int64   `json:"expiry_time"`
	CreatedAt       int64   `json:"created_at"`
	FundedAt        int64   `json:"funded_at"`
	ClosedAt        int64   `json:"closed_at"`
	Outcome         string  `json:"outcome"`
}

// recordV1JSON is the layout written before schema versioning existed. v1 kept
// the designated taker in "taker" and cleared it on completion.
type recordV1JSON struct {
	EscrowID        uint64  `json:"escrow_id"`
	Maker           string  `json:"maker"`
	Taker           *string `json:"taker"`
	AmountA         int64   `json:"amount_a"`
	AmountBExpected int64   `json:"amount_b_expected"`
	IsFunded        bool    `json:"is_funded"`
	IsActive        bool    `json:"is_active"`
	IsCompleted     bool    `json:"is_completed"`
	ExpiryTs        int64   `json:"expiry_ts"`
}

// EncodeRecord serializes r in the current schema.
func EncodeRecord(r *Record) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("encode record: nil record")
	}
	j := recordJSON{
		SchemaVersion:   SchemaVersion,
		ID:              r.ID,
		Maker:           r.Maker.Hex(),
		DesignatedTaker: r.DesignatedTaker.Hex(),
		OfferedAmount:   r.OfferedAmount,
		ExpectedAmount:  r.ExpectedAmount,
		Funded:          r.Funded,
		Active:          r.Active,
		Completed:       r.Completed,
		ExpiryTime:      r.ExpiryTime,
		CreatedAt:       r.CreatedAt,
		FundedAt:        r.FundedAt,
		ClosedAt:        r.ClosedAt,
		Outcome:         r.Outcome.String(),
	}
	if r.Taker != nil {
		taker := r.Taker.Hex()
		j.Taker = &taker
	}
	return json.Marshal(j)
}

// DecodeRecord parses any known schema version and returns the canonical record.
func DecodeRecord(data []byte) (*Record, error) {
	var header struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}

	switch header.SchemaVersion {
	case 0, 1:
		var v1 recordV1JSON
		if err := json.Unmarshal(data, &v1); err != nil {
			return nil, fmt.Errorf("decode record v1: %w", err)
		}
		return MigrateV1(v1)
	case SchemaVersion:
		var j recordJSON
		if err := json.Unmarshal(data, &j); err != nil {
			return nil, fmt.Errorf("decode record v%d: %w", SchemaVersion, err)
		}
		return fromJSON(j)
	default:
		return nil, fmt.Errorf("decode record: unsupported schema version %d", header.SchemaVersion)
	}
}

func fromJSON(j recordJSON) (*Record, error) {
	maker, err := parseIdentity("maker", j.Maker)
	if err != nil {
		return nil, err
	}
	designated, err := parseIdentity("designated_taker", j.DesignatedTaker)
	if err != nil {
		return nil, err
	}
	outcome, ok := ParseOutcome(j.Outcome)
	if !ok {
		return nil, fmt.Errorf("decode record: unknown outcome %q", j.Outcome)
	}
	r := &Record{
		ID:              j.ID,
		Maker:           maker,
		DesignatedTaker: designated,
		OfferedAmount:   j.OfferedAmount,
		ExpectedAmount:  j.ExpectedAmount,
		Funded:          j.Funded,
		Active:          j.Active,
		Completed:       j.Completed,
		ExpiryTime:      j.ExpiryTime,
		CreatedAt:       j.CreatedAt,
		FundedAt:        j.FundedAt,
		ClosedAt:        j.ClosedAt,
		Outcome:         outcome,
	}
	if j.Taker != nil {
		taker, err := parseIdentity("taker", *j.Taker)
		if err != nil {
			return nil, err
		}
		r.Taker = &taker
	}
	if err := checkRecord(r); err != nil {
		return nil, fmt.Errorf("decode record v%d id %d: %w", SchemaVersion, j.ID, err)
	}
	return r, nil
}

// MigrateV1 converts a legacy record. v1 could not tell a cancel from a refund,
// so every inactive, uncompleted v1 record becomes OutcomeCancelled. v1 cleared
// the taker on completion, so a completed record may come back with no Taker.
func MigrateV1(v1 recordV1JSON) (*Record, error) {
	maker, err := parseIdentity("maker", v1.Maker)
	if err != nil {
		return nil, err
	}
	r := &Record{
		ID:             v1.EscrowID,
		Maker:          maker,
		OfferedAmount:  v1.AmountA,
		ExpectedAmount: v1.AmountBExpected,
		Funded:         v1.IsFunded,
		Active:         v1.IsActive,
		Completed:      v1.IsCompleted,
		ExpiryTime:     v1.ExpiryTs,
		Outcome:        OutcomeOpen,
	}
	if v1.Taker != nil {
		designated, err := parseIdentity("taker", *v1.Taker)
		if err != nil {
			return nil, err
		}
		r.DesignatedTaker = designated
	}
	// Only the designated taker could ever fund, so a funded or completed v1
	// record's realized taker is the designated one when it is still known.
	if (v1.IsFunded || v1.IsCompleted) && r.DesignatedTaker != (common.Address{}) {
		taker := r.DesignatedTaker
		r.Taker = &taker
	}
	switch {
	case v1.IsCompleted:
		r.Outcome = OutcomeCompleted
	case !v1.IsActive:
		r.Outcome = OutcomeCancelled
	}
	// v1 always stored the designated taker while a record was open.
	if r.Active && r.DesignatedTaker == (common.Address{}) {
		return nil, fmt.Errorf("decode record v1 id %d: %w: active record has no taker", v1.EscrowID, ErrWrongState)
	}
	if err := checkRecord(r); err != nil {
		return nil, fmt.Errorf("decode record v1 id %d: %w", v1.EscrowID, err)
	}
	return r, nil
}

// checkRecord rejects stored records that no sequence of operations could
// have produced.
func checkRecord(r *Record) error {
	switch {
	case r.OfferedAmount <= 0 || r.ExpectedAmount <= 0:
		return fmt.Errorf("%w: offered %d, expected %d", ErrInvalidAmount, r.OfferedAmount, r.ExpectedAmount)
	case r.OfferedAmount > math.MaxInt64-r.ExpectedAmount:
		return fmt.Errorf("%w: offered %d plus expected %d overflows", ErrInvalidAmount, r.OfferedAmount, r.ExpectedAmount)
	case r.Completed && (r.Active || r.Funded):
		return fmt.Errorf("%w: completed record still active or funded", ErrWrongState)
	case r.Funded && !r.Active:
		return fmt.Errorf("%w: funded record is inactive", ErrWrongState)
	case r.Funded && r.Taker == nil:
		return fmt.Errorf("%w: funded record has no taker", ErrWrongState)
	case r.Active != (r.Outcome == OutcomeOpen):
		return fmt.Errorf("%w: active=%t with outcome %s", ErrWrongState, r.Active, r.Outcome)
	case r.Completed != (r.Outcome == OutcomeCompleted):
		return fmt.Errorf("%w: completed=%t with outcome %s", ErrWrongState, r.Completed, r.Outcome)
	}
	return nil
}

func parseIdentity(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("decode record: invalid %s %q", field, s)
	}
	return common.HexToAddress(s), nil
}
