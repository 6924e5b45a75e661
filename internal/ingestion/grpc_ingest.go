package ingestion

import (
	"context"
	"fmt"

	"EscrowLedger/internal/core"
	"EscrowLedger/internal/event"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// GRPCIngestService is the synchronous submission path used by the gRPC
// server. Escrow operations are signed like NATS ones; deposits and
// withdrawals are admin injections. Every command is stamped by clock.
type GRPCIngestService struct {
	submitter Submitter
	clock     *IngressClock
}

func NewGRPCIngestService(submitter Submitter, clock *IngressClock) *GRPCIngestService {
	return &GRPCIngestService{submitter: submitter, clock: clock}
}

// SubmitOperation verifies and submits one signed escrow operation, returning
// the core's verdict.
func (s *GRPCIngestService) SubmitOperation(ctx context.Context, req *OperationRequest) (core.Result, error) {
	evt, err := ParseOperation(req, s.clock, s.clock.Now())
	if err != nil {
		return core.Result{}, err
	}
	return s.submitter.Submit(ctx, evt)
}

// InjectDeposit credits an identity. An empty depositID gets a fresh one.
func (s *GRPCIngestService) InjectDeposit(
	ctx context.Context,
	depositID string,
	identity common.Address,
	asset string,
	amount int64,
) (core.Result, error) {
	if amount <= 0 {
		return core.Result{}, fmt.Errorf("%w: amount must be positive", ErrMalformed)
	}
	if depositID == "" {
		depositID = uuid.NewString()
	}

	return s.submitter.Submit(ctx, &event.Deposit{
		DepositID: depositID,
		Identity:  identity,
		Asset:     asset,
		Amount:    amount,
		Timestamp: s.clock.Now().Unix(),
	})
}

// InjectWithdrawal pays an identity out. An empty withdrawalID gets a fresh one.
func (s *GRPCIngestService) InjectWithdrawal(
	ctx context.Context,
	withdrawalID string,
	identity common.Address,
	asset string,
	amount int64,
) (core.Result, error) {
	if amount <= 0 {
		return core.Result{}, fmt.Errorf("%w: amount must be positive", ErrMalformed)
	}
	if withdrawalID == "" {
		withdrawalID = uuid.NewString()
	}

	return s.submitter.Submit(ctx, &event.Withdrawal{
		WithdrawalID: withdrawalID,
		Identity:     identity,
		Asset:        asset,
		Amount:       amount,
		Timestamp:    s.clock.Now().Unix(),
	})
}
