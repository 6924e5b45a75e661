package server

import (
	"context"
	"errors"

	"EscrowLedger/internal/core"
	"EscrowLedger/internal/escrow"
	"EscrowLedger/internal/ingestion"
	"EscrowLedger/internal/ledger"
	"EscrowLedger/internal/query"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// codeOf maps service errors onto gRPC codes.
func codeOf(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, ingestion.ErrMissingSignature),
		errors.Is(err, ingestion.ErrBadSignature),
		errors.Is(err, ingestion.ErrSignerMismatch):
		return codes.Unauthenticated
	case errors.Is(err, ingestion.ErrAdminTokenMissing):
		return codes.Unauthenticated
	case errors.Is(err, ingestion.ErrAdminTokenInvalid),
		errors.Is(err, ingestion.ErrAdminDisabled):
		return codes.PermissionDenied
	case errors.Is(err, ingestion.ErrMalformed),
		errors.Is(err, ingestion.ErrClockSkew),
		errors.Is(err, query.ErrInvalidArgument),
		errors.Is(err, core.ErrUnknownAsset):
		return codes.InvalidArgument
	case errors.Is(err, core.ErrNonceReused):
		return codes.AlreadyExists
	case errors.Is(err, core.ErrNonceGap),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrBalanceOverflow):
		return codes.FailedPrecondition
	case errors.Is(err, core.ErrCoreStopped):
		return codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	}

	switch escrow.KindOf(err) {
	case escrow.KindInvalidAmount, escrow.KindInvalidExpiry:
		return codes.InvalidArgument
	case escrow.KindRecordCollision:
		return codes.AlreadyExists
	case escrow.KindNotFound:
		return codes.NotFound
	case escrow.KindUnauthorized:
		return codes.PermissionDenied
	case escrow.KindWrongState, escrow.KindNotYetExpired, escrow.KindExpired:
		return codes.FailedPrecondition
	}
	return codes.Internal
}

func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codeOf(err), err.Error())
}
