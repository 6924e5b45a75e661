package server

import (
	"context"
	"encoding/hex"

	"EscrowLedger/internal/core"
	"EscrowLedger/internal/ingestion"
	"EscrowLedger/internal/query"

	"github.com/ethereum/go-ethereum/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Snapshotter takes an on-demand snapshot and returns its sequence.
type Snapshotter interface {
	TakeSnapshot(ctx context.Context) (int64, error)
}

// ============================================================================
// EscrowService
// ============================================================================

type EscrowServiceServer interface {
	Create(context.Context, *ingestion.OperationRequest) (*SubmitResponse, error)
	Fund(context.Context, *ingestion.OperationRequest) (*SubmitResponse, error)
	Complete(context.Context, *ingestion.OperationRequest) (*SubmitResponse, error)
	Cancel(context.Context, *ingestion.OperationRequest) (*SubmitResponse, error)
	Refund(context.Context, *ingestion.OperationRequest) (*SubmitResponse, error)
}

type escrowServiceImpl struct {
	ingest *ingestion.GRPCIngestService
}

// submit forces the request's op to the called method. The op is part of the
// signed digest, so a request signed for another operation fails verification.
func (s *escrowServiceImpl) submit(ctx context.Context, op string, req *ingestion.OperationRequest) (*SubmitResponse, error) {
	req.Op = op
	res, err := s.ingest.SubmitOperation(ctx, req)
	return submitResponse(res, err)
}

func (s *escrowServiceImpl) Create(ctx context.Context, req *ingestion.OperationRequest) (*SubmitResponse, error) {
	return s.submit(ctx, "create", req)
}

func (s *escrowServiceImpl) Fund(ctx context.Context, req *ingestion.OperationRequest) (*SubmitResponse, error) {
	return s.submit(ctx, "fund", req)
}

func (s *escrowServiceImpl) Complete(ctx context.Context, req *ingestion.OperationRequest) (*SubmitResponse, error) {
	return s.submit(ctx, "complete", req)
}

func (s *escrowServiceImpl) Cancel(ctx context.Context, req *ingestion.OperationRequest) (*SubmitResponse, error) {
	return s.submit(ctx, "cancel", req)
}

func (s *escrowServiceImpl) Refund(ctx context.Context, req *ingestion.OperationRequest) (*SubmitResponse, error) {
	return s.submit(ctx, "refund", req)
}

func submitResponse(res core.Result, err error) (*SubmitResponse, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	if res.Err != nil {
		return nil, toStatus(res.Err)
	}
	if res.Duplicate || res.Output == nil {
		return &SubmitResponse{Accepted: true, Duplicate: true}, nil
	}
	env := res.Output.Envelope
	return &SubmitResponse{
		Accepted:  true,
		Sequence:  env.Sequence,
		StateHash: hex.EncodeToString(env.StateHash[:]),
		Event:     res.Output.Event,
	}, nil
}

var escrowServiceDesc = grpc.ServiceDesc{
	ServiceName: "escrow.v1.EscrowService",
	HandlerType: (*EscrowServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Create", Handler: unaryHandler("/escrow.v1.EscrowService/Create", EscrowServiceServer.Create)},
		{MethodName: "Fund", Handler: unaryHandler("/escrow.v1.EscrowService/Fund", EscrowServiceServer.Fund)},
		{MethodName: "Complete", Handler: unaryHandler("/escrow.v1.EscrowService/Complete", EscrowServiceServer.Complete)},
		{MethodName: "Cancel", Handler: unaryHandler("/escrow.v1.EscrowService/Cancel", EscrowServiceServer.Cancel)},
		{MethodName: "Refund", Handler: unaryHandler("/escrow.v1.EscrowService/Refund", EscrowServiceServer.Refund)},
	},
	Metadata: "escrow/v1/escrow.json",
}

// ============================================================================
// QueryService
// ============================================================================

type QueryServiceServer interface {
	GetEscrow(context.Context, *GetEscrowRequest) (*query.EscrowView, error)
	ListMakerEscrows(context.Context, *ListMakerEscrowsRequest) (*query.MakerEscrows, error)
	GetBalance(context.Context, *GetBalanceRequest) (*query.BalanceResponse, error)
	DeriveAddress(context.Context, *DeriveAddressRequest) (*query.AddressResponse, error)
	ListJournals(context.Context, *ListJournalsRequest) (*ListJournalsResponse, error)
}

type queryServiceImpl struct {
	qs *query.QueryService
}

func (s *queryServiceImpl) GetEscrow(ctx context.Context, req *GetEscrowRequest) (*query.EscrowView, error) {
	v, err := s.qs.GetEscrow(ctx, req.Maker, req.ID)
	return v, toStatus(err)
}

func (s *queryServiceImpl) ListMakerEscrows(ctx context.Context, req *ListMakerEscrowsRequest) (*query.MakerEscrows, error) {
	list, err := s.qs.ListMakerEscrows(ctx, req.Maker, req.ActiveOnly)
	return list, toStatus(err)
}

func (s *queryServiceImpl) GetBalance(ctx context.Context, req *GetBalanceRequest) (*query.BalanceResponse, error) {
	bal, err := s.qs.GetBalance(ctx, req.Identity)
	return bal, toStatus(err)
}

func (s *queryServiceImpl) DeriveAddress(_ context.Context, req *DeriveAddressRequest) (*query.AddressResponse, error) {
	addr, err := s.qs.DeriveAddress(req.Maker, req.ID)
	return addr, toStatus(err)
}

func (s *queryServiceImpl) ListJournals(ctx context.Context, req *ListJournalsRequest) (*ListJournalsResponse, error) {
	entries, err := s.qs.GetJournalHistory(ctx, req.Identity, req.Limit, req.BeforeSequence)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListJournalsResponse{Journals: entries}, nil
}

var queryServiceDesc = grpc.ServiceDesc{
	ServiceName: "escrow.v1.QueryService",
	HandlerType: (*QueryServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetEscrow", Handler: unaryHandler("/escrow.v1.QueryService/GetEscrow", QueryServiceServer.GetEscrow)},
		{MethodName: "ListMakerEscrows", Handler: unaryHandler("/escrow.v1.QueryService/ListMakerEscrows", QueryServiceServer.ListMakerEscrows)},
		{MethodName: "GetBalance", Handler: unaryHandler("/escrow.v1.QueryService/GetBalance", QueryServiceServer.GetBalance)},
		{MethodName: "DeriveAddress", Handler: unaryHandler("/escrow.v1.QueryService/DeriveAddress", QueryServiceServer.DeriveAddress)},
		{MethodName: "ListJournals", Handler: unaryHandler("/escrow.v1.QueryService/ListJournals", QueryServiceServer.ListJournals)},
	},
	Metadata: "escrow/v1/query.json",
}

// ============================================================================
// AdminService
// ============================================================================

type AdminServiceServer interface {
	InjectDeposit(context.Context, *FundsRequest) (*SubmitResponse, error)
	InjectWithdrawal(context.Context, *FundsRequest) (*SubmitResponse, error)
	GetStatus(context.Context, *GetStatusRequest) (*query.StatusResponse, error)
	TakeSnapshot(context.Context, *TakeSnapshotRequest) (*TakeSnapshotResponse, error)
	VerifyIntegrity(context.Context, *VerifyIntegrityRequest) (*query.LogIntegrityReport, error)
}

type adminServiceImpl struct {
	ingest    *ingestion.GRPCIngestService
	qs        *query.QueryService
	snapshots Snapshotter
}

func (s *adminServiceImpl) identity(req *FundsRequest) (common.Address, error) {
	if !common.IsHexAddress(req.Identity) {
		return common.Address{}, status.Errorf(codes.InvalidArgument, "invalid identity %q", req.Identity)
	}
	return common.HexToAddress(req.Identity), nil
}

func (s *adminServiceImpl) InjectDeposit(ctx context.Context, req *FundsRequest) (*SubmitResponse, error) {
	id, err := s.identity(req)
	if err != nil {
		return nil, err
	}
	return submitResponse(s.ingest.InjectDeposit(ctx, req.ID, id, req.Asset, req.Amount))
}

func (s *adminServiceImpl) InjectWithdrawal(ctx context.Context, req *FundsRequest) (*SubmitResponse, error) {
	id, err := s.identity(req)
	if err != nil {
		return nil, err
	}
	return submitResponse(s.ingest.InjectWithdrawal(ctx, req.ID, id, req.Asset, req.Amount))
}

func (s *adminServiceImpl) GetStatus(ctx context.Context, _ *GetStatusRequest) (*query.StatusResponse, error) {
	st, err := s.qs.GetStatus(ctx)
	return st, toStatus(err)
}

func (s *adminServiceImpl) TakeSnapshot(ctx context.Context, _ *TakeSnapshotRequest) (*TakeSnapshotResponse, error) {
	if s.snapshots == nil {
		return nil, status.Error(codes.Unimplemented, "snapshots are not configured")
	}
	seq, err := s.snapshots.TakeSnapshot(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "take snapshot: %v", err)
	}
	return &TakeSnapshotResponse{Sequence: seq}, nil
}

func (s *adminServiceImpl) VerifyIntegrity(ctx context.Context, _ *VerifyIntegrityRequest) (*query.LogIntegrityReport, error) {
	report, err := s.qs.VerifyLogIntegrity(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "verify integrity: %v", err)
	}
	return report, nil
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: "escrow.v1.AdminService",
	HandlerType: (*AdminServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "InjectDeposit", Handler: unaryHandler("/escrow.v1.AdminService/InjectDeposit", AdminServiceServer.InjectDeposit)},
		{MethodName: "InjectWithdrawal", Handler: unaryHandler("/escrow.v1.AdminService/InjectWithdrawal", AdminServiceServer.InjectWithdrawal)},
		{MethodName: "GetStatus", Handler: unaryHandler("/escrow.v1.AdminService/GetStatus", AdminServiceServer.GetStatus)},
		{MethodName: "TakeSnapshot", Handler: unaryHandler("/escrow.v1.AdminService/TakeSnapshot", AdminServiceServer.TakeSnapshot)},
		{MethodName: "VerifyIntegrity", Handler: unaryHandler("/escrow.v1.AdminService/VerifyIntegrity", AdminServiceServer.VerifyIntegrity)},
	},
	Metadata: "escrow/v1/admin.json",
}

// ============================================================================
// Helpers
// ============================================================================

// unaryHandler adapts a typed method expression to grpc.MethodDesc. S is the
// service interface; the registered implementation is asserted to it.
func unaryHandler[S any, Req any, Resp any](
	fullMethod string,
	call func(S, context.Context, *Req) (*Resp, error),
) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(S), ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, r interface{}) (interface{}, error) {
			return call(srv.(S), ctx, r.(*Req))
		}
		return interceptor(ctx, req, info, handler)
	}
}
