package server

import (
	"EscrowLedger/internal/escrow"
	"EscrowLedger/internal/query"
)

// SubmitResponse reports an accepted operation. Rejections are returned as
// gRPC errors instead.
type SubmitResponse struct {
	Accepted  bool          `json:"accepted"`
	Duplicate bool          `json:"duplicate,omitempty"`
	Sequence  int64         `json:"sequence"`
	StateHash string        `json:"state_hash,omitempty"`
	Event     *escrow.Event `json:"event,omitempty"`
}

type GetEscrowRequest struct {
	Maker string `json:"maker"`
	ID    uint64 `json:"id"`
}

type ListMakerEscrowsRequest struct {
	Maker      string `json:"maker"`
	ActiveOnly bool   `json:"active_only"`
}

type GetBalanceRequest struct {
	Identity string `json:"identity"`
}

type DeriveAddressRequest struct {
	Maker string `json:"maker"`
	ID    uint64 `json:"id"`
}

type ListJournalsRequest struct {
	Identity       string `json:"identity"`
	Limit          int    `json:"limit"`
	BeforeSequence *int64 `json:"before_sequence,omitempty"`
}

type ListJournalsResponse struct {
	Journals []query.JournalHistoryEntry `json:"journals"`
}

// FundsRequest injects a deposit or withdrawal. An empty ID gets a fresh one.
type FundsRequest struct {
	ID       string `json:"id"`
	Identity string `json:"identity"`
	Asset    string `json:"asset"`
	Amount   int64  `json:"amount"`
}

type GetStatusRequest struct{}

type TakeSnapshotRequest struct{}

type TakeSnapshotResponse struct {
	Sequence int64 `json:"sequence"`
}

type VerifyIntegrityRequest struct{}
