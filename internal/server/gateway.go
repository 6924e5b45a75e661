package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"EscrowLedger/internal/ingestion"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// route binds one HTTP pattern to a service call. Handlers call the service
// implementations in process rather than proxying over a client connection.
type route struct {
	method  string
	pattern string
	handler runtime.HandlerFunc
}

func (s *Server) newGateway() (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()

	routes := []route{
		{"POST", "/v1/escrows/create", s.submitHandler(s.escrow.Create)},
		{"POST", "/v1/escrows/fund", s.submitHandler(s.escrow.Fund)},
		{"POST", "/v1/escrows/complete", s.submitHandler(s.escrow.Complete)},
		{"POST", "/v1/escrows/cancel", s.submitHandler(s.escrow.Cancel)},
		{"POST", "/v1/escrows/refund", s.submitHandler(s.escrow.Refund)},

		{"GET", "/v1/makers/{maker}/escrows/{id}", s.getEscrow},
		{"GET", "/v1/makers/{maker}/escrows", s.listMakerEscrows},
		{"GET", "/v1/makers/{maker}/address/{id}", s.deriveAddress},
		{"GET", "/v1/identities/{identity}/balance", s.getBalance},
		{"GET", "/v1/identities/{identity}/journals", s.listJournals},

		{"POST", "/v1/admin/deposits", s.requireAdmin(s.fundsHandler(s.admin.InjectDeposit))},
		{"POST", "/v1/admin/withdrawals", s.requireAdmin(s.fundsHandler(s.admin.InjectWithdrawal))},
		{"GET", "/v1/admin/status", s.requireAdmin(s.getStatus)},
		{"POST", "/v1/admin/snapshots", s.requireAdmin(s.takeSnapshot)},
		{"GET", "/v1/admin/integrity", s.requireAdmin(s.verifyIntegrity)},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.handler); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

// requireAdmin applies the AdminService token check to a gateway route. The
// gateway calls services in process, so the gRPC interceptor never sees it.
func (s *Server) requireAdmin(next runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		token := r.Header.Get(ingestion.AdminTokenHeader)
		if token == "" {
			token = r.Header.Get("Authorization")
		}
		if err := s.adminAuth.Check(token); err != nil {
			writeError(w, err)
			return
		}
		next(w, r, params)
	}
}

func (s *Server) submitHandler(
	call func(context.Context, *ingestion.OperationRequest) (*SubmitResponse, error),
) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		var req ingestion.OperationRequest
		if !decodeBody(w, r, &req) {
			return
		}
		resp, err := call(r.Context(), &req)
		writeResult(w, resp, err)
	}
}

func (s *Server) fundsHandler(
	call func(context.Context, *FundsRequest) (*SubmitResponse, error),
) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		var req FundsRequest
		if !decodeBody(w, r, &req) {
			return
		}
		resp, err := call(r.Context(), &req)
		writeResult(w, resp, err)
	}
}

func (s *Server) getEscrow(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, ok := parseID(w, params["id"])
	if !ok {
		return
	}
	resp, err := s.query.GetEscrow(r.Context(), &GetEscrowRequest{Maker: params["maker"], ID: id})
	writeResult(w, resp, err)
}

func (s *Server) listMakerEscrows(w http.ResponseWriter, r *http.Request, params map[string]string) {
	activeOnly := r.URL.Query().Get("active") == "true"
	resp, err := s.query.ListMakerEscrows(r.Context(), &ListMakerEscrowsRequest{Maker: params["maker"], ActiveOnly: activeOnly})
	writeResult(w, resp, err)
}

func (s *Server) deriveAddress(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, ok := parseID(w, params["id"])
	if !ok {
		return
	}
	resp, err := s.query.DeriveAddress(r.Context(), &DeriveAddressRequest{Maker: params["maker"], ID: id})
	writeResult(w, resp, err)
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request, params map[string]string) {
	resp, err := s.query.GetBalance(r.Context(), &GetBalanceRequest{Identity: params["identity"]})
	writeResult(w, resp, err)
}

func (s *Server) listJournals(w http.ResponseWriter, r *http.Request, params map[string]string) {
	req := &ListJournalsRequest{Identity: params["identity"]}
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, status.Errorf(codes.InvalidArgument, "invalid limit %q", v))
			return
		}
		req.Limit = n
	}
	if v := q.Get("before"); v != "" {
		seq, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, status.Errorf(codes.InvalidArgument, "invalid before %q", v))
			return
		}
		req.BeforeSequence = &seq
	}
	resp, err := s.query.ListJournals(r.Context(), req)
	writeResult(w, resp, err)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := s.admin.GetStatus(r.Context(), &GetStatusRequest{})
	writeResult(w, resp, err)
}

func (s *Server) takeSnapshot(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := s.admin.TakeSnapshot(r.Context(), &TakeSnapshotRequest{})
	writeResult(w, resp, err)
}

func (s *Server) verifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := s.admin.VerifyIntegrity(r.Context(), &VerifyIntegrityRequest{})
	writeResult(w, resp, err)
}

// --- encoding helpers ---

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, status.Errorf(codes.InvalidArgument, "decode body: %v", err))
		return false
	}
	return true
}

func parseID(w http.ResponseWriter, s string) (uint64, bool) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		writeError(w, status.Errorf(codes.InvalidArgument, "invalid id %q", s))
		return 0, false
	}
	return id, true
}

func writeResult(w http.ResponseWriter, resp interface{}, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(toStatus(err))
	writeJSON(w, runtime.HTTPStatusFromCode(st.Code()), errorBody{
		Code:    st.Code().String(),
		Message: st.Message(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
