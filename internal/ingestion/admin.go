package ingestion

import (
	"crypto/subtle"
	"errors"
	"strings"
)

var (
	// ErrAdminDisabled means no admin token is configured, so funds cannot be injected.
	ErrAdminDisabled = errors.New("admin operations are disabled")
	// ErrAdminTokenMissing means an admin call carried no credentials.
	ErrAdminTokenMissing = errors.New("admin token required")
	// ErrAdminTokenInvalid means the presented admin token is wrong.
	ErrAdminTokenInvalid = errors.New("admin token rejected")
)

// AdminTokenHeader carries the operator token on NATS funds messages and HTTP
// admin routes. gRPC uses the same name as metadata key.
const AdminTokenHeader = "Escrow-Admin-Token"

// AdminAuth checks operator credentials. Deposits and withdrawals create and
// destroy balance, so every transport gates them through the same check.
type AdminAuth struct {
	token []byte
}

func NewAdminAuth(token string) AdminAuth {
	if token == "" {
		return AdminAuth{}
	}
	return AdminAuth{token: []byte(token)}
}

func (a AdminAuth) Enabled() bool {
	return len(a.token) > 0
}

// Check compares presented against the configured token in constant time.
// A "Bearer " prefix is accepted.
func (a AdminAuth) Check(presented string) error {
	if !a.Enabled() {
		return ErrAdminDisabled
	}
	presented = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(presented), "Bearer "))
	if presented == "" {
		return ErrAdminTokenMissing
	}
	if subtle.ConstantTimeCompare([]byte(presented), a.token) != 1 {
		return ErrAdminTokenInvalid
	}
	return nil
}
