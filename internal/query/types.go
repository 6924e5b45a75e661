package query

// EscrowView is the public face of a record. Internal bookkeeping such as
// creation and close times stays in the core.
type EscrowView struct {
	Address         string  `json:"address"`
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
	Outcome         string  `json:"outcome"`
	AsOfSequence    int64   `json:"as_of_sequence"`
}

// MakerEscrows lists a maker's records in id order.
type MakerEscrows struct {
	Maker        string       `json:"maker"`
	Escrows      []EscrowView `json:"escrows"`
	AsOfSequence int64        `json:"as_of_sequence"`
}

// BalanceResponse is an identity's spendable balance. Value locked in escrow
// custody is reported separately and is not spendable.
type BalanceResponse struct {
	Identity      string `json:"identity"`
	Asset         string `json:"asset"`
	Available     int64  `json:"available"`
	LockedAsMaker int64  `json:"locked_as_maker"`
	AsOfSequence  int64  `json:"as_of_sequence"`
}

// AddressResponse is the derived custody address of (maker, id).
type AddressResponse struct {
	Maker   string `json:"maker"`
	ID      uint64 `json:"id"`
	Address string `json:"address"`
}

// StatusResponse summarizes the core for operators.
type StatusResponse struct {
	Sequence      int64    `json:"sequence"`
	StateHash     string   `json:"state_hash"`
	Clock         int64    `json:"clock"`
	Asset         string   `json:"asset"`
	Records       int      `json:"records"`
	ActiveRecords int      `json:"active_records"`
	CustodyHeld   int64    `json:"custody_held"`
	ProjectionSeq int64    `json:"projection_sequence"`
	Healthy       bool     `json:"healthy"`
	Violations    []string `json:"violations,omitempty"`
	UptimeSeconds int64    `json:"uptime_seconds"`
}

// JournalHistoryEntry is one journal row touching an identity.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Amount        int64  `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// LogIntegrityReport is the result of auditing the durable event log.
type LogIntegrityReport struct {
	HashChainBreaks []int64 `json:"hash_chain_breaks"`
	ProjectionSum   int64   `json:"projection_sum"`
	IsHealthy       bool    `json:"is_healthy"`
}
