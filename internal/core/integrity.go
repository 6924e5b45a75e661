package core

import (
	"fmt"

	"EscrowLedger/internal/ledger"
)

// IntegrityReport lists every global invariant violation found in one pass.
type IntegrityReport struct {
	Sequence   int64
	Records    int
	Custody    int64
	Violations []string
}

func (r IntegrityReport) OK() bool {
	return len(r.Violations) == 0
}

// CheckIntegrity walks the whole state: ledger zero-sum, non-negative owned
// accounts, and each record's custody against its balance. It runs after
// recovery and on the periodic audit tick.
func (c *DeterministicCore) CheckIntegrity() IntegrityReport {
	report := IntegrityReport{
		Sequence: c.sequence,
		Custody:  c.balanceTracker.TotalCustody(c.assetID),
	}

	if err := c.validator.ValidateGlobalBalance(); err != nil {
		report.Violations = append(report.Violations, err.Error())
	}
	if err := c.validator.ValidateNoNegativeBalances(); err != nil {
		report.Violations = append(report.Violations, err.Error())
	}

	var expected int64
	for _, rec := range c.records.All() {
		report.Records++
		held := rec.CustodyHeld()
		expected += held
		if err := c.validator.ValidateCustody(rec.Address(), c.assetID, held); err != nil {
			report.Violations = append(report.Violations, err.Error())
		}
		if rec.Completed && rec.Active {
			report.Violations = append(report.Violations,
				fmt.Sprintf("record %s completed but active", rec.Address()))
		}
		if rec.Funded && rec.Taker == nil {
			report.Violations = append(report.Violations,
				fmt.Sprintf("record %s funded without taker", rec.Address()))
		}
	}

	// Custody held at addresses with no record would be unreachable funds.
	if expected != report.Custody {
		report.Violations = append(report.Violations,
			fmt.Sprintf("custody total %d does not match records %d", report.Custody, expected))
	}

	for key, bal := range c.balanceTracker.Snapshot() {
		if key.Scope == ledger.AccountScopeEscrow && key.AssetID != c.assetID && bal != 0 {
			report.Violations = append(report.Violations,
				fmt.Sprintf("custody in foreign asset at %s", key.AccountPath()))
		}
	}

	return report
}
