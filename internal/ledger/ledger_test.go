package ledger_test

import (
	"errors"
	"math"
	"testing"

	"EscrowLedger/internal/escrow"
	"EscrowLedger/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func sol(t *testing.T) ledger.AssetID {
	t.Helper()
	id, ok := ledger.GetAssetID("SOL")
	if !ok {
		t.Fatal("SOL should be a known asset")
	}
	return id
}

func fundIdentity(t *testing.T, bt *ledger.BalanceTracker, gen *ledger.JournalGenerator, id common.Address, amount int64) {
	t.Helper()
	batch, err := gen.GenerateDeposit(uuid.NewString(), id, amount, sol(t), 1)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply deposit: %v", err)
	}
}

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_IdentityPath(t *testing.T) {
	key := ledger.NewIdentityAccountKey(alice, sol(t))

	want := "identity:" + alice.Hex() + ":available:SOL"
	if got := key.AccountPath(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if key.Identity() != alice {
		t.Errorf("identity round trip: got %s", key.Identity().Hex())
	}
}

func TestAccountKey_ExternalPath(t *testing.T) {
	key := ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, sol(t))

	if got := key.AccountPath(); got != "external:deposits:SOL" {
		t.Errorf("got %q, want %q", got, "external:deposits:SOL")
	}
}

func TestAccountKey_EscrowDistinctFromIdentity(t *testing.T) {
	addr := escrow.DeriveAddress(alice, 1)
	if ledger.NewEscrowAccountKey(addr, sol(t)) == ledger.NewIdentityAccountKey(alice, sol(t)) {
		t.Fatal("escrow and identity keys must differ")
	}
}

func TestParseAccountPath_RoundTrip(t *testing.T) {
	asset := sol(t)
	keys := []ledger.AccountKey{
		ledger.NewIdentityAccountKey(alice, asset),
		ledger.NewEscrowAccountKey(escrow.DeriveAddress(alice, 7), asset),
		ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, asset),
		ledger.NewExternalAccountKey(ledger.SubTypeExternalWithdrawals, asset),
	}
	for _, key := range keys {
		got, err := ledger.ParseAccountPath(key.AccountPath())
		if err != nil {
			t.Fatalf("parse %s: %v", key.AccountPath(), err)
		}
		if got != key {
			t.Errorf("round trip %s: got %+v", key.AccountPath(), got)
		}
	}
}

func TestParseAccountPath_Malformed(t *testing.T) {
	for _, path := range []string{
		"",
		"identity:nothex:available:SOL",
		"identity:" + alice.Hex() + ":custody:SOL",
		"escrow:abcd:custody:SOL",
		"external:deposits:DOGE",
		"external:available:SOL",
	} {
		if _, err := ledger.ParseAccountPath(path); err == nil {
			t.Errorf("expected error for %q", path)
		}
	}
}

func TestGetAssetID_Unknown(t *testing.T) {
	if _, ok := ledger.GetAssetID("DOGE"); ok {
		t.Error("DOGE should not be a known asset")
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_DepositAndWithdraw(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(0, bt)
	fundIdentity(t, bt, gen, alice, 1_000)

	if got := bt.GetIdentityBalance(alice, sol(t)); got != 1_000 {
		t.Fatalf("balance after deposit: got %d, want 1000", got)
	}

	batch, err := gen.GenerateWithdrawal("wd-1", alice, 400, sol(t), 2)
	if err != nil {
		t.Fatalf("withdrawal: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply withdrawal: %v", err)
	}
	if got := bt.GetIdentityBalance(alice, sol(t)); got != 600 {
		t.Errorf("balance after withdrawal: got %d, want 600", got)
	}

	v := ledger.NewInvariantValidator(bt)
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("zero-sum violated: %v", err)
	}
}

func TestBalanceTracker_WithdrawalOverdraw_Fails(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(0, bt)
	fundIdentity(t, bt, gen, alice, 100)

	_, err := gen.GenerateWithdrawal("wd-1", alice, 101, sol(t), 2)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestBalanceTracker_ApplyBatchIsAllOrNothing(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	asset := sol(t)
	batchID := uuid.New()
	// Second leg overdraws bob, so neither leg may land.
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.NewIdentityAccountKey(alice, asset),
				CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, asset),
				AssetID:       asset,
				Amount:        50,
			},
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.NewIdentityAccountKey(alice, asset),
				CreditAccount: ledger.NewIdentityAccountKey(bob, asset),
				AssetID:       asset,
				Amount:        10,
			},
		},
	}

	if err := bt.ApplyBatch(batch); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := bt.GetIdentityBalance(alice, asset); got != 0 {
		t.Errorf("partial apply leaked: alice=%d", got)
	}
}

func singleLegBatch(debit, credit ledger.AccountKey, amounts ...int64) *ledger.Batch {
	batchID := uuid.New()
	batch := &ledger.Batch{BatchID: batchID}
	for _, amt := range amounts {
		batch.Journals = append(batch.Journals, ledger.Journal{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  debit,
			CreditAccount: credit,
			AssetID:       debit.AssetID,
			Amount:        amt,
		})
	}
	return batch
}

func TestBalanceTracker_Overflow_Rejected(t *testing.T) {
	asset := sol(t)
	aliceKey := ledger.NewIdentityAccountKey(alice, asset)
	deposits := ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, asset)

	bt := ledger.NewBalanceTracker()
	bt.SetBalance(aliceKey, math.MaxInt64-10)
	err := bt.ApplyBatch(singleLegBatch(aliceKey, deposits, 100))
	if !errors.Is(err, ledger.ErrBalanceOverflow) {
		t.Fatalf("expected ErrBalanceOverflow, got %v", err)
	}
	if errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Error("overflow must not be reported as insufficient balance")
	}
	if got := bt.GetBalance(aliceKey); got != math.MaxInt64-10 {
		t.Errorf("balance changed on rejected batch: %d", got)
	}

	// Two legs that each fit but together wrap the account's delta.
	bt = ledger.NewBalanceTracker()
	err = bt.CheckBatch(singleLegBatch(aliceKey, deposits, math.MaxInt64, 1))
	if !errors.Is(err, ledger.ErrBalanceOverflow) {
		t.Fatalf("expected ErrBalanceOverflow for summed legs, got %v", err)
	}

	// External boundary accounts may go negative but not wrap.
	bt = ledger.NewBalanceTracker()
	bt.SetBalance(deposits, math.MinInt64+5)
	err = bt.CheckBatch(singleLegBatch(aliceKey, deposits, 10))
	if !errors.Is(err, ledger.ErrBalanceOverflow) {
		t.Fatalf("expected ErrBalanceOverflow on external account, got %v", err)
	}
}

func TestGenerateDeposit_OverflowRefused(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(0, bt)
	fundIdentity(t, bt, gen, alice, math.MaxInt64)

	if _, err := gen.GenerateDeposit("dep-2", alice, 1, sol(t), 2); !errors.Is(err, ledger.ErrBalanceOverflow) {
		t.Fatalf("expected ErrBalanceOverflow, got %v", err)
	}
	if got := bt.GetIdentityBalance(alice, sol(t)); got != math.MaxInt64 {
		t.Errorf("balance changed: %d", got)
	}
}

func TestBalanceTracker_SetBalanceAndSnapshot(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	key := ledger.NewIdentityAccountKey(bob, sol(t))
	bt.SetBalance(key, 77)

	snap := bt.Snapshot()
	if snap[key] != 77 {
		t.Fatalf("snapshot: got %d, want 77", snap[key])
	}
	snap[key] = 1
	if bt.GetBalance(key) != 77 {
		t.Error("snapshot must be a copy")
	}

	bt.SetBalance(key, 0)
	if len(bt.Snapshot()) != 0 {
		t.Error("zero balance should be dropped")
	}
}

// ============================================================================
// Test: Transition batches
// ============================================================================

func TestGenerateTransition_FullSwap(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(0, bt)
	asset := sol(t)
	fundIdentity(t, bt, gen, alice, 1_000)
	fundIdentity(t, bt, gen, bob, 500)

	apply := func(ref string, tr *escrow.Transition) {
		t.Helper()
		batch, err := gen.GenerateTransition(ref, tr, asset, 10)
		if err != nil {
			t.Fatalf("%s: %v", ref, err)
		}
		if err := bt.ApplyBatch(batch); err != nil {
			t.Fatalf("%s apply: %v", ref, err)
		}
	}

	created, err := escrow.Create(nil, alice, escrow.CreateParams{
		ID: 1, OfferedAmount: 1_000, ExpectedAmount: 500, ExpiryTime: 100, Taker: bob,
	}, 10)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	apply("create", created)
	if got := bt.GetCustodyBalance(created.Address, asset); got != 1_000 {
		t.Fatalf("custody after create: got %d", got)
	}

	funded, err := escrow.Fund(created.After, bob, 20)
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	apply("fund", funded)

	v := ledger.NewInvariantValidator(bt)
	if err := v.ValidateCustody(created.Address, asset, funded.After.CustodyHeld()); err != nil {
		t.Fatalf("custody after fund: %v", err)
	}

	completed, err := escrow.Complete(funded.After, bob, 30)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	apply("complete", completed)

	if got := bt.GetIdentityBalance(alice, asset); got != 500 {
		t.Errorf("alice: got %d, want 500", got)
	}
	if got := bt.GetIdentityBalance(bob, asset); got != 1_000 {
		t.Errorf("bob: got %d, want 1000", got)
	}
	if err := v.ValidateCustody(created.Address, asset, 0); err != nil {
		t.Errorf("custody after complete: %v", err)
	}
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("zero-sum violated: %v", err)
	}
	if err := v.ValidateNoNegativeBalances(); err != nil {
		t.Errorf("negative balance: %v", err)
	}
}

func TestGenerateTransition_UncoveredDeposit_Fails(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(0, bt)
	fundIdentity(t, bt, gen, alice, 999)

	created, err := escrow.Create(nil, alice, escrow.CreateParams{
		ID: 1, OfferedAmount: 1_000, ExpectedAmount: 500, ExpiryTime: 100, Taker: bob,
	}, 10)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	seq := gen.Sequence()
	if _, err := gen.GenerateTransition("create", created, sol(t), 10); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if gen.Sequence() != seq {
		t.Error("rejected batch must not consume a sequence")
	}
}

func TestGenerateTransition_DeterministicIDs(t *testing.T) {
	tr, err := escrow.Create(nil, alice, escrow.CreateParams{
		ID: 9, OfferedAmount: 5, ExpectedAmount: 5, ExpiryTime: 100, Taker: bob,
	}, 10)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	build := func() *ledger.Batch {
		bt := ledger.NewBalanceTracker()
		gen := ledger.NewJournalGenerator(3, bt)
		bt.SetBalance(ledger.NewIdentityAccountKey(alice, sol(t)), 5)
		b, err := gen.GenerateTransition("req-9", tr, sol(t), 10)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		return b
	}
	a, b := build(), build()
	if a.BatchID != b.BatchID || a.Journals[0].JournalID != b.Journals[0].JournalID {
		t.Error("batch and journal ids must be reproducible")
	}
}

// ============================================================================
// Test: Batch Validation
// ============================================================================

func TestBatchValidate_EmptyBatch_Fails(t *testing.T) {
	batch := &ledger.Batch{BatchID: uuid.New()}
	if err := batch.Validate(); err == nil {
		t.Fatal("expected error for empty batch")
	}
}

func TestBatchValidate_BadLegs_Fail(t *testing.T) {
	asset := sol(t)
	batchID := uuid.New()
	good := ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		DebitAccount:  ledger.NewIdentityAccountKey(alice, asset),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, asset),
		AssetID:       asset,
		Amount:        10,
	}

	zero := good
	zero.Amount = 0
	self := good
	self.CreditAccount = self.DebitAccount
	mismatched := good
	mismatched.BatchID = uuid.New()

	for name, j := range map[string]ledger.Journal{"zero": zero, "self": self, "mismatched": mismatched} {
		batch := &ledger.Batch{BatchID: batchID, Journals: []ledger.Journal{j}}
		if err := batch.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}

	ok := &ledger.Batch{BatchID: batchID, Journals: []ledger.Journal{good}}
	if err := ok.Validate(); err != nil {
		t.Errorf("valid batch rejected: %v", err)
	}
}
