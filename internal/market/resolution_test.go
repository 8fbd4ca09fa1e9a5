package market

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"settlement-engine/internal/ledger"
)

func TestResolve_Gating(t *testing.T) {
	tests := []struct {
		name   string
		caller common.Address
		winner common.Address
		now    int64
		want   error
	}{
		{"before expiry", oracle, yesAsset, 999, ErrExpirationNotPassed},
		{"before expiry, wrong caller", bob, yesAsset, 10, ErrOracleMismatch},
		{"one second early, wrong caller", controller, yesAsset, 999, ErrOracleMismatch},
		{"wrong caller at expiry", bob, yesAsset, 1000, ErrOracleMismatch},
		{"wrong caller long after", controller, yesAsset, 1_000_000, ErrOracleMismatch},
		{"not an outcome", oracle, collateral, 1000, ErrInvalidOutcome},
		{"zero winner", oracle, common.Address{}, 1000, ErrInvalidOutcome},
		{"at expiry", oracle, yesAsset, 1000, nil},
		{"after expiry", oracle, noAsset, 1001, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, m := initializedWith(t, newRecordingLedger())
			err := e.ResolveMarket(m, ResolveRequest{Caller: tt.caller, Winner: tt.winner, Now: tt.now})
			if !errors.Is(err, tt.want) {
				t.Fatalf("err=%v want=%v", err, tt.want)
			}
			if tt.want == nil && m.Winner != tt.winner {
				t.Fatalf("winner=%s want=%s", m.Winner.Hex(), tt.winner.Hex())
			}
			if tt.want != nil && m.IsResolved() {
				t.Fatalf("winner set by rejected resolve")
			}
		})
	}

	if err := NewEngine(newRecordingLedger()).ResolveMarket(New(marketID), ResolveRequest{Caller: oracle, Winner: yesAsset, Now: 5}); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("err=%v want NotInitialized", err)
	}
}

func TestResolve_WriteOnce(t *testing.T) {
	e, m := initializedWith(t, newRecordingLedger())
	if err := e.ResolveMarket(m, ResolveRequest{Caller: oracle, Winner: yesAsset, Now: 1000}); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	for _, winner := range []common.Address{yesAsset, noAsset} {
		err := e.ResolveMarket(m, ResolveRequest{Caller: oracle, Winner: winner, Now: 5000})
		if !errors.Is(err, ErrWinnerAlreadySet) {
			t.Fatalf("err=%v want WinnerAlreadySet", err)
		}
	}
	if m.Winner != yesAsset {
		t.Fatalf("winner changed to %s", m.Winner.Hex())
	}
}

func TestClaim_Correctness(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(alice, 100)
	if err := env.mint(alice, 100); err != nil {
		t.Fatalf("mint: %v", err)
	}

	pre := ClaimRequest{Amount: 10, Outcome: yesAsset, Owner: alice, Recipient: alice}
	if err := env.engine.ClaimProfits(env.ctx, env.market, pre); !errors.Is(err, ErrMarketNotSettled) {
		t.Fatalf("err=%v want MarketNotSettled", err)
	}

	if err := env.resolve(yesAsset, 1000); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	tests := []struct {
		name string
		req  ClaimRequest
		want error
	}{
		{"losing outcome", ClaimRequest{Amount: 10, Outcome: noAsset, Owner: alice, Recipient: alice}, ErrWinnerMismatch},
		{"zero amount", ClaimRequest{Amount: 0, Outcome: yesAsset, Owner: alice, Recipient: alice}, ErrNoProfits},
		{"no recipient", ClaimRequest{Amount: 1, Outcome: yesAsset, Owner: alice}, ErrInvalidAccount},
		{"more than held", ClaimRequest{Amount: 101, Outcome: yesAsset, Owner: alice, Recipient: alice}, ledger.ErrInsufficientBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := env.engine.ClaimProfits(env.ctx, env.market, tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("err=%v want=%v", err, tt.want)
			}
		})
	}

	yesBefore := env.ledger.Supply(yesAsset)
	if err := env.engine.ClaimProfits(env.ctx, env.market, ClaimRequest{Amount: 60, Outcome: yesAsset, Owner: alice, Recipient: bob}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got := yesBefore - env.ledger.Supply(yesAsset); got != 60 {
		t.Fatalf("burned=%d want=60", got)
	}
	if env.balance(collateral, bob) != 1_060 || env.balance(collateral, vault) != 40 {
		t.Fatalf("bob=%d vault=%d", env.balance(collateral, bob), env.balance(collateral, vault))
	}
	if env.ledger.Supply(noAsset) != 100 {
		t.Fatalf("losing supply touched: %d", env.ledger.Supply(noAsset))
	}
	if env.market.CollateralReleased != 60 {
		t.Fatalf("released=%d want=60", env.market.CollateralReleased)
	}
}

func TestClaim_LedgerFailureLeavesCountersUnchanged(t *testing.T) {
	rec := newRecordingLedger()
	e, m := initializedWith(t, rec)
	m.Winner = yesAsset
	rec.failAt = 1
	rec.failErr = ledger.ErrInsufficientBalance

	err := e.ClaimProfits(context.Background(), m, ClaimRequest{Amount: 5, Outcome: yesAsset, Owner: alice, Recipient: alice})
	if !errors.Is(err, ErrLedgerRejected) {
		t.Fatalf("err=%v want LedgerRejected", err)
	}
	if m.CollateralReleased != 0 || len(rec.batches) != 0 {
		t.Fatalf("released=%d batches=%d", m.CollateralReleased, len(rec.batches))
	}
}

func TestBurnLosing(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(alice, 20)
	if err := env.mint(alice, 20); err != nil {
		t.Fatalf("mint: %v", err)
	}

	req := BurnLosingRequest{Amount: 20, Outcome: noAsset, Owner: alice}
	if err := env.engine.BurnLosing(env.ctx, env.market, req); !errors.Is(err, ErrMarketNotSettled) {
		t.Fatalf("err=%v want MarketNotSettled", err)
	}
	if err := env.resolve(yesAsset, 1000); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	for _, tt := range []struct {
		req  BurnLosingRequest
		want error
	}{
		{BurnLosingRequest{Amount: 1, Outcome: yesAsset, Owner: alice}, ErrOutcomeIsWinner},
		{BurnLosingRequest{Amount: 1, Outcome: collateral, Owner: alice}, ErrInvalidOutcome},
		{BurnLosingRequest{Amount: 0, Outcome: noAsset, Owner: alice}, ErrZeroAmount},
		{BurnLosingRequest{Amount: 1, Outcome: noAsset}, ErrInvalidAccount},
	} {
		if err := env.engine.BurnLosing(env.ctx, env.market, tt.req); !errors.Is(err, tt.want) {
			t.Fatalf("req=%+v err=%v want=%v", tt.req, err, tt.want)
		}
	}

	vaultBefore := env.balance(collateral, vault)
	if err := env.engine.BurnLosing(env.ctx, env.market, req); err != nil {
		t.Fatalf("burn losing: %v", err)
	}
	if env.balance(noAsset, alice) != 0 || env.balance(collateral, vault) != vaultBefore {
		t.Fatalf("no=%d vault=%d", env.balance(noAsset, alice), env.balance(collateral, vault))
	}
	if env.market.CollateralReleased != 0 {
		t.Fatalf("burn losing moved counters")
	}
}

// Initialize(nonce=7, oracle=O, expiration=1000) -> mint 100 -> early resolve
// fails -> resolve YES -> claim 50 YES -> claim with NO fails.
func TestScenario_EndToEnd(t *testing.T) {
	env := newTestEnv(t)

	env.deposit(alice, 100)
	if err := env.mint(alice, 100); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if env.market.CollateralMinted != 100 || env.balance(yesAsset, alice) != 100 || env.balance(noAsset, alice) != 100 {
		t.Fatalf("after mint: minted=%d yes=%d no=%d",
			env.market.CollateralMinted, env.balance(yesAsset, alice), env.balance(noAsset, alice))
	}

	if err := env.resolve(yesAsset, 999); !errors.Is(err, ErrExpirationNotPassed) {
		t.Fatalf("err=%v want ExpirationNotPassed", err)
	}
	if err := env.resolve(yesAsset, 1000); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if env.market.Winner != yesAsset {
		t.Fatalf("winner=%s", env.market.Winner.Hex())
	}

	collateralBefore := env.balance(collateral, alice)
	if err := env.engine.ClaimProfits(env.ctx, env.market, ClaimRequest{Amount: 50, Outcome: yesAsset, Owner: alice, Recipient: alice}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if env.balance(yesAsset, alice) != 50 || env.balance(collateral, alice)-collateralBefore != 50 {
		t.Fatalf("after claim yes=%d collateral delta=%d", env.balance(yesAsset, alice), env.balance(collateral, alice)-collateralBefore)
	}

	err := env.engine.ClaimProfits(env.ctx, env.market, ClaimRequest{Amount: 50, Outcome: noAsset, Owner: alice, Recipient: alice})
	if !errors.Is(err, ErrWinnerMismatch) {
		t.Fatalf("err=%v want WinnerMismatch", err)
	}
}
