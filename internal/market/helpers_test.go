package market

import (
	"context"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"settlement-engine/internal/ledger"
)

var (
	marketID   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	controller = common.HexToAddress("0x0000000000000000000000000000000000000c0c")
	oracle     = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	issuer     = common.HexToAddress("0x0000000000000000000000000000000000000155")
	collateral = common.HexToAddress("0x0000000000000000000000000000000000000c01")
	vault      = common.HexToAddress("0x0000000000000000000000000000000000000d01")
	yesAsset   = common.HexToAddress("0x0000000000000000000000000000000000000e01")
	noAsset    = common.HexToAddress("0x0000000000000000000000000000000000000e02")
	alice      = common.HexToAddress("0x0000000000000000000000000000000000000b01")
	bob        = common.HexToAddress("0x0000000000000000000000000000000000000b02")
)

func defaultParams() InitializeParams {
	return InitializeParams{
		Nonce:           7,
		Controller:      controller,
		Oracle:          oracle,
		CollateralAsset: collateral,
		CollateralVault: vault,
		OutcomeYes:      yesAsset,
		OutcomeNo:       noAsset,
		ExpirationTime:  1000,
	}
}

// testEnv wires a market to a real in-memory ledger
type testEnv struct {
	t      *testing.T
	ctx    context.Context
	ledger *ledger.Memory
	engine *Engine
	market *Market
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	l := ledger.NewMemory(64)
	env := &testEnv{
		t:      t,
		ctx:    context.Background(),
		ledger: l,
		engine: NewEngine(l),
		market: New(marketID),
	}
	if err := env.engine.Initialize(env.market, defaultParams()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	auth := env.market.Authority()
	for _, a := range []struct {
		addr      common.Address
		decimals  uint8
		authority common.Address
	}{
		{collateral, 6, issuer},
		{yesAsset, OutcomeDecimals, auth},
		{noAsset, OutcomeDecimals, auth},
	} {
		if err := l.CreateAsset(a.addr, a.decimals, a.authority); err != nil {
			t.Fatalf("CreateAsset: %v", err)
		}
	}
	l.SetCustodian(vault, auth)

	for _, holder := range []common.Address{alice, bob} {
		if _, err := l.Execute(env.ctx, ledger.MintTo(collateral, holder, 1_000, issuer)); err != nil {
			t.Fatalf("fund: %v", err)
		}
	}
	return env
}

func (env *testEnv) deposit(from common.Address, amount uint64) {
	env.t.Helper()
	if _, err := env.ledger.Execute(env.ctx, ledger.Transfer(collateral, from, vault, amount, from)); err != nil {
		env.t.Fatalf("deposit: %v", err)
	}
}

func (env *testEnv) mint(to common.Address, amount uint64) error {
	return env.engine.MintCompleteSet(env.ctx, env.market, MintRequest{
		Amount:       amount,
		VaultBalance: env.ledger.Balance(collateral, vault),
		YesRecipient: to,
		NoRecipient:  to,
	})
}

func (env *testEnv) resolve(winner common.Address, now int64) error {
	return env.engine.ResolveMarket(env.market, ResolveRequest{Caller: oracle, Winner: winner, Now: now})
}

func (env *testEnv) balance(asset, holder common.Address) uint64 {
	return env.ledger.Balance(asset, holder)
}

// recordingLedger captures every batch and can reject one command index
type recordingLedger struct {
	batches [][]ledger.Command
	failAt  int
	failErr error
}

func newRecordingLedger() *recordingLedger {
	return &recordingLedger{failAt: -1}
}

func (r *recordingLedger) Execute(_ context.Context, cmds ...ledger.Command) (ledger.Receipt, error) {
	for i := range cmds {
		if i == r.failAt {
			return ledger.Receipt{}, fmt.Errorf("ledger: command %d (%s): %w", i, cmds[i].Kind, r.failErr)
		}
	}
	r.batches = append(r.batches, cmds)
	return ledger.Receipt{Version: uint64(len(r.batches)), Commands: cmds}, nil
}

func (r *recordingLedger) Balance(common.Address, common.Address) uint64 {
	return 0
}

func initializedWith(t *testing.T, l ledger.Ledger) (*Engine, *Market) {
	t.Helper()
	e := NewEngine(l)
	m := New(marketID)
	if err := e.Initialize(m, defaultParams()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return e, m
}
