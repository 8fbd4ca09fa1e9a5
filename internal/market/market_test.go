package market

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"settlement-engine/internal/authority"
)

func TestInitialize_SetsFields(t *testing.T) {
	e := NewEngine(newRecordingLedger())
	m := New(marketID)
	if m.Status() != StatusUninitialized {
		t.Fatalf("status=%s want uninitialized", m.Status())
	}

	if err := e.Initialize(m, defaultParams()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if m.AuthorityNonce != 7 || m.Oracle != oracle || m.Controller != controller {
		t.Fatalf("market=%+v", m)
	}
	if m.CollateralAsset != collateral || m.CollateralVault != vault || m.ExpirationTime != 1000 {
		t.Fatalf("market=%+v", m)
	}
	if m.CollateralMinted != 0 || m.IsResolved() {
		t.Fatalf("counters not default: minted=%d winner=%s", m.CollateralMinted, m.Winner.Hex())
	}
	want := [2]Outcome{
		{Address: yesAsset, Decimals: 8, Ticker: "YES"},
		{Address: noAsset, Decimals: 8, Ticker: "NO"},
	}
	if m.Outcomes != want {
		t.Fatalf("outcomes=%+v want=%+v", m.Outcomes, want)
	}
	if m.Status() != StatusOpen {
		t.Fatalf("status=%s want open", m.Status())
	}
	if m.Authority() != authority.Derive(marketID, 7) {
		t.Fatalf("authority not derived from market and nonce")
	}
}

func TestInitialize_Twice(t *testing.T) {
	second := []InitializeParams{
		defaultParams(),
		{},
		func() InitializeParams {
			p := defaultParams()
			p.Oracle = bob
			p.ExpirationTime = 5
			return p
		}(),
	}

	for i, p := range second {
		e, m := initializedWith(t, newRecordingLedger())
		if err := e.Initialize(m, p); !errors.Is(err, ErrAlreadyInitialized) {
			t.Fatalf("case %d: err=%v want AlreadyInitialized", i, err)
		}
		if m.Oracle != oracle || m.ExpirationTime != 1000 {
			t.Fatalf("case %d: market mutated by rejected init", i)
		}
	}
}

func TestInitialize_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*InitializeParams)
	}{
		{"zero oracle", func(p *InitializeParams) { p.Oracle = common.Address{} }},
		{"zero collateral", func(p *InitializeParams) { p.CollateralAsset = common.Address{} }},
		{"zero vault", func(p *InitializeParams) { p.CollateralVault = common.Address{} }},
		{"zero yes", func(p *InitializeParams) { p.OutcomeYes = common.Address{} }},
		{"same outcomes", func(p *InitializeParams) { p.OutcomeNo = p.OutcomeYes }},
		{"outcome is collateral", func(p *InitializeParams) { p.OutcomeNo = p.CollateralAsset }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := defaultParams()
			tt.mutate(&p)
			m := New(marketID)
			if err := NewEngine(newRecordingLedger()).Initialize(m, p); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("err=%v want InvalidConfig", err)
			}
			if m.IsInitialized() {
				t.Fatalf("market initialized by invalid params")
			}
		})
	}
}

func TestMarket_CloneIsIndependent(t *testing.T) {
	_, m := initializedWith(t, newRecordingLedger())
	c := m.Clone()
	c.CollateralMinted = 99
	c.Outcomes[OutcomeYes].Ticker = "X"
	if m.CollateralMinted != 0 || m.Outcomes[OutcomeYes].Ticker != TickerYes {
		t.Fatalf("clone shares state with original")
	}
}

func TestMarket_LifecycleHelpers(t *testing.T) {
	_, m := initializedWith(t, newRecordingLedger())

	if m.Expired(999) || !m.Expired(1000) {
		t.Fatalf("expired boundary wrong")
	}
	if !m.AwaitingResolution(1000) {
		t.Fatalf("expected awaiting resolution")
	}
	if _, ok := m.Loser(); ok {
		t.Fatalf("loser before resolution")
	}

	m.Winner = noAsset
	if m.AwaitingResolution(2000) {
		t.Fatalf("resolved market awaiting resolution")
	}
	if loser, ok := m.Loser(); !ok || loser != yesAsset {
		t.Fatalf("loser=%s ok=%v", loser.Hex(), ok)
	}

	mj := m.ToJSON()
	if mj.Status != "resolved" || mj.Winner == nil || *mj.Winner != noAsset.Hex() {
		t.Fatalf("json=%+v", mj)
	}
}
