// Package market implements the binary-outcome market record and the state
// machine that mints, redeems, resolves and pays out against it.
//
// Operations assume the caller serializes access to a given market; nothing
// in this package locks.
package market

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"settlement-engine/internal/authority"
	"settlement-engine/internal/ledger"
)

const (
	OutcomeDecimals = 8
	TickerYes       = "YES"
	TickerNo        = "NO"
)

// Outcome indexes into Market.Outcomes
const (
	OutcomeYes = 0
	OutcomeNo  = 1
)

// Outcome describes one outcome-position asset
type Outcome struct {
	Address  common.Address `json:"address"`
	Decimals uint8          `json:"decimals"`
	Ticker   string         `json:"ticker"`
}

// Market is the single source of truth for one binary market
type Market struct {
	ID                 common.Address `json:"id"`
	AuthorityNonce     uint8          `json:"authority_nonce"`
	Controller         common.Address `json:"controller"`
	Oracle             common.Address `json:"oracle"`
	CollateralAsset    common.Address `json:"collateral_asset"`
	CollateralVault    common.Address `json:"collateral_vault"`
	CollateralMinted   uint64         `json:"collateral_minted"`   // ever accounted as backing minted sets
	CollateralReleased uint64         `json:"collateral_released"` // ever paid out by redeem or claim
	ExpirationTime     int64          `json:"expiration_time"`
	Winner             common.Address `json:"winner"`
	Outcomes           [2]Outcome     `json:"outcomes"`
}

// New returns an uninitialized market with the given identity
func New(id common.Address) *Market {
	return &Market{ID: id}
}

// Clone returns a copy that shares no state with m
func (m *Market) Clone() *Market {
	c := *m
	return &c
}

// IsInitialized reports whether Initialize has succeeded
func (m *Market) IsInitialized() bool {
	return m.Oracle != (common.Address{}) || m.ExpirationTime != 0
}

// IsResolved reports whether the winner has been set
func (m *Market) IsResolved() bool {
	return m.Winner != (common.Address{})
}

// Authority re-derives the market's ledger authority
func (m *Market) Authority() common.Address {
	return authority.Derive(m.ID, m.AuthorityNonce)
}

// OutcomeIndex returns the index of the outcome asset at addr
func (m *Market) OutcomeIndex(addr common.Address) (int, bool) {
	if addr == (common.Address{}) {
		return 0, false
	}
	for i, o := range m.Outcomes {
		if o.Address == addr {
			return i, true
		}
	}
	return 0, false
}

// Loser returns the losing outcome asset once resolved
func (m *Market) Loser() (common.Address, bool) {
	idx, ok := m.OutcomeIndex(m.Winner)
	if !ok {
		return common.Address{}, false
	}
	return m.Outcomes[1-idx].Address, true
}

// Outstanding is the collateral that should currently sit in the vault
// backing unredeemed sets and unclaimed winnings.
func (m *Market) Outstanding() uint64 {
	return m.CollateralMinted - m.CollateralReleased
}

// MarketJSON is the JSON representation of a market
type MarketJSON struct {
	ID                 string    `json:"id"`
	Status             string    `json:"status"`
	AuthorityNonce     uint8     `json:"authority_nonce"`
	Authority          string    `json:"authority"`
	Controller         string    `json:"controller"`
	Oracle             string    `json:"oracle"`
	CollateralAsset    string    `json:"collateral_asset"`
	CollateralVault    string    `json:"collateral_vault"`
	CollateralMinted   string    `json:"collateral_minted"`
	CollateralReleased string    `json:"collateral_released"`
	ExpirationTime     int64     `json:"expiration_time"`
	Winner             *string   `json:"winner,omitempty"`
	Outcomes           []Outcome `json:"outcomes"`
}

// ToJSON converts a Market to its JSON representation
func (m *Market) ToJSON() MarketJSON {
	mj := MarketJSON{
		ID:                 m.ID.Hex(),
		Status:             m.Status().String(),
		AuthorityNonce:     m.AuthorityNonce,
		Authority:          m.Authority().Hex(),
		Controller:         m.Controller.Hex(),
		Oracle:             m.Oracle.Hex(),
		CollateralAsset:    m.CollateralAsset.Hex(),
		CollateralVault:    m.CollateralVault.Hex(),
		CollateralMinted:   strconv.FormatUint(m.CollateralMinted, 10),
		CollateralReleased: strconv.FormatUint(m.CollateralReleased, 10),
		ExpirationTime:     m.ExpirationTime,
		Outcomes:           m.Outcomes[:],
	}
	if m.IsResolved() {
		s := m.Winner.Hex()
		mj.Winner = &s
	}
	return mj
}

// Engine runs market operations against a token ledger
type Engine struct {
	ledger ledger.Ledger
}

// NewEngine creates an engine driving l
func NewEngine(l ledger.Ledger) *Engine {
	return &Engine{ledger: l}
}

// InitializeParams configures a market once
type InitializeParams struct {
	Nonce           uint8
	Controller      common.Address
	Oracle          common.Address
	CollateralAsset common.Address
	CollateralVault common.Address
	OutcomeYes      common.Address
	OutcomeNo       common.Address
	ExpirationTime  int64
}

func (p InitializeParams) validate() error {
	zero := common.Address{}
	switch {
	case p.Oracle == zero, p.CollateralAsset == zero, p.CollateralVault == zero:
		return ErrInvalidConfig
	case p.OutcomeYes == zero, p.OutcomeNo == zero, p.OutcomeYes == p.OutcomeNo:
		return ErrInvalidConfig
	case p.OutcomeYes == p.CollateralAsset, p.OutcomeNo == p.CollateralAsset:
		return ErrInvalidConfig
	}
	return nil
}

// Initialize stores the market configuration. It touches no ledger state.
func (e *Engine) Initialize(m *Market, p InitializeParams) error {
	if m.IsInitialized() {
		return ErrAlreadyInitialized
	}
	if err := p.validate(); err != nil {
		return err
	}

	m.AuthorityNonce = p.Nonce
	m.Controller = p.Controller
	m.Oracle = p.Oracle
	m.CollateralAsset = p.CollateralAsset
	m.CollateralVault = p.CollateralVault
	m.ExpirationTime = p.ExpirationTime
	m.Outcomes[OutcomeYes] = Outcome{Address: p.OutcomeYes, Decimals: OutcomeDecimals, Ticker: TickerYes}
	m.Outcomes[OutcomeNo] = Outcome{Address: p.OutcomeNo, Decimals: OutcomeDecimals, Ticker: TickerNo}
	return nil
}
