package market

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"settlement-engine/internal/ledger"
)

// ResolveRequest carries an already-authenticated oracle call
type ResolveRequest struct {
	Caller common.Address
	Winner common.Address
	Now    int64
}

// ClaimRequest burns Amount of the presented outcome held by Owner and pays
// Amount of collateral to Recipient. Owner is trusted as given: the host must
// have authenticated the caller as Owner before submitting the request.
type ClaimRequest struct {
	Amount    uint64
	Outcome   common.Address
	Owner     common.Address
	Recipient common.Address
}

// BurnLosingRequest burns worthless losing-outcome tokens held by Owner
type BurnLosingRequest struct {
	Amount  uint64
	Outcome common.Address
	Owner   common.Address
}

// ResolveMarket sets the winner. This is the only open -> resolved
// transition and it cannot be reversed.
func (e *Engine) ResolveMarket(m *Market, req ResolveRequest) error {
	if !m.IsInitialized() {
		return ErrNotInitialized
	}
	if req.Caller != m.Oracle {
		return ErrOracleMismatch
	}
	if req.Now < m.ExpirationTime {
		return ErrExpirationNotPassed
	}
	if m.IsResolved() {
		return ErrWinnerAlreadySet
	}
	if _, ok := m.OutcomeIndex(req.Winner); !ok {
		return ErrInvalidOutcome
	}

	m.Winner = req.Winner
	return nil
}

// ClaimProfits pays out winning positions 1:1 in collateral
func (e *Engine) ClaimProfits(ctx context.Context, m *Market, req ClaimRequest) error {
	if !m.IsResolved() {
		return ErrMarketNotSettled
	}
	if req.Outcome != m.Winner {
		return ErrWinnerMismatch
	}
	if req.Amount == 0 {
		return ErrNoProfits
	}
	if req.Owner == (common.Address{}) || req.Recipient == (common.Address{}) {
		return ErrInvalidAccount
	}

	auth := m.Authority()
	err := e.execute(ctx,
		ledger.Burn(m.Winner, req.Owner, req.Amount, auth),
		ledger.Transfer(m.CollateralAsset, m.CollateralVault, req.Recipient, req.Amount, auth),
	)
	if err != nil {
		return fmt.Errorf("claim profits: %w", err)
	}

	m.CollateralReleased += req.Amount
	return nil
}

// BurnLosing destroys losing-outcome tokens. No collateral moves and no
// market counter changes.
func (e *Engine) BurnLosing(ctx context.Context, m *Market, req BurnLosingRequest) error {
	if !m.IsResolved() {
		return ErrMarketNotSettled
	}
	if _, ok := m.OutcomeIndex(req.Outcome); !ok {
		return ErrInvalidOutcome
	}
	if req.Outcome == m.Winner {
		return ErrOutcomeIsWinner
	}
	if req.Amount == 0 {
		return ErrZeroAmount
	}
	if req.Owner == (common.Address{}) {
		return ErrInvalidAccount
	}

	if err := e.execute(ctx, ledger.Burn(req.Outcome, req.Owner, req.Amount, m.Authority())); err != nil {
		return fmt.Errorf("burn losing: %w", err)
	}
	return nil
}
