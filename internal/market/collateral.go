package market

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"settlement-engine/internal/ledger"
)

// MintRequest asks for Amount complete sets against newly deposited collateral.
// VaultBalance is the caller's observation of the collateral vault.
type MintRequest struct {
	Amount       uint64
	VaultBalance uint64
	YesRecipient common.Address
	NoRecipient  common.Address
}

// RedeemRequest burns Amount of each outcome held by Owner and returns
// Amount of collateral to Recipient. Owner is trusted as given: the host must
// have authenticated the caller as Owner before submitting the request.
type RedeemRequest struct {
	Amount    uint64
	Owner     common.Address
	Recipient common.Address
}

// execute submits cmds as one ledger batch
func (e *Engine) execute(ctx context.Context, cmds ...ledger.Command) error {
	if _, err := e.ledger.Execute(ctx, cmds...); err != nil {
		return fmt.Errorf("%w: %w", ErrLedgerRejected, err)
	}
	return nil
}

// Deposited returns the collateral in the vault not yet backing minted sets
func (m *Market) Deposited(vaultBalance uint64) (uint64, error) {
	outstanding := m.Outstanding()
	if vaultBalance < outstanding {
		return 0, ErrVaultShortfall
	}
	return vaultBalance - outstanding, nil
}

// MintCompleteSet mints Amount of both outcomes for exactly the collateral
// deposited since the last mint.
func (e *Engine) MintCompleteSet(ctx context.Context, m *Market, req MintRequest) error {
	if !m.IsInitialized() {
		return ErrNotInitialized
	}
	if m.IsResolved() {
		return ErrMarketResolved
	}

	deposited, err := m.Deposited(req.VaultBalance)
	if err != nil {
		return err
	}
	if deposited == 0 {
		return ErrZeroDeposit
	}
	if deposited != req.Amount {
		return ErrDepositMismatch
	}
	if req.YesRecipient == (common.Address{}) || req.NoRecipient == (common.Address{}) {
		return ErrInvalidAccount
	}

	auth := m.Authority()
	err = e.execute(ctx,
		ledger.MintTo(m.Outcomes[OutcomeYes].Address, req.YesRecipient, req.Amount, auth),
		ledger.MintTo(m.Outcomes[OutcomeNo].Address, req.NoRecipient, req.Amount, auth),
	)
	if err != nil {
		return fmt.Errorf("mint complete set: %w", err)
	}

	// absorbs the observed deposit: minted == vault balance + released
	m.CollateralMinted += req.Amount
	return nil
}

// RedeemCompleteSet burns a pair of opposing positions and returns the
// collateral. It is allowed before and after resolution; the ledger's burn
// balance check bounds Amount by what Owner actually holds.
func (e *Engine) RedeemCompleteSet(ctx context.Context, m *Market, req RedeemRequest) error {
	if !m.IsInitialized() {
		return ErrNotInitialized
	}
	if req.Amount == 0 {
		return ErrZeroAmount
	}
	if req.Owner == (common.Address{}) || req.Recipient == (common.Address{}) {
		return ErrInvalidAccount
	}

	auth := m.Authority()
	err := e.execute(ctx,
		ledger.Burn(m.Outcomes[OutcomeYes].Address, req.Owner, req.Amount, auth),
		ledger.Burn(m.Outcomes[OutcomeNo].Address, req.Owner, req.Amount, auth),
		ledger.Transfer(m.CollateralAsset, m.CollateralVault, req.Recipient, req.Amount, auth),
	)
	if err != nil {
		return fmt.Errorf("redeem complete set: %w", err)
	}

	m.CollateralReleased += req.Amount
	return nil
}
