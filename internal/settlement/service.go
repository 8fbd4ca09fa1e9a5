// Package settlement hosts markets: it serializes operations per market,
// persists every committed transition and publishes settlement events.
package settlement

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"settlement-engine/internal/events"
	"settlement-engine/internal/ledger"
	"settlement-engine/internal/lock"
	"settlement-engine/internal/market"
	"settlement-engine/internal/oracle"
	"settlement-engine/internal/store"
)

// AuthorityNonce is the nonce used to derive the authority of hosted markets
const AuthorityNonce uint8 = 255

// Options wires a Service. Store, Ledger, Locker and Clock are required.
type Options struct {
	Store  store.MarketStore
	Ledger *ledger.Memory
	Locker lock.Locker
	Clock  oracle.Clock
	Hub    *events.Hub
	Logger *zap.Logger
}

// Service runs market operations against a shared ledger
type Service struct {
	store  store.MarketStore
	ledger *ledger.Memory
	engine *market.Engine
	locker lock.Locker
	clock  oracle.Clock
	hub    *events.Hub
	log    *zap.Logger
}

// New creates a settlement service
func New(opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:  opts.Store,
		ledger: opts.Ledger,
		engine: market.NewEngine(opts.Ledger),
		locker: opts.Locker,
		clock:  opts.Clock,
		hub:    opts.Hub,
		log:    log.Named("settlement"),
	}
}

// Ledger returns the token ledger markets settle against
func (s *Service) Ledger() *ledger.Memory {
	return s.ledger
}

// CreateMarketParams configures a new hosted market
type CreateMarketParams struct {
	Controller      common.Address
	Oracle          common.Address
	CollateralAsset common.Address
	ExpirationTime  int64
}

// deriveAccount returns a keyless address bound to a market for label
func deriveAccount(id common.Address, label string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte(label), id.Bytes())[12:])
}

// CreateMarket allocates a market identity, registers its outcome assets and
// vault on the ledger under the market authority, and initializes it.
func (s *Service) CreateMarket(ctx context.Context, p CreateMarketParams) (*market.Market, error) {
	if _, ok := s.ledger.Decimals(p.CollateralAsset); !ok {
		return nil, fmt.Errorf("settlement: collateral %s: %w", p.CollateralAsset.Hex(), ledger.ErrUnknownAsset)
	}

	seed := uuid.New()
	id := common.BytesToAddress(crypto.Keccak256(seed[:])[12:])

	m := market.New(id)
	err := s.engine.Initialize(m, market.InitializeParams{
		Nonce:           AuthorityNonce,
		Controller:      p.Controller,
		Oracle:          p.Oracle,
		CollateralAsset: p.CollateralAsset,
		CollateralVault: deriveAccount(id, "vault"),
		OutcomeYes:      deriveAccount(id, "outcome/yes"),
		OutcomeNo:       deriveAccount(id, "outcome/no"),
		ExpirationTime:  p.ExpirationTime,
	})
	if err != nil {
		return nil, err
	}

	auth := m.Authority()
	for i, o := range m.Outcomes {
		if err := s.ledger.CreateAsset(o.Address, o.Decimals, auth); err != nil {
			s.unregister(m, i)
			return nil, fmt.Errorf("settlement: register %s: %w", o.Ticker, err)
		}
	}
	s.ledger.SetCustodian(m.CollateralVault, auth)

	if err := s.store.Create(context.WithoutCancel(ctx), m); err != nil {
		s.unregister(m, len(m.Outcomes))
		return nil, fmt.Errorf("settlement: create market: %w", err)
	}

	s.log.Info("market created",
		zap.String("market", id.Hex()),
		zap.String("oracle", m.Oracle.Hex()),
		zap.Int64("expiration", m.ExpirationTime))
	s.publish(events.TypeMarketCreated, id, m.ToJSON())
	return m, nil
}

// unregister drops the first n outcome assets and the vault custodian of a
// market whose creation failed. Nothing has been issued on them yet.
func (s *Service) unregister(m *market.Market, n int) {
	s.ledger.RemoveCustodian(m.CollateralVault)
	for _, o := range m.Outcomes[:n] {
		if err := s.ledger.RemoveAsset(o.Address); err != nil {
			s.log.Error("couldn't unregister outcome asset",
				zap.String("market", m.ID.Hex()),
				zap.String("asset", o.Address.Hex()),
				zap.Error(err))
		}
	}
}

// Get returns the stored market
func (s *Service) Get(ctx context.Context, id common.Address) (*market.Market, error) {
	m, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("settlement: load market %s: %w", id.Hex(), err)
	}
	return m, nil
}

// List returns all stored markets
func (s *Service) List(ctx context.Context) ([]*market.Market, error) {
	return s.store.List(ctx)
}

// Deposit moves collateral from holder into the market vault. The deposit is
// absorbed by the next Mint.
func (s *Service) Deposit(ctx context.Context, id, holder common.Address, amount uint64) error {
	unlock, err := s.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	m, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	cmd := ledger.Transfer(m.CollateralAsset, holder, m.CollateralVault, amount, holder)
	if _, err := s.ledger.Execute(ctx, cmd); err != nil {
		s.rejected("deposit", id, err)
		return fmt.Errorf("settlement: deposit: %w: %w", market.ErrLedgerRejected, err)
	}

	s.log.Info("collateral deposited",
		zap.String("market", id.Hex()),
		zap.String("holder", holder.Hex()),
		zap.Uint64("amount", amount))
	s.publish(events.TypeDeposit, id, map[string]interface{}{
		"holder": holder.Hex(),
		"amount": amount,
	})
	return nil
}

// MintParams requests complete sets for the collateral deposited since the last mint
type MintParams struct {
	Amount       uint64
	YesRecipient common.Address
	NoRecipient  common.Address
}

// Mint observes the vault balance on the ledger and mints complete sets
func (s *Service) Mint(ctx context.Context, id common.Address, p MintParams) (*market.Market, error) {
	return s.update(ctx, id, "mint", func(e *market.Engine, m *market.Market) error {
		return e.MintCompleteSet(ctx, m, market.MintRequest{
			Amount:       p.Amount,
			VaultBalance: s.ledger.Balance(m.CollateralAsset, m.CollateralVault),
			YesRecipient: p.YesRecipient,
			NoRecipient:  p.NoRecipient,
		})
	}, func(m *market.Market) {
		s.publish(events.TypeMinted, id, map[string]interface{}{
			"amount":            p.Amount,
			"yes_recipient":     p.YesRecipient.Hex(),
			"no_recipient":      p.NoRecipient.Hex(),
			"collateral_minted": m.CollateralMinted,
		})
	})
}

// Redeem burns a pair of opposing positions for collateral
func (s *Service) Redeem(ctx context.Context, id common.Address, req market.RedeemRequest) (*market.Market, error) {
	return s.update(ctx, id, "redeem", func(e *market.Engine, m *market.Market) error {
		return e.RedeemCompleteSet(ctx, m, req)
	}, func(m *market.Market) {
		s.publish(events.TypeRedeemed, id, map[string]interface{}{
			"amount":    req.Amount,
			"owner":     req.Owner.Hex(),
			"recipient": req.Recipient.Hex(),
		})
	})
}

// SignedResolution is an oracle's signed verdict
type SignedResolution struct {
	Resolution oracle.Resolution
	Signature  []byte
}

// Resolve authenticates the signer of res and sets the market winner. The
// host clock, not the signed timestamp, gates expiration.
func (s *Service) Resolve(ctx context.Context, res SignedResolution) (*market.Market, error) {
	id := res.Resolution.Market
	caller, err := oracle.Recover(res.Resolution, res.Signature)
	if err != nil {
		s.rejected("resolve", id, err)
		return nil, fmt.Errorf("settlement: resolve: %w", err)
	}

	return s.update(ctx, id, "resolve", func(e *market.Engine, m *market.Market) error {
		return e.ResolveMarket(m, market.ResolveRequest{
			Caller: caller,
			Winner: res.Resolution.Winner,
			Now:    s.clock.Now(),
		})
	}, func(m *market.Market) {
		ticker := ""
		if idx, ok := m.OutcomeIndex(m.Winner); ok {
			ticker = m.Outcomes[idx].Ticker
		}
		loser, _ := m.Loser()
		s.publish(events.TypeResolved, id, map[string]interface{}{
			"winner": m.Winner.Hex(),
			"ticker": ticker,
			"loser":  loser.Hex(),
		})
	})
}

// Claim pays out winning positions
func (s *Service) Claim(ctx context.Context, id common.Address, req market.ClaimRequest) (*market.Market, error) {
	return s.update(ctx, id, "claim", func(e *market.Engine, m *market.Market) error {
		return e.ClaimProfits(ctx, m, req)
	}, func(m *market.Market) {
		s.publish(events.TypeClaimed, id, map[string]interface{}{
			"amount":    req.Amount,
			"owner":     req.Owner.Hex(),
			"recipient": req.Recipient.Hex(),
		})
	})
}

// BurnLosing destroys losing positions after resolution
func (s *Service) BurnLosing(ctx context.Context, id common.Address, req market.BurnLosingRequest) (*market.Market, error) {
	return s.update(ctx, id, "burn_losing", func(e *market.Engine, m *market.Market) error {
		return e.BurnLosing(ctx, m, req)
	}, func(m *market.Market) {
		s.publish(events.TypeLosingBurned, id, map[string]interface{}{
			"amount":  req.Amount,
			"outcome": req.Outcome.Hex(),
			"owner":   req.Owner.Hex(),
		})
	})
}

func (s *Service) acquire(ctx context.Context, id common.Address) (func(), error) {
	unlock, err := s.locker.Acquire(ctx, id.Hex())
	if err != nil {
		return nil, fmt.Errorf("settlement: lock market %s: %w", id.Hex(), err)
	}
	return unlock, nil
}

// recorder passes batches through to the ledger and keeps the receipts of
// those that committed
type recorder struct {
	ledger.Ledger
	receipts []ledger.Receipt
}

func (r *recorder) Execute(ctx context.Context, cmds ...ledger.Command) (ledger.Receipt, error) {
	receipt, err := r.Ledger.Execute(ctx, cmds...)
	if err == nil {
		r.receipts = append(r.receipts, receipt)
	}
	return receipt, err
}

// update runs fn on a copy of the stored market under the market lock and
// saves the copy only if fn succeeds. Once fn has committed ledger batches the
// save is not cancellable; if it still fails the batches are reverted so the
// ledger and the stored market stay in step.
func (s *Service) update(
	ctx context.Context,
	id common.Address,
	op string,
	fn func(*market.Engine, *market.Market) error,
	onCommit func(*market.Market),
) (*market.Market, error) {
	unlock, err := s.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	rec := &recorder{Ledger: s.ledger}
	next := cur.Clone()
	if err := fn(market.NewEngine(rec), next); err != nil {
		s.rejected(op, id, err)
		return nil, err
	}

	if err := s.store.Save(context.WithoutCancel(ctx), next); err != nil {
		s.log.Error("save after ledger commit failed",
			zap.String("op", op),
			zap.String("market", id.Hex()),
			zap.Int("batches", len(rec.receipts)),
			zap.Error(err))
		if rerr := s.revert(context.WithoutCancel(ctx), rec.receipts); rerr != nil {
			return nil, fmt.Errorf("settlement: save market: %w (revert failed: %w)", err, rerr)
		}
		return nil, fmt.Errorf("settlement: save market: %w", err)
	}

	s.log.Info("market updated",
		zap.String("op", op),
		zap.String("market", id.Hex()),
		zap.String("status", next.Status().String()),
		zap.Uint64("collateral_minted", next.CollateralMinted),
		zap.Uint64("collateral_released", next.CollateralReleased))
	if onCommit != nil {
		onCommit(next)
	}
	return next, nil
}

// revert undoes receipts newest first
func (s *Service) revert(ctx context.Context, receipts []ledger.Receipt) error {
	for i := len(receipts) - 1; i >= 0; i-- {
		if _, err := s.ledger.Revert(ctx, receipts[i]); err != nil {
			s.log.Error("ledger revert failed",
				zap.String("receipt", receipts[i].ID),
				zap.Error(err))
			return err
		}
	}
	return nil
}

func (s *Service) rejected(op string, id common.Address, err error) {
	s.log.Warn("operation rejected",
		zap.String("op", op),
		zap.String("market", id.Hex()),
		zap.String("code", market.CodeOf(err)),
		zap.String("class", string(market.ClassOf(err))),
		zap.Bool("retryable", market.Retryable(err)),
		zap.Error(err))
}

func (s *Service) publish(typ string, id common.Address, data interface{}) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(events.New(typ, id, data))
}
