package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"settlement-engine/internal/market"
	"settlement-engine/internal/store"
)

// MarketStore implements store.MarketStore using PostgreSQL
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a MarketStore backed by the given connection pool
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, authority_nonce, controller, oracle,
	collateral_asset, collateral_vault,
	collateral_minted::text, collateral_released::text,
	expiration_time, winner,
	yes_address, yes_decimals, yes_ticker,
	no_address, no_decimals, no_ticker`

func marketArgs(m *market.Market) []any {
	yes, no := m.Outcomes[market.OutcomeYes], m.Outcomes[market.OutcomeNo]
	return []any{
		m.ID.Hex(), int16(m.AuthorityNonce), m.Controller.Hex(), m.Oracle.Hex(),
		m.CollateralAsset.Hex(), m.CollateralVault.Hex(),
		strconv.FormatUint(m.CollateralMinted, 10), strconv.FormatUint(m.CollateralReleased, 10),
		m.ExpirationTime, m.Winner.Hex(),
		yes.Address.Hex(), int16(yes.Decimals), yes.Ticker,
		no.Address.Hex(), int16(no.Decimals), no.Ticker,
	}
}

// Create inserts a new market row
func (s *MarketStore) Create(ctx context.Context, m *market.Market) error {
	const query = `
		INSERT INTO markets (
			id, authority_nonce, controller, oracle,
			collateral_asset, collateral_vault,
			collateral_minted, collateral_released,
			expiration_time, winner,
			yes_address, yes_decimals, yes_ticker,
			no_address, no_decimals, no_ticker
		) VALUES (
			$1, $2, $3, $4,
			$5, $6,
			$7::numeric, $8::numeric,
			$9, $10,
			$11, $12, $13,
			$14, $15, $16
		)
		ON CONFLICT (id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query, marketArgs(m)...)
	if err != nil {
		return fmt.Errorf("postgres: create market %s: %w", m.ID.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrExists
	}
	return nil
}

// Save overwrites every mutable column of an existing market
func (s *MarketStore) Save(ctx context.Context, m *market.Market) error {
	const query = `
		UPDATE markets SET
			authority_nonce     = $2,
			controller          = $3,
			oracle              = $4,
			collateral_asset    = $5,
			collateral_vault    = $6,
			collateral_minted   = $7::numeric,
			collateral_released = $8::numeric,
			expiration_time     = $9,
			winner              = $10,
			yes_address         = $11,
			yes_decimals        = $12,
			yes_ticker          = $13,
			no_address          = $14,
			no_decimals         = $15,
			no_ticker           = $16,
			updated_at          = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, marketArgs(m)...)
	if err != nil {
		return fmt.Errorf("postgres: save market %s: %w", m.ID.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// scanMarket scans a single market row
func scanMarket(row pgx.Row) (*market.Market, error) {
	var (
		id, controller, oracleAddr, asset, vault, winner string
		yesAddr, yesTicker, noAddr, noTicker             string
		minted, released                                 string
		nonce, yesDecimals, noDecimals                   int16
		expiration                                       int64
	)
	err := row.Scan(
		&id, &nonce, &controller, &oracleAddr,
		&asset, &vault,
		&minted, &released,
		&expiration, &winner,
		&yesAddr, &yesDecimals, &yesTicker,
		&noAddr, &noDecimals, &noTicker,
	)
	if err != nil {
		return nil, err
	}

	m := market.New(common.HexToAddress(id))
	m.AuthorityNonce = uint8(nonce)
	m.Controller = common.HexToAddress(controller)
	m.Oracle = common.HexToAddress(oracleAddr)
	m.CollateralAsset = common.HexToAddress(asset)
	m.CollateralVault = common.HexToAddress(vault)
	m.ExpirationTime = expiration
	m.Winner = common.HexToAddress(winner)
	m.Outcomes[market.OutcomeYes] = market.Outcome{Address: common.HexToAddress(yesAddr), Decimals: uint8(yesDecimals), Ticker: yesTicker}
	m.Outcomes[market.OutcomeNo] = market.Outcome{Address: common.HexToAddress(noAddr), Decimals: uint8(noDecimals), Ticker: noTicker}

	if m.CollateralMinted, err = strconv.ParseUint(minted, 10, 64); err != nil {
		return nil, fmt.Errorf("parse collateral_minted: %w", err)
	}
	if m.CollateralReleased, err = strconv.ParseUint(released, 10, 64); err != nil {
		return nil, fmt.Errorf("parse collateral_released: %w", err)
	}
	return m, nil
}

// Get retrieves a market by identity
func (s *MarketStore) Get(ctx context.Context, id common.Address) (*market.Market, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+marketCols+` FROM markets WHERE id = $1`, id.Hex())
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get market %s: %w", id.Hex(), err)
	}
	return m, nil
}

// List returns all markets ordered by identity
func (s *MarketStore) List(ctx context.Context) ([]*market.Market, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+marketCols+` FROM markets ORDER BY lower(id)`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []*market.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	return markets, nil
}

var _ store.MarketStore = (*MarketStore)(nil)
