// Package store persists market records.
package store

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"settlement-engine/internal/market"
)

var (
	ErrNotFound = errors.New("market not found")
	ErrExists   = errors.New("market already exists")
)

// MarketStore persists one record per market, addressed by market identity
type MarketStore interface {
	Create(ctx context.Context, m *market.Market) error
	Get(ctx context.Context, id common.Address) (*market.Market, error)
	Save(ctx context.Context, m *market.Market) error
	List(ctx context.Context) ([]*market.Market, error)
}
