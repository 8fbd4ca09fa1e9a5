package store

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"settlement-engine/internal/market"
)

// Memory keeps markets in process. Records are copied on the way in and out.
type Memory struct {
	mu      sync.RWMutex
	markets map[common.Address]*market.Market
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		markets: make(map[common.Address]*market.Market),
	}
}

// Create stores a new market
func (s *Memory) Create(ctx context.Context, m *market.Market) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.ID]; ok {
		return ErrExists
	}
	s.markets[m.ID] = m.Clone()
	return nil
}

// Get retrieves a market by identity
func (s *Memory) Get(ctx context.Context, id common.Address) (*market.Market, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.Clone(), nil
}

// Save replaces an existing market
func (s *Memory) Save(ctx context.Context, m *market.Market) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.ID]; !ok {
		return ErrNotFound
	}
	s.markets[m.ID] = m.Clone()
	return nil
}

// List returns all markets ordered by identity
func (s *Memory) List(ctx context.Context) ([]*market.Market, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]*market.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, m.Clone())
	}
	sort.Slice(markets, func(i, j int) bool {
		return bytes.Compare(markets[i].ID.Bytes(), markets[j].ID.Bytes()) < 0
	})
	return markets, nil
}

var _ MarketStore = (*Memory)(nil)
