// Package ledger defines the token ledger collaborator the settlement engine
// drives, together with an in-memory implementation used by the host service
// and by tests.
package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger is the token ledger consumed by the market state machine.
// Execute applies every command or none of them.
type Ledger interface {
	Execute(ctx context.Context, cmds ...Command) (Receipt, error)
	Balance(asset, holder common.Address) uint64
}

type asset struct {
	decimals  uint8
	authority common.Address
	supply    uint64
}

type holding struct {
	asset  common.Address
	holder common.Address
}

// Memory is an in-memory token ledger.
//
// Authorization rules:
//   - mint: the asset authority
//   - burn: the asset authority or the holder
//   - transfer: the holder or the custodian the holder appointed
type Memory struct {
	mu         sync.RWMutex
	assets     map[common.Address]*asset
	balances   map[holding]uint64
	custodians map[common.Address]common.Address
	version    uint64
	journal    *Journal
}

// NewMemory creates an empty ledger retaining up to journalSize receipts
func NewMemory(journalSize int) *Memory {
	return &Memory{
		assets:     make(map[common.Address]*asset),
		balances:   make(map[holding]uint64),
		custodians: make(map[common.Address]common.Address),
		journal:    NewJournal(journalSize),
	}
}

// CreateAsset registers a new fungible asset controlled by authority
func (m *Memory) CreateAsset(addr common.Address, decimals uint8, authority common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.assets[addr]; ok {
		return ErrAssetExists
	}
	m.assets[addr] = &asset{decimals: decimals, authority: authority}
	return nil
}

// SetCustodian lets custodian move the holder's balances
func (m *Memory) SetCustodian(holder, custodian common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.custodians[holder] = custodian
}

// RemoveCustodian revokes the holder's custodian
func (m *Memory) RemoveCustodian(holder common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.custodians, holder)
}

// RemoveAsset unregisters an asset that was never issued
func (m *Memory) RemoveAsset(addr common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.assets[addr]
	if !ok {
		return ErrUnknownAsset
	}
	if a.supply > 0 {
		return ErrAssetInUse
	}
	delete(m.assets, addr)
	return nil
}

// Balance returns the holder's balance of asset
func (m *Memory) Balance(assetAddr, holder common.Address) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[holding{assetAddr, holder}]
}

// Supply returns the outstanding supply of asset
func (m *Memory) Supply(assetAddr common.Address) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.assets[assetAddr]; ok {
		return a.supply
	}
	return 0
}

// Decimals returns the asset precision and whether the asset exists
func (m *Memory) Decimals(assetAddr common.Address) (uint8, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assets[assetAddr]
	if !ok {
		return 0, false
	}
	return a.decimals, true
}

// Version returns the number of committed batches
func (m *Memory) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Journal returns the receipt journal
func (m *Memory) Journal() *Journal {
	return m.journal
}

// Execute validates and applies cmds as one batch
func (m *Memory) Execute(ctx context.Context, cmds ...Command) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.commit(cmds, false)
}

// Revert applies the inverse of a committed receipt as a new batch: mints
// are burned, burns re-minted and transfers moved back. Authorization is not
// re-checked, balances are. It fails without effect if the credited holders
// no longer hold what the receipt gave them.
func (m *Memory) Revert(ctx context.Context, r Receipt) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}

	inverse := make([]Command, 0, len(r.Commands))
	for i := len(r.Commands) - 1; i >= 0; i-- {
		inverse = append(inverse, r.Commands[i].Inverse())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commit(inverse, true)
}

// commit stages and applies cmds (must hold lock)
func (m *Memory) commit(cmds []Command, trusted bool) (Receipt, error) {
	st := &staging{
		m:        m,
		balances: make(map[holding]uint64),
		supply:   make(map[common.Address]uint64),
		trusted:  trusted,
	}
	for i, cmd := range cmds {
		if err := st.apply(cmd); err != nil {
			return Receipt{}, fmt.Errorf("ledger: command %d (%s): %w", i, cmd.Kind, err)
		}
	}

	for h, bal := range st.balances {
		m.balances[h] = bal
	}
	for addr, supply := range st.supply {
		m.assets[addr].supply = supply
	}
	m.version++

	receipt := newReceipt(m.version, cmds)
	m.journal.Add(receipt)
	return receipt, nil
}

// staging overlays uncommitted balances on top of the ledger (must hold lock)
type staging struct {
	m        *Memory
	balances map[holding]uint64
	supply   map[common.Address]uint64
	trusted  bool // skip authorization, used for compensating batches
}

func (s *staging) balance(h holding) uint64 {
	if bal, ok := s.balances[h]; ok {
		return bal
	}
	return s.m.balances[h]
}

func (s *staging) supplyOf(addr common.Address) uint64 {
	if sup, ok := s.supply[addr]; ok {
		return sup
	}
	return s.m.assets[addr].supply
}

func (s *staging) apply(cmd Command) error {
	if cmd.Amount == 0 {
		return ErrZeroAmount
	}
	a, ok := s.m.assets[cmd.Asset]
	if !ok {
		return ErrUnknownAsset
	}

	switch cmd.Kind {
	case KindMint:
		if !s.trusted && cmd.Authority != a.authority {
			return ErrUnauthorized
		}
		supply := s.supplyOf(cmd.Asset)
		if supply+cmd.Amount < supply {
			return ErrSupplyOverflow
		}
		to := holding{cmd.Asset, cmd.To}
		s.supply[cmd.Asset] = supply + cmd.Amount
		s.balances[to] = s.balance(to) + cmd.Amount

	case KindBurn:
		if !s.trusted && cmd.Authority != a.authority && cmd.Authority != cmd.From {
			return ErrUnauthorized
		}
		from := holding{cmd.Asset, cmd.From}
		bal := s.balance(from)
		if bal < cmd.Amount {
			return ErrInsufficientBalance
		}
		s.balances[from] = bal - cmd.Amount
		s.supply[cmd.Asset] = s.supplyOf(cmd.Asset) - cmd.Amount

	case KindTransfer:
		if !s.trusted && !s.canMove(cmd.From, cmd.Authority) {
			return ErrUnauthorized
		}
		from := holding{cmd.Asset, cmd.From}
		to := holding{cmd.Asset, cmd.To}
		bal := s.balance(from)
		if bal < cmd.Amount {
			return ErrInsufficientBalance
		}
		s.balances[from] = bal - cmd.Amount
		s.balances[to] = s.balance(to) + cmd.Amount

	default:
		return ErrUnknownCommand
	}
	return nil
}

func (s *staging) canMove(holder, authority common.Address) bool {
	if authority == holder {
		return true
	}
	custodian, ok := s.m.custodians[holder]
	return ok && custodian == authority
}

// Snapshot is a JSON-serializable view of one asset
type Snapshot struct {
	Asset    common.Address            `json:"asset"`
	Decimals uint8                     `json:"decimals"`
	Supply   uint64                    `json:"supply"`
	Balances map[common.Address]uint64 `json:"balances"`
	Version  uint64                    `json:"version"`
}

// Snapshot returns the non-zero balances of asset
func (m *Memory) Snapshot(assetAddr common.Address) Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		Asset:    assetAddr,
		Balances: make(map[common.Address]uint64),
		Version:  m.version,
	}
	if a, ok := m.assets[assetAddr]; ok {
		snap.Decimals = a.decimals
		snap.Supply = a.supply
	}
	for h, bal := range m.balances {
		if h.asset == assetAddr && bal > 0 {
			snap.Balances[h.holder] = bal
		}
	}
	return snap
}

var _ Ledger = (*Memory)(nil)
