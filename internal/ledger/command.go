package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Kind identifies a ledger primitive
type Kind string

const (
	KindMint     Kind = "mint"
	KindBurn     Kind = "burn"
	KindTransfer Kind = "transfer"
)

// Command is a single typed ledger instruction. Which of From/To is used
// depends on Kind: Mint credits To, Burn debits From, Transfer moves From->To.
type Command struct {
	Kind      Kind           `json:"kind"`
	Asset     common.Address `json:"asset"`
	From      common.Address `json:"from,omitempty"`
	To        common.Address `json:"to,omitempty"`
	Amount    uint64         `json:"amount"`
	Authority common.Address `json:"authority"`
}

// MintTo builds a mint command
func MintTo(asset, to common.Address, amount uint64, authority common.Address) Command {
	return Command{Kind: KindMint, Asset: asset, To: to, Amount: amount, Authority: authority}
}

// Burn builds a burn command
func Burn(asset, from common.Address, amount uint64, authority common.Address) Command {
	return Command{Kind: KindBurn, Asset: asset, From: from, Amount: amount, Authority: authority}
}

// Transfer builds a transfer command
func Transfer(asset, from, to common.Address, amount uint64, authority common.Address) Command {
	return Command{Kind: KindTransfer, Asset: asset, From: from, To: to, Amount: amount, Authority: authority}
}

// Inverse returns the command that undoes c
func (c Command) Inverse() Command {
	switch c.Kind {
	case KindMint:
		return Burn(c.Asset, c.To, c.Amount, c.Authority)
	case KindBurn:
		return MintTo(c.Asset, c.From, c.Amount, c.Authority)
	case KindTransfer:
		return Transfer(c.Asset, c.To, c.From, c.Amount, c.Authority)
	default:
		return c
	}
}

func (c Command) String() string {
	switch c.Kind {
	case KindMint:
		return fmt.Sprintf("mint %d %s -> %s", c.Amount, c.Asset.Hex(), c.To.Hex())
	case KindBurn:
		return fmt.Sprintf("burn %d %s from %s", c.Amount, c.Asset.Hex(), c.From.Hex())
	case KindTransfer:
		return fmt.Sprintf("transfer %d %s %s -> %s", c.Amount, c.Asset.Hex(), c.From.Hex(), c.To.Hex())
	default:
		return fmt.Sprintf("%s %d %s", c.Kind, c.Amount, c.Asset.Hex())
	}
}
