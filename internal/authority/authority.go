// Package authority derives the keyless signing identity a market uses to
// direct token ledger operations on its own behalf.
package authority

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// domainTag separates derived authorities from any other keccak-derived address.
var domainTag = []byte("settlement-engine/market-authority")

// Derive returns the authority address for a market and nonce.
// The result is a pure function of its inputs and has no private key.
func Derive(market common.Address, nonce uint8) common.Address {
	hash := crypto.Keccak256(domainTag, market.Bytes(), []byte{nonce})
	return common.BytesToAddress(hash[12:])
}

// Verify reports whether candidate is the authority derived from market and nonce
func Verify(market common.Address, nonce uint8, candidate common.Address) bool {
	return Derive(market, nonce) == candidate
}
