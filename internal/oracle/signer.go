// Package oracle authenticates signed market resolutions and supplies the
// time source used to gate them.
package oracle

import (
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrInvalidSignature = errors.New("invalid resolution signature")

// Resolution is the statement an oracle signs to settle a market
type Resolution struct {
	Market    common.Address `json:"market"`
	Winner    common.Address `json:"winner"`
	Timestamp int64          `json:"timestamp"`
}

// Digest returns the keccak256 hash of the resolution fields
func (r Resolution) Digest() []byte {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(r.Timestamp))
	return crypto.Keccak256(
		[]byte("settlement-engine/resolution"),
		r.Market.Bytes(),
		r.Winner.Bytes(),
		ts[:],
	)
}

// Signer holds an oracle key and signs resolutions with the EIP-191 prefix
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a signer from a hex-encoded private key
func NewSigner(hexKey string) (*Signer, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")

	keyBytes, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid hex key: %w", err)
	}

	privateKey, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return &Signer{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

// GenerateSigner creates a signer with a fresh random key
func GenerateSigner() (*Signer, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Signer{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

// Address returns the oracle address
func (s *Signer) Address() common.Address {
	return s.address
}

// Sign signs the resolution digest. The returned signature has v in {27,28}.
func (s *Signer) Sign(r Resolution) ([]byte, error) {
	hash := accounts.TextHash(r.Digest())
	sig, err := crypto.Sign(hash, s.privateKey)
	if err != nil {
		return nil, err
	}

	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// SignHex signs and returns a 0x-prefixed hex signature
func (s *Signer) SignHex(r Resolution) (string, error) {
	sig, err := s.Sign(r)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// Recover returns the address that signed r
func Recover(r Resolution, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}

	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	pubKey, err := crypto.SigToPub(accounts.TextHash(r.Digest()), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}

// RecoverHex decodes a hex signature and recovers its signer
func RecoverHex(r Resolution, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return Recover(r, sig)
}
