package authority

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestDerive_Deterministic(t *testing.T) {
	market := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	a := Derive(market, 7)
	b := Derive(market, 7)
	if a != b {
		t.Fatalf("derive not deterministic: %s != %s", a.Hex(), b.Hex())
	}
	if a == (common.Address{}) {
		t.Fatalf("derived zero address")
	}
	if a == market {
		t.Fatalf("derived authority equals market identity")
	}
}

func TestDerive_DistinctInputs(t *testing.T) {
	m1 := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	m2 := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	seen := map[common.Address]string{}
	for _, tc := range []struct {
		name   string
		market common.Address
		nonce  uint8
	}{
		{"m1/0", m1, 0},
		{"m1/7", m1, 7},
		{"m1/255", m1, 255},
		{"m2/7", m2, 7},
	} {
		got := Derive(tc.market, tc.nonce)
		if prev, ok := seen[got]; ok {
			t.Fatalf("%s collides with %s", tc.name, prev)
		}
		seen[got] = tc.name
	}
}

func TestVerify(t *testing.T) {
	market := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	auth := Derive(market, 42)

	if !Verify(market, 42, auth) {
		t.Fatalf("expected authority to verify")
	}
	if Verify(market, 43, auth) {
		t.Fatalf("wrong nonce verified")
	}
	if Verify(common.HexToAddress("0x01"), 42, auth) {
		t.Fatalf("wrong market verified")
	}
}
