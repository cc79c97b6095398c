package eth

import (
	"errors"
	"math/big"
	"testing"
)

func bi(v int64) *big.Int { return big.NewInt(v) }

func TestLegacyGasPrice_AddsMargin(t *testing.T) {
	got, err := LegacyGasPrice(bi(1_000), 20, nil)
	if err != nil {
		t.Fatalf("LegacyGasPrice: %v", err)
	}
	if got.Cmp(bi(1_200)) != 0 {
		t.Fatalf("price: got %s want %s", got, bi(1_200))
	}

	// Integer division rounds down.
	got, err = LegacyGasPrice(bi(7), 20, nil)
	if err != nil {
		t.Fatalf("LegacyGasPrice: %v", err)
	}
	if got.Cmp(bi(8)) != 0 {
		t.Fatalf("price: got %s want %s", got, bi(8))
	}
}

func TestLegacyGasPrice_CapsAtMax(t *testing.T) {
	got, err := LegacyGasPrice(bi(1_000), 20, bi(1_100))
	if err != nil {
		t.Fatalf("LegacyGasPrice: %v", err)
	}
	if got.Cmp(bi(1_100)) != 0 {
		t.Fatalf("price: got %s want %s", got, bi(1_100))
	}
}

func TestLegacyGasPrice_RejectsInvalid(t *testing.T) {
	cases := []struct {
		name      string
		suggested *big.Int
		margin    int
		max       *big.Int
	}{
		{"nil suggested", nil, 20, nil},
		{"negative suggested", bi(-1), 20, nil},
		{"negative margin", bi(1), -1, nil},
		{"zero max", bi(1), 20, bi(0)},
	}
	for _, tc := range cases {
		if _, err := LegacyGasPrice(tc.suggested, tc.margin, tc.max); !errors.Is(err, ErrInvalidFeeArgs) {
			t.Fatalf("%s: expected ErrInvalidFeeArgs, got %v", tc.name, err)
		}
	}
}

func TestBumpLegacyGasPrice(t *testing.T) {
	cases := []struct {
		name    string
		prev    *big.Int
		percent int
		minBump *big.Int
		want    *big.Int
	}{
		{"percent", bi(1_000), 15, nil, bi(1_150)},
		{"rounds up", bi(7), 10, nil, bi(8)},
		{"min bump wins", bi(1_000), 10, bi(500), bi(1_500)},
		{"percent wins", bi(1_000_000), 10, bi(1), bi(1_100_000)},
	}
	for _, tc := range cases {
		got, err := BumpLegacyGasPrice(tc.prev, tc.percent, tc.minBump)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got.Cmp(tc.want) != 0 {
			t.Fatalf("%s: got %s want %s", tc.name, got, tc.want)
		}
		// Never below the txpool's 10% floor.
		floor := new(big.Int).Mul(tc.prev, bi(110))
		if new(big.Int).Mul(got, bi(100)).Cmp(floor) < 0 {
			t.Fatalf("%s: %s is below 110%% of %s", tc.name, got, tc.prev)
		}
	}
}

func TestBumpLegacyGasPrice_RejectsInvalid(t *testing.T) {
	cases := []struct {
		name    string
		prev    *big.Int
		percent int
		minBump *big.Int
	}{
		{"nil prev", nil, 15, nil},
		{"negative prev", bi(-1), 15, nil},
		{"below txpool floor", bi(1_000), 9, nil},
		{"negative min bump", bi(1_000), 15, bi(-1)},
	}
	for _, tc := range cases {
		if _, err := BumpLegacyGasPrice(tc.prev, tc.percent, tc.minBump); !errors.Is(err, ErrInvalidFeeArgs) {
			t.Fatalf("%s: expected ErrInvalidFeeArgs, got %v", tc.name, err)
		}
	}
}
