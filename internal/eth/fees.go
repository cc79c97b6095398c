package eth

import (
	"errors"
	"math/big"
)

var ErrInvalidFeeArgs = errors.New("eth: invalid fee args")

// MinReplacementBumpPercent is the txpool's minimum price increase for a same-nonce replacement.
const MinReplacementBumpPercent = 10

// LegacyGasPrice applies a percentage margin on top of the node's suggested gas price.
//
// Policy:
// - price = suggested * (100 + marginPercent) / 100
// - price = min(price, maxPrice) when maxPrice is set
func LegacyGasPrice(suggested *big.Int, marginPercent int, maxPrice *big.Int) (*big.Int, error) {
	if suggested == nil || suggested.Sign() < 0 {
		return nil, ErrInvalidFeeArgs
	}
	if marginPercent < 0 {
		return nil, ErrInvalidFeeArgs
	}
	if maxPrice != nil && maxPrice.Sign() <= 0 {
		return nil, ErrInvalidFeeArgs
	}

	price := new(big.Int).Mul(suggested, big.NewInt(int64(100+marginPercent)))
	price.Div(price, big.NewInt(100))

	if maxPrice != nil && price.Cmp(maxPrice) > 0 {
		price = new(big.Int).Set(maxPrice)
	}
	return price, nil
}

// BumpLegacyGasPrice raises a gas price for a same-nonce replacement.
//
// Policy:
// - price = ceil(prev * (100 + bumpPercent) / 100)
// - price = max(price, prev + minBump) when minBump is set
//
// Geth's txpool rejects replacements priced less than 10% above the original, so bumpPercent must be at
// least MinReplacementBumpPercent. Rounding up keeps small prices from losing the bump.
func BumpLegacyGasPrice(prev *big.Int, bumpPercent int, minBump *big.Int) (*big.Int, error) {
	if prev == nil || prev.Sign() < 0 {
		return nil, ErrInvalidFeeArgs
	}
	if bumpPercent < MinReplacementBumpPercent {
		return nil, ErrInvalidFeeArgs
	}
	if minBump != nil && minBump.Sign() < 0 {
		return nil, ErrInvalidFeeArgs
	}

	price := new(big.Int).Mul(prev, big.NewInt(int64(100+bumpPercent)))
	price.Add(price, big.NewInt(99))
	price.Div(price, big.NewInt(100))

	if minBump != nil && minBump.Sign() > 0 {
		min := new(big.Int).Add(prev, minBump)
		if price.Cmp(min) < 0 {
			price = min
		}
	}
	return price, nil
}
