package chain

import (
	"math/big"
)

// FormatUnits renders v with decimals as a fixed 4-decimal string.
func FormatUnits(v *big.Int, decimals int) string {
	if v == nil {
		return "0.0000"
	}
	f := new(big.Float).SetPrec(256).SetInt(v)
	scale := new(big.Float).SetPrec(256).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	return f.Quo(f, scale).Text('f', 4)
}

// ParseEther converts a decimal XOS amount such as "0.05" to wei.
func ParseEther(s string) *big.Int {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return new(big.Int)
	}
	r.Mul(r, new(big.Rat).SetInt(weiPerEther))
	return new(big.Int).Quo(r.Num(), r.Denom())
}

var (
	weiPerEther = big.NewInt(1_000_000_000_000_000_000)
	// amounts are truncated to 4 decimals before sending.
	amountStep = big.NewInt(100_000_000_000_000)
)

// PercentOf returns percent% of balance truncated to 4 decimals.
func PercentOf(balance *big.Int, percent float64) *big.Int {
	if balance == nil || percent <= 0 {
		return new(big.Int)
	}
	bps := big.NewInt(int64(percent * 100))
	out := new(big.Int).Mul(balance, bps)
	out.Quo(out, big.NewInt(10_000))
	out.Quo(out, amountStep)
	return out.Mul(out, amountStep)
}
