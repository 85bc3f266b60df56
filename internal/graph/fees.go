package graph

import "math/big"

// ImbalanceGenerated returns the part of value that increases the sender's debt
// given the sender's current balance.
func ImbalanceGenerated(value, balance *big.Int) *big.Int {
	if balance.Sign() <= 0 {
		return new(big.Int).Set(value)
	}
	out := new(big.Int).Sub(value, balance)
	if out.Sign() < 0 {
		return out.SetInt64(0)
	}
	return out
}

// CalculateFees returns the mediator fee for an imbalance, rounded up.
func CalculateFees(imbalance *big.Int, divisor uint64) *big.Int {
	if divisor == 0 || imbalance.Sign() == 0 {
		return new(big.Int)
	}
	return ceilDiv(imbalance, divisor)
}

func ceilDiv(v *big.Int, d uint64) *big.Int {
	out := new(big.Int).Sub(v, big.NewInt(1))
	out.Quo(out, new(big.Int).SetUint64(d))
	return out.Add(out, big.NewInt(1))
}
