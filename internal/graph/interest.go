package graph

import "math/big"

const (
	SecondsPerYear = 31536000
	// Interest rates are expressed in 0.01% per year.
	interestRateDivisor = 10000
	interestTerms       = 15
)

var (
	MaxBalance = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 71), big.NewInt(1))
	MinBalance = new(big.Int).Neg(MaxBalance)
)

// BalanceWithInterests applies continuous compounding from start to end using the
// truncated Taylor expansion the currency network contract uses. The rate is
// chosen by the sign of balance: given rate for positive balances, received otherwise.
func BalanceWithInterests(balance *big.Int, start, end uint64, rateGiven, rateReceived int64) *big.Int {
	result := new(big.Int).Set(balance)
	if end <= start || balance.Sign() == 0 {
		return result
	}

	rate := rateReceived
	if balance.Sign() > 0 {
		rate = rateGiven
	}
	if rate == 0 {
		return result
	}

	factor := new(big.Int).Mul(big.NewInt(rate), new(big.Int).SetUint64(end-start))
	term := new(big.Int).Set(balance)
	divisor := new(big.Int)
	for i := int64(1); i <= interestTerms; i++ {
		term.Mul(term, factor)
		divisor.SetInt64(SecondsPerYear * interestRateDivisor * i)
		term.Quo(term, divisor)
		if term.Sign() == 0 {
			break
		}
		result.Add(result, term)
	}
	return clampBalance(result)
}

func clampBalance(v *big.Int) *big.Int {
	if v.Cmp(MaxBalance) > 0 {
		return v.Set(MaxBalance)
	}
	if v.Cmp(MinBalance) < 0 {
		return v.Set(MinBalance)
	}
	return v
}
