package businessflow

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// percentOf returns amount * pct / 100 rounded half-up to places
func percentOf(amount, pct decimal.Decimal, places int32) decimal.Decimal {
	return amount.Mul(pct).Div(hundred).Round(places)
}

// splitByWeight divides total across weights proportionally. Every share is rounded down
// to places and the residual goes to the largest weight (the first one on ties), so the
// shares always sum to exactly total.
func splitByWeight(total decimal.Decimal, weights []decimal.Decimal, places int32) []decimal.Decimal {
	shares := make([]decimal.Decimal, len(weights))
	if len(weights) == 0 {
		return shares
	}

	sum := decimal.Zero
	largest := 0
	for i, w := range weights {
		sum = sum.Add(w)
		if w.GreaterThan(weights[largest]) {
			largest = i
		}
	}
	if !sum.IsPositive() {
		shares[largest] = total
		return shares
	}

	allocated := decimal.Zero
	for i, w := range weights {
		shares[i] = total.Mul(w).Div(sum).RoundDown(places)
		allocated = allocated.Add(shares[i])
	}
	shares[largest] = shares[largest].Add(total.Sub(allocated))
	return shares
}

// splitTwoWays splits amount into a part at pct percent and the rest. The rounding residual
// goes to the larger side, to part on a tie.
func splitTwoWays(amount, pct decimal.Decimal, places int32) (part, rest decimal.Decimal) {
	weights := []decimal.Decimal{pct, hundred.Sub(pct)}
	shares := splitByWeight(amount, weights, places)
	return shares[0], shares[1]
}

func sumDecimals(values []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
