/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package money holds the integer currency arithmetic shared by the waiver,
// restructuring and allocation code. Amounts are int64 values in the smallest
// currency unit. Percentages are shopspring decimals so that 12.5% is exact.
package money

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	half    = decimal.RequireFromString("0.5")

	ErrNegativeWeight = errors.New("distribution weights must not be negative")
	ErrZeroWeights    = errors.New("cannot distribute a non-zero total over zero weights")
)

// RoundHalfUp rounds d to an integer, sending exact halves toward positive
// infinity (2.5 -> 3, -2.5 -> -2).
func RoundHalfUp(d decimal.Decimal) int64 {
	return d.Add(half).Floor().IntPart()
}

// ApplyPercentage returns amount * pct / 100 rounded half-up.
//
// Parameters:
// - amount int64: The base amount in minor units.
// - pct decimal.Decimal: The percentage, e.g. 12.5 for 12.5%.
//
// Returns:
// - int64: The rounded portion of amount.
func ApplyPercentage(amount int64, pct decimal.Decimal) int64 {
	if amount == 0 || pct.IsZero() {
		return 0
	}
	return RoundHalfUp(decimal.NewFromInt(amount).Mul(pct).Div(hundred))
}

// Distribute splits total across weights using the largest-remainder method.
// Every share is floor(total*w/W); the units left over go one at a time to the
// shares with the largest remainders, ties going to the lower index. The
// returned shares always sum to total.
//
// Parameters:
// - total int64: The amount to split. Must not be negative.
// - weights []int64: Relative weights, all >= 0.
//
// Returns:
// - []int64: One share per weight.
// - error: ErrNegativeWeight, ErrZeroWeights, or a negative total error.
func Distribute(total int64, weights []int64) ([]int64, error) {
	if total < 0 {
		return nil, fmt.Errorf("cannot distribute negative total %d", total)
	}
	shares := make([]int64, len(weights))
	if len(weights) == 0 {
		if total != 0 {
			return nil, ErrZeroWeights
		}
		return shares, nil
	}

	weightSum := new(big.Int)
	for _, w := range weights {
		if w < 0 {
			return nil, ErrNegativeWeight
		}
		weightSum.Add(weightSum, big.NewInt(w))
	}
	if weightSum.Sign() == 0 {
		if total != 0 {
			return nil, ErrZeroWeights
		}
		return shares, nil
	}

	type remainder struct {
		index int
		value *big.Int
	}
	remainders := make([]remainder, len(weights))
	bigTotal := big.NewInt(total)
	var allocated int64
	for i, w := range weights {
		product := new(big.Int).Mul(bigTotal, big.NewInt(w))
		quotient, rem := new(big.Int).QuoRem(product, weightSum, new(big.Int))
		shares[i] = quotient.Int64()
		allocated += shares[i]
		remainders[i] = remainder{index: i, value: rem}
	}

	sort.SliceStable(remainders, func(a, b int) bool {
		cmp := remainders[a].value.Cmp(remainders[b].value)
		if cmp != 0 {
			return cmp > 0
		}
		return remainders[a].index < remainders[b].index
	})

	left := total - allocated
	for i := int64(0); i < left; i++ {
		shares[remainders[i].index]++
	}

	if Sum(shares...) != total {
		return nil, fmt.Errorf("largest remainder distribution lost units: got %d want %d", Sum(shares...), total)
	}
	return shares, nil
}

// SplitEven divides total into parts equal-weight shares.
func SplitEven(total int64, parts int) ([]int64, error) {
	if parts <= 0 {
		return nil, fmt.Errorf("parts must be positive, got %d", parts)
	}
	weights := make([]int64, parts)
	for i := range weights {
		weights[i] = 1
	}
	return Distribute(total, weights)
}

// Sum adds the given amounts.
func Sum(values ...int64) int64 {
	var total int64
	for _, v := range values {
		total += v
	}
	return total
}

// Min returns the smaller of a and b.
func Min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
