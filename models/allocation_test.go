package models

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pct(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestNewAllocation(t *testing.T) {
	t.Run("ValidSplit", func(t *testing.T) {
		a, err := NewAllocation(
			AllocationEntry{TargetID: 1, Percentage: pct("60")},
			AllocationEntry{TargetID: 2, Percentage: pct("40")},
		)
		require.NoError(t, err)
		assert.Equal(t, []uint{1, 2}, a.TargetIDs())
		assert.True(t, a.Includes(2))
		assert.False(t, a.Includes(3))
	})

	t.Run("FractionalPercentages", func(t *testing.T) {
		_, err := NewAllocation(
			AllocationEntry{TargetID: 1, Percentage: pct("33.33")},
			AllocationEntry{TargetID: 2, Percentage: pct("33.33")},
			AllocationEntry{TargetID: 3, Percentage: pct("33.34")},
		)
		assert.NoError(t, err)
	})

	cases := []struct {
		name    string
		entries []AllocationEntry
		want    error
	}{
		{"Empty", nil, ErrAllocationEmpty},
		{"SumBelow", []AllocationEntry{{TargetID: 1, Percentage: pct("50")}, {TargetID: 2, Percentage: pct("49.99")}}, ErrAllocationSum},
		{"SumAbove", []AllocationEntry{{TargetID: 1, Percentage: pct("60")}, {TargetID: 2, Percentage: pct("41")}}, ErrAllocationSum},
		{"ZeroPercentage", []AllocationEntry{{TargetID: 1, Percentage: pct("100")}, {TargetID: 2, Percentage: pct("0")}}, ErrAllocationPercentage},
		{"NegativePercentage", []AllocationEntry{{TargetID: 1, Percentage: pct("110")}, {TargetID: 2, Percentage: pct("-10")}}, ErrAllocationPercentage},
		{"DuplicateTarget", []AllocationEntry{{TargetID: 1, Percentage: pct("50")}, {TargetID: 1, Percentage: pct("50")}}, ErrAllocationDuplicateTarget},
		{"MissingTarget", []AllocationEntry{{TargetID: 0, Percentage: pct("100")}}, ErrAllocationTarget},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewAllocation(tc.entries...)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestAllocationEntriesAreCopied(t *testing.T) {
	entries := []AllocationEntry{{TargetID: 7, Percentage: pct("100")}}
	a, err := NewAllocation(entries...)
	require.NoError(t, err)

	entries[0].TargetID = 99
	got := a.Entries()
	got[0].TargetID = 42

	assert.Equal(t, []uint{7}, a.TargetIDs())
}

func TestAllocationAmountFor(t *testing.T) {
	a, err := NewAllocation(
		AllocationEntry{TargetID: 1, Percentage: pct("33.33")},
		AllocationEntry{TargetID: 2, Percentage: pct("66.67")},
	)
	require.NoError(t, err)

	assert.Equal(t, "333.30", a.AmountFor(pct("1000"), 1, 2).StringFixed(2))
	assert.Equal(t, "666.70", a.AmountFor(pct("1000"), 2, 2).StringFixed(2))
	assert.True(t, a.AmountFor(pct("1000"), 3, 2).IsZero())
}

func TestAllocationAmountsSumToTotal(t *testing.T) {
	thirds, err := NewAllocation(
		AllocationEntry{TargetID: 1, Percentage: pct("33.33")},
		AllocationEntry{TargetID: 2, Percentage: pct("33.33")},
		AllocationEntry{TargetID: 3, Percentage: pct("33.34")},
	)
	require.NoError(t, err)

	amounts := thirds.Amounts(pct("10"), 2)
	assert.Equal(t, "3.33", amounts[1].StringFixed(2))
	assert.Equal(t, "3.33", amounts[2].StringFixed(2))
	assert.Equal(t, "3.34", amounts[3].StringFixed(2), "residual goes to the largest entry")
	assert.Equal(t, "3.34", thirds.AmountFor(pct("10"), 3, 2).StringFixed(2))

	halves, err := NewAllocation(
		AllocationEntry{TargetID: 4, Percentage: pct("50")},
		AllocationEntry{TargetID: 5, Percentage: pct("50")},
	)
	require.NoError(t, err)
	assert.Equal(t, "50.01", halves.AmountFor(pct("100.01"), 4, 2).StringFixed(2), "first entry wins a tie")
	assert.Equal(t, "50.00", halves.AmountFor(pct("100.01"), 5, 2).StringFixed(2))

	for _, total := range []string{"0.01", "1", "99.99", "1000.07", "123456.78"} {
		sum := decimal.Zero
		for _, amount := range thirds.Amounts(pct(total), 2) {
			sum = sum.Add(amount)
		}
		assert.Truef(t, pct(total).Equal(sum), "parts of %s sum to %s", total, sum)
	}

	assert.Empty(t, Allocation{}.Amounts(pct("10"), 2))
}

func TestAllocationScanRejectsInvalidStoredValue(t *testing.T) {
	var a Allocation
	err := a.Scan(`[{"target_id":1,"percentage":"70"}]`)
	assert.ErrorIs(t, err, ErrAllocationSum)

	require.NoError(t, a.Scan(nil))
	assert.True(t, a.IsEmpty())

	require.NoError(t, a.Scan([]byte(`[{"target_id":3,"percentage":"100"}]`)))
	assert.Equal(t, []uint{3}, a.TargetIDs())
}

func TestAllocationEmptyValue(t *testing.T) {
	v, err := Allocation{}.Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)

	b, err := json.Marshal(struct {
		A Allocation `json:"a"`
	}{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":[]}`, string(b))
}
