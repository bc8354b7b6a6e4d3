package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrAllocationEmpty           = errors.New("allocation has no entries")
	ErrAllocationPercentage      = errors.New("allocation percentage must be within (0, 100]")
	ErrAllocationDuplicateTarget = errors.New("allocation targets must be unique")
	ErrAllocationSum             = errors.New("allocation percentages must sum to 100")
	ErrAllocationTarget          = errors.New("allocation target id is required")
)

var hundred = decimal.NewFromInt(100)

// AllocationEntry assigns a share of an investment to one project or plot
type AllocationEntry struct {
	TargetID   uint            `json:"target_id"`
	Percentage decimal.Decimal `json:"percentage"`
}

// Allocation is an ordered, closed list of entries whose percentages sum to exactly 100.
// The zero value is the empty allocation used by general investments.
type Allocation struct {
	entries []AllocationEntry
}

// NewAllocation validates entries and returns an immutable allocation
func NewAllocation(entries ...AllocationEntry) (Allocation, error) {
	if len(entries) == 0 {
		return Allocation{}, ErrAllocationEmpty
	}

	seen := make(map[uint]struct{}, len(entries))
	sum := decimal.Zero
	for _, e := range entries {
		if e.TargetID == 0 {
			return Allocation{}, ErrAllocationTarget
		}
		if !e.Percentage.IsPositive() || e.Percentage.GreaterThan(hundred) {
			return Allocation{}, fmt.Errorf("%w: target %d has %s", ErrAllocationPercentage, e.TargetID, e.Percentage)
		}
		if _, ok := seen[e.TargetID]; ok {
			return Allocation{}, fmt.Errorf("%w: target %d", ErrAllocationDuplicateTarget, e.TargetID)
		}
		seen[e.TargetID] = struct{}{}
		sum = sum.Add(e.Percentage)
	}
	if !sum.Equal(hundred) {
		return Allocation{}, fmt.Errorf("%w: got %s", ErrAllocationSum, sum)
	}

	cp := make([]AllocationEntry, len(entries))
	copy(cp, entries)
	return Allocation{entries: cp}, nil
}

// SingleTarget is the allocation that puts 100% on one target
func SingleTarget(targetID uint) (Allocation, error) {
	return NewAllocation(AllocationEntry{TargetID: targetID, Percentage: hundred})
}

// Entries returns a copy of the allocation entries
func (a Allocation) Entries() []AllocationEntry {
	cp := make([]AllocationEntry, len(a.entries))
	copy(cp, a.entries)
	return cp
}

// IsEmpty reports whether the allocation has no entries
func (a Allocation) IsEmpty() bool {
	return len(a.entries) == 0
}

// TargetIDs returns the target ids in allocation order
func (a Allocation) TargetIDs() []uint {
	ids := make([]uint, 0, len(a.entries))
	for _, e := range a.entries {
		ids = append(ids, e.TargetID)
	}
	return ids
}

// Includes reports whether targetID is part of the allocation
func (a Allocation) Includes(targetID uint) bool {
	for _, e := range a.entries {
		if e.TargetID == targetID {
			return true
		}
	}
	return false
}

// Amounts splits total across the targets. Each part is rounded down to places and the
// residual goes to the largest entry, the first one on ties, so the parts sum to total.
func (a Allocation) Amounts(total decimal.Decimal, places int32) map[uint]decimal.Decimal {
	out := make(map[uint]decimal.Decimal, len(a.entries))
	if len(a.entries) == 0 {
		return out
	}

	largest := 0
	assigned := decimal.Zero
	for i, e := range a.entries {
		part := total.Mul(e.Percentage).Div(hundred).RoundDown(places)
		out[e.TargetID] = part
		assigned = assigned.Add(part)
		if e.Percentage.GreaterThan(a.entries[largest].Percentage) {
			largest = i
		}
	}
	target := a.entries[largest].TargetID
	out[target] = out[target].Add(total.Sub(assigned))
	return out
}

// AmountFor returns the part of total assigned to targetID, as split by Amounts
func (a Allocation) AmountFor(total decimal.Decimal, targetID uint, places int32) decimal.Decimal {
	amount, ok := a.Amounts(total, places)[targetID]
	if !ok {
		return decimal.Zero
	}
	return amount
}

func (a Allocation) MarshalJSON() ([]byte, error) {
	if a.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(a.entries)
}

func (a *Allocation) UnmarshalJSON(data []byte) error {
	var entries []AllocationEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		*a = Allocation{}
		return nil
	}
	parsed, err := NewAllocation(entries...)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Value implements driver.Valuer
func (a Allocation) Value() (driver.Value, error) {
	b, err := a.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (a *Allocation) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*a = Allocation{}
		return nil
	case []byte:
		return a.UnmarshalJSON(v)
	case string:
		return a.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("cannot scan %T into Allocation", value)
	}
}
