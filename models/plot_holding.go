package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// HoldingStatus is the ownership state of a holding
type HoldingStatus string

const (
	HoldingStatusActive      HoldingStatus = "active"
	HoldingStatusExpired     HoldingStatus = "expired"
	HoldingStatusTransferred HoldingStatus = "transferred"
	HoldingStatusSold        HoldingStatus = "sold"
)

// HoldStatus is the lock state of a holding. Transitions only leave active.
type HoldStatus string

const (
	HoldStatusActive    HoldStatus = "active"
	HoldStatusExpired   HoldStatus = "expired"   // Lock period elapsed
	HoldStatusReleased  HoldStatus = "released"  // Released by the holder or on sale
	HoldStatusCancelled HoldStatus = "cancelled" // Administrative cancellation
)

// PlotHolding is a time-bounded lock a user holds on a plot backing an investment.
// PlotID and InvestmentID are lookup references only.
//
// A user holds a plot at most once, and a plot has at most one active hold; the
// partial unique index on plot_id is the arbiter under concurrent placement.
type PlotHolding struct {
	ID           uint `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       uint `gorm:"not null;uniqueIndex:idx_plot_holdings_user_plot,priority:1" json:"user_id"`
	PlotID       uint `gorm:"not null;uniqueIndex:idx_plot_holdings_user_plot,priority:2;uniqueIndex:idx_plot_holdings_active_plot,where:hold_status = 'active'" json:"plot_id"`
	InvestmentID uint `gorm:"not null;index" json:"investment_id"`

	Status     HoldingStatus `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	HoldStatus HoldStatus    `gorm:"type:varchar(20);not null;default:'active';index" json:"hold_status"`

	HoldStartDate  time.Time `gorm:"not null" json:"hold_start_date"`
	HoldExpiryDate time.Time `gorm:"not null;index" json:"hold_expiry_date"`
	LockPeriodDays int       `gorm:"not null" json:"lock_period_days"`

	HoldAmount         decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"hold_amount"` // Part of the investment backing this plot
	HoldValue          decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"hold_value"`  // Plot price at placement
	TeamValueRequired  decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"team_value_required"`
	InvestmentRequired decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"investment_required"`
	TransferAllowed    bool            `gorm:"not null;default:false" json:"transfer_allowed"`

	ReleaseReason *string    `gorm:"type:text" json:"release_reason,omitempty"`
	ReleasedAt    *time.Time `json:"released_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// IsActive reports whether the hold still locks the plot
func (h *PlotHolding) IsActive() bool {
	return h.HoldStatus == HoldStatusActive
}

// IsExpiredAt reports whether an active hold has passed its expiry at now
func (h *PlotHolding) IsExpiredAt(now time.Time) bool {
	return h.IsActive() && now.After(h.HoldExpiryDate)
}

// PlotHoldingFilter represents filter criteria for holding queries
type PlotHoldingFilter struct {
	ID            *uint          `json:"id,omitempty"`
	UserID        *uint          `json:"user_id,omitempty"`
	PlotID        *uint          `json:"plot_id,omitempty"`
	InvestmentID  *uint          `json:"investment_id,omitempty"`
	Status        *HoldingStatus `json:"status,omitempty"`
	HoldStatus    *HoldStatus    `json:"hold_status,omitempty"`
	ExpiresBefore *time.Time     `json:"expires_before,omitempty"`
}
