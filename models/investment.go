package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InvestmentType tells what an investment's allocation targets
type InvestmentType string

const (
	InvestmentTypeGeneral         InvestmentType = "general"          // Platform-wide pool, no allocation
	InvestmentTypeProjectSpecific InvestmentType = "project_specific" // Allocation targets property projects
	InvestmentTypePlotSpecific    InvestmentType = "plot_specific"    // Allocation targets plots, each one held
)

// InvestmentStatus represents the lifecycle state of an investment
type InvestmentStatus string

const (
	InvestmentStatusPending   InvestmentStatus = "pending"
	InvestmentStatusApproved  InvestmentStatus = "approved"
	InvestmentStatusRejected  InvestmentStatus = "rejected"
	InvestmentStatusCompleted InvestmentStatus = "completed"
)

// IsValid reports whether the type is known
func (t InvestmentType) IsValid() bool {
	switch t {
	case InvestmentTypeGeneral, InvestmentTypeProjectSpecific, InvestmentTypePlotSpecific:
		return true
	}
	return false
}

// Investment is a user's committed capital and its allocation
type Investment struct {
	ID     uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID   uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"uuid"`
	UserID uint      `gorm:"not null;index" json:"user_id"`

	PropertyProjectID *uint `gorm:"index" json:"property_project_id,omitempty"`
	PlotID            *uint `gorm:"index" json:"plot_id,omitempty"`

	Amount         decimal.Decimal  `gorm:"type:decimal(20,2);not null" json:"amount"`
	InvestmentType InvestmentType   `gorm:"type:varchar(20);not null;index" json:"investment_type"`
	Status         InvestmentStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`

	ExpectedReturn    decimal.Decimal     `gorm:"type:decimal(20,2);not null;default:0" json:"expected_return"`
	ActualReturn      decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"actual_return"`
	ReturnRate        decimal.Decimal     `gorm:"type:decimal(7,4);not null;default:0" json:"return_rate"` // Percent over the full term
	MaturityDate      *time.Time          `gorm:"index" json:"maturity_date,omitempty"`
	ReturnsGenerated  decimal.Decimal     `gorm:"type:decimal(20,2);not null;default:0" json:"returns_generated"`
	ProfitDistributed decimal.Decimal     `gorm:"type:decimal(20,2);not null;default:0" json:"profit_distributed"`

	AutoReinvest       bool            `gorm:"not null;default:false" json:"auto_reinvest"`
	ReinvestPercentage decimal.Decimal `gorm:"type:decimal(5,2);not null;default:0" json:"reinvest_percentage"`
	ReinvestmentCount  int             `gorm:"not null;default:0" json:"reinvestment_count"`
	ParentInvestmentID *uint           `gorm:"index" json:"parent_investment_id,omitempty"`

	ProjectAllocation Allocation `gorm:"type:jsonb" json:"project_allocation"`
	PlotAllocation    Allocation `gorm:"type:jsonb" json:"plot_allocation"`

	DebitTransactionID *uint      `json:"debit_transaction_id,omitempty"`
	ApprovalDate       *time.Time `json:"approval_date,omitempty"`
	ApprovedBy         *uint      `json:"approved_by,omitempty"`
	RejectionReason    *string    `gorm:"type:text" json:"rejection_reason,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// BeforeCreate ensures UUID is set
func (i *Investment) BeforeCreate(tx *gorm.DB) error {
	if i.UUID == uuid.Nil {
		i.UUID = uuid.New()
	}
	return nil
}

// Allocation returns the allocation matching the investment type
func (i *Investment) Allocation() Allocation {
	switch i.InvestmentType {
	case InvestmentTypeProjectSpecific:
		return i.ProjectAllocation
	case InvestmentTypePlotSpecific:
		return i.PlotAllocation
	}
	return Allocation{}
}

// IsPending returns true while the investment awaits approval
func (i *Investment) IsPending() bool {
	return i.Status == InvestmentStatusPending
}

// IsMature reports whether the investment is approved and its maturity date has passed
func (i *Investment) IsMature(now time.Time) bool {
	return i.Status == InvestmentStatusApproved && i.MaturityDate != nil && !now.Before(*i.MaturityDate)
}

// CountsForProfit reports whether the investment participates in a sale's profit split
func (i *Investment) CountsForProfit() bool {
	return i.Status == InvestmentStatusApproved || i.Status == InvestmentStatusCompleted
}

// InvestmentFilter represents filter criteria for investment queries
type InvestmentFilter struct {
	ID                 *uint             `json:"id,omitempty"`
	UserID             *uint             `json:"user_id,omitempty"`
	PropertyProjectID  *uint             `json:"property_project_id,omitempty"`
	PlotID             *uint             `json:"plot_id,omitempty"`
	InvestmentType     *InvestmentType   `json:"investment_type,omitempty"`
	Status             *InvestmentStatus `json:"status,omitempty"`
	ParentInvestmentID *uint             `json:"parent_investment_id,omitempty"`
	MaturedBefore      *time.Time        `json:"matured_before,omitempty"`
	CreatedAfter       *time.Time        `json:"created_after,omitempty"`
	CreatedBefore      *time.Time        `json:"created_before,omitempty"`
}
