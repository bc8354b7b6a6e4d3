package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProjectStatus represents the state of a property project
type ProjectStatus string

const (
	ProjectStatusOpen   ProjectStatus = "open"
	ProjectStatusClosed ProjectStatus = "closed"
)

// PropertyProject groups the plots of one real-estate development
type PropertyProject struct {
	ID         uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID       uuid.UUID       `gorm:"type:uuid;uniqueIndex;not null" json:"uuid"`
	Name       string          `gorm:"type:varchar(255);not null" json:"name"`
	Status     ProjectStatus   `gorm:"type:varchar(20);not null;default:'open'" json:"status"`
	TotalValue decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"total_value"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// BeforeCreate ensures UUID is set
func (p *PropertyProject) BeforeCreate(tx *gorm.DB) error {
	if p.UUID == uuid.Nil {
		p.UUID = uuid.New()
	}
	return nil
}

// PlotStatus represents whether a plot can still be held
type PlotStatus string

const (
	PlotStatusAvailable PlotStatus = "available"
	PlotStatusHeld      PlotStatus = "held"
	PlotStatusSold      PlotStatus = "sold"
)

// Plot is the smallest sellable unit of a property project
type Plot struct {
	ID                uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	PropertyProjectID uint   `gorm:"not null;index" json:"property_project_id"`
	Code              string `gorm:"type:varchar(64);not null;uniqueIndex" json:"code"`

	Price               decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"price"`
	TeamValueRequired   decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"team_value_required"`
	TeamMembersRequired int             `gorm:"not null;default:0" json:"team_members_required"`
	InvestmentRequired  decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"investment_required"`
	LockPeriodDays      int             `gorm:"not null;default:0" json:"lock_period_days"`
	TransferAllowed     bool            `gorm:"not null;default:false" json:"transfer_allowed"`

	IsHeld bool       `gorm:"not null;default:false;index" json:"is_held"`
	Status PlotStatus `gorm:"type:varchar(20);not null;default:'available';index" json:"status"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// IsSold reports whether the plot has been sold
func (p *Plot) IsSold() bool {
	return p.Status == PlotStatusSold
}

// PlotFilter represents filter criteria for plot queries
type PlotFilter struct {
	ID                *uint       `json:"id,omitempty"`
	PropertyProjectID *uint       `json:"property_project_id,omitempty"`
	Code              *string     `json:"code,omitempty"`
	IsHeld            *bool       `json:"is_held,omitempty"`
	Status            *PlotStatus `json:"status,omitempty"`
}
