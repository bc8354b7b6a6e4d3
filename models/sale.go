package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SaleStatus tracks how far profit processing of a sale has gone
type SaleStatus string

const (
	SaleStatusCompleted         SaleStatus = "completed"          // Sale recorded, profits not yet split
	SaleStatusProfitsCalculated SaleStatus = "profits_calculated" // Profit rows written
	SaleStatusDistributed       SaleStatus = "distributed"        // Every investor credited
)

// Sale records a completed plot sale and its company/investor split
type Sale struct {
	ID                uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID              uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"uuid"`
	PlotID            uint      `gorm:"not null;uniqueIndex:idx_sales_plot_id" json:"plot_id"`
	PropertyProjectID uint      `gorm:"not null;index" json:"property_project_id"`

	SalePrice         decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"sale_price"`
	OriginalPrice     decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"original_price"`
	ProfitAmount      decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"profit_amount"`
	CompanyPercentage decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"company_percentage"`
	CompanyProfit     decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"company_profit"`
	InvestorProfit    decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"investor_profit"`

	Status        SaleStatus `gorm:"type:varchar(20);not null;default:'completed';index" json:"status"`
	SoldAt        time.Time  `gorm:"not null" json:"sold_at"`
	DistributedAt *time.Time `json:"distributed_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// BeforeCreate ensures UUID is set
func (s *Sale) BeforeCreate(tx *gorm.DB) error {
	if s.UUID == uuid.Nil {
		s.UUID = uuid.New()
	}
	return nil
}

// SaleFilter represents filter criteria for sale queries
type SaleFilter struct {
	ID                *uint       `json:"id,omitempty"`
	PlotID            *uint       `json:"plot_id,omitempty"`
	PropertyProjectID *uint       `json:"property_project_id,omitempty"`
	Status            *SaleStatus `json:"status,omitempty"`
}
