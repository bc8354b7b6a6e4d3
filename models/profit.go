package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProfitStatus tracks a per-investor share through distribution
type ProfitStatus string

const (
	ProfitStatusCalculated  ProfitStatus = "calculated"
	ProfitStatusDistributed ProfitStatus = "distributed" // Credit in flight
	ProfitStatusCredited    ProfitStatus = "credited"    // Wallet credited, row immutable
)

// Profit is one investor's share of a sale's profit
type Profit struct {
	ID           uint `gorm:"primaryKey;autoIncrement" json:"id"`
	SaleID       uint `gorm:"not null;uniqueIndex:idx_profits_sale_user,priority:1" json:"sale_id"`
	UserID       uint `gorm:"not null;uniqueIndex:idx_profits_sale_user,priority:2;index" json:"user_id"`
	InvestmentID uint `gorm:"not null;index" json:"investment_id"` // Largest contributing investment of the user

	TotalProfit       decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"total_profit"`
	CompanyPercentage decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"company_percentage"`
	CompanyShare      decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"company_share"`
	InvestorShare     decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"investor_share"`

	UserInvestmentAmount   decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"user_investment_amount"`
	TeamContributionAmount decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"team_contribution_amount"` // Reporting only
	TotalProjectInvestment decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"total_project_investment"`
	ProfitPercentage       decimal.Decimal `gorm:"type:decimal(9,4);not null" json:"profit_percentage"`

	Status              ProfitStatus `gorm:"type:varchar(20);not null;default:'calculated';index" json:"status"`
	CreditTransactionID *uint        `json:"credit_transaction_id,omitempty"`
	CreditedAt          *time.Time   `json:"credited_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// SharesConsistent checks company_share + investor_share = total_profit within epsilon
func (p *Profit) SharesConsistent(epsilon decimal.Decimal) bool {
	return p.CompanyShare.Add(p.InvestorShare).Sub(p.TotalProfit).Abs().LessThanOrEqual(epsilon)
}

// ProfitFilter represents filter criteria for profit queries
type ProfitFilter struct {
	ID     *uint         `json:"id,omitempty"`
	SaleID *uint         `json:"sale_id,omitempty"`
	UserID *uint         `json:"user_id,omitempty"`
	Status *ProfitStatus `json:"status,omitempty"`
}
