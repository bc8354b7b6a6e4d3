package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TeamStats is the referral-team aggregate maintained outside the core.
// The core reads it for eligibility and profit reporting and never writes it.
type TeamStats struct {
	ID          uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      uint            `gorm:"not null;uniqueIndex" json:"user_id"`
	TeamValue   decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"team_value"`
	MemberCount int             `gorm:"not null;default:0" json:"member_count"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (TeamStats) TableName() string {
	return "team_stats"
}
