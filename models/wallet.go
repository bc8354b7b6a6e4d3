package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// WalletStatus represents the lifecycle state of a wallet
type WalletStatus string

const (
	WalletStatusActive WalletStatus = "active"
	WalletStatusFrozen WalletStatus = "frozen" // Administrative freeze, no ledger writes
	WalletStatusClosed WalletStatus = "closed"
)

// Wallet holds a user's balance and the aggregate counters of every completed transaction.
// It is exclusively owned by one user and mutated only by the wallet ledger.
type Wallet struct {
	ID     uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID   uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"uuid"`
	UserID uint      `gorm:"not null;uniqueIndex:idx_wallets_user_id" json:"user_id"`

	Balance       decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"balance"`
	FrozenAmount  decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"frozen_amount"`
	PendingAmount decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"pending_amount"` // Reserved by pending debits

	TotalDeposits    decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"total_deposits"`
	TotalWithdrawals decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"total_withdrawals"`
	TotalInvestments decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"total_investments"`
	TotalProfits     decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"total_profits"`

	Status  WalletStatus `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	Version int64        `gorm:"not null;default:0" json:"version"` // Bumped on every balance write

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// WalletFilter represents filter criteria for wallet queries
type WalletFilter struct {
	ID            *uint         `json:"id,omitempty"`
	UUID          *uuid.UUID    `json:"uuid,omitempty"`
	UserID        *uint         `json:"user_id,omitempty"`
	Status        *WalletStatus `json:"status,omitempty"`
	CreatedAfter  *time.Time    `json:"created_after,omitempty"`
	CreatedBefore *time.Time    `json:"created_before,omitempty"`
}

// BeforeCreate ensures UUID is set
func (w *Wallet) BeforeCreate(tx *gorm.DB) error {
	if w.UUID == uuid.Nil {
		w.UUID = uuid.New()
	}
	return nil
}

// AvailableBalance is what a debit may consume: balance minus frozen and pending reservations
func (w *Wallet) AvailableBalance() decimal.Decimal {
	return w.Balance.Sub(w.FrozenAmount).Sub(w.PendingAmount)
}

// IsActive reports whether ledger writes are allowed
func (w *Wallet) IsActive() bool {
	return w.Status == WalletStatusActive
}

// ReservationsWithinBalance checks frozen_amount + pending_amount <= balance
func (w *Wallet) ReservationsWithinBalance() bool {
	return w.FrozenAmount.Add(w.PendingAmount).LessThanOrEqual(w.Balance)
}
