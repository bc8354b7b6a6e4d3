package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TransactionType represents the type of transaction
type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "deposit"    // Gateway-confirmed top up
	TransactionTypeWithdrawal TransactionType = "withdrawal" // Gateway-confirmed payout
	TransactionTypeInvestment TransactionType = "investment" // Capital committed to an investment
	TransactionTypeProfit     TransactionType = "profit"     // Sale profit or matured return
	TransactionTypeRefund     TransactionType = "refund"     // Returned capital
	TransactionTypePenalty    TransactionType = "penalty"
)

// TransactionStatus represents the current status of a transaction
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"   // Awaiting gateway confirmation
	TransactionStatusCompleted TransactionStatus = "completed" // Applied to the balance
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusCancelled TransactionStatus = "cancelled"
)

// Currency used when a caller does not name one
const DefaultCurrency = "IRR"

// IsDebit reports whether the type decreases the balance
func (t TransactionType) IsDebit() bool {
	switch t {
	case TransactionTypeWithdrawal, TransactionTypeInvestment, TransactionTypePenalty:
		return true
	}
	return false
}

// IsCredit reports whether the type increases the balance
func (t TransactionType) IsCredit() bool {
	switch t {
	case TransactionTypeDeposit, TransactionTypeProfit, TransactionTypeRefund:
		return true
	}
	return false
}

// IsValid reports whether the type is one of the known ledger types
func (t TransactionType) IsValid() bool {
	return t.IsDebit() || t.IsCredit()
}

// Signed returns amount with the sign the type applies to a balance
func (t TransactionType) Signed(amount decimal.Decimal) decimal.Decimal {
	if t.IsDebit() {
		return amount.Neg()
	}
	return amount
}

// Transaction is the immutable audit record of one balance change.
// It belongs to exactly one wallet and is never reassigned.
type Transaction struct {
	ID     uint              `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID   uuid.UUID         `gorm:"type:uuid;uniqueIndex;not null" json:"uuid"`
	Type   TransactionType   `gorm:"type:varchar(20);not null;index" json:"type"`
	Status TransactionStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`

	Amount        decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	BalanceBefore decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_after"`
	Currency      string          `gorm:"type:varchar(3);not null;default:'IRR'" json:"currency"`

	WalletID uint `gorm:"not null;index" json:"wallet_id"`
	UserID   uint `gorm:"not null;index" json:"user_id"`

	Reference         string  `gorm:"type:varchar(128);not null;uniqueIndex:idx_transactions_reference" json:"reference"`
	PaymentMethod     string  `gorm:"type:varchar(50)" json:"payment_method"`
	ProviderReference *string `gorm:"type:varchar(255);index" json:"provider_reference,omitempty"`

	InvestmentID *uint `gorm:"index" json:"investment_id,omitempty"`
	ProfitID     *uint `gorm:"index" json:"profit_id,omitempty"`

	// Set on a compensating transaction; unique so an original is reversed at most once
	ReversalOfID *uint      `gorm:"uniqueIndex:idx_transactions_reversal_of" json:"reversal_of_id,omitempty"`
	ReversedAt   *time.Time `json:"reversed_at,omitempty"`

	Description string          `gorm:"type:text" json:"description"`
	Metadata    json.RawMessage `gorm:"type:jsonb" json:"metadata,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// BeforeCreate ensures UUID is set
func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.UUID == uuid.Nil {
		t.UUID = uuid.New()
	}
	return nil
}

// IsTerminal returns true if the transaction is in a final state
func (t *Transaction) IsTerminal() bool {
	return t.Status == TransactionStatusCompleted ||
		t.Status == TransactionStatusFailed ||
		t.Status == TransactionStatusCancelled
}

// IsPending returns true if the transaction still awaits confirmation
func (t *Transaction) IsPending() bool {
	return t.Status == TransactionStatusPending
}

// CanBeReversed returns true if a compensating transaction may be written for it
func (t *Transaction) CanBeReversed() bool {
	return t.Status == TransactionStatusCompleted && t.ReversedAt == nil
}

// SignedAmount is the amount with the sign the transaction applies to the balance
func (t *Transaction) SignedAmount() decimal.Decimal {
	return t.Type.Signed(t.Amount)
}

// BalanceConsistent checks balance_after = balance_before + signed(type, amount)
func (t *Transaction) BalanceConsistent() bool {
	return t.BalanceBefore.Add(t.SignedAmount()).Equal(t.BalanceAfter)
}

// TransactionFilter represents filter criteria for transaction queries
type TransactionFilter struct {
	ID            *uint              `json:"id,omitempty"`
	Type          *TransactionType   `json:"type,omitempty"`
	Status        *TransactionStatus `json:"status,omitempty"`
	WalletID      *uint              `json:"wallet_id,omitempty"`
	UserID        *uint              `json:"user_id,omitempty"`
	Reference     *string            `json:"reference,omitempty"`
	InvestmentID  *uint              `json:"investment_id,omitempty"`
	ProfitID      *uint              `json:"profit_id,omitempty"`
	ReversalOfID  *uint              `json:"reversal_of_id,omitempty"`
	CreatedAfter  *time.Time         `json:"created_after,omitempty"`
	CreatedBefore *time.Time         `json:"created_before,omitempty"`
}
