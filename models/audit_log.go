package models

import (
	"encoding/json"
	"time"
)

type AuditLog struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	UserID       *uint           `gorm:"index:idx_audit_user_id" json:"user_id,omitempty"`
	Action       string          `gorm:"type:varchar(64);not null;index:idx_audit_action" json:"action"`
	Description  *string         `gorm:"type:text" json:"description,omitempty"`
	RequestID    *string         `gorm:"size:255;index:idx_audit_request_id" json:"request_id,omitempty"`
	Metadata     json.RawMessage `gorm:"type:jsonb" json:"metadata,omitempty"`
	Success      *bool           `gorm:"default:true;index:idx_audit_success" json:"success"`
	ErrorMessage *string         `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time       `gorm:"default:CURRENT_TIMESTAMP;index:idx_audit_created_at" json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_log"
}

// Audit action constants
const (
	AuditActionWalletCreated       = "wallet_created"
	AuditActionTransactionApplied  = "transaction_applied"
	AuditActionTransactionReversed = "transaction_reversed"
	AuditActionGatewaySettled      = "gateway_settled"
	AuditActionFundsFrozen         = "funds_frozen"
	AuditActionFundsUnfrozen       = "funds_unfrozen"
	AuditActionHoldPlaced          = "hold_placed"
	AuditActionHoldReleased        = "hold_released"
	AuditActionHoldCancelled       = "hold_cancelled"
	AuditActionHoldsExpired        = "holds_expired"
	AuditActionInvestmentCreated   = "investment_created"
	AuditActionInvestmentFailed    = "investment_failed"
	AuditActionInvestmentApproved  = "investment_approved"
	AuditActionInvestmentRejected  = "investment_rejected"
	AuditActionInvestmentMatured   = "investment_matured"
	AuditActionSaleRecorded        = "sale_recorded"
	AuditActionProfitsCalculated   = "profits_calculated"
	AuditActionProfitsDistributed  = "profits_distributed"
	AuditActionDistributionFailed  = "distribution_failed"
	AuditActionInvariantViolation  = "invariant_violation"
)

// AuditLogFilter represents filter criteria for audit log queries
type AuditLogFilter struct {
	ID            *uint
	UserID        *uint
	Action        *string
	Success       *bool
	RequestID     *string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

func (a *AuditLog) IsFailed() bool {
	return a.Success != nil && !*a.Success
}
