package dto

import (
	"time"

	"github.com/amirphl/plotshare/models"
	"github.com/shopspring/decimal"
)

// WalletResponse is a wallet with its derived available balance
type WalletResponse struct {
	ID               uint                `json:"id"`
	UUID             string              `json:"uuid"`
	UserID           uint                `json:"user_id"`
	Balance          decimal.Decimal     `json:"balance"`
	FrozenAmount     decimal.Decimal     `json:"frozen_amount"`
	PendingAmount    decimal.Decimal     `json:"pending_amount"`
	AvailableBalance decimal.Decimal     `json:"available_balance"`
	TotalDeposits    decimal.Decimal     `json:"total_deposits"`
	TotalWithdrawals decimal.Decimal     `json:"total_withdrawals"`
	TotalInvestments decimal.Decimal     `json:"total_investments"`
	TotalProfits     decimal.Decimal     `json:"total_profits"`
	Status           models.WalletStatus `json:"status"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

func NewWalletResponse(w *models.Wallet) WalletResponse {
	return WalletResponse{
		ID:               w.ID,
		UUID:             w.UUID.String(),
		UserID:           w.UserID,
		Balance:          w.Balance,
		FrozenAmount:     w.FrozenAmount,
		PendingAmount:    w.PendingAmount,
		AvailableBalance: w.AvailableBalance(),
		TotalDeposits:    w.TotalDeposits,
		TotalWithdrawals: w.TotalWithdrawals,
		TotalInvestments: w.TotalInvestments,
		TotalProfits:     w.TotalProfits,
		Status:           w.Status,
		UpdatedAt:        w.UpdatedAt,
	}
}

// TransactionQuery filters a wallet's transaction list
type TransactionQuery struct {
	Limit  int    `query:"limit" validate:"omitempty,gte=1,lte=500"`
	Offset int    `query:"offset" validate:"omitempty,gte=0"`
	Type   string `query:"type" validate:"omitempty,oneof=deposit withdrawal investment profit refund penalty"`
	Status string `query:"status" validate:"omitempty,oneof=pending completed failed cancelled"`
}

// GatewayConfirmationRequest is the payment gateway outcome posted for a wallet
type GatewayConfirmationRequest struct {
	Amount            string `json:"amount" validate:"required,money"`
	Currency          string `json:"currency" validate:"omitempty,len=3"`
	ProviderReference string `json:"provider_reference" validate:"required,max=128"`
	Status            string `json:"status" validate:"required,oneof=success failure"`
	Kind              string `json:"kind" validate:"required,oneof=deposit withdrawal"`
	PaymentMethod     string `json:"payment_method" validate:"omitempty,max=50"`
}

// InvestmentQuery filters a user's investments
type InvestmentQuery struct {
	Limit  int    `query:"limit" validate:"omitempty,gte=1,lte=500"`
	Offset int    `query:"offset" validate:"omitempty,gte=0"`
	Status string `query:"status" validate:"omitempty,oneof=pending approved rejected completed"`
	Type   string `query:"type" validate:"omitempty,oneof=general project_specific plot_specific"`
}

// EligibilityQuery asks whether a user may hold a plot with a given investment
type EligibilityQuery struct {
	UserID uint   `query:"user_id" validate:"required,gt=0"`
	Amount string `query:"amount" validate:"required,money"`
}

// HoldingQuery filters a user's holdings
type HoldingQuery struct {
	Limit      int    `query:"limit" validate:"omitempty,gte=1,lte=500"`
	Offset     int    `query:"offset" validate:"omitempty,gte=0"`
	HoldStatus string `query:"hold_status" validate:"omitempty,oneof=active released expired cancelled"`
}

// SaleProfitsResponse is a sale with its per-investor rows
type SaleProfitsResponse struct {
	Sale    *models.Sale     `json:"sale"`
	Profits []*models.Profit `json:"profits"`
}
