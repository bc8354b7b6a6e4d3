package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTransactionTypeSigns(t *testing.T) {
	amount := decimal.NewFromInt(250)

	for _, typ := range []TransactionType{TransactionTypeWithdrawal, TransactionTypeInvestment, TransactionTypePenalty} {
		assert.True(t, typ.IsDebit(), typ)
		assert.False(t, typ.IsCredit(), typ)
		assert.True(t, typ.Signed(amount).Equal(decimal.NewFromInt(-250)), typ)
	}
	for _, typ := range []TransactionType{TransactionTypeDeposit, TransactionTypeProfit, TransactionTypeRefund} {
		assert.True(t, typ.IsCredit(), typ)
		assert.True(t, typ.Signed(amount).Equal(amount), typ)
	}
	assert.False(t, TransactionType("bonus").IsValid())
}

func TestTransactionBalanceConsistent(t *testing.T) {
	tx := Transaction{
		Type:          TransactionTypeInvestment,
		Amount:        decimal.NewFromInt(500),
		BalanceBefore: decimal.NewFromInt(1000),
		BalanceAfter:  decimal.NewFromInt(500),
		Status:        TransactionStatusCompleted,
	}
	assert.True(t, tx.BalanceConsistent())
	assert.True(t, tx.CanBeReversed())

	tx.BalanceAfter = decimal.NewFromInt(1500)
	assert.False(t, tx.BalanceConsistent())

	now := time.Now()
	tx.ReversedAt = &now
	assert.False(t, tx.CanBeReversed())
}

func TestWalletAvailableBalance(t *testing.T) {
	w := Wallet{
		Balance:       decimal.NewFromInt(1000),
		FrozenAmount:  decimal.NewFromInt(200),
		PendingAmount: decimal.NewFromInt(300),
		Status:        WalletStatusActive,
	}
	assert.True(t, w.AvailableBalance().Equal(decimal.NewFromInt(500)))
	assert.True(t, w.ReservationsWithinBalance())

	w.FrozenAmount = decimal.NewFromInt(800)
	assert.False(t, w.ReservationsWithinBalance())
}

func TestPlotHoldingExpiry(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h := PlotHolding{HoldStatus: HoldStatusActive, HoldStartDate: start, HoldExpiryDate: start.AddDate(0, 0, 30)}

	assert.False(t, h.IsExpiredAt(start.AddDate(0, 0, 29)))
	assert.True(t, h.IsExpiredAt(start.AddDate(0, 0, 31)))

	h.HoldStatus = HoldStatusReleased
	assert.False(t, h.IsExpiredAt(start.AddDate(0, 0, 31)))
}

func TestInvestmentCountsForProfit(t *testing.T) {
	for status, want := range map[InvestmentStatus]bool{
		InvestmentStatusPending:   false,
		InvestmentStatusApproved:  true,
		InvestmentStatusRejected:  false,
		InvestmentStatusCompleted: true,
	} {
		inv := Investment{Status: status}
		assert.Equalf(t, want, inv.CountsForProfit(), "status %s", status)
	}
}
