// Package businessflow contains the core business logic: the wallet ledger, plot holds,
// investment allocation and sale profit distribution.
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Validation errors
	ErrInvalidAmount          = errors.New("amount must be greater than zero")
	ErrInvalidTransactionType = errors.New("invalid transaction type")
	ErrInvalidAllocation      = errors.New("invalid allocation")
	ErrInvalidInvestmentType  = errors.New("invalid investment type")
	ErrInvalidPercentage      = errors.New("percentage must be between 0 and 100")
	ErrBelowMinimumInvestment = errors.New("amount is below the minimum investment")
	ErrAboveMaximumInvestment = errors.New("amount is above the maximum investment")
	ErrInvalidGatewayStatus   = errors.New("invalid gateway confirmation status")
	ErrCurrencyMismatch       = errors.New("currency does not match the ledger currency")

	// State-conflict errors
	ErrInsufficientBalance      = errors.New("insufficient balance")
	ErrWalletFrozen             = errors.New("wallet is not active")
	ErrWalletAlreadyExists      = errors.New("wallet already exists")
	ErrExceedsAvailableBalance  = errors.New("amount exceeds available balance")
	ErrExceedsFrozenAmount      = errors.New("amount exceeds frozen amount")
	ErrNotReversible            = errors.New("transaction is not reversible")
	ErrTransactionNotPending    = errors.New("transaction is not pending")
	ErrPlotAlreadyHeld          = errors.New("plot is already held")
	ErrPlotSold                 = errors.New("plot is already sold")
	ErrEligibilityNotMet        = errors.New("eligibility requirements are not met")
	ErrHoldNotActive            = errors.New("hold is not active")
	ErrInvestmentNotPending     = errors.New("investment is not pending")
	ErrInvestmentNotMature      = errors.New("investment has not matured")
	ErrSaleAlreadyRecorded      = errors.New("sale already recorded for plot")
	ErrNoProfitToDistribute     = errors.New("sale produced no profit")
	ErrNoContributingInvestors  = errors.New("sale has no contributing investors")
	ErrProfitsAlreadyCalculated = errors.New("profits already calculated")
	ErrProfitsNotCalculated     = errors.New("profits not calculated")
	ErrProfitsDistributed       = errors.New("profits already distributed")

	// Not found errors
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrPlotNotFound        = errors.New("plot not found")
	ErrProjectNotFound     = errors.New("property project not found")
	ErrHoldingNotFound     = errors.New("holding not found")
	ErrInvestmentNotFound  = errors.New("investment not found")
	ErrSaleNotFound        = errors.New("sale not found")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrDuplicateReference     = errors.New("duplicate transaction reference")

	// Invariant violations
	ErrRoundingMismatch  = errors.New("profit split does not add up after rounding")
	ErrBalanceMismatch   = errors.New("wallet balance does not match its transactions")
	ErrInvariantViolated = errors.New("ledger invariant violated")

	// Distribution errors
	ErrDistributionFailed = errors.New("profit distribution failed")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

// DistributionFailedError names the investor whose credit broke a sale's distribution
type DistributionFailedError struct {
	SaleID uint
	UserID uint
	Err    error
}

func (e *DistributionFailedError) Error() string {
	return fmt.Sprintf("profit distribution of sale %d failed for user %d: %v", e.SaleID, e.UserID, e.Err)
}

func (e *DistributionFailedError) Unwrap() []error {
	return []error{ErrDistributionFailed, e.Err}
}

// Category groups errors by how callers are expected to react
type Category string

const (
	CategoryValidation    Category = "validation"     // Surfaced, never retried
	CategoryStateConflict Category = "state_conflict" // Expected outcome, not a system fault
	CategoryConcurrency   Category = "concurrency"    // Retried once internally
	CategoryInvariant     Category = "invariant"      // Fatal, needs an operator
	CategoryNotFound      Category = "not_found"
	CategoryInternal      Category = "internal"
)

var categories = []struct {
	category Category
	errs     []error
}{
	{CategoryInvariant, []error{ErrRoundingMismatch, ErrBalanceMismatch, ErrInvariantViolated}},
	{CategoryConcurrency, []error{ErrConcurrentModification, ErrDuplicateReference}},
	{CategoryValidation, []error{
		ErrInvalidAmount, ErrInvalidTransactionType, ErrInvalidAllocation, ErrInvalidInvestmentType,
		ErrInvalidPercentage, ErrBelowMinimumInvestment, ErrAboveMaximumInvestment,
		ErrInvalidGatewayStatus, ErrCurrencyMismatch,
	}},
	{CategoryNotFound, []error{
		ErrWalletNotFound, ErrTransactionNotFound, ErrPlotNotFound, ErrProjectNotFound,
		ErrHoldingNotFound, ErrInvestmentNotFound, ErrSaleNotFound,
	}},
	{CategoryStateConflict, []error{
		ErrInsufficientBalance, ErrWalletFrozen, ErrWalletAlreadyExists, ErrExceedsAvailableBalance,
		ErrExceedsFrozenAmount, ErrNotReversible, ErrTransactionNotPending, ErrPlotAlreadyHeld,
		ErrPlotSold, ErrEligibilityNotMet, ErrHoldNotActive, ErrInvestmentNotPending,
		ErrInvestmentNotMature, ErrSaleAlreadyRecorded, ErrNoProfitToDistribute,
		ErrNoContributingInvestors, ErrProfitsAlreadyCalculated, ErrProfitsNotCalculated,
		ErrProfitsDistributed, ErrDistributionFailed,
	}},
}

// ErrorCategory classifies err; invariant violations win over anything they wrap
func ErrorCategory(err error) Category {
	if err == nil {
		return ""
	}
	for _, c := range categories {
		for _, target := range c.errs {
			if errors.Is(err, target) {
				return c.category
			}
		}
	}
	return CategoryInternal
}

func IsInsufficientBalance(err error) bool {
	return errors.Is(err, ErrInsufficientBalance)
}

func IsWalletFrozen(err error) bool {
	return errors.Is(err, ErrWalletFrozen)
}

func IsInvalidAmount(err error) bool {
	return errors.Is(err, ErrInvalidAmount)
}

func IsDuplicateReference(err error) bool {
	return errors.Is(err, ErrDuplicateReference)
}

func IsConcurrentModification(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

func IsExceedsAvailableBalance(err error) bool {
	return errors.Is(err, ErrExceedsAvailableBalance)
}

func IsNotReversible(err error) bool {
	return errors.Is(err, ErrNotReversible)
}

func IsPlotAlreadyHeld(err error) bool {
	return errors.Is(err, ErrPlotAlreadyHeld)
}

func IsEligibilityNotMet(err error) bool {
	return errors.Is(err, ErrEligibilityNotMet)
}

func IsInvalidAllocation(err error) bool {
	return errors.Is(err, ErrInvalidAllocation)
}

func IsBelowMinimumInvestment(err error) bool {
	return errors.Is(err, ErrBelowMinimumInvestment)
}

func IsAboveMaximumInvestment(err error) bool {
	return errors.Is(err, ErrAboveMaximumInvestment)
}

func IsInvalidPercentage(err error) bool {
	return errors.Is(err, ErrInvalidPercentage)
}

func IsRoundingMismatch(err error) bool {
	return errors.Is(err, ErrRoundingMismatch)
}

func IsDistributionFailed(err error) bool {
	return errors.Is(err, ErrDistributionFailed)
}

func IsNotFound(err error) bool {
	return ErrorCategory(err) == CategoryNotFound
}

func IsPlotSold(err error) bool {
	return errors.Is(err, ErrPlotSold)
}

func IsHoldNotActive(err error) bool {
	return errors.Is(err, ErrHoldNotActive)
}

func IsInvestmentNotPending(err error) bool {
	return errors.Is(err, ErrInvestmentNotPending)
}
