// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/amirphl/plotshare/app/dto"
	businessflow "github.com/amirphl/plotshare/business_flow"
	"github.com/amirphl/plotshare/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const requestTimeout = 30 * time.Second

// errorCodes names the sentinel conditions clients are expected to branch on
var errorCodes = []struct {
	err  error
	code string
}{
	{businessflow.ErrInsufficientBalance, "INSUFFICIENT_BALANCE"},
	{businessflow.ErrWalletFrozen, "WALLET_FROZEN"},
	{businessflow.ErrCurrencyMismatch, "CURRENCY_MISMATCH"},
	{businessflow.ErrInvalidAmount, "INVALID_AMOUNT"},
	{businessflow.ErrInvalidTransactionType, "INVALID_TRANSACTION_TYPE"},
	{businessflow.ErrInvalidGatewayStatus, "INVALID_GATEWAY_STATUS"},
	{businessflow.ErrWalletNotFound, "WALLET_NOT_FOUND"},
	{businessflow.ErrInvestmentNotFound, "INVESTMENT_NOT_FOUND"},
	{businessflow.ErrPlotNotFound, "PLOT_NOT_FOUND"},
	{businessflow.ErrSaleNotFound, "SALE_NOT_FOUND"},
	{businessflow.ErrDuplicateReference, "DUPLICATE_REFERENCE"},
}

// baseHandler carries what every handler needs to validate input and render responses
type baseHandler struct {
	validator *validator.Validate
	logger    *zap.Logger
}

func newBaseHandler(logger *zap.Logger) baseHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := validator.New()
	_ = v.RegisterValidation("money", validateMoney)
	return baseHandler{validator: v, logger: logger}
}

func (h *baseHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *baseHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// validate runs struct validation and renders the failure; ok is false when a response was written
func (h *baseHandler) validate(c fiber.Ctx, req any) (bool, error) {
	err := h.validator.Struct(req)
	if err == nil {
		return true, nil
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return false, h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", err.Error())
	}
	messages := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		messages = append(messages, getValidationErrorMessage(fe))
	}
	return false, h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", messages)
}

// FlowErrorResponse maps a business flow error onto an HTTP status by its category
func (h *baseHandler) FlowErrorResponse(c fiber.Ctx, err error, fallbackMessage string) error {
	code := errorCode(err)
	switch businessflow.ErrorCategory(err) {
	case businessflow.CategoryValidation:
		return h.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), code, nil)
	case businessflow.CategoryNotFound:
		return h.ErrorResponse(c, fiber.StatusNotFound, err.Error(), code, nil)
	case businessflow.CategoryStateConflict, businessflow.CategoryConcurrency:
		return h.ErrorResponse(c, fiber.StatusConflict, err.Error(), code, nil)
	}

	h.logger.Error(fallbackMessage, zap.String("path", c.Path()), zap.Error(err))
	return h.ErrorResponse(c, fiber.StatusInternalServerError, fallbackMessage, code, nil)
}

// requestContext bounds the flow call and carries the request id into audit rows
func (h *baseHandler) requestContext(c fiber.Ctx) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	if requestID := requestid.FromContext(c); requestID != "" {
		ctx = context.WithValue(ctx, utils.RequestIDKey, requestID)
	}
	return ctx, cancel
}

// paramID parses a positive numeric path parameter
func (h *baseHandler) paramID(c fiber.Ctx, name string) (uint, bool, error) {
	id, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false, h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid "+name, "INVALID_ID", nil)
	}
	return uint(id), true, nil
}

func errorCode(err error) string {
	var dfe *businessflow.DistributionFailedError
	if errors.As(err, &dfe) {
		return "DISTRIBUTION_FAILED"
	}
	var be *businessflow.BusinessError
	if errors.As(err, &be) && be.Code == "GATEWAY_ALREADY_SETTLED" {
		return be.Code
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	if errors.As(err, &be) {
		return be.Code
	}
	return "INTERNAL_ERROR"
}

// validateMoney accepts positive decimal strings with at most two fraction digits
func validateMoney(fl validator.FieldLevel) bool {
	d, err := decimal.NewFromString(fl.Field().String())
	if err != nil {
		return false
	}
	return d.IsPositive() && d.Exponent() >= -2
}

func getValidationErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return err.Field() + " is required"
	case "len":
		return err.Field() + " must be exactly " + err.Param() + " characters"
	case "max":
		return err.Field() + " must be at most " + err.Param() + " characters"
	case "oneof":
		return err.Field() + " must be one of: " + err.Param()
	case "money":
		return err.Field() + " must be a positive amount with at most 2 decimal places"
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", err.Field(), err.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", err.Field(), err.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", err.Field(), err.Param())
	default:
		return err.Field() + " is invalid"
	}
}
