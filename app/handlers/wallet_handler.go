package handlers

import (
	"github.com/amirphl/plotshare/app/dto"
	businessflow "github.com/amirphl/plotshare/business_flow"
	"github.com/amirphl/plotshare/models"
	"github.com/gofiber/fiber/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// WalletHandlerInterface defines the contract for wallet handlers
type WalletHandlerInterface interface {
	GetWallet(c fiber.Ctx) error
	ListTransactions(c fiber.Ctx) error
	SettleGatewayConfirmation(c fiber.Ctx) error
}

// WalletHandler serves wallet reads and gateway confirmation intake
type WalletHandler struct {
	baseHandler
	ledger businessflow.WalletLedger
}

func NewWalletHandler(ledger businessflow.WalletLedger, logger *zap.Logger) *WalletHandler {
	return &WalletHandler{baseHandler: newBaseHandler(logger), ledger: ledger}
}

// GetWallet returns a wallet with its available balance
// @Router /api/v1/wallets/{id} [get]
func (h *WalletHandler) GetWallet(c fiber.Ctx) error {
	walletID, ok, err := h.paramID(c, "id")
	if !ok {
		return err
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	wallet, err := h.ledger.GetWallet(ctx, walletID)
	if err != nil {
		return h.FlowErrorResponse(c, err, "Failed to get wallet")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Wallet retrieved successfully", dto.NewWalletResponse(wallet))
}

// ListTransactions returns a page of a wallet's transactions, newest first
// @Router /api/v1/wallets/{id}/transactions [get]
func (h *WalletHandler) ListTransactions(c fiber.Ctx) error {
	walletID, ok, err := h.paramID(c, "id")
	if !ok {
		return err
	}

	var q dto.TransactionQuery
	if err := c.Bind().Query(&q); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid query parameters", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &q); !ok {
		return err
	}

	filter := models.TransactionFilter{WalletID: &walletID}
	if q.Type != "" {
		t := models.TransactionType(q.Type)
		filter.Type = &t
	}
	if q.Status != "" {
		s := models.TransactionStatus(q.Status)
		filter.Status = &s
	}
	limit, offset := dto.Page(q.Limit, q.Offset)

	ctx, cancel := h.requestContext(c)
	defer cancel()

	if _, err := h.ledger.GetWallet(ctx, walletID); err != nil {
		return h.FlowErrorResponse(c, err, "Failed to list transactions")
	}
	txns, err := h.ledger.ListTransactions(ctx, filter, limit, offset)
	if err != nil {
		return h.FlowErrorResponse(c, err, "Failed to list transactions")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Transactions retrieved successfully", dto.ListResponse[*models.Transaction]{
		Items:  txns,
		Limit:  limit,
		Offset: offset,
	})
}

// SettleGatewayConfirmation records a confirmed or failed gateway payment against a wallet.
// A replayed confirmation answers 409 GATEWAY_ALREADY_SETTLED.
// @Router /api/v1/wallets/{id}/gateway-confirmations [post]
func (h *WalletHandler) SettleGatewayConfirmation(c fiber.Ctx) error {
	walletID, ok, err := h.paramID(c, "id")
	if !ok {
		return err
	}

	var req dto.GatewayConfirmationRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	txn, err := h.ledger.SettleGatewayConfirmation(ctx, walletID, businessflow.GatewayConfirmation{
		Amount:            decimal.RequireFromString(req.Amount),
		Currency:          req.Currency,
		ProviderReference: req.ProviderReference,
		Status:            businessflow.GatewayStatus(req.Status),
		Kind:              models.TransactionType(req.Kind),
		PaymentMethod:     req.PaymentMethod,
	})
	if err != nil {
		return h.FlowErrorResponse(c, err, "Gateway confirmation failed")
	}
	return h.SuccessResponse(c, fiber.StatusCreated, "Gateway confirmation recorded", txn)
}
