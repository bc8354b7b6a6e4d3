package handlers

import (
	"github.com/amirphl/plotshare/app/dto"
	businessflow "github.com/amirphl/plotshare/business_flow"
	"github.com/amirphl/plotshare/models"
	"github.com/gofiber/fiber/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// HoldingHandler serves plot eligibility checks and holding reads
type HoldingHandler struct {
	baseHandler
	holdings businessflow.HoldingManager
}

func NewHoldingHandler(holdings businessflow.HoldingManager, logger *zap.Logger) *HoldingHandler {
	return &HoldingHandler{baseHandler: newBaseHandler(logger), holdings: holdings}
}

// GetEligibility reports whether a user may hold the plot. Ineligibility is a 200 with reasons.
// @Router /api/v1/plots/{id}/eligibility [get]
func (h *HoldingHandler) GetEligibility(c fiber.Ctx) error {
	plotID, ok, err := h.paramID(c, "id")
	if !ok {
		return err
	}

	var q dto.EligibilityQuery
	if err := c.Bind().Query(&q); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid query parameters", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &q); !ok {
		return err
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	eligibility, err := h.holdings.EvaluateEligibility(ctx, q.UserID, plotID, decimal.RequireFromString(q.Amount))
	if err != nil {
		return h.FlowErrorResponse(c, err, "Failed to evaluate eligibility")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Eligibility evaluated", eligibility)
}

// ListUserHoldings returns a page of a user's plot holdings
// @Router /api/v1/users/{id}/holdings [get]
func (h *HoldingHandler) ListUserHoldings(c fiber.Ctx) error {
	userID, ok, err := h.paramID(c, "id")
	if !ok {
		return err
	}

	var q dto.HoldingQuery
	if err := c.Bind().Query(&q); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid query parameters", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &q); !ok {
		return err
	}

	filter := models.PlotHoldingFilter{UserID: &userID}
	if q.HoldStatus != "" {
		s := models.HoldStatus(q.HoldStatus)
		filter.HoldStatus = &s
	}
	limit, offset := dto.Page(q.Limit, q.Offset)

	ctx, cancel := h.requestContext(c)
	defer cancel()

	holdings, err := h.holdings.ListHoldings(ctx, filter, limit, offset)
	if err != nil {
		return h.FlowErrorResponse(c, err, "Failed to list holdings")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Holdings retrieved successfully", dto.ListResponse[*models.PlotHolding]{
		Items:  holdings,
		Limit:  limit,
		Offset: offset,
	})
}
