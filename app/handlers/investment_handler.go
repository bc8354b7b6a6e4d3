package handlers

import (
	"github.com/amirphl/plotshare/app/dto"
	businessflow "github.com/amirphl/plotshare/business_flow"
	"github.com/amirphl/plotshare/models"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

// InvestmentHandler serves investment reads
type InvestmentHandler struct {
	baseHandler
	allocator businessflow.InvestmentAllocator
}

func NewInvestmentHandler(allocator businessflow.InvestmentAllocator, logger *zap.Logger) *InvestmentHandler {
	return &InvestmentHandler{baseHandler: newBaseHandler(logger), allocator: allocator}
}

// GetInvestment returns one investment
// @Router /api/v1/investments/{id} [get]
func (h *InvestmentHandler) GetInvestment(c fiber.Ctx) error {
	investmentID, ok, err := h.paramID(c, "id")
	if !ok {
		return err
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	inv, err := h.allocator.GetInvestment(ctx, investmentID)
	if err != nil {
		return h.FlowErrorResponse(c, err, "Failed to get investment")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Investment retrieved successfully", inv)
}

// ListUserInvestments returns a page of a user's investments
// @Router /api/v1/users/{id}/investments [get]
func (h *InvestmentHandler) ListUserInvestments(c fiber.Ctx) error {
	userID, ok, err := h.paramID(c, "id")
	if !ok {
		return err
	}

	var q dto.InvestmentQuery
	if err := c.Bind().Query(&q); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid query parameters", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &q); !ok {
		return err
	}

	filter := models.InvestmentFilter{UserID: &userID}
	if q.Status != "" {
		s := models.InvestmentStatus(q.Status)
		filter.Status = &s
	}
	if q.Type != "" {
		t := models.InvestmentType(q.Type)
		filter.InvestmentType = &t
	}
	limit, offset := dto.Page(q.Limit, q.Offset)

	ctx, cancel := h.requestContext(c)
	defer cancel()

	investments, err := h.allocator.ListInvestments(ctx, filter, limit, offset)
	if err != nil {
		return h.FlowErrorResponse(c, err, "Failed to list investments")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Investments retrieved successfully", dto.ListResponse[*models.Investment]{
		Items:  investments,
		Limit:  limit,
		Offset: offset,
	})
}
