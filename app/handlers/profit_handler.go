package handlers

import (
	"bytes"
	"fmt"

	"github.com/amirphl/plotshare/app/dto"
	businessflow "github.com/amirphl/plotshare/business_flow"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ProfitHandler serves a sale's profit rows and their spreadsheet export
type ProfitHandler struct {
	baseHandler
	engine businessflow.ProfitDistributionEngine
}

func NewProfitHandler(engine businessflow.ProfitDistributionEngine, logger *zap.Logger) *ProfitHandler {
	return &ProfitHandler{baseHandler: newBaseHandler(logger), engine: engine}
}

// GetSaleProfits returns a sale with its per-investor profit rows
// @Router /api/v1/sales/{id}/profits [get]
func (h *ProfitHandler) GetSaleProfits(c fiber.Ctx) error {
	saleID, ok, err := h.paramID(c, "id")
	if !ok {
		return err
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	sale, err := h.engine.GetSale(ctx, saleID)
	if err != nil {
		return h.FlowErrorResponse(c, err, "Failed to get sale")
	}
	profits, err := h.engine.ListProfits(ctx, saleID)
	if err != nil {
		return h.FlowErrorResponse(c, err, "Failed to list profits")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Profits retrieved successfully", dto.SaleProfitsResponse{
		Sale:    sale,
		Profits: profits,
	})
}

// ExportSaleProfits streams the sale's profit rows as an XLSX workbook
// @Router /api/v1/sales/{id}/profits.xlsx [get]
func (h *ProfitHandler) ExportSaleProfits(c fiber.Ctx) error {
	saleID, ok, err := h.paramID(c, "id")
	if !ok {
		return err
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	var buf bytes.Buffer
	if err := h.engine.ExportProfitsXLSX(ctx, saleID, &buf); err != nil {
		return h.FlowErrorResponse(c, err, "Failed to export profits")
	}

	c.Set(fiber.HeaderContentType, xlsxContentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=sale_%d_profits.xlsx", saleID))
	return c.Send(buf.Bytes())
}
