package businessflow

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/amirphl/plotshare/app/events"
	"github.com/amirphl/plotshare/app/metrics"
	"github.com/amirphl/plotshare/config"
	"github.com/amirphl/plotshare/models"
	"github.com/amirphl/plotshare/repository"
	"github.com/amirphl/plotshare/utils"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ProfitDistributionEngine splits a sale's profit between the company and the investors
// of the sold plot's project, then credits every investor in one transaction.
type ProfitDistributionEngine interface {
	RecordSale(ctx context.Context, req RecordSaleRequest) (*models.Sale, error)
	CalculateProfit(ctx context.Context, saleID uint) ([]*models.Profit, error)
	Distribute(ctx context.Context, saleID uint) (*DistributionResult, error)
	GetSale(ctx context.Context, saleID uint) (*models.Sale, error)
	ListProfits(ctx context.Context, saleID uint) ([]*models.Profit, error)
	ExportProfitsXLSX(ctx context.Context, saleID uint, w io.Writer) error
}

// RecordSaleRequest records a completed plot sale
type RecordSaleRequest struct {
	PlotID            uint
	SalePrice         decimal.Decimal
	OriginalPrice     decimal.Decimal
	CompanyPercentage *decimal.Decimal // nil uses the configured default
	SoldAt            time.Time        // zero means now
}

// DistributionResult reports a completed distribution
type DistributionResult struct {
	Sale          *models.Sale     `json:"sale"`
	Profits       []*models.Profit `json:"profits"`
	TotalCredited decimal.Decimal  `json:"total_credited"`
}

// ProfitEventPayload is published once a sale has been fully distributed
type ProfitEventPayload struct {
	SaleID         uint            `json:"sale_id"`
	PlotID         uint            `json:"plot_id"`
	ProfitAmount   decimal.Decimal `json:"profit_amount"`
	CompanyProfit  decimal.Decimal `json:"company_profit"`
	InvestorProfit decimal.Decimal `json:"investor_profit"`
	Investors      int             `json:"investors"`
}

// contribution is one user's stake in a sold plot's project
type contribution struct {
	userID       uint
	amount       decimal.Decimal
	investmentID uint            // largest contributing investment
	largest      decimal.Decimal // its contribution
}

// ProfitDistributionEngineImpl implements ProfitDistributionEngine
type ProfitDistributionEngineImpl struct {
	saleRepo       repository.SaleRepository
	profitRepo     repository.ProfitRepository
	plotRepo       repository.PlotRepository
	investmentRepo repository.InvestmentRepository
	teamStatsRepo  repository.TeamStatsRepository
	auditRepo      repository.AuditLogRepository
	ledger         WalletLedger
	holdings       HoldingManager
	db             *gorm.DB
	publisher      events.Publisher
	logger         *zap.Logger
	clock          Clock
	tx             txRunner

	cfg config.ProfitConfig
}

// NewProfitDistributionEngine creates a new profit distribution engine instance
func NewProfitDistributionEngine(
	saleRepo repository.SaleRepository,
	profitRepo repository.ProfitRepository,
	plotRepo repository.PlotRepository,
	investmentRepo repository.InvestmentRepository,
	teamStatsRepo repository.TeamStatsRepository,
	auditRepo repository.AuditLogRepository,
	ledger WalletLedger,
	holdings HoldingManager,
	db *gorm.DB,
	publisher events.Publisher,
	logger *zap.Logger,
	clock Clock,
	cfg config.ProfitConfig,
) ProfitDistributionEngine {
	logger = defaultLogger(logger)
	if cfg.CurrencyPrecision <= 0 {
		cfg.CurrencyPrecision = utils.CurrencyPlaces
	}
	return &ProfitDistributionEngineImpl{
		saleRepo:       saleRepo,
		profitRepo:     profitRepo,
		plotRepo:       plotRepo,
		investmentRepo: investmentRepo,
		teamStatsRepo:  teamStatsRepo,
		auditRepo:      auditRepo,
		ledger:         ledger,
		holdings:       holdings,
		db:             db,
		publisher:      defaultPublisher(publisher),
		logger:         logger,
		clock:          defaultClock(clock),
		tx:             txRunner{db: db, auditRepo: auditRepo, logger: logger},
		cfg:            cfg,
	}
}

// RecordSale records the sale of a plot, fixes its company/investor split and marks the plot
// and its holding sold
func (e *ProfitDistributionEngineImpl) RecordSale(ctx context.Context, req RecordSaleRequest) (*models.Sale, error) {
	pct := e.cfg.DefaultCompanyPercentage
	if req.CompanyPercentage != nil {
		pct = *req.CompanyPercentage
	}
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return nil, NewBusinessError("RECORD_SALE_FAILED", "Invalid company percentage", ErrInvalidPercentage)
	}
	if !req.SalePrice.IsPositive() || req.OriginalPrice.IsNegative() {
		return nil, NewBusinessError("RECORD_SALE_FAILED", "Invalid sale prices", ErrInvalidAmount)
	}

	soldAt := req.SoldAt
	if soldAt.IsZero() {
		soldAt = e.clock()
	}

	places := e.cfg.CurrencyPrecision
	// A loss is not distributed, so it is stored as zero profit
	profit := decimal.Max(req.SalePrice.Sub(req.OriginalPrice).Round(places), decimal.Zero)
	companyProfit := decimal.Zero
	if profit.IsPositive() {
		companyProfit = percentOf(profit, pct, places)
	}

	sale := &models.Sale{
		PlotID:            req.PlotID,
		SalePrice:         req.SalePrice,
		OriginalPrice:     req.OriginalPrice,
		ProfitAmount:      profit,
		CompanyPercentage: pct,
		CompanyProfit:     companyProfit,
		InvestorProfit:    profit.Sub(companyProfit),
		Status:            models.SaleStatusCompleted,
		SoldAt:            soldAt,
	}

	ctx, batch, owner := withEventBatch(ctx)
	err := e.tx.run(ctx, "record_sale", nil, func(txCtx context.Context) error {
		plot, err := e.plotRepo.ByIDForUpdate(txCtx, req.PlotID)
		if err != nil {
			return err
		}
		if plot == nil {
			return ErrPlotNotFound
		}
		existing, err := e.saleRepo.ByPlotID(txCtx, plot.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrSaleAlreadyRecorded
		}

		if _, err := e.holdings.MarkPlotSold(txCtx, plot.ID); err != nil {
			return err
		}

		sale.PropertyProjectID = plot.PropertyProjectID
		if err := e.saleRepo.Save(txCtx, sale); err != nil {
			if repository.IsUniqueViolation(err) {
				return ErrSaleAlreadyRecorded
			}
			return err
		}

		createAuditLog(txCtx, e.auditRepo, e.logger, nil, models.AuditActionSaleRecorded,
			fmt.Sprintf("Sale of plot %d recorded", plot.ID), true, nil, map[string]any{
				"sale_id":            sale.ID,
				"profit_amount":      profit.String(),
				"company_percentage": pct.String(),
			})
		return nil
	})
	if owner {
		batch.settle(ctx, err, e.publisher, e.logger)
	}
	if err != nil {
		return nil, NewBusinessError("RECORD_SALE_FAILED", "Failed to record sale", err)
	}
	return sale, nil
}

// CalculateProfit writes one calculated Profit row per contributing investor. Investor and
// company shares are both split by contribution so that every row satisfies
// company_share + investor_share = total_profit and the investor shares sum to the sale's
// investor profit exactly.
func (e *ProfitDistributionEngineImpl) CalculateProfit(ctx context.Context, saleID uint) ([]*models.Profit, error) {
	var profits []*models.Profit
	err := e.tx.run(ctx, "calculate_profit", nil, func(txCtx context.Context) error {
		sale, err := e.lockSale(txCtx, saleID)
		if err != nil {
			return err
		}
		if sale.Status != models.SaleStatusCompleted {
			return ErrProfitsAlreadyCalculated
		}
		if !sale.ProfitAmount.IsPositive() {
			return ErrNoProfitToDistribute
		}

		contributions, total, err := e.contributions(txCtx, sale.PropertyProjectID)
		if err != nil {
			return err
		}
		if len(contributions) == 0 {
			return ErrNoContributingInvestors
		}

		profits, err = e.buildProfits(txCtx, sale, contributions, total)
		if err != nil {
			return err
		}
		if err := e.profitRepo.SaveBatch(txCtx, profits); err != nil {
			if repository.IsUniqueViolation(err) {
				return ErrProfitsAlreadyCalculated
			}
			return err
		}

		ok, err := e.saleRepo.TransitionStatus(txCtx, sale.ID, models.SaleStatusCompleted, models.SaleStatusProfitsCalculated, nil)
		if err != nil {
			return err
		}
		if !ok {
			return ErrProfitsAlreadyCalculated
		}

		createAuditLog(txCtx, e.auditRepo, e.logger, nil, models.AuditActionProfitsCalculated,
			fmt.Sprintf("Profits of sale %d calculated for %d investors", sale.ID, len(profits)), true, nil,
			map[string]any{"sale_id": sale.ID, "total_project_investment": total.String()})
		return nil
	})
	if err != nil {
		return nil, NewBusinessError("CALCULATE_PROFIT_FAILED", "Failed to calculate profit", err)
	}
	return profits, nil
}

// contributions aggregates, per user, the capital allocated to projectID. General
// investments back the platform pool and never share a sale's profit.
func (e *ProfitDistributionEngineImpl) contributions(txCtx context.Context, projectID uint) ([]*contribution, decimal.Decimal, error) {
	plots, err := e.plotRepo.ByFilter(txCtx, models.PlotFilter{PropertyProjectID: &projectID}, "id ASC", 0, 0)
	if err != nil {
		return nil, decimal.Zero, err
	}
	projectPlots := make(map[uint]struct{}, len(plots))
	for _, p := range plots {
		projectPlots[p.ID] = struct{}{}
	}

	investments, err := e.investmentRepo.ListProfitEligible(txCtx, []models.InvestmentType{
		models.InvestmentTypeProjectSpecific,
		models.InvestmentTypePlotSpecific,
	})
	if err != nil {
		return nil, decimal.Zero, err
	}

	places := e.cfg.CurrencyPrecision
	byUser := make(map[uint]*contribution)
	total := decimal.Zero
	for _, inv := range investments {
		if !inv.CountsForProfit() {
			continue
		}
		amount := decimal.Zero
		switch inv.InvestmentType {
		case models.InvestmentTypeProjectSpecific:
			amount = inv.ProjectAllocation.AmountFor(inv.Amount, projectID, places)
		case models.InvestmentTypePlotSpecific:
			for _, plotID := range inv.PlotAllocation.TargetIDs() {
				if _, ok := projectPlots[plotID]; ok {
					amount = amount.Add(inv.PlotAllocation.AmountFor(inv.Amount, plotID, places))
				}
			}
		}
		if !amount.IsPositive() {
			continue
		}

		c, ok := byUser[inv.UserID]
		if !ok {
			c = &contribution{userID: inv.UserID}
			byUser[inv.UserID] = c
		}
		c.amount = c.amount.Add(amount)
		if amount.GreaterThan(c.largest) {
			c.largest = amount
			c.investmentID = inv.ID
		}
		total = total.Add(amount)
	}

	out := make([]*contribution, 0, len(byUser))
	for _, c := range byUser {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *contribution) int {
		return cmp.Compare(a.userID, b.userID)
	})
	return out, total, nil
}

func (e *ProfitDistributionEngineImpl) buildProfits(txCtx context.Context, sale *models.Sale, contributions []*contribution, total decimal.Decimal) ([]*models.Profit, error) {
	places := e.cfg.CurrencyPrecision

	weights := make([]decimal.Decimal, len(contributions))
	for i, c := range contributions {
		weights[i] = c.amount
	}
	investorShares := splitByWeight(sale.InvestorProfit, weights, places)
	companyShares := splitByWeight(sale.CompanyProfit, weights, places)

	if !sumDecimals(investorShares).Equal(sale.InvestorProfit) || !sumDecimals(companyShares).Equal(sale.CompanyProfit) {
		return nil, fmt.Errorf("%w: sale %d", ErrRoundingMismatch, sale.ID)
	}

	epsilon := decimal.New(1, -places)
	profits := make([]*models.Profit, len(contributions))
	for i, c := range contributions {
		teamValue := decimal.Zero
		if e.teamStatsRepo != nil {
			stats, err := e.teamStatsRepo.ByUserID(txCtx, c.userID)
			if err != nil {
				return nil, err
			}
			if stats != nil {
				teamValue = stats.TeamValue
			}
		}

		p := &models.Profit{
			SaleID:                 sale.ID,
			UserID:                 c.userID,
			InvestmentID:           c.investmentID,
			TotalProfit:            companyShares[i].Add(investorShares[i]),
			CompanyPercentage:      sale.CompanyPercentage,
			CompanyShare:           companyShares[i],
			InvestorShare:          investorShares[i],
			UserInvestmentAmount:   c.amount,
			TeamContributionAmount: teamValue,
			TotalProjectInvestment: total,
			ProfitPercentage:       c.amount.Mul(hundred).Div(total).Round(4),
			Status:                 models.ProfitStatusCalculated,
		}
		if !p.SharesConsistent(epsilon) {
			return nil, fmt.Errorf("%w: sale %d user %d", ErrRoundingMismatch, sale.ID, c.userID)
		}
		profits[i] = p
	}
	return profits, nil
}

// Distribute credits every calculated profit row of the sale. One failed credit rolls back
// every credit of the sale and reports the investor it failed for.
func (e *ProfitDistributionEngineImpl) Distribute(ctx context.Context, saleID uint) (*DistributionResult, error) {
	ctx, batch, owner := withEventBatch(ctx)

	result := &DistributionResult{TotalCredited: decimal.Zero}
	var failedUser *uint
	err := e.tx.run(ctx, "distribute_profit", nil, func(txCtx context.Context) error {
		sale, err := e.lockSale(txCtx, saleID)
		if err != nil {
			return err
		}
		switch sale.Status {
		case models.SaleStatusCompleted:
			return ErrProfitsNotCalculated
		case models.SaleStatusDistributed:
			return ErrProfitsDistributed
		}

		profits, err := e.profitRepo.BySale(txCtx, sale.ID)
		if err != nil {
			return err
		}
		shares := make([]decimal.Decimal, len(profits))
		for i, p := range profits {
			shares[i] = p.InvestorShare
		}
		if !sumDecimals(shares).Equal(sale.InvestorProfit) {
			return fmt.Errorf("%w: sale %d investor shares sum to %s, expected %s",
				ErrRoundingMismatch, sale.ID, sumDecimals(shares), sale.InvestorProfit)
		}

		now := e.clock()
		for _, p := range profits {
			if p.Status != models.ProfitStatusCalculated {
				continue
			}
			if err := e.credit(txCtx, sale, p, now); err != nil {
				failedUser = &p.UserID
				return &DistributionFailedError{SaleID: sale.ID, UserID: p.UserID, Err: err}
			}
			result.TotalCredited = result.TotalCredited.Add(p.InvestorShare)
		}

		ok, err := e.saleRepo.TransitionStatus(txCtx, sale.ID, models.SaleStatusProfitsCalculated, models.SaleStatusDistributed,
			map[string]any{"distributed_at": now})
		if err != nil {
			return err
		}
		if !ok {
			return ErrProfitsDistributed
		}
		sale.Status = models.SaleStatusDistributed
		sale.DistributedAt = &now

		result.Sale = sale
		result.Profits = profits

		createAuditLog(txCtx, e.auditRepo, e.logger, nil, models.AuditActionProfitsDistributed,
			fmt.Sprintf("Profits of sale %d distributed to %d investors", sale.ID, len(profits)), true, nil,
			map[string]any{"sale_id": sale.ID, "total_credited": result.TotalCredited.String()})
		return nil
	})
	if err != nil {
		if owner {
			batch.settle(ctx, err, e.publisher, e.logger)
		}
		e.observeDistributionFailure(ctx, saleID, failedUser, err)
		return nil, NewBusinessError("DISTRIBUTE_PROFIT_FAILED", "Failed to distribute profit", err)
	}

	metrics.ObserveDistribution("success")
	emit(ctx, e.publisher, e.logger, newEvent(e.clock(), events.TypeProfitDistributed, saleKey(saleID), ProfitEventPayload{
		SaleID:         result.Sale.ID,
		PlotID:         result.Sale.PlotID,
		ProfitAmount:   result.Sale.ProfitAmount,
		CompanyProfit:  result.Sale.CompanyProfit,
		InvestorProfit: result.Sale.InvestorProfit,
		Investors:      len(result.Profits),
	}))
	if owner {
		batch.settle(ctx, nil, e.publisher, e.logger)
	}
	return result, nil
}

// credit moves one row calculated -> distributed -> credited around its wallet credit
func (e *ProfitDistributionEngineImpl) credit(txCtx context.Context, sale *models.Sale, p *models.Profit, now time.Time) error {
	ok, err := e.profitRepo.TransitionStatus(txCtx, p.ID, models.ProfitStatusCalculated, models.ProfitStatusDistributed, nil)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConcurrentModification
	}

	updates := map[string]any{"credited_at": now}
	if p.InvestorShare.IsPositive() {
		wallet, err := e.ledger.GetWalletByUser(txCtx, p.UserID)
		if err != nil {
			return err
		}
		txn, err := e.ledger.ApplyTransaction(txCtx, ApplyTransactionRequest{
			WalletID:      wallet.ID,
			Type:          models.TransactionTypeProfit,
			Amount:        p.InvestorShare,
			PaymentMethod: "profit_distribution",
			Reference:     utils.ProfitReference(sale.ID, p.UserID),
			Description:   fmt.Sprintf("Profit of sale %d", sale.ID),
			InvestmentID:  &p.InvestmentID,
			ProfitID:      &p.ID,
		})
		if err != nil {
			return err
		}
		updates["credit_transaction_id"] = txn.ID
		p.CreditTransactionID = &txn.ID
	}

	ok, err = e.profitRepo.TransitionStatus(txCtx, p.ID, models.ProfitStatusDistributed, models.ProfitStatusCredited, updates)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConcurrentModification
	}
	p.Status = models.ProfitStatusCredited
	p.CreditedAt = &now
	return nil
}

func (e *ProfitDistributionEngineImpl) observeDistributionFailure(ctx context.Context, saleID uint, userID *uint, err error) {
	category := ErrorCategory(err)
	metrics.ObserveDistribution(string(category))

	fields := []zap.Field{zap.Uint("sale_id", saleID), zap.String("category", string(category)), zap.Error(err)}
	if userID != nil {
		fields = append(fields, zap.Uint("user_id", *userID))
	}

	var dfe *DistributionFailedError
	if !errors.As(err, &dfe) {
		if category == CategoryInternal {
			e.logger.Error("profit distribution failed", fields...)
		} else {
			e.logger.Debug("profit distribution rejected", fields...)
		}
		return
	}

	e.logger.Error("profit distribution rolled back", fields...)
	msg := err.Error()
	createAuditLog(withoutTransaction(ctx), e.auditRepo, e.logger, &dfe.UserID, models.AuditActionDistributionFailed,
		fmt.Sprintf("Distribution of sale %d rolled back", saleID), false, &msg, map[string]any{"sale_id": saleID})
}

// GetSale returns a sale by id
func (e *ProfitDistributionEngineImpl) GetSale(ctx context.Context, saleID uint) (*models.Sale, error) {
	sale, err := e.saleRepo.ByID(ctx, saleID)
	if err != nil {
		return nil, NewBusinessError("GET_SALE_FAILED", "Failed to get sale", err)
	}
	if sale == nil {
		return nil, NewBusinessError("GET_SALE_FAILED", "Sale not found", ErrSaleNotFound)
	}
	return sale, nil
}

// ListProfits returns the profit rows of a sale ordered by user
func (e *ProfitDistributionEngineImpl) ListProfits(ctx context.Context, saleID uint) ([]*models.Profit, error) {
	if _, err := e.GetSale(ctx, saleID); err != nil {
		return nil, err
	}
	profits, err := e.profitRepo.BySale(ctx, saleID)
	if err != nil {
		return nil, NewBusinessError("LIST_PROFITS_FAILED", "Failed to list profits", err)
	}
	return profits, nil
}

// ExportProfitsXLSX writes the profit rows of a sale as a single-sheet workbook
func (e *ProfitDistributionEngineImpl) ExportProfitsXLSX(ctx context.Context, saleID uint, w io.Writer) error {
	sale, err := e.GetSale(ctx, saleID)
	if err != nil {
		return err
	}
	profits, err := e.ListProfits(ctx, saleID)
	if err != nil {
		return err
	}

	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	sheet := "sale_" + strconv.FormatUint(uint64(sale.ID), 10)
	if err := xl.SetSheetName(xl.GetSheetName(0), sheet); err != nil {
		return NewBusinessError("EXCEL_WRITE_ERROR", "Failed to name sheet", err)
	}

	header := []string{"profit_id", "user_id", "investment_id", "user_investment_amount", "total_project_investment",
		"profit_percentage", "company_share", "investor_share", "total_profit", "team_contribution_amount",
		"status", "credit_transaction_id", "credited_at"}
	if err := xl.SetSheetRow(sheet, "A1", &header); err != nil {
		return NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write header", err)
	}

	places := e.cfg.CurrencyPrecision
	for i, p := range profits {
		creditID := ""
		if p.CreditTransactionID != nil {
			creditID = strconv.FormatUint(uint64(*p.CreditTransactionID), 10)
		}
		creditedAt := ""
		if p.CreditedAt != nil {
			creditedAt = p.CreditedAt.UTC().Format(time.RFC3339)
		}
		record := []string{
			strconv.FormatUint(uint64(p.ID), 10),
			strconv.FormatUint(uint64(p.UserID), 10),
			strconv.FormatUint(uint64(p.InvestmentID), 10),
			p.UserInvestmentAmount.StringFixed(places),
			p.TotalProjectInvestment.StringFixed(places),
			p.ProfitPercentage.StringFixed(4),
			p.CompanyShare.StringFixed(places),
			p.InvestorShare.StringFixed(places),
			p.TotalProfit.StringFixed(places),
			p.TeamContributionAmount.StringFixed(places),
			string(p.Status),
			creditID,
			creditedAt,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := xl.SetSheetRow(sheet, cell, &record); err != nil {
			return NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write row", err)
		}
	}

	if err := xl.Write(w); err != nil {
		return NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}
	return nil
}

func (e *ProfitDistributionEngineImpl) lockSale(txCtx context.Context, saleID uint) (*models.Sale, error) {
	sale, err := e.saleRepo.ByIDForUpdate(txCtx, saleID)
	if err != nil {
		return nil, err
	}
	if sale == nil {
		return nil, ErrSaleNotFound
	}
	return sale, nil
}

func saleKey(saleID uint) string {
	return "sale:" + strconv.FormatUint(uint64(saleID), 10)
}
