package businessflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/amirphl/plotshare/app/events"
	"github.com/amirphl/plotshare/app/metrics"
	"github.com/amirphl/plotshare/config"
	"github.com/amirphl/plotshare/models"
	"github.com/amirphl/plotshare/repository"
	"github.com/amirphl/plotshare/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// InvestmentAllocator records investments, funds them from the wallet and places their holds
type InvestmentAllocator interface {
	CreateInvestment(ctx context.Context, req CreateInvestmentRequest) (*models.Investment, error)
	ApproveInvestment(ctx context.Context, investmentID, approverID uint) (*models.Investment, error)
	RejectInvestment(ctx context.Context, investmentID uint, reason string) (*models.Investment, error)
	ProcessMaturity(ctx context.Context, investmentID uint, now time.Time) (*MaturityResult, error)
	ProcessDueMaturities(ctx context.Context, now time.Time, limit int) (int, error)
	GetInvestment(ctx context.Context, investmentID uint) (*models.Investment, error)
	ListInvestments(ctx context.Context, filter models.InvestmentFilter, limit, offset int) ([]*models.Investment, error)
}

// CreateInvestmentRequest describes a new investment. Allocation must be empty for general
// investments and sum to 100 otherwise.
type CreateInvestmentRequest struct {
	UserID             uint
	Amount             decimal.Decimal
	Type               models.InvestmentType
	Allocation         []models.AllocationEntry
	AutoReinvest       bool
	ReinvestPercentage decimal.Decimal
	ReturnRate         *decimal.Decimal // nil uses the configured default
	MaturityDays       int              // 0 uses the configured default
}

// MaturityResult reports what a matured investment produced
type MaturityResult struct {
	Investment       *models.Investment  `json:"investment"`
	Reinvestment     *models.Investment  `json:"reinvestment,omitempty"`
	Credit           *models.Transaction `json:"credit,omitempty"`
	CapitalReturn    *models.Transaction `json:"capital_return,omitempty"`
	ActualReturn     decimal.Decimal     `json:"actual_return"`
	ReinvestedAmount decimal.Decimal     `json:"reinvested_amount"`
	CreditedAmount   decimal.Decimal     `json:"credited_amount"`
}

// InvestmentEventPayload is published on investment lifecycle changes
type InvestmentEventPayload struct {
	InvestmentID       uint                    `json:"investment_id"`
	UserID             uint                    `json:"user_id"`
	Type               models.InvestmentType   `json:"investment_type"`
	Status             models.InvestmentStatus `json:"status"`
	Amount             decimal.Decimal         `json:"amount"`
	ParentInvestmentID *uint                   `json:"parent_investment_id,omitempty"`
	Reason             string                  `json:"reason,omitempty"`
}

// InvestmentAllocatorImpl implements InvestmentAllocator
type InvestmentAllocatorImpl struct {
	investmentRepo repository.InvestmentRepository
	projectRepo    repository.PropertyProjectRepository
	plotRepo       repository.PlotRepository
	holdingRepo    repository.PlotHoldingRepository
	auditRepo      repository.AuditLogRepository
	ledger         WalletLedger
	holdings       HoldingManager
	db             *gorm.DB
	publisher      events.Publisher
	logger         *zap.Logger
	clock          Clock
	tx             txRunner

	cfg config.InvestmentConfig
}

// NewInvestmentAllocator creates a new investment allocator instance
func NewInvestmentAllocator(
	investmentRepo repository.InvestmentRepository,
	projectRepo repository.PropertyProjectRepository,
	plotRepo repository.PlotRepository,
	holdingRepo repository.PlotHoldingRepository,
	auditRepo repository.AuditLogRepository,
	ledger WalletLedger,
	holdings HoldingManager,
	db *gorm.DB,
	publisher events.Publisher,
	logger *zap.Logger,
	clock Clock,
	cfg config.InvestmentConfig,
) InvestmentAllocator {
	logger = defaultLogger(logger)
	return &InvestmentAllocatorImpl{
		investmentRepo: investmentRepo,
		projectRepo:    projectRepo,
		plotRepo:       plotRepo,
		holdingRepo:    holdingRepo,
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

// CreateInvestment debits the wallet, records the investment and holds every allocated plot
// as one unit of work. Any failure rolls all of it back.
func (a *InvestmentAllocatorImpl) CreateInvestment(ctx context.Context, req CreateInvestmentRequest) (*models.Investment, error) {
	allocation, err := a.validateCreate(req)
	if err != nil {
		a.observeRejection(ctx, req, err)
		return nil, NewBusinessError("CREATE_INVESTMENT_FAILED", "Invalid investment", err)
	}

	ctx, batch, owner := withEventBatch(ctx)

	var investment *models.Investment
	err = a.tx.run(ctx, "create_investment", nil, func(txCtx context.Context) error {
		if err := a.checkTargets(txCtx, req.Type, allocation); err != nil {
			return err
		}

		wallet, err := a.ledger.GetWalletByUser(txCtx, req.UserID)
		if err != nil {
			return err
		}
		if req.Amount.GreaterThan(wallet.AvailableBalance()) {
			return ErrInsufficientBalance
		}

		investment = a.newInvestment(req, allocation)
		if err := a.investmentRepo.Save(txCtx, investment); err != nil {
			return err
		}

		debit, err := a.ledger.ApplyTransaction(txCtx, ApplyTransactionRequest{
			WalletID:      wallet.ID,
			Type:          models.TransactionTypeInvestment,
			Amount:        req.Amount,
			PaymentMethod: "wallet",
			Description:   fmt.Sprintf("Investment %d", investment.ID),
			InvestmentID:  &investment.ID,
		})
		if err != nil {
			return err
		}
		if err := a.investmentRepo.SetDebitTransaction(txCtx, investment.ID, debit.ID); err != nil {
			return err
		}
		investment.DebitTransactionID = &debit.ID

		if req.Type == models.InvestmentTypePlotSpecific {
			amounts := allocation.Amounts(req.Amount, utils.CurrencyPlaces)
			for _, entry := range allocation.Entries() {
				_, err := a.holdings.PlaceHold(txCtx, PlaceHoldRequest{
					UserID:       req.UserID,
					PlotID:       entry.TargetID,
					InvestmentID: investment.ID,
					Amount:       amounts[entry.TargetID],
				})
				if err != nil {
					return err
				}
			}
		}

		createAuditLog(txCtx, a.auditRepo, a.logger, &req.UserID, models.AuditActionInvestmentCreated,
			fmt.Sprintf("Investment %d of %s created", investment.ID, req.Amount.StringFixed(utils.CurrencyPlaces)), true, nil,
			map[string]any{"investment_id": investment.ID, "type": req.Type, "debit_transaction_id": debit.ID})
		return nil
	})
	if err != nil {
		if owner {
			batch.settle(ctx, err, a.publisher, a.logger)
		}
		a.observeRejection(ctx, req, err)
		return nil, NewBusinessError("CREATE_INVESTMENT_FAILED", "Failed to create investment", err)
	}

	metrics.ObserveInvestment(string(investment.InvestmentType), string(investment.Status))
	emit(ctx, a.publisher, a.logger, a.investmentEvent(events.TypeInvestmentCreated, investment, ""))
	if owner {
		batch.settle(ctx, nil, a.publisher, a.logger)
	}
	return investment, nil
}

func (a *InvestmentAllocatorImpl) validateCreate(req CreateInvestmentRequest) (models.Allocation, error) {
	if !req.Type.IsValid() {
		return models.Allocation{}, ErrInvalidInvestmentType
	}
	if !req.Amount.IsPositive() || !req.Amount.Equal(req.Amount.Round(utils.CurrencyPlaces)) {
		return models.Allocation{}, ErrInvalidAmount
	}
	if req.Amount.LessThan(a.cfg.MinAmount) {
		return models.Allocation{}, fmt.Errorf("%w: minimum is %s", ErrBelowMinimumInvestment, a.cfg.MinAmount)
	}
	if a.cfg.MaxAmount.IsPositive() && req.Amount.GreaterThan(a.cfg.MaxAmount) {
		return models.Allocation{}, fmt.Errorf("%w: maximum is %s", ErrAboveMaximumInvestment, a.cfg.MaxAmount)
	}
	if req.ReinvestPercentage.IsNegative() || req.ReinvestPercentage.GreaterThan(hundred) {
		return models.Allocation{}, ErrInvalidPercentage
	}
	if req.ReturnRate != nil && req.ReturnRate.IsNegative() {
		return models.Allocation{}, ErrInvalidPercentage
	}

	if req.Type == models.InvestmentTypeGeneral {
		if len(req.Allocation) > 0 {
			return models.Allocation{}, fmt.Errorf("%w: general investments take no allocation", ErrInvalidAllocation)
		}
		return models.Allocation{}, nil
	}

	allocation, err := models.NewAllocation(req.Allocation...)
	if err != nil {
		return models.Allocation{}, fmt.Errorf("%w: %w", ErrInvalidAllocation, err)
	}
	return allocation, nil
}

// checkTargets verifies every allocation target exists and can be invested in
func (a *InvestmentAllocatorImpl) checkTargets(txCtx context.Context, investmentType models.InvestmentType, allocation models.Allocation) error {
	switch investmentType {
	case models.InvestmentTypeProjectSpecific:
		for _, id := range allocation.TargetIDs() {
			project, err := a.projectRepo.ByID(txCtx, id)
			if err != nil {
				return err
			}
			if project == nil {
				return fmt.Errorf("%w: project %d does not exist", ErrInvalidAllocation, id)
			}
			if project.Status != models.ProjectStatusOpen {
				return fmt.Errorf("%w: project %d is closed", ErrInvalidAllocation, id)
			}
		}
	case models.InvestmentTypePlotSpecific:
		ids := allocation.TargetIDs()
		plots, err := a.plotRepo.ByIDs(txCtx, ids)
		if err != nil {
			return err
		}
		if len(plots) != len(ids) {
			return fmt.Errorf("%w: unknown plot in allocation", ErrInvalidAllocation)
		}
	}
	return nil
}

func (a *InvestmentAllocatorImpl) newInvestment(req CreateInvestmentRequest, allocation models.Allocation) *models.Investment {
	rate := a.cfg.DefaultReturnRate
	if req.ReturnRate != nil {
		rate = *req.ReturnRate
	}
	days := req.MaturityDays
	if days <= 0 {
		days = a.cfg.DefaultMaturityDays
	}
	maturity := a.clock().Add(time.Duration(days) * utils.Day)

	inv := &models.Investment{
		UserID:             req.UserID,
		Amount:             req.Amount,
		InvestmentType:     req.Type,
		Status:             models.InvestmentStatusPending,
		ExpectedReturn:     percentOf(req.Amount, rate, utils.CurrencyPlaces),
		ReturnRate:         rate,
		MaturityDate:       &maturity,
		AutoReinvest:       req.AutoReinvest,
		ReinvestPercentage: req.ReinvestPercentage,
	}

	ids := allocation.TargetIDs()
	switch req.Type {
	case models.InvestmentTypeProjectSpecific:
		inv.ProjectAllocation = allocation
		if len(ids) == 1 {
			inv.PropertyProjectID = &ids[0]
		}
	case models.InvestmentTypePlotSpecific:
		inv.PlotAllocation = allocation
		if len(ids) == 1 {
			inv.PlotID = &ids[0]
		}
	}
	return inv
}

func (a *InvestmentAllocatorImpl) observeRejection(ctx context.Context, req CreateInvestmentRequest, err error) {
	metrics.ObserveInvestment(string(req.Type), "failed")

	category := ErrorCategory(err)
	if category == CategoryInternal {
		a.logger.Error("investment creation failed", zap.Uint("user_id", req.UserID), zap.Error(err))
	} else {
		a.logger.Debug("investment rejected", zap.Uint("user_id", req.UserID), zap.String("category", string(category)), zap.Error(err))
	}

	msg := err.Error()
	createAuditLog(ctx, a.auditRepo, a.logger, &req.UserID, models.AuditActionInvestmentFailed,
		"Investment creation failed", false, &msg,
		map[string]any{"amount": req.Amount.String(), "type": req.Type, "category": category})
}

// ApproveInvestment moves a pending investment to approved
func (a *InvestmentAllocatorImpl) ApproveInvestment(ctx context.Context, investmentID, approverID uint) (*models.Investment, error) {
	now := a.clock()
	ok, err := a.investmentRepo.TransitionStatus(ctx, investmentID, models.InvestmentStatusPending, models.InvestmentStatusApproved,
		map[string]any{"approval_date": now, "approved_by": approverID})
	if err != nil {
		return nil, NewBusinessError("APPROVE_INVESTMENT_FAILED", "Failed to approve investment", err)
	}

	investment, err := a.investmentRepo.ByID(ctx, investmentID)
	if err != nil {
		return nil, NewBusinessError("APPROVE_INVESTMENT_FAILED", "Failed to load investment", err)
	}
	if investment == nil {
		return nil, NewBusinessError("APPROVE_INVESTMENT_FAILED", "Investment not found", ErrInvestmentNotFound)
	}
	if !ok {
		return nil, NewBusinessErrorf("APPROVE_INVESTMENT_FAILED", "Investment is %s", ErrInvestmentNotPending, investment.Status)
	}

	createAuditLog(ctx, a.auditRepo, a.logger, &investment.UserID, models.AuditActionInvestmentApproved,
		fmt.Sprintf("Investment %d approved by %d", investment.ID, approverID), true, nil, nil)
	metrics.ObserveInvestment(string(investment.InvestmentType), string(investment.Status))
	emit(ctx, a.publisher, a.logger, a.investmentEvent(events.TypeInvestmentApproved, investment, ""))
	return investment, nil
}

// RejectInvestment rejects a pending investment, refunds its debit and cancels its holds
func (a *InvestmentAllocatorImpl) RejectInvestment(ctx context.Context, investmentID uint, reason string) (*models.Investment, error) {
	ctx, batch, owner := withEventBatch(ctx)

	var investment *models.Investment
	err := a.tx.run(ctx, "reject_investment", nil, func(txCtx context.Context) error {
		var err error
		investment, err = a.investmentRepo.ByIDForUpdate(txCtx, investmentID)
		if err != nil {
			return err
		}
		if investment == nil {
			return ErrInvestmentNotFound
		}

		ok, err := a.investmentRepo.TransitionStatus(txCtx, investment.ID, models.InvestmentStatusPending, models.InvestmentStatusRejected,
			map[string]any{"rejection_reason": reason})
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvestmentNotPending
		}
		investment.Status = models.InvestmentStatusRejected
		investment.RejectionReason = &reason

		if investment.DebitTransactionID != nil {
			if _, err := a.ledger.ReverseTransaction(txCtx, *investment.DebitTransactionID, "investment rejected"); err != nil {
				return err
			}
		}

		holdings, err := a.holdingRepo.ListActiveByInvestment(txCtx, investment.ID)
		if err != nil {
			return err
		}
		for _, holding := range holdings {
			if _, err := a.holdings.CancelHold(txCtx, holding.ID, "investment rejected"); err != nil {
				return err
			}
		}

		createAuditLog(txCtx, a.auditRepo, a.logger, &investment.UserID, models.AuditActionInvestmentRejected,
			fmt.Sprintf("Investment %d rejected", investment.ID), true, nil, map[string]any{"reason": reason})
		return nil
	})
	if owner {
		defer batch.settle(ctx, err, a.publisher, a.logger)
	}
	if err != nil {
		return nil, NewBusinessError("REJECT_INVESTMENT_FAILED", "Failed to reject investment", err)
	}

	metrics.ObserveInvestment(string(investment.InvestmentType), string(investment.Status))
	emit(ctx, a.publisher, a.logger, a.investmentEvent(events.TypeInvestmentRejected, investment, reason))
	return investment, nil
}

// ProcessMaturity completes a matured investment. The capital goes back to the wallet as a
// refund. With auto reinvest, reinvest_percentage of the return becomes a child investment and
// the rest is credited as profit; otherwise the whole return is credited.
func (a *InvestmentAllocatorImpl) ProcessMaturity(ctx context.Context, investmentID uint, now time.Time) (*MaturityResult, error) {
	ctx, batch, owner := withEventBatch(ctx)

	result := &MaturityResult{}
	err := a.tx.run(ctx, "process_maturity", nil, func(txCtx context.Context) error {
		investment, err := a.investmentRepo.ByIDForUpdate(txCtx, investmentID)
		if err != nil {
			return err
		}
		if investment == nil {
			return ErrInvestmentNotFound
		}
		if !investment.IsMature(now) {
			return ErrInvestmentNotMature
		}

		actual := investment.ExpectedReturn
		if investment.ActualReturn.Valid {
			actual = investment.ActualReturn.Decimal
		}
		result.ActualReturn = actual
		result.CreditedAmount = actual

		if investment.AutoReinvest && investment.ReinvestPercentage.IsPositive() {
			result.ReinvestedAmount, result.CreditedAmount = splitTwoWays(actual, investment.ReinvestPercentage, utils.CurrencyPlaces)
		}

		if result.ReinvestedAmount.IsPositive() {
			child, err := a.reinvest(txCtx, investment, result.ReinvestedAmount, now)
			if err != nil {
				return err
			}
			result.Reinvestment = child
		}

		wallet, err := a.ledger.GetWalletByUser(txCtx, investment.UserID)
		if err != nil {
			return err
		}

		if investment.Amount.IsPositive() {
			refund, err := a.ledger.ApplyTransaction(txCtx, ApplyTransactionRequest{
				WalletID:      wallet.ID,
				Type:          models.TransactionTypeRefund,
				Amount:        investment.Amount,
				PaymentMethod: "maturity",
				Reference:     utils.CapitalReturnReference(investment.ID),
				Description:   fmt.Sprintf("Capital of investment %d", investment.ID),
				InvestmentID:  &investment.ID,
			})
			if err != nil {
				return err
			}
			result.CapitalReturn = refund
		}

		if result.CreditedAmount.IsPositive() {
			credit, err := a.ledger.ApplyTransaction(txCtx, ApplyTransactionRequest{
				WalletID:      wallet.ID,
				Type:          models.TransactionTypeProfit,
				Amount:        result.CreditedAmount,
				PaymentMethod: "maturity",
				Reference:     utils.MaturityReference(investment.ID),
				Description:   fmt.Sprintf("Return of investment %d", investment.ID),
				InvestmentID:  &investment.ID,
			})
			if err != nil {
				return err
			}
			result.Credit = credit
		}

		ok, err := a.investmentRepo.TransitionStatus(txCtx, investment.ID, models.InvestmentStatusApproved, models.InvestmentStatusCompleted,
			map[string]any{
				"actual_return":      decimal.NewNullDecimal(actual),
				"returns_generated":  actual,
				"profit_distributed": result.CreditedAmount,
				"completed_at":       now,
			})
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvestmentNotMature
		}
		investment.Status = models.InvestmentStatusCompleted
		investment.ActualReturn = decimal.NewNullDecimal(actual)
		investment.ReturnsGenerated = actual
		investment.ProfitDistributed = result.CreditedAmount
		investment.CompletedAt = &now
		result.Investment = investment

		createAuditLog(txCtx, a.auditRepo, a.logger, &investment.UserID, models.AuditActionInvestmentMatured,
			fmt.Sprintf("Investment %d matured", investment.ID), true, nil, map[string]any{
				"actual_return":     actual.String(),
				"reinvested_amount": result.ReinvestedAmount.String(),
				"credited_amount":   result.CreditedAmount.String(),
				"capital_returned":  investment.Amount.String(),
			})
		return nil
	})
	if owner {
		defer batch.settle(ctx, err, a.publisher, a.logger)
	}
	if err != nil {
		return nil, NewBusinessError("PROCESS_MATURITY_FAILED", "Failed to process maturity", err)
	}

	metrics.ObserveInvestment(string(result.Investment.InvestmentType), string(result.Investment.Status))
	emit(ctx, a.publisher, a.logger, a.investmentEvent(events.TypeInvestmentMatured, result.Investment, ""))
	if result.Reinvestment != nil {
		emit(ctx, a.publisher, a.logger, a.investmentEvent(events.TypeInvestmentCreated, result.Reinvestment, "reinvestment"))
	}
	return result, nil
}

// reinvest creates the approved follow-on investment of a matured parent. Its capital never
// reaches the wallet, so there is no debit. Plot-specific parents reinvest generally because
// their plots stay held by the parent.
func (a *InvestmentAllocatorImpl) reinvest(txCtx context.Context, parent *models.Investment, amount decimal.Decimal, now time.Time) (*models.Investment, error) {
	term := time.Duration(a.cfg.DefaultMaturityDays) * utils.Day
	maturity := now.Add(term)

	child := &models.Investment{
		UserID:             parent.UserID,
		Amount:             amount,
		InvestmentType:     parent.InvestmentType,
		Status:             models.InvestmentStatusApproved,
		ExpectedReturn:     percentOf(amount, parent.ReturnRate, utils.CurrencyPlaces),
		ReturnRate:         parent.ReturnRate,
		MaturityDate:       &maturity,
		AutoReinvest:       parent.AutoReinvest,
		ReinvestPercentage: parent.ReinvestPercentage,
		ReinvestmentCount:  parent.ReinvestmentCount + 1,
		ParentInvestmentID: &parent.ID,
		ApprovalDate:       &now,
	}
	switch parent.InvestmentType {
	case models.InvestmentTypeProjectSpecific:
		child.ProjectAllocation = parent.ProjectAllocation
		child.PropertyProjectID = parent.PropertyProjectID
	case models.InvestmentTypePlotSpecific:
		child.InvestmentType = models.InvestmentTypeGeneral
	}

	if err := a.investmentRepo.Save(txCtx, child); err != nil {
		return nil, err
	}
	return child, nil
}

// ProcessDueMaturities matures every investment due at now, one transaction each.
// Investments another worker finished first are skipped.
func (a *InvestmentAllocatorImpl) ProcessDueMaturities(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := a.investmentRepo.ListDueForMaturity(ctx, now, limit)
	if err != nil {
		return 0, NewBusinessError("PROCESS_MATURITIES_FAILED", "Failed to list matured investments", err)
	}

	processed := 0
	var errs []error
	for _, investment := range due {
		_, err := a.ProcessMaturity(ctx, investment.ID, now)
		switch {
		case err == nil:
			processed++
		case errors.Is(err, ErrInvestmentNotMature):
			continue
		default:
			a.logger.Error("failed to process maturity", zap.Uint("investment_id", investment.ID), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return processed, errors.Join(errs...)
}

// GetInvestment returns an investment by id
func (a *InvestmentAllocatorImpl) GetInvestment(ctx context.Context, investmentID uint) (*models.Investment, error) {
	investment, err := a.investmentRepo.ByID(ctx, investmentID)
	if err != nil {
		return nil, NewBusinessError("GET_INVESTMENT_FAILED", "Failed to get investment", err)
	}
	if investment == nil {
		return nil, NewBusinessError("GET_INVESTMENT_FAILED", "Investment not found", ErrInvestmentNotFound)
	}
	return investment, nil
}

// ListInvestments returns investments matching the filter, newest first
func (a *InvestmentAllocatorImpl) ListInvestments(ctx context.Context, filter models.InvestmentFilter, limit, offset int) ([]*models.Investment, error) {
	investments, err := a.investmentRepo.ByFilter(ctx, filter, "id DESC", limit, offset)
	if err != nil {
		return nil, NewBusinessError("LIST_INVESTMENTS_FAILED", "Failed to list investments", err)
	}
	return investments, nil
}

func (a *InvestmentAllocatorImpl) investmentEvent(eventType string, investment *models.Investment, reason string) events.Event {
	return newEvent(a.clock(), eventType, "investment:"+strconv.FormatUint(uint64(investment.ID), 10), InvestmentEventPayload{
		InvestmentID:       investment.ID,
		UserID:             investment.UserID,
		Type:               investment.InvestmentType,
		Status:             investment.Status,
		Amount:             investment.Amount,
		ParentInvestmentID: investment.ParentInvestmentID,
		Reason:             reason,
	})
}
