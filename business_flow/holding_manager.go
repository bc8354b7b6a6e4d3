package businessflow

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/amirphl/plotshare/app/events"
	"github.com/amirphl/plotshare/app/metrics"
	"github.com/amirphl/plotshare/models"
	"github.com/amirphl/plotshare/repository"
	"github.com/amirphl/plotshare/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Eligibility reason codes
const (
	ReasonTeamValueRequired   = "team_value_required"
	ReasonTeamMembersRequired = "team_members_required"
	ReasonInvestmentRequired  = "investment_required"
)

// HoldingManager governs plot holds and their lifecycle
type HoldingManager interface {
	EvaluateEligibility(ctx context.Context, userID, plotID uint, investmentAmount decimal.Decimal) (*Eligibility, error)
	PlaceHold(ctx context.Context, req PlaceHoldRequest) (*models.PlotHolding, error)
	ReleaseHold(ctx context.Context, holdingID uint, reason string) (*models.PlotHolding, error)
	CancelHold(ctx context.Context, holdingID uint, reason string) (*models.PlotHolding, error)
	SweepExpired(ctx context.Context, now time.Time) (int, error)
	MarkPlotSold(ctx context.Context, plotID uint) (int64, error)
	ListHoldings(ctx context.Context, filter models.PlotHoldingFilter, limit, offset int) ([]*models.PlotHolding, error)
}

// Eligibility is the outcome of an eligibility check. Not being eligible is a normal result.
type Eligibility struct {
	Eligible bool     `json:"eligible"`
	Reasons  []string `json:"reasons"`

	TeamValue           decimal.Decimal `json:"team_value"`
	TeamValueRequired   decimal.Decimal `json:"team_value_required"`
	MemberCount         int             `json:"member_count"`
	TeamMembersRequired int             `json:"team_members_required"`
	InvestmentAmount    decimal.Decimal `json:"investment_amount"`
	InvestmentRequired  decimal.Decimal `json:"investment_required"`
}

// PlaceHoldRequest asks for a hold on a plot backing an investment
type PlaceHoldRequest struct {
	UserID       uint
	PlotID       uint
	InvestmentID uint
	Amount       decimal.Decimal // Part of the investment allocated to the plot
}

// HoldingEventPayload is published for hold placement and every transition out of active
type HoldingEventPayload struct {
	HoldingID    uint              `json:"holding_id"`
	UserID       uint              `json:"user_id"`
	PlotID       uint              `json:"plot_id"`
	InvestmentID uint              `json:"investment_id"`
	HoldStatus   models.HoldStatus `json:"hold_status"`
	ExpiresAt    time.Time         `json:"expires_at"`
	Reason       string            `json:"reason,omitempty"`
}

// HoldingManagerImpl implements HoldingManager
type HoldingManagerImpl struct {
	plotRepo      repository.PlotRepository
	holdingRepo   repository.PlotHoldingRepository
	teamStatsRepo repository.TeamStatsRepository
	auditRepo     repository.AuditLogRepository
	db            *gorm.DB
	publisher     events.Publisher
	logger        *zap.Logger
	clock         Clock
	tx            txRunner

	defaultLockPeriodDays int
	sweepBatchSize        int
}

// NewHoldingManager creates a new holding manager instance
func NewHoldingManager(
	plotRepo repository.PlotRepository,
	holdingRepo repository.PlotHoldingRepository,
	teamStatsRepo repository.TeamStatsRepository,
	auditRepo repository.AuditLogRepository,
	db *gorm.DB,
	publisher events.Publisher,
	logger *zap.Logger,
	clock Clock,
	defaultLockPeriodDays int,
	sweepBatchSize int,
) HoldingManager {
	logger = defaultLogger(logger)
	if sweepBatchSize <= 0 {
		sweepBatchSize = 500
	}
	return &HoldingManagerImpl{
		plotRepo:              plotRepo,
		holdingRepo:           holdingRepo,
		teamStatsRepo:         teamStatsRepo,
		auditRepo:             auditRepo,
		db:                    db,
		publisher:             defaultPublisher(publisher),
		logger:                logger,
		clock:                 defaultClock(clock),
		tx:                    txRunner{db: db, auditRepo: auditRepo, logger: logger},
		defaultLockPeriodDays: defaultLockPeriodDays,
		sweepBatchSize:        sweepBatchSize,
	}
}

// EvaluateEligibility checks the user's team figures and amount against the plot requirements
func (h *HoldingManagerImpl) EvaluateEligibility(ctx context.Context, userID, plotID uint, investmentAmount decimal.Decimal) (*Eligibility, error) {
	plot, err := h.plotRepo.ByID(ctx, plotID)
	if err != nil {
		return nil, NewBusinessError("EVALUATE_ELIGIBILITY_FAILED", "Failed to load plot", err)
	}
	if plot == nil {
		return nil, NewBusinessError("EVALUATE_ELIGIBILITY_FAILED", "Plot not found", ErrPlotNotFound)
	}

	eligibility, err := h.evaluate(ctx, userID, plot, investmentAmount)
	if err != nil {
		return nil, NewBusinessError("EVALUATE_ELIGIBILITY_FAILED", "Failed to evaluate eligibility", err)
	}
	return eligibility, nil
}

func (h *HoldingManagerImpl) evaluate(ctx context.Context, userID uint, plot *models.Plot, amount decimal.Decimal) (*Eligibility, error) {
	stats, err := h.teamStatsRepo.ByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	e := &Eligibility{
		Reasons:             []string{},
		TeamValueRequired:   plot.TeamValueRequired,
		TeamMembersRequired: plot.TeamMembersRequired,
		InvestmentAmount:    amount,
		InvestmentRequired:  plot.InvestmentRequired,
	}
	if stats != nil {
		e.TeamValue = stats.TeamValue
		e.MemberCount = stats.MemberCount
	}

	if e.TeamValue.LessThan(plot.TeamValueRequired) {
		e.Reasons = append(e.Reasons, ReasonTeamValueRequired)
	}
	if e.MemberCount < plot.TeamMembersRequired {
		e.Reasons = append(e.Reasons, ReasonTeamMembersRequired)
	}
	if amount.LessThan(plot.InvestmentRequired) {
		e.Reasons = append(e.Reasons, ReasonInvestmentRequired)
	}
	e.Eligible = len(e.Reasons) == 0
	return e, nil
}

// PlaceHold locks a plot for a user. The is_held test-and-set and the unique indexes on
// holdings decide races; losing one is PlotAlreadyHeld.
func (h *HoldingManagerImpl) PlaceHold(ctx context.Context, req PlaceHoldRequest) (*models.PlotHolding, error) {
	var holding *models.PlotHolding
	err := h.tx.run(ctx, "place_hold", nil, func(txCtx context.Context) error {
		plot, err := h.plotRepo.ByIDForUpdate(txCtx, req.PlotID)
		if err != nil {
			return err
		}
		if plot == nil {
			return ErrPlotNotFound
		}
		if plot.IsSold() {
			return ErrPlotSold
		}
		previous, err := h.holdingRepo.ByUserAndPlot(txCtx, req.UserID, plot.ID)
		if err != nil {
			return err
		}
		if previous != nil {
			return ErrPlotAlreadyHeld // a user holds a plot at most once
		}

		eligibility, err := h.evaluate(txCtx, req.UserID, plot, req.Amount)
		if err != nil {
			return err
		}
		if !eligibility.Eligible {
			return fmt.Errorf("%w: %v", ErrEligibilityNotMet, eligibility.Reasons)
		}

		held, err := h.plotRepo.MarkHeld(txCtx, plot.ID)
		if err != nil {
			return err
		}
		if !held {
			return ErrPlotAlreadyHeld
		}

		lockDays := plot.LockPeriodDays
		if lockDays <= 0 {
			lockDays = h.defaultLockPeriodDays
		}
		now := h.clock()
		holding = &models.PlotHolding{
			UserID:             req.UserID,
			PlotID:             plot.ID,
			InvestmentID:       req.InvestmentID,
			Status:             models.HoldingStatusActive,
			HoldStatus:         models.HoldStatusActive,
			HoldStartDate:      now,
			HoldExpiryDate:     now.Add(time.Duration(lockDays) * utils.Day),
			LockPeriodDays:     lockDays,
			HoldAmount:         req.Amount,
			HoldValue:          plot.Price,
			TeamValueRequired:  plot.TeamValueRequired,
			InvestmentRequired: plot.InvestmentRequired,
			TransferAllowed:    plot.TransferAllowed,
		}
		if err := h.holdingRepo.Save(txCtx, holding); err != nil {
			if repository.IsUniqueViolation(err) {
				return ErrPlotAlreadyHeld
			}
			return err
		}

		createAuditLog(txCtx, h.auditRepo, h.logger, &req.UserID, models.AuditActionHoldPlaced,
			fmt.Sprintf("Plot %d held until %s", plot.ID, holding.HoldExpiryDate.Format(time.RFC3339)), true, nil,
			map[string]any{"holding_id": holding.ID, "investment_id": req.InvestmentID})
		return nil
	})
	if err != nil {
		if IsPlotAlreadyHeld(err) {
			metrics.ObserveHoldConflict()
		}
		h.logger.Debug("hold not placed", zap.Uint("plot_id", req.PlotID), zap.Uint("user_id", req.UserID), zap.Error(err))
		return nil, NewBusinessError("PLACE_HOLD_FAILED", "Failed to place hold", err)
	}

	metrics.ObserveHoldTransition(string(models.HoldStatusActive), 1)
	emit(ctx, h.publisher, h.logger, h.holdingEvent(events.TypeHoldPlaced, holding, ""))
	return holding, nil
}

// ReleaseHold ends an active hold on request, whether or not it has expired
func (h *HoldingManagerImpl) ReleaseHold(ctx context.Context, holdingID uint, reason string) (*models.PlotHolding, error) {
	holding, err := h.endHold(ctx, holdingID, models.HoldStatusReleased, reason)
	if err != nil {
		return nil, NewBusinessError("RELEASE_HOLD_FAILED", "Failed to release hold", err)
	}
	return holding, nil
}

// CancelHold ends an active hold administratively
func (h *HoldingManagerImpl) CancelHold(ctx context.Context, holdingID uint, reason string) (*models.PlotHolding, error) {
	holding, err := h.endHold(ctx, holdingID, models.HoldStatusCancelled, reason)
	if err != nil {
		return nil, NewBusinessError("CANCEL_HOLD_FAILED", "Failed to cancel hold", err)
	}
	return holding, nil
}

func (h *HoldingManagerImpl) endHold(ctx context.Context, holdingID uint, to models.HoldStatus, reason string) (*models.PlotHolding, error) {
	var holding *models.PlotHolding
	err := h.tx.run(ctx, "end_hold", nil, func(txCtx context.Context) error {
		var err error
		holding, err = h.holdingRepo.ByID(txCtx, holdingID)
		if err != nil {
			return err
		}
		if holding == nil {
			return ErrHoldingNotFound
		}

		now := h.clock()
		if err := h.transition(txCtx, holding, to, reason, now); err != nil {
			return err
		}

		action := models.AuditActionHoldReleased
		if to == models.HoldStatusCancelled {
			action = models.AuditActionHoldCancelled
		}
		createAuditLog(txCtx, h.auditRepo, h.logger, &holding.UserID, action,
			fmt.Sprintf("Hold %d on plot %d %s", holding.ID, holding.PlotID, to), true, nil,
			map[string]any{"holding_id": holding.ID, "reason": reason})
		return nil
	})
	if err != nil {
		return nil, err
	}

	eventType := events.TypeHoldReleased
	if to == models.HoldStatusCancelled {
		eventType = events.TypeHoldCancelled
	}
	metrics.ObserveHoldTransition(string(to), 1)
	emit(ctx, h.publisher, h.logger, h.holdingEvent(eventType, holding, reason))
	return holding, nil
}

// transition moves an active hold out of active and frees its plot. Holding ownership ends
// with the hold, so the holding status becomes expired.
func (h *HoldingManagerImpl) transition(txCtx context.Context, holding *models.PlotHolding, to models.HoldStatus, reason string, now time.Time) error {
	expired := models.HoldingStatusExpired
	ok, err := h.holdingRepo.TransitionHold(txCtx, holding.ID, to, &expired, &reason, now)
	if err != nil {
		return err
	}
	if !ok {
		return ErrHoldNotActive
	}
	if err := h.plotRepo.MarkFree(txCtx, holding.PlotID); err != nil {
		return err
	}

	holding.HoldStatus = to
	holding.Status = expired
	holding.ReleaseReason = &reason
	holding.ReleasedAt = &now
	return nil
}

// SweepExpired expires every active hold whose expiry is before now and frees its plot.
// Each hold moves in its own transaction and only while still active, so overlapping
// sweeps never expire a hold twice.
func (h *HoldingManagerImpl) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	const reason = "lock period elapsed"

	expiredCount := 0
	var swept []events.Event
	for {
		batch, err := h.holdingRepo.ListExpired(ctx, now, h.sweepBatchSize)
		if err != nil {
			return expiredCount, NewBusinessError("SWEEP_HOLDS_FAILED", "Failed to list expired holds", err)
		}

		for _, holding := range batch {
			err := h.tx.run(ctx, "sweep_expired", nil, func(txCtx context.Context) error {
				return h.transition(txCtx, holding, models.HoldStatusExpired, reason, now)
			})
			if IsHoldNotActive(err) {
				continue // another sweeper or a release got there first
			}
			if err != nil {
				return expiredCount, NewBusinessError("SWEEP_HOLDS_FAILED", "Failed to expire hold", err)
			}
			expiredCount++
			swept = append(swept, h.holdingEvent(events.TypeHoldExpired, holding, reason))
		}

		if len(batch) < h.sweepBatchSize {
			break
		}
	}

	if expiredCount > 0 {
		metrics.ObserveHoldTransition(string(models.HoldStatusExpired), expiredCount)
		createAuditLog(ctx, h.auditRepo, h.logger, nil, models.AuditActionHoldsExpired,
			fmt.Sprintf("%d holds expired", expiredCount), true, nil, map[string]any{"now": now})
		emit(ctx, h.publisher, h.logger, swept...)
		h.logger.Info("expired plot holds", zap.Int("count", expiredCount))
	}
	return expiredCount, nil
}

// MarkPlotSold marks a plot sold and closes its active holding
func (h *HoldingManagerImpl) MarkPlotSold(ctx context.Context, plotID uint) (int64, error) {
	var closed int64
	err := h.tx.run(ctx, "mark_plot_sold", nil, func(txCtx context.Context) error {
		sold, err := h.plotRepo.MarkSold(txCtx, plotID)
		if err != nil {
			return err
		}
		if !sold {
			plot, err := h.plotRepo.ByID(txCtx, plotID)
			if err != nil {
				return err
			}
			if plot == nil {
				return ErrPlotNotFound
			}
			return ErrPlotSold
		}

		closed, err = h.holdingRepo.MarkSoldByPlot(txCtx, plotID, h.clock())
		return err
	})
	if err != nil {
		return 0, NewBusinessError("MARK_PLOT_SOLD_FAILED", "Failed to mark plot sold", err)
	}

	if closed > 0 {
		metrics.ObserveHoldTransition(string(models.HoldStatusReleased), int(closed))
		emit(ctx, h.publisher, h.logger, newEvent(h.clock(), events.TypeHoldReleased, plotKey(plotID),
			HoldingEventPayload{PlotID: plotID, HoldStatus: models.HoldStatusReleased, Reason: "plot sold"}))
	}
	return closed, nil
}

// ListHoldings returns holdings matching the filter, newest first
func (h *HoldingManagerImpl) ListHoldings(ctx context.Context, filter models.PlotHoldingFilter, limit, offset int) ([]*models.PlotHolding, error) {
	holdings, err := h.holdingRepo.ByFilter(ctx, filter, "id DESC", limit, offset)
	if err != nil {
		return nil, NewBusinessError("LIST_HOLDINGS_FAILED", "Failed to list holdings", err)
	}
	return holdings, nil
}

func (h *HoldingManagerImpl) holdingEvent(eventType string, holding *models.PlotHolding, reason string) events.Event {
	return newEvent(h.clock(), eventType, plotKey(holding.PlotID), HoldingEventPayload{
		HoldingID:    holding.ID,
		UserID:       holding.UserID,
		PlotID:       holding.PlotID,
		InvestmentID: holding.InvestmentID,
		HoldStatus:   holding.HoldStatus,
		ExpiresAt:    holding.HoldExpiryDate,
		Reason:       reason,
	})
}

func plotKey(plotID uint) string {
	return "plot:" + strconv.FormatUint(uint64(plotID), 10)
}
