// Package businessflow contains the business logic for the application.
package businessflow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/amirphl/plotshare/app/events"
	"github.com/amirphl/plotshare/app/metrics"
	"github.com/amirphl/plotshare/models"
	"github.com/amirphl/plotshare/repository"
	"github.com/amirphl/plotshare/utils"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Clock returns the current time. Flows take one so tests can pin time.
type Clock func() time.Time

func defaultClock(c Clock) Clock {
	if c == nil {
		return utils.UTCNow
	}
	return c
}

func defaultLogger(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

func defaultPublisher(p events.Publisher) events.Publisher {
	if p == nil {
		return events.NoopPublisher{}
	}
	return p
}

type eventBatchKey struct{}

// eventBatch collects events raised inside a database transaction until it commits
type eventBatch struct {
	events []events.Event
}

// withEventBatch attaches a batch to ctx unless an outer operation already owns one.
// owner is true for the caller that must flush or discard.
func withEventBatch(ctx context.Context) (context.Context, *eventBatch, bool) {
	if b, ok := ctx.Value(eventBatchKey{}).(*eventBatch); ok {
		return ctx, b, false
	}
	b := &eventBatch{}
	return context.WithValue(ctx, eventBatchKey{}, b), b, true
}

// emit queues events on the batch in ctx, or publishes them right away when nothing batches.
// Callers emit only once their own work has succeeded.
func emit(ctx context.Context, publisher events.Publisher, logger *zap.Logger, evs ...events.Event) {
	if b, ok := ctx.Value(eventBatchKey{}).(*eventBatch); ok {
		b.events = append(b.events, evs...)
		return
	}
	(&eventBatch{events: evs}).flush(ctx, publisher, logger)
}

func newEvent(at time.Time, eventType, key string, payload any) events.Event {
	return events.Event{Type: eventType, Key: key, OccurredAt: at, Payload: payload}
}

// settle flushes the batch after a successful operation and drops it after a failed one
func (b *eventBatch) settle(ctx context.Context, err error, publisher events.Publisher, logger *zap.Logger) {
	if err != nil {
		b.events = nil
		return
	}
	b.flush(ctx, publisher, logger)
}

// flush publishes the batch. Committed state never depends on delivery.
func (b *eventBatch) flush(ctx context.Context, publisher events.Publisher, logger *zap.Logger) {
	if len(b.events) == 0 {
		return
	}
	if err := publisher.Publish(ctx, b.events...); err != nil {
		metrics.ObservePublishFailure(len(b.events))
		logger.Warn("failed to publish events", zap.Int("count", len(b.events)), zap.Error(err))
	}
	b.events = nil
}

// txRunner runs flow work in the caller's database transaction or in a new one
type txRunner struct {
	db        *gorm.DB
	auditRepo repository.AuditLogRepository
	logger    *zap.Logger
}

// run executes fn atomically. When the runner owns the transaction, an error accepted by
// retry gets exactly one more attempt, and invariant violations are reported after the
// rollback. Inside a caller's transaction both are left to the caller.
func (r txRunner) run(ctx context.Context, operation string, retry func(error) bool, fn func(context.Context) error) error {
	if repository.InTransaction(ctx) {
		return fn(ctx)
	}

	err := repository.WithTransaction(ctx, r.db, fn)
	if err != nil && retry != nil && retry(err) {
		metrics.ObserveRetry(retryReason(err))
		r.logger.Debug("retrying after concurrency error", zap.String("operation", operation), zap.Error(err))
		err = repository.WithTransaction(ctx, r.db, fn)
	}

	if ErrorCategory(err) == CategoryInvariant {
		reportInvariantViolation(ctx, r.auditRepo, r.logger, operation, err, nil)
	}
	return err
}

func retryReason(err error) string {
	switch {
	case errors.Is(err, ErrDuplicateReference):
		return "duplicate_reference"
	case errors.Is(err, ErrConcurrentModification):
		return "concurrent_modification"
	}
	return "other"
}

// createAuditLog writes an audit row. Failures are logged, never returned to the business operation.
func createAuditLog(ctx context.Context, auditRepo repository.AuditLogRepository, logger *zap.Logger, userID *uint, action, description string, success bool, errorMsg *string, metadata map[string]any) {
	if auditRepo == nil {
		return
	}

	audit := &models.AuditLog{
		UserID:       userID,
		Action:       action,
		Description:  &description,
		Success:      utils.ToPtr(success),
		ErrorMessage: errorMsg,
	}

	if len(metadata) > 0 {
		if raw, err := json.Marshal(metadata); err == nil {
			audit.Metadata = raw
		}
	}

	if requestID, ok := ctx.Value(utils.RequestIDKey).(string); ok && requestID != "" {
		audit.RequestID = &requestID
	}

	if err := auditRepo.Save(ctx, audit); err != nil {
		logger.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

// reportInvariantViolation logs and audits a fatal inconsistency outside any rolled back transaction
func reportInvariantViolation(ctx context.Context, auditRepo repository.AuditLogRepository, logger *zap.Logger, kind string, err error, fields map[string]any) {
	metrics.ObserveInvariantViolation(kind)

	zf := []zap.Field{zap.String("kind", kind), zap.Error(err)}
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	logger.Error("ledger invariant violated", zf...)

	msg := err.Error()
	createAuditLog(withoutTransaction(ctx), auditRepo, logger, nil, models.AuditActionInvariantViolation, kind, false, &msg, fields)
}

// withoutTransaction drops any transaction carried by ctx so a write survives its rollback
func withoutTransaction(ctx context.Context) context.Context {
	if !repository.InTransaction(ctx) {
		return ctx
	}
	return context.WithValue(ctx, repository.TxContextKey, nil)
}
