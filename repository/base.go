// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrVersionMismatch is returned when an optimistic update finds a newer row version
	ErrVersionMismatch = errors.New("row version mismatch")
)

// BaseRepository provides common repository functionality with transaction support
type BaseRepository[T any, F any] struct {
	DB *gorm.DB
}

// NewBaseRepository creates a new base repository instance
func NewBaseRepository[T any, F any](db *gorm.DB) *BaseRepository[T, F] {
	return &BaseRepository[T, F]{
		DB: db,
	}
}

// getDB returns the appropriate database connection (with or without transaction)
func (r *BaseRepository[T, F]) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(TxContextKey).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.DB.WithContext(ctx)
}

// write runs fn on the ambient transaction, or on a short one of its own when ctx carries none
func (r *BaseRepository[T, F]) write(ctx context.Context, fn func(db *gorm.DB) error) error {
	if tx, ok := ctx.Value(TxContextKey).(*gorm.DB); ok && tx != nil {
		return fn(tx)
	}
	return r.DB.WithContext(ctx).Transaction(fn)
}

// forUpdate adds a row lock to the query. Dialects without row locks ignore the clause.
func forUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

// ByID retrieves an entity by its ID
func (r *BaseRepository[T, F]) ByID(ctx context.Context, id uint) (*T, error) {
	db := r.getDB(ctx)

	var entity T
	err := db.Last(&entity, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find entity by ID %d: %w", id, err)
	}

	return &entity, nil
}

// ByIDForUpdate retrieves an entity by its ID and locks the row until the surrounding transaction ends
func (r *BaseRepository[T, F]) ByIDForUpdate(ctx context.Context, id uint) (*T, error) {
	db := r.getDB(ctx)

	var entity T
	err := forUpdate(db).Where("id = ?", id).Take(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock entity by ID %d: %w", id, err)
	}

	return &entity, nil
}

// Save inserts a new entity
func (r *BaseRepository[T, F]) Save(ctx context.Context, entity *T) error {
	if err := r.write(ctx, func(db *gorm.DB) error { return db.Create(entity).Error }); err != nil {
		return fmt.Errorf("failed to save entity: %w", err)
	}
	return nil
}

// SaveBatch inserts entities in chunks of 100
func (r *BaseRepository[T, F]) SaveBatch(ctx context.Context, entities []*T) error {
	if len(entities) == 0 {
		return nil
	}
	if err := r.write(ctx, func(db *gorm.DB) error { return db.CreateInBatches(entities, 100).Error }); err != nil {
		return fmt.Errorf("failed to save %d entities: %w", len(entities), err)
	}
	return nil
}

// updateWhere applies updates to rows matching the condition and reports how many changed.
// A zero count means the row was not in the expected state.
func (r *BaseRepository[T, F]) updateWhere(ctx context.Context, updates map[string]any, query string, args ...any) (int64, error) {
	db := r.getDB(ctx)

	var entity T
	result := db.Model(&entity).Where(query, args...).Updates(updates)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// WithTransaction executes a function within a database transaction
func WithTransaction(ctx context.Context, db *gorm.DB, fn func(context.Context) error) (err error) {
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			err = fmt.Errorf("panic in transaction: %v", r)
		}
	}()

	ctx = context.WithValue(ctx, TxContextKey, tx)

	if err := fn(ctx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// InTransaction reports whether ctx already carries a database transaction
func InTransaction(ctx context.Context) bool {
	tx, ok := ctx.Value(TxContextKey).(*gorm.DB)
	return ok && tx != nil
}

// IsUniqueViolation reports whether err comes from a unique constraint or index
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "sqlstate 23505")
}
