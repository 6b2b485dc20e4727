package entry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"addrbook/internal/apperr"
	"addrbook/internal/database"
	"addrbook/pkg/utils"
)

// Repository persists entries. Update and Delete hold an exclusive lock on
// the single entry for the duration of the call; distinct entries never
// contend.
type Repository interface {
	FindByLastNamePrefix(ctx context.Context, prefix string) ([]database.Entry, error)
	Get(ctx context.Context, id uint) (*database.Entry, error)

	// Create inserts e. When afterInsert is set it runs once e.ID is known;
	// an error from it aborts the insert. Changes it makes to e are saved.
	Create(ctx context.Context, e *database.Entry, afterInsert func(*database.Entry) error) error

	// Update locks the entry, passes the current row to fn and saves the
	// mutated row if fn returns nil. Any error from fn leaves the row as is.
	Update(ctx context.Context, id uint, fn func(current *database.Entry) error) (*database.Entry, error)

	// Delete removes the entry and returns the row as it was.
	Delete(ctx context.Context, id uint) (*database.Entry, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func notFound(id uint) error {
	return apperr.NotFound("Record with id=%d does not exist", id)
}

func (r *gormRepository) FindByLastNamePrefix(ctx context.Context, prefix string) ([]database.Entry, error) {
	pattern := strings.ToLower(utils.EscapeLike(prefix)) + "%"

	var entries []database.Entry
	result := r.db.WithContext(ctx).
		Where("lower(last_name) LIKE ?", pattern).
		Order("last_name, first_name, id").
		Find(&entries)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to search entries: %w", result.Error)
	}
	return entries, nil
}

func (r *gormRepository) Get(ctx context.Context, id uint) (*database.Entry, error) {
	var e database.Entry
	result := r.db.WithContext(ctx).First(&e, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("failed to load entry %d: %w", id, result.Error)
	}
	return &e, nil
}

func (r *gormRepository) Create(ctx context.Context, e *database.Entry, afterInsert func(*database.Entry) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(e).Error; err != nil {
			return fmt.Errorf("failed to create entry: %w", err)
		}

		if afterInsert == nil {
			return nil
		}

		if err := afterInsert(e); err != nil {
			return err
		}

		if err := tx.Save(e).Error; err != nil {
			return fmt.Errorf("failed to save entry %d: %w", e.ID, err)
		}
		return nil
	})
}

func (r *gormRepository) lock(tx *gorm.DB, id uint) (*database.Entry, error) {
	var e database.Entry
	result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&e, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("failed to lock entry %d: %w", id, result.Error)
	}
	return &e, nil
}

func (r *gormRepository) Update(ctx context.Context, id uint, fn func(current *database.Entry) error) (*database.Entry, error) {
	var updated *database.Entry

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := r.lock(tx, id)
		if err != nil {
			return err
		}

		if err := fn(current); err != nil {
			return err
		}

		if err := tx.Save(current).Error; err != nil {
			return fmt.Errorf("failed to save entry %d: %w", id, err)
		}

		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

func (r *gormRepository) Delete(ctx context.Context, id uint) (*database.Entry, error) {
	var deleted *database.Entry

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := r.lock(tx, id)
		if err != nil {
			return err
		}

		if err := tx.Delete(current).Error; err != nil {
			return fmt.Errorf("failed to delete entry %d: %w", id, err)
		}

		deleted = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	return deleted, nil
}
