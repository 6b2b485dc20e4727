package user

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"addrbook/internal/apperr"
	"addrbook/internal/database"
)

// Repository persists user accounts keyed by username.
type Repository interface {
	GetByUsername(ctx context.Context, username string) (*database.User, error)

	// SavePending stores u as an inactive account. An existing inactive
	// account with the same username is overwritten and keeps its id; an
	// active one is reported as taken. fn runs before the write is made
	// durable and an error from it discards the write. Side effects of fn
	// are not undone if the commit itself fails afterwards, so a mail sent
	// from fn can point at an account that was never stored.
	SavePending(ctx context.Context, u *database.User, fn func(*database.User) error) error

	// Update locks the account, passes it to fn and saves it if fn returns nil.
	Update(ctx context.Context, username string, fn func(u *database.User) error) (*database.User, error)
}

func errUsernameTaken() error {
	return apperr.Invalid("username", "already taken")
}

func errUnknownUser(username string) error {
	return apperr.NotFound("User %q does not exist", username)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetByUsername(ctx context.Context, username string) (*database.User, error) {
	var u database.User
	result := r.db.WithContext(ctx).First(&u, "username = ?", username)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, errUnknownUser(username)
		}
		return nil, fmt.Errorf("failed to load user %q: %w", username, result.Error)
	}
	return &u, nil
}

func lockByUsername(tx *gorm.DB, username string) (*database.User, error) {
	var u database.User
	result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&u, "username = ?", username)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, errUnknownUser(username)
		}
		return nil, fmt.Errorf("failed to lock user %q: %w", username, result.Error)
	}
	return &u, nil
}

func (r *gormRepository) SavePending(ctx context.Context, u *database.User, fn func(*database.User) error) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := lockByUsername(tx, u.Username)
		switch {
		case err == nil && existing.IsActive:
			return errUsernameTaken()
		case err == nil:
			u.ID = existing.ID
			if err := tx.Save(u).Error; err != nil {
				return fmt.Errorf("failed to overwrite user %q: %w", u.Username, err)
			}
		case errors.Is(err, apperr.ErrNotFound):
			if err := tx.Create(u).Error; err != nil {
				return fmt.Errorf("failed to create user %q: %w", u.Username, err)
			}
		default:
			return err
		}

		if fn == nil {
			return nil
		}
		return fn(u)
	})

	// Two registrations racing for a new name both miss the lock.
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errUsernameTaken()
	}
	return err
}

func (r *gormRepository) Update(ctx context.Context, username string, fn func(u *database.User) error) (*database.User, error) {
	var updated *database.User

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := lockByUsername(tx, username)
		if err != nil {
			return err
		}

		if err := fn(current); err != nil {
			return err
		}

		if err := tx.Save(current).Error; err != nil {
			return fmt.Errorf("failed to save user %q: %w", username, err)
		}

		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}
