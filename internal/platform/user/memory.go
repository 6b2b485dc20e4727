package user

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"addrbook/internal/database"
)

// MemoryRepository keeps accounts in process memory.
type MemoryRepository struct {
	mu    sync.Mutex
	users map[string]database.User
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[string]database.User)}
}

func (r *MemoryRepository) GetByUsername(ctx context.Context, username string) (*database.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[username]
	if !ok {
		return nil, errUnknownUser(username)
	}
	return &u, nil
}

func (r *MemoryRepository) SavePending(ctx context.Context, u *database.User, fn func(*database.User) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.users[u.Username]
	switch {
	case ok && existing.IsActive:
		return errUsernameTaken()
	case ok:
		u.ID = existing.ID
	default:
		u.ID = uuid.New()
	}

	if fn != nil {
		if err := fn(u); err != nil {
			return err
		}
	}

	r.users[u.Username] = *u
	return nil
}

func (r *MemoryRepository) Update(ctx context.Context, username string, fn func(u *database.User) error) (*database.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.users[username]
	if !ok {
		return nil, errUnknownUser(username)
	}

	if err := fn(&current); err != nil {
		return nil, err
	}

	r.users[username] = current
	updated := current
	return &updated, nil
}
