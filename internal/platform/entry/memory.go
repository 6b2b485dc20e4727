package entry

import (
	"context"
	"sort"
	"strings"
	"sync"

	"addrbook/internal/database"
)

type memoryRow struct {
	mu      sync.Mutex
	entry   database.Entry
	deleted bool
}

// MemoryRepository keeps entries in process memory with one lock per entry.
// It backs the server when DATABASE_URL is "memory".
type MemoryRepository struct {
	mu     sync.Mutex
	rows   map[uint]*memoryRow
	nextID uint
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[uint]*memoryRow)}
}

func (r *MemoryRepository) row(id uint) *memoryRow {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id]
}

func (r *MemoryRepository) FindByLastNamePrefix(ctx context.Context, prefix string) ([]database.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	rows := make([]*memoryRow, 0, len(r.rows))
	for _, row := range r.rows {
		rows = append(rows, row)
	}
	r.mu.Unlock()

	prefix = strings.ToLower(prefix)
	entries := []database.Entry{}
	for _, row := range rows {
		row.mu.Lock()
		if !row.deleted && strings.HasPrefix(strings.ToLower(row.entry.LastName), prefix) {
			entries = append(entries, row.entry)
		}
		row.mu.Unlock()
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.LastName != b.LastName {
			return a.LastName < b.LastName
		}
		if a.FirstName != b.FirstName {
			return a.FirstName < b.FirstName
		}
		return a.ID < b.ID
	})

	return entries, nil
}

func (r *MemoryRepository) Get(ctx context.Context, id uint) (*database.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	row := r.row(id)
	if row == nil {
		return nil, notFound(id)
	}

	row.mu.Lock()
	defer row.mu.Unlock()
	if row.deleted {
		return nil, notFound(id)
	}
	e := row.entry
	return &e, nil
}

func (r *MemoryRepository) Create(ctx context.Context, e *database.Entry, afterInsert func(*database.Entry) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	r.nextID++
	e.ID = r.nextID
	r.mu.Unlock()

	// Not visible to readers until afterInsert succeeds.
	if afterInsert != nil {
		if err := afterInsert(e); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.rows[e.ID] = &memoryRow{entry: *e}
	r.mu.Unlock()

	return nil
}

func (r *MemoryRepository) Update(ctx context.Context, id uint, fn func(current *database.Entry) error) (*database.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	row := r.row(id)
	if row == nil {
		return nil, notFound(id)
	}

	row.mu.Lock()
	defer row.mu.Unlock()
	if row.deleted {
		return nil, notFound(id)
	}

	current := row.entry
	if err := fn(&current); err != nil {
		return nil, err
	}

	row.entry = current
	updated := current
	return &updated, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id uint) (*database.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	row := r.row(id)
	if row == nil {
		return nil, notFound(id)
	}

	row.mu.Lock()
	defer row.mu.Unlock()
	if row.deleted {
		return nil, notFound(id)
	}
	row.deleted = true

	r.mu.Lock()
	delete(r.rows, id)
	r.mu.Unlock()

	e := row.entry
	return &e, nil
}
