package fetchconfig

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo keeps rows in process. Used by tests and leadctl dry runs.
type MemoryRepo struct {
	mu     sync.RWMutex
	nextID int64
	rows   map[int64]Row
	now    func() time.Time
}

func NewMemoryRepo(rows ...Row) *MemoryRepo {
	r := &MemoryRepo{rows: map[int64]Row{}, now: time.Now}
	for _, row := range rows {
		_, _ = r.Create(context.Background(), row)
	}
	return r
}

func (r *MemoryRepo) Lookup(_ context.Context, k Key) (Row, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, row := range r.rows {
		if sameKey(row.Key, k) {
			return row, true, nil
		}
	}
	return Row{}, false, nil
}

func (r *MemoryRepo) List(_ context.Context) ([]Row, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Row, 0, len(r.rows))
	for _, row := range r.rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepo) Get(_ context.Context, id int64) (Row, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.rows[id]
	if !ok {
		return Row{}, ErrNotFound
	}
	return row, nil
}

func (r *MemoryRepo) Create(_ context.Context, in Row) (Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conflictLocked(in.Key, 0) {
		return Row{}, ErrDuplicate
	}
	r.nextID++
	in.ID = r.nextID
	in.CreatedAt = r.now()
	in.UpdatedAt = in.CreatedAt
	r.rows[in.ID] = in
	return in, nil
}

func (r *MemoryRepo) Update(_ context.Context, in Row) (Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.rows[in.ID]
	if !ok {
		return Row{}, ErrNotFound
	}
	if r.conflictLocked(in.Key, in.ID) {
		return Row{}, ErrDuplicate
	}
	in.CreatedAt = old.CreatedAt
	in.UpdatedAt = r.now()
	r.rows[in.ID] = in
	return in, nil
}

func (r *MemoryRepo) Delete(_ context.Context, id int64) (Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return Row{}, ErrNotFound
	}
	delete(r.rows, id)
	return row, nil
}

func (r *MemoryRepo) conflictLocked(k Key, exceptID int64) bool {
	for id, row := range r.rows {
		if id != exceptID && sameKey(row.Key, k) {
			return true
		}
	}
	return false
}

func sameKey(a, b Key) bool {
	if a.RoleID != b.RoleID {
		return false
	}
	if a.BranchID == nil || b.BranchID == nil {
		return a.BranchID == nil && b.BranchID == nil
	}
	return *a.BranchID == *b.BranchID
}
