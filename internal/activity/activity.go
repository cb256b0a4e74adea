// Package activity reads the activity records owned by the external CRUD
// layer. Only the scan window is needed here; nothing in this service writes
// activities.
package activity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"qrattend/internal/timing"
)

// ErrNotFound means the activity id does not resolve.
var ErrNotFound = errors.New("activity not found")

// Directory resolves an activity's scan window.
type Directory interface {
	Window(ctx context.Context, activityID string) (timing.Window, error)
}

// PGDirectory reads activities from Postgres.
type PGDirectory struct {
	db *sql.DB
}

// NewPGDirectory creates a directory.
func NewPGDirectory(db *sql.DB) *PGDirectory {
	return &PGDirectory{db: db}
}

// Window returns the activity's start/end times.
func (d *PGDirectory) Window(ctx context.Context, activityID string) (timing.Window, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT starts_at, ends_at FROM activities WHERE id = $1`, activityID)
	var w timing.Window
	if err := row.Scan(&w.Start, &w.End); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return timing.Window{}, ErrNotFound
		}
		return timing.Window{}, fmt.Errorf("activity window: %w", err)
	}
	return w, nil
}

// MemoryDirectory is a seedable in-memory directory for dev mode and tests.
type MemoryDirectory struct {
	mu      sync.RWMutex
	windows map[string]timing.Window
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{windows: make(map[string]timing.Window)}
}

// Put registers an activity window.
func (d *MemoryDirectory) Put(activityID string, w timing.Window) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.windows[activityID] = w
}

// Window returns the activity's start/end times.
func (d *MemoryDirectory) Window(_ context.Context, activityID string) (timing.Window, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	w, ok := d.windows[activityID]
	if !ok {
		return timing.Window{}, ErrNotFound
	}
	return w, nil
}
