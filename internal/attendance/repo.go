package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is a student's recorded presence at an activity. One record per
// (student, activity); the first accepted scan wins.
type Record struct {
	ID         string    `json:"id"`
	StudentID  string    `json:"student_id"`
	ActivityID string    `json:"activity_id"`
	TokenID    string    `json:"token_id"`
	ScannedAt  time.Time `json:"scanned_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists presence records.
type Store interface {
	Upsert(ctx context.Context, scan AcceptedScan) (Record, error)
	ListByActivity(ctx context.Context, activityID string) ([]Record, error)
}

// Repository persists presence records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Upsert records presence, keeping the earliest scan for a student/activity
// pair. Redelivered or retried scans land on the conflict arm and return the
// existing record unchanged.
func (r *Repository) Upsert(ctx context.Context, scan AcceptedScan) (Record, error) {
	rec := Record{
		ID:         uuid.NewString(),
		StudentID:  scan.StudentID,
		ActivityID: scan.ActivityID,
		TokenID:    scan.TokenID,
		ScannedAt:  scan.ScannedAt,
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, student_id, activity_id, token_id, scanned_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (student_id, activity_id) DO NOTHING
		RETURNING created_at
	`, rec.ID, rec.StudentID, rec.ActivityID, rec.TokenID, rec.ScannedAt)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Conflict: the record already exists. Fetch it for the caller.
			return r.get(ctx, scan.StudentID, scan.ActivityID)
		}
		return Record{}, fmt.Errorf("upsert attendance: %w", err)
	}
	return rec, nil
}

func (r *Repository) get(ctx context.Context, studentID, activityID string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, student_id, activity_id, token_id, scanned_at, created_at
		FROM attendance_records
		WHERE student_id = $1 AND activity_id = $2
	`, studentID, activityID)
	var rec Record
	if err := row.Scan(&rec.ID, &rec.StudentID, &rec.ActivityID, &rec.TokenID,
		&rec.ScannedAt, &rec.CreatedAt); err != nil {
		return Record{}, fmt.Errorf("get attendance: %w", err)
	}
	return rec, nil
}

// ListByActivity returns presence records for an activity, newest first.
func (r *Repository) ListByActivity(ctx context.Context, activityID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, student_id, activity_id, token_id, scanned_at, created_at
		FROM attendance_records
		WHERE activity_id = $1
		ORDER BY scanned_at DESC
	`, activityID)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	defer rows.Close()

	var res []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.StudentID, &rec.ActivityID,
			&rec.TokenID, &rec.ScannedAt, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("list attendance: %w", err)
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// MemoryStore keeps presence records in memory for dev mode and tests, with
// the same first-scan-wins behavior as the Postgres upsert.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record // key: studentID + "/" + activityID
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Upsert records presence; duplicates return the existing record.
func (s *MemoryStore) Upsert(_ context.Context, scan AcceptedScan) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scan.StudentID + "/" + scan.ActivityID
	if rec, ok := s.records[key]; ok {
		return rec, nil
	}
	rec := Record{
		ID:         uuid.NewString(),
		StudentID:  scan.StudentID,
		ActivityID: scan.ActivityID,
		TokenID:    scan.TokenID,
		ScannedAt:  scan.ScannedAt,
		CreatedAt:  time.Now().UTC(),
	}
	s.records[key] = rec
	return rec, nil
}

// ListByActivity returns presence records for an activity, newest first.
func (s *MemoryStore) ListByActivity(_ context.Context, activityID string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []Record
	for _, rec := range s.records {
		if rec.ActivityID == activityID {
			res = append(res, rec)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ScannedAt.After(res[j].ScannedAt) })
	return res, nil
}
