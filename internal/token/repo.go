package token

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"qrattend/internal/geo"
)

// Repository is the persistence contract for minted tokens. The Postgres
// implementation backs production; the memory implementation backs dev mode
// and tests.
type Repository interface {
	Insert(ctx context.Context, tok Token) error
	Get(ctx context.Context, id string) (Token, error)
	ListByActivity(ctx context.Context, activityID string) ([]Token, error)
	Revoke(ctx context.Context, id string) error
	RecordScan(ctx context.Context, id string) (int64, error)
}

// PGRepository persists tokens in Postgres.
type PGRepository struct {
	db *sql.DB
}

// NewPGRepository creates a repo.
func NewPGRepository(db *sql.DB) *PGRepository {
	return &PGRepository{db: db}
}

// Insert writes a newly minted token.
func (r *PGRepository) Insert(ctx context.Context, tok Token) error {
	var lat, lng, acc *float64
	if tok.Anchor != nil {
		lat, lng, acc = &tok.Anchor.Latitude, &tok.Anchor.Longitude, &tok.Anchor.AccuracyMeters
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_tokens
			(id, activity_id, label, payload, image, issued_by, issued_at,
			 expires_at, active, scans_count, anchor_lat, anchor_lng,
			 anchor_accuracy_m, radius_m)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, tok.ID, tok.ActivityID, tok.Label, tok.Payload, tok.Image, tok.IssuedBy,
		tok.IssuedAt, tok.ExpiresAt, tok.Active, tok.ScanCount, lat, lng, acc,
		tok.RadiusMeters)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

const tokenColumns = `id, activity_id, label, payload, image, issued_by,
	issued_at, expires_at, active, scans_count, anchor_lat, anchor_lng,
	anchor_accuracy_m, radius_m`

func scanToken(row interface{ Scan(...any) error }) (Token, error) {
	var tok Token
	var lat, lng, acc sql.NullFloat64
	err := row.Scan(&tok.ID, &tok.ActivityID, &tok.Label, &tok.Payload,
		&tok.Image, &tok.IssuedBy, &tok.IssuedAt, &tok.ExpiresAt, &tok.Active,
		&tok.ScanCount, &lat, &lng, &acc, &tok.RadiusMeters)
	if err != nil {
		return Token{}, err
	}
	if lat.Valid && lng.Valid {
		tok.Anchor = &geo.Point{
			Latitude:       lat.Float64,
			Longitude:      lng.Float64,
			AccuracyMeters: acc.Float64,
		}
	}
	return tok, nil
}

// Get returns a token by id.
func (r *PGRepository) Get(ctx context.Context, id string) (Token, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM attendance_tokens WHERE id = $1`, id)
	tok, err := scanToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Token{}, ErrNotFound
		}
		return Token{}, fmt.Errorf("get token: %w", err)
	}
	return tok, nil
}

// ListByActivity returns every token minted for an activity, newest first.
func (r *PGRepository) ListByActivity(ctx context.Context, activityID string) ([]Token, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+tokenColumns+` FROM attendance_tokens
		 WHERE activity_id = $1 ORDER BY issued_at DESC`, activityID)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var res []Token
	for rows.Next() {
		tok, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("list tokens: %w", err)
		}
		res = append(res, tok)
	}
	return res, rows.Err()
}

// Revoke deactivates a token. Revoking an already-inactive token is a no-op.
func (r *PGRepository) Revoke(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE attendance_tokens SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordScan increments the scan counter in a single UPDATE so concurrent
// scans of the same token never lose updates, across any number of service
// instances.
func (r *PGRepository) RecordScan(ctx context.Context, id string) (int64, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE attendance_tokens
		SET scans_count = scans_count + 1
		WHERE id = $1
		RETURNING scans_count
	`, id)
	var count int64
	if err := row.Scan(&count); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("record scan: %w", err)
	}
	return count, nil
}
