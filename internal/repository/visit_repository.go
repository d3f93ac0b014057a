package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/TGOO-Worldwide/siliviat-app/internal/database"
	"github.com/TGOO-Worldwide/siliviat-app/internal/models"
)

const visitColumns = `
	v.id, v.user_id, v.company_id, c.name, v.check_in_at, v.check_in_lat, v.check_in_lng,
	v.check_in_no_gps_reason, v.check_out_at, v.check_out_lat, v.check_out_lng,
	v.check_out_no_gps_reason, v.duration_seconds, v.created_at`

type VisitRepository struct {
	base
}

func NewVisitRepository(db *database.DB) *VisitRepository {
	return &VisitRepository{base{q: db.DB, binder: db}}
}

// WithTx returns a repository bound to tx.
func (r *VisitRepository) WithTx(tx *sql.Tx) *VisitRepository {
	return &VisitRepository{base{q: tx, binder: r.binder}}
}

// Create inserts an open visit. A second open visit for the same user
// violates idx_visits_one_open and yields ErrConflict.
func (r *VisitRepository) Create(ctx context.Context, v *models.Visit) error {
	query := `
		INSERT INTO visits (id, user_id, company_id, check_in_at, check_in_lat, check_in_lng,
			check_in_no_gps_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.exec(ctx, query,
		v.ID,
		v.UserID,
		v.CompanyID,
		v.CheckInAt,
		v.CheckInLat,
		v.CheckInLng,
		v.CheckInNoGpsReason,
		v.CreatedAt,
	)
	if database.IsUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to create visit: %w", err)
	}
	return nil
}

func (r *VisitRepository) GetByID(ctx context.Context, id string) (*models.Visit, error) {
	query := `SELECT ` + visitColumns + `
		FROM visits v LEFT JOIN companies c ON c.id = v.company_id
		WHERE v.id = ?`

	v, err := scanVisit(r.queryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get visit: %w", err)
	}
	return v, nil
}

func (r *VisitRepository) FindOpenByUser(ctx context.Context, userID string) (*models.Visit, error) {
	query := `SELECT ` + visitColumns + `
		FROM visits v LEFT JOIN companies c ON c.id = v.company_id
		WHERE v.user_id = ? AND v.check_out_at IS NULL
		ORDER BY v.check_in_at DESC
		LIMIT 1`

	v, err := scanVisit(r.queryRow(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find open visit: %w", err)
	}
	return v, nil
}

// CloseOpen closes visit id if it is still open. Losing a race with another
// check-out yields ErrConflict.
func (r *VisitRepository) CloseOpen(ctx context.Context, v *models.Visit) error {
	query := `
		UPDATE visits
		SET check_out_at = ?, check_out_lat = ?, check_out_lng = ?,
			check_out_no_gps_reason = ?, duration_seconds = ?
		WHERE id = ? AND check_out_at IS NULL
	`
	result, err := r.exec(ctx, query,
		v.CheckOutAt,
		v.CheckOutLat,
		v.CheckOutLng,
		v.CheckOutNoGpsReason,
		v.DurationSeconds,
		v.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to close visit: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrConflict
	}
	return nil
}

func (r *VisitRepository) SetCompany(ctx context.Context, id, companyID string) error {
	result, err := r.exec(ctx, `UPDATE visits SET company_id = ? WHERE id = ?`, companyID, id)
	if err != nil {
		return fmt.Errorf("failed to set visit company: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

type VisitStatus string

const (
	VisitStatusAny       VisitStatus = ""
	VisitStatusActive    VisitStatus = "active"
	VisitStatusCompleted VisitStatus = "completed"
)

// ListByUser returns the user's visits, newest check-in first.
func (r *VisitRepository) ListByUser(ctx context.Context, userID string, status VisitStatus, limit, offset int) ([]*models.Visit, int, error) {
	where := ` WHERE v.user_id = ?`
	switch status {
	case VisitStatusActive:
		where += ` AND v.check_out_at IS NULL`
	case VisitStatusCompleted:
		where += ` AND v.check_out_at IS NOT NULL`
	}

	var total int
	if err := r.queryRow(ctx, `SELECT COUNT(*) FROM visits v`+where, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count visits: %w", err)
	}

	query := `SELECT ` + visitColumns + `
		FROM visits v LEFT JOIN companies c ON c.id = v.company_id` + where + `
		ORDER BY v.check_in_at DESC
		LIMIT ? OFFSET ?`

	rows, err := r.query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query visits: %w", err)
	}
	defer rows.Close()

	visits := make([]*models.Visit, 0)
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan visit: %w", err)
		}
		visits = append(visits, v)
	}

	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating rows: %w", err)
	}

	return visits, total, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVisit(s scanner) (*models.Visit, error) {
	var (
		v                            models.Visit
		companyID, companyName       sql.NullString
		inLat, inLng, outLat, outLng sql.NullFloat64
		inReason, outReason          sql.NullString
		checkOutAt                   sql.NullTime
		duration                     sql.NullInt64
	)

	err := s.Scan(
		&v.ID,
		&v.UserID,
		&companyID,
		&companyName,
		&v.CheckInAt,
		&inLat,
		&inLng,
		&inReason,
		&checkOutAt,
		&outLat,
		&outLng,
		&outReason,
		&duration,
		&v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	v.CompanyID = nullString(companyID)
	v.CompanyName = nullString(companyName)
	v.CheckInAt = v.CheckInAt.UTC()
	v.CheckInLat = nullFloat(inLat)
	v.CheckInLng = nullFloat(inLng)
	v.CheckInNoGpsReason = nullString(inReason)
	v.CheckOutAt = nullTime(checkOutAt)
	v.CheckOutLat = nullFloat(outLat)
	v.CheckOutLng = nullFloat(outLng)
	v.CheckOutNoGpsReason = nullString(outReason)
	v.DurationSeconds = nullInt(duration)
	v.CreatedAt = v.CreatedAt.UTC()
	return &v, nil
}
