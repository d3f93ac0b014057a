package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/TGOO-Worldwide/siliviat-app/internal/database"
	"github.com/TGOO-Worldwide/siliviat-app/internal/models"
)

type SaleRepository struct {
	base
}

func NewSaleRepository(db *database.DB) *SaleRepository {
	return &SaleRepository{base{q: db.DB, binder: db}}
}

func (r *SaleRepository) Create(ctx context.Context, s *models.Sale) error {
	query := `
		INSERT INTO sales (id, user_id, company_id, technology_id, visit_id, value_cents, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.exec(ctx, query,
		s.ID, s.UserID, s.CompanyID, s.TechnologyID, s.VisitID, s.ValueCents, s.Notes, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create sale: %w", err)
	}
	return nil
}

// SaleFilter narrows List. Empty fields match everything.
type SaleFilter struct {
	UserID       string
	TechnologyID string
}

// List returns sales newest first.
func (r *SaleRepository) List(ctx context.Context, f SaleFilter, limit, offset int) ([]*models.Sale, int, error) {
	where := " WHERE 1 = 1"
	args := []any{}
	if f.UserID != "" {
		where += " AND user_id = ?"
		args = append(args, f.UserID)
	}
	if f.TechnologyID != "" {
		where += " AND technology_id = ?"
		args = append(args, f.TechnologyID)
	}

	var total int
	if err := r.queryRow(ctx, `SELECT COUNT(*) FROM sales`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count sales: %w", err)
	}

	query := `SELECT id, user_id, company_id, technology_id, visit_id, value_cents, notes, created_at
		FROM sales` + where + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := r.query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query sales: %w", err)
	}
	defer rows.Close()

	sales := make([]*models.Sale, 0)
	for rows.Next() {
		var (
			s       models.Sale
			visitID sql.NullString
			value   sql.NullInt64
			notes   sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.UserID, &s.CompanyID, &s.TechnologyID, &visitID, &value, &notes, &s.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan sale: %w", err)
		}
		s.VisitID = nullString(visitID)
		s.ValueCents = nullInt(value)
		s.Notes = nullString(notes)
		s.CreatedAt = s.CreatedAt.UTC()
		sales = append(sales, &s)
	}

	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating rows: %w", err)
	}
	return sales, total, nil
}
