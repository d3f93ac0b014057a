package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/TGOO-Worldwide/siliviat-app/internal/database"
	"github.com/TGOO-Worldwide/siliviat-app/internal/models"
)

type TechnologyRepository struct {
	base
}

func NewTechnologyRepository(db *database.DB) *TechnologyRepository {
	return &TechnologyRepository{base{q: db.DB, binder: db}}
}

func (r *TechnologyRepository) Create(ctx context.Context, t *models.Technology) error {
	_, err := r.exec(ctx,
		`INSERT INTO technologies (id, name, active, created_at) VALUES (?, ?, ?, ?)`,
		t.ID, t.Name, t.Active, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create technology: %w", err)
	}
	return nil
}

func (r *TechnologyRepository) GetByID(ctx context.Context, id string) (*models.Technology, error) {
	var t models.Technology
	err := r.queryRow(ctx,
		`SELECT id, name, active, created_at FROM technologies WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &t.Active, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get technology: %w", err)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

// List returns technologies ordered by name, optionally only active ones.
func (r *TechnologyRepository) List(ctx context.Context, activeOnly bool) ([]*models.Technology, error) {
	query := `SELECT id, name, active, created_at FROM technologies`
	args := []any{}
	if activeOnly {
		query += ` WHERE active = ?`
		args = append(args, true)
	}
	rows, err := r.query(ctx, query+` ORDER BY name ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query technologies: %w", err)
	}
	defer rows.Close()

	techs := make([]*models.Technology, 0)
	for rows.Next() {
		var t models.Technology
		if err := rows.Scan(&t.ID, &t.Name, &t.Active, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan technology: %w", err)
		}
		t.CreatedAt = t.CreatedAt.UTC()
		techs = append(techs, &t)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return techs, nil
}
