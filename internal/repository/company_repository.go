package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/TGOO-Worldwide/siliviat-app/internal/database"
	"github.com/TGOO-Worldwide/siliviat-app/internal/models"
)

type CompanyRepository struct {
	base
}

func NewCompanyRepository(db *database.DB) *CompanyRepository {
	return &CompanyRepository{base{q: db.DB, binder: db}}
}

// Create inserts c. A name already taken, ignoring case, yields ErrConflict.
func (r *CompanyRepository) Create(ctx context.Context, c *models.Company) error {
	query := `
		INSERT INTO companies (id, name, address, phone, email, nif, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.exec(ctx, query, c.ID, c.Name, c.Address, c.Phone, c.Email, c.NIF, c.CreatedAt)
	if database.IsUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to create company: %w", err)
	}
	return nil
}

func (r *CompanyRepository) GetByID(ctx context.Context, id string) (*models.Company, error) {
	query := `SELECT id, name, address, phone, email, nif, created_at FROM companies WHERE id = ?`

	c, err := scanCompany(r.queryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	return c, nil
}

func (r *CompanyRepository) FindByName(ctx context.Context, name string) (*models.Company, error) {
	query := `SELECT id, name, address, phone, email, nif, created_at FROM companies WHERE LOWER(name) = LOWER(?)`

	c, err := scanCompany(r.queryRow(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find company: %w", err)
	}
	return c, nil
}

// Search matches name substrings case-insensitively, ordered by name.
func (r *CompanyRepository) Search(ctx context.Context, term string, limit, offset int) ([]*models.Company, int, error) {
	where := ""
	args := []any{}
	if term != "" {
		where = ` WHERE LOWER(name) LIKE ? ESCAPE '\'`
		args = append(args, likePattern(term))
	}

	var total int
	if err := r.queryRow(ctx, `SELECT COUNT(*) FROM companies`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count companies: %w", err)
	}

	query := `SELECT id, name, address, phone, email, nif, created_at FROM companies` + where +
		` ORDER BY name ASC LIMIT ? OFFSET ?`
	rows, err := r.query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query companies: %w", err)
	}
	defer rows.Close()

	companies := make([]*models.Company, 0)
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan company: %w", err)
		}
		companies = append(companies, c)
	}

	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating rows: %w", err)
	}

	return companies, total, nil
}

func scanCompany(s scanner) (*models.Company, error) {
	var (
		c                          models.Company
		address, phone, email, nif sql.NullString
	)
	if err := s.Scan(&c.ID, &c.Name, &address, &phone, &email, &nif, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Address = nullString(address)
	c.Phone = nullString(phone)
	c.Email = nullString(email)
	c.NIF = nullString(nif)
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}
