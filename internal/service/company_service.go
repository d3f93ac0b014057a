package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/TGOO-Worldwide/siliviat-app/internal/models"
	"github.com/TGOO-Worldwide/siliviat-app/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type CompanyService struct {
	companies *repository.CompanyRepository
	audit     auditor
	now       func() time.Time
	logger    *zap.Logger
}

func NewCompanyService(companies *repository.CompanyRepository, audit AuditRecorder, logger *zap.Logger) *CompanyService {
	return &CompanyService{
		companies: companies,
		audit:     auditor{rec: audit, logger: logger},
		now:       time.Now,
		logger:    logger,
	}
}

func (s *CompanyService) Search(ctx context.Context, term string, page models.Pagination) ([]*models.Company, models.Pagination, error) {
	companies, total, err := s.companies.Search(ctx, strings.TrimSpace(term), page.Limit, page.Offset())
	if err != nil {
		return nil, page, err
	}
	return companies, page.WithTotal(total), nil
}

func (s *CompanyService) Get(ctx context.Context, id string) (*models.Company, error) {
	c, err := s.companies.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFound("company")
	}
	return c, err
}

func (s *CompanyService) Create(ctx context.Context, actor Actor, req models.CreateCompanyRequest) (*models.Company, error) {
	c, err := validateCompany(req)
	if err != nil {
		return nil, err
	}

	if _, err := s.companies.FindByName(ctx, c.Name); err == nil {
		return nil, ErrDuplicateCompany
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	c.ID = uuid.NewString()
	c.CreatedAt = s.now().UTC()
	if err := s.companies.Create(ctx, c); errors.Is(err, repository.ErrConflict) {
		return nil, ErrDuplicateCompany
	} else if err != nil {
		return nil, fmt.Errorf("failed to create company: %w", err)
	}

	s.logger.Info("Company created", zap.String("company_id", c.ID), zap.String("name", c.Name))
	s.audit.log(ctx, actor, ActionCompanyCreate, map[string]any{
		"companyId": c.ID,
		"name":      c.Name,
	})
	return c, nil
}

func validateCompany(req models.CreateCompanyRequest) (*models.Company, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, invalid("name", "is required")
	}
	if utf8.RuneCountInString(name) > 255 {
		return nil, invalid("name", "must have at most 255 characters")
	}

	c := &models.Company{Name: name}

	var err error
	if c.Address, err = optional("address", req.Address, 500); err != nil {
		return nil, err
	}
	if c.Phone, err = optional("phone", req.Phone, 50); err != nil {
		return nil, err
	}
	if c.NIF, err = optional("nif", req.NIF, 20); err != nil {
		return nil, err
	}
	if c.Email, err = optional("email", req.Email, 255); err != nil {
		return nil, err
	}
	if c.Email != nil {
		if addr, err := mail.ParseAddress(*c.Email); err != nil || addr.Address != *c.Email {
			return nil, invalid("email", "is not a valid address")
		}
	}
	return c, nil
}

// optional trims v and maps blank values to nil.
func optional(field string, v *string, limit int) (*string, error) {
	if v == nil {
		return nil, nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(trimmed) > limit {
		return nil, invalid(field, fmt.Sprintf("must have at most %d characters", limit))
	}
	return &trimmed, nil
}
