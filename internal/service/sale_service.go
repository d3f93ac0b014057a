package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/TGOO-Worldwide/siliviat-app/internal/models"
	"github.com/TGOO-Worldwide/siliviat-app/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type SaleService struct {
	sales        *repository.SaleRepository
	companies    *repository.CompanyRepository
	technologies *repository.TechnologyRepository
	visits       *repository.VisitRepository
	audit        auditor
	now          func() time.Time
	logger       *zap.Logger
}

func NewSaleService(
	sales *repository.SaleRepository,
	companies *repository.CompanyRepository,
	technologies *repository.TechnologyRepository,
	visits *repository.VisitRepository,
	audit AuditRecorder,
	logger *zap.Logger,
) *SaleService {
	return &SaleService{
		sales:        sales,
		companies:    companies,
		technologies: technologies,
		visits:       visits,
		audit:        auditor{rec: audit, logger: logger},
		now:          time.Now,
		logger:       logger,
	}
}

// Create records a sale. Lookups run technology, company, then visit, and
// the first failure wins.
func (s *SaleService) Create(ctx context.Context, actor Actor, req models.CreateSaleRequest) (*models.Sale, error) {
	if strings.TrimSpace(req.TechnologyID) == "" {
		return nil, invalid("technologyId", "is required")
	}
	if strings.TrimSpace(req.CompanyID) == "" {
		return nil, invalid("companyId", "is required")
	}
	if req.ValueCents != nil && *req.ValueCents < 0 {
		return nil, invalid("valueCents", "must not be negative")
	}
	notes, err := optional("notes", req.Notes, 1000)
	if err != nil {
		return nil, err
	}
	visitID, err := optional("visitId", req.VisitID, 255)
	if err != nil {
		return nil, err
	}

	tech, err := s.technologies.GetByID(ctx, req.TechnologyID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFound("technology")
	}
	if err != nil {
		return nil, err
	}
	if !tech.Active {
		return nil, ErrInactiveTechnology
	}

	if _, err := s.companies.GetByID(ctx, req.CompanyID); errors.Is(err, repository.ErrNotFound) {
		return nil, notFound("company")
	} else if err != nil {
		return nil, err
	}

	if visitID != nil {
		v, err := s.visits.GetByID(ctx, *visitID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFound("visit")
		}
		if err != nil {
			return nil, err
		}
		if v.UserID != actor.UserID && !actor.IsAdmin() {
			return nil, ErrForbidden
		}
	}

	sale := &models.Sale{
		ID:           uuid.NewString(),
		UserID:       actor.UserID,
		CompanyID:    req.CompanyID,
		TechnologyID: tech.ID,
		VisitID:      visitID,
		ValueCents:   req.ValueCents,
		Notes:        notes,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.sales.Create(ctx, sale); err != nil {
		return nil, fmt.Errorf("failed to create sale: %w", err)
	}

	s.logger.Info("Sale recorded",
		zap.String("sale_id", sale.ID),
		zap.String("user_id", actor.UserID),
		zap.String("technology_id", tech.ID),
	)
	s.audit.log(ctx, actor, ActionSaleCreate, map[string]any{
		"saleId":       sale.ID,
		"companyId":    sale.CompanyID,
		"technologyId": sale.TechnologyID,
		"visitId":      sale.VisitID,
	})
	return sale, nil
}

// List shows a salesperson their own sales; admins see everyone's.
func (s *SaleService) List(ctx context.Context, actor Actor, technologyID string, page models.Pagination) ([]*models.Sale, models.Pagination, error) {
	filter := repository.SaleFilter{TechnologyID: technologyID}
	if !actor.IsAdmin() {
		filter.UserID = actor.UserID
	}
	sales, total, err := s.sales.List(ctx, filter, page.Limit, page.Offset())
	if err != nil {
		return nil, page, err
	}
	return sales, page.WithTotal(total), nil
}
