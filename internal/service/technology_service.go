package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/TGOO-Worldwide/siliviat-app/internal/models"
	"github.com/TGOO-Worldwide/siliviat-app/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type TechnologyService struct {
	technologies *repository.TechnologyRepository
	audit        auditor
	now          func() time.Time
}

func NewTechnologyService(technologies *repository.TechnologyRepository, audit AuditRecorder, logger *zap.Logger) *TechnologyService {
	return &TechnologyService{
		technologies: technologies,
		audit:        auditor{rec: audit, logger: logger},
		now:          time.Now,
	}
}

func (s *TechnologyService) List(ctx context.Context, activeOnly bool) ([]*models.Technology, error) {
	return s.technologies.List(ctx, activeOnly)
}

// Create registers a catalog entry. New technologies are active unless the
// request says otherwise.
func (s *TechnologyService) Create(ctx context.Context, actor Actor, req models.CreateTechnologyRequest) (*models.Technology, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, invalid("name", "is required")
	}
	if utf8.RuneCountInString(name) > 255 {
		return nil, invalid("name", "must have at most 255 characters")
	}

	t := &models.Technology{
		ID:        uuid.NewString(),
		Name:      name,
		Active:    req.Active == nil || *req.Active,
		CreatedAt: s.now().UTC(),
	}
	if err := s.technologies.Create(ctx, t); err != nil {
		return nil, err
	}

	s.audit.log(ctx, actor, ActionTechnologyCreate, map[string]any{
		"technologyId": t.ID,
		"name":         t.Name,
		"active":       t.Active,
	})
	return t, nil
}
