package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/TGOO-Worldwide/siliviat-app/internal/database"
	"github.com/TGOO-Worldwide/siliviat-app/internal/models"
	"github.com/TGOO-Worldwide/siliviat-app/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MinReasonLength is the shortest accepted justification for a missing
// position, after trimming.
const MinReasonLength = 3

// VisitService owns the visit state machine: a user has at most one open
// visit, opened by check-in and closed by check-out.
type VisitService struct {
	db        *database.DB
	visits    *repository.VisitRepository
	companies *repository.CompanyRepository
	audit     auditor
	now       func() time.Time
	logger    *zap.Logger
}

func NewVisitService(db *database.DB, visits *repository.VisitRepository, companies *repository.CompanyRepository, audit AuditRecorder, logger *zap.Logger) *VisitService {
	return &VisitService{
		db:        db,
		visits:    visits,
		companies: companies,
		audit:     auditor{rec: audit, logger: logger},
		now:       time.Now,
		logger:    logger,
	}
}

type position struct {
	lat, lng *float64
	reason   *string
}

func (p position) hasGPS() bool {
	return p.lat != nil && p.lng != nil
}

func resolvePosition(lat, lng *float64, reason *string) (position, error) {
	p := position{lat: lat, lng: lng}
	if p.hasGPS() {
		if *lat < -90 || *lat > 90 {
			return position{}, invalid("lat", "must be between -90 and 90")
		}
		if *lng < -180 || *lng > 180 {
			return position{}, invalid("lng", "must be between -180 and 180")
		}
		return p, nil
	}

	if reason == nil {
		return position{}, ErrGPSRequired
	}
	trimmed := strings.TrimSpace(*reason)
	if utf8.RuneCountInString(trimmed) < MinReasonLength {
		return position{}, ErrGPSRequired
	}
	return position{reason: &trimmed}, nil
}

func (s *VisitService) CheckIn(ctx context.Context, actor Actor, req models.CheckinRequest) (*models.CheckinVisit, error) {
	pos, err := resolvePosition(req.CheckInLat, req.CheckInLng, req.NoGpsReason)
	if err != nil {
		return nil, err
	}

	if req.CompanyID != nil {
		if _, err := s.companies.GetByID(ctx, *req.CompanyID); errors.Is(err, repository.ErrNotFound) {
			return nil, notFound("company")
		} else if err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	v := &models.Visit{
		ID:                 uuid.NewString(),
		UserID:             actor.UserID,
		CompanyID:          req.CompanyID,
		CheckInAt:          now,
		CreatedAt:          now,
		CheckInNoGpsReason: pos.reason,
	}
	if pos.hasGPS() {
		v.CheckInLat, v.CheckInLng = pos.lat, pos.lng
	}

	err = s.db.InTx(ctx, func(tx *sql.Tx) error {
		visits := s.visits.WithTx(tx)

		_, err := visits.FindOpenByUser(ctx, actor.UserID)
		if err == nil {
			return ErrVisitAlreadyOpen
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		if err := visits.Create(ctx, v); errors.Is(err, repository.ErrConflict) {
			return ErrVisitAlreadyOpen
		} else if err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrVisitAlreadyOpen) {
			return nil, fmt.Errorf("failed to check in: %w", err)
		}
		return nil, err
	}

	s.logger.Info("Visit checked in",
		zap.String("visit_id", v.ID),
		zap.String("user_id", actor.UserID),
		zap.Bool("has_gps", pos.hasGPS()),
	)
	s.audit.log(ctx, actor, ActionVisitCheckin, map[string]any{
		"visitId":     v.ID,
		"companyId":   v.CompanyID,
		"hasGps":      pos.hasGPS(),
		"noGpsReason": pos.reason,
	})

	return &models.CheckinVisit{ID: v.ID, CheckInAt: v.CheckInAt, CompanyID: v.CompanyID}, nil
}

func (s *VisitService) CheckOut(ctx context.Context, actor Actor, req models.CheckoutRequest) (*models.CheckoutVisit, error) {
	pos, err := resolvePosition(req.CheckOutLat, req.CheckOutLng, req.NoGpsReason)
	if err != nil {
		return nil, err
	}

	open, err := s.visits.FindOpenByUser(ctx, actor.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNoOpenVisit
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check out: %w", err)
	}

	now := s.now().UTC()
	duration := durationSeconds(open.CheckInAt, now)
	open.CheckOutAt = &now
	open.DurationSeconds = &duration
	open.CheckOutNoGpsReason = pos.reason
	if pos.hasGPS() {
		open.CheckOutLat, open.CheckOutLng = pos.lat, pos.lng
	}

	if err := s.visits.CloseOpen(ctx, open); errors.Is(err, repository.ErrConflict) {
		return nil, ErrNoOpenVisit
	} else if err != nil {
		return nil, fmt.Errorf("failed to check out: %w", err)
	}

	s.logger.Info("Visit checked out",
		zap.String("visit_id", open.ID),
		zap.String("user_id", actor.UserID),
		zap.Int64("duration_seconds", duration),
	)
	s.audit.log(ctx, actor, ActionVisitCheckout, map[string]any{
		"visitId":         open.ID,
		"durationSeconds": duration,
		"hasGps":          pos.hasGPS(),
		"noGpsReason":     pos.reason,
	})

	return &models.CheckoutVisit{
		ID:              open.ID,
		CheckInAt:       open.CheckInAt,
		CheckOutAt:      now,
		DurationSeconds: duration,
	}, nil
}

// Active returns the caller's open visit, or nil when there is none.
func (s *VisitService) Active(ctx context.Context, userID string) (*models.ActiveVisit, error) {
	v, err := s.visits.FindOpenByUser(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &models.ActiveVisit{
		ID:          v.ID,
		CheckInAt:   v.CheckInAt,
		CompanyID:   v.CompanyID,
		CompanyName: v.CompanyName,
	}, nil
}

func (s *VisitService) List(ctx context.Context, userID string, status repository.VisitStatus, page models.Pagination) ([]*models.Visit, models.Pagination, error) {
	visits, total, err := s.visits.ListByUser(ctx, userID, status, page.Limit, page.Offset())
	if err != nil {
		return nil, page, err
	}
	return visits, page.WithTotal(total), nil
}

// AssociateCompany links a company to a visit owned by the caller, or to
// any visit for an admin.
func (s *VisitService) AssociateCompany(ctx context.Context, actor Actor, visitID, companyID string) (*models.Visit, error) {
	if strings.TrimSpace(companyID) == "" {
		return nil, invalid("companyId", "is required")
	}

	v, err := s.visits.GetByID(ctx, visitID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFound("visit")
	}
	if err != nil {
		return nil, err
	}
	if v.UserID != actor.UserID && !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	company, err := s.companies.GetByID(ctx, companyID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFound("company")
	}
	if err != nil {
		return nil, err
	}

	if err := s.visits.SetCompany(ctx, v.ID, company.ID); err != nil {
		return nil, err
	}

	s.audit.log(ctx, actor, ActionVisitCompany, map[string]any{
		"visitId":           v.ID,
		"companyId":         company.ID,
		"previousCompanyId": v.CompanyID,
	})

	v.CompanyID = &company.ID
	v.CompanyName = &company.Name
	return v, nil
}

// durationSeconds is whole seconds from in to out, never negative.
func durationSeconds(in, out time.Time) int64 {
	d := int64(out.Sub(in) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}
