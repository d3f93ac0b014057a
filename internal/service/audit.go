package service

import (
	"context"

	"github.com/TGOO-Worldwide/siliviat-app/internal/models"

	"go.uber.org/zap"
)

const (
	ActionVisitCheckin     = "visit.checkin"
	ActionVisitCheckout    = "visit.checkout"
	ActionVisitCompany     = "visit.company"
	ActionCompanyCreate    = "company.create"
	ActionSaleCreate       = "sale.create"
	ActionTechnologyCreate = "technology.create"
)

// Actor is the authenticated caller plus the request details the audit
// trail records.
type Actor struct {
	models.Principal
	IP        string
	UserAgent string
	DeviceID  string
}

type AuditRecorder interface {
	Record(ctx context.Context, e models.AuditEntry) error
}

// auditor writes audit entries and only logs failures.
type auditor struct {
	rec    AuditRecorder
	logger *zap.Logger
}

func (a auditor) log(ctx context.Context, actor Actor, action string, metadata map[string]any) {
	if a.rec == nil {
		return
	}
	if actor.DeviceID != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata["device_id"] = actor.DeviceID
	}
	err := a.rec.Record(ctx, models.AuditEntry{
		UserID:    actor.UserID,
		Action:    action,
		IP:        actor.IP,
		UserAgent: actor.UserAgent,
		Metadata:  metadata,
	})
	if err != nil {
		a.logger.Error("Failed to record audit entry",
			zap.String("action", action),
			zap.String("user_id", actor.UserID),
			zap.Error(err),
		)
	}
}
