package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/TGOO-Worldwide/siliviat-app/internal/database"
	"github.com/TGOO-Worldwide/siliviat-app/internal/models"

	"github.com/google/uuid"
)

type AuditRepository struct {
	base
	now func() time.Time
}

func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{base: base{q: db.DB, binder: db}, now: time.Now}
}

func (r *AuditRepository) Record(ctx context.Context, e models.AuditEntry) error {
	var metadata []byte
	if len(e.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(e.Metadata); err != nil {
			return fmt.Errorf("failed to marshal audit metadata: %w", err)
		}
	}

	_, err := r.exec(ctx,
		`INSERT INTO audit_log (id, user_id, action, ip, user_agent, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), e.UserID, e.Action, e.IP, e.UserAgent, string(metadata), r.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// CountByAction reports how many entries exist for action.
func (r *AuditRepository) CountByAction(ctx context.Context, action string) (int, error) {
	var n int
	if err := r.queryRow(ctx, `SELECT COUNT(*) FROM audit_log WHERE action = ?`, action).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}
	return n, nil
}
