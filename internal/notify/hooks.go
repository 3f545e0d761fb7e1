package notify

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/internal/session"
	"github.com/talkincode/wagate/pkg/common"
)

// AuditHook appends every transition to the event log table.
type AuditHook struct {
	db *gorm.DB
}

func NewAuditHook(db *gorm.DB) *AuditHook {
	return &AuditHook{db: db}
}

func (h *AuditHook) Name() string {
	return "AuditHook"
}

func (h *AuditHook) CanHandle(evt *SessionEvent) bool {
	return true
}

func (h *AuditHook) Handle(ctx context.Context, evt *SessionEvent) error {
	return h.db.WithContext(ctx).Create(&domain.WaEventLog{
		ID:         common.UUIDint64(),
		TenantCode: evt.Tenant,
		Event:      fmt.Sprintf("%s>%s", evt.From, evt.To),
		Detail:     evt.Detail,
		EventTime:  evt.At,
	}).Error
}

// SnapshotHook keeps the durable per-tenant session row in step with
// the in-memory state machine. The rows drive restore after a restart.
type SnapshotHook struct {
	db *gorm.DB
}

func NewSnapshotHook(db *gorm.DB) *SnapshotHook {
	return &SnapshotHook{db: db}
}

func (h *SnapshotHook) Name() string {
	return "SnapshotHook"
}

func (h *SnapshotHook) CanHandle(evt *SessionEvent) bool {
	return true
}

func (h *SnapshotHook) Handle(ctx context.Context, evt *SessionEvent) error {
	var snap domain.WaSession
	err := h.db.WithContext(ctx).
		Where("tenant_code = ?", evt.Tenant).
		First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		snap = domain.WaSession{
			ID:         common.UUIDint64(),
			TenantCode: evt.Tenant,
			State:      evt.To,
		}
		h.stamp(&snap, evt)
		return h.db.WithContext(ctx).Create(&snap).Error
	}
	if err != nil {
		return err
	}

	updates := map[string]interface{}{
		"state": evt.To,
	}
	switch evt.To {
	case session.StateAuthenticated.String():
		updates["jid"] = evt.Detail
		updates["last_online_at"] = evt.At
		updates["last_error"] = ""
		if snap.PairedAt.IsZero() {
			updates["paired_at"] = evt.At
		}
	case session.StateAuthFailed.String(), session.StateDisconnected.String():
		updates["last_error"] = evt.Detail
	}
	return h.db.WithContext(ctx).
		Model(&domain.WaSession{}).
		Where("tenant_code = ?", evt.Tenant).
		Updates(updates).Error
}

func (h *SnapshotHook) stamp(snap *domain.WaSession, evt *SessionEvent) {
	switch evt.To {
	case session.StateAuthenticated.String():
		snap.Jid = evt.Detail
		snap.PairedAt = evt.At
		snap.LastOnlineAt = evt.At
	case session.StateAuthFailed.String(), session.StateDisconnected.String():
		snap.LastError = evt.Detail
	}
}
