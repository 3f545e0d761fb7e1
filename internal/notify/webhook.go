package notify

import (
	"context"
	"time"

	"github.com/guonaihong/gout"
	"github.com/labstack/gommon/random"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/talkincode/wagate/internal/domain"
)

const webhookTimeout = 8 * time.Second

// WebhookHook posts transitions to the tenant's configured endpoint.
// Tenants without a webhook URL are skipped.
type WebhookHook struct {
	db *gorm.DB
}

func NewWebhookHook(db *gorm.DB) *WebhookHook {
	return &WebhookHook{db: db}
}

func (h *WebhookHook) Name() string {
	return "WebhookHook"
}

func (h *WebhookHook) CanHandle(evt *SessionEvent) bool {
	return true
}

func (h *WebhookHook) Handle(ctx context.Context, evt *SessionEvent) error {
	var tenant domain.Tenant
	err := h.db.WithContext(ctx).
		Where("code = ?", evt.Tenant).
		First(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if tenant.WebhookURL == "" {
		return nil
	}

	var code int
	err = gout.POST(tenant.WebhookURL).
		SetHeader(gout.H{
			"User-Agent":    "wagate-webhook/1.0",
			"X-Delivery-Id": random.String(24),
		}).
		SetJSON(gout.H{
			"event":  TopicSessionTransition,
			"tenant": evt.Tenant,
			"from":   evt.From,
			"to":     evt.To,
			"detail": evt.Detail,
			"at":     evt.At.Format(time.RFC3339),
		}).
		SetTimeout(webhookTimeout).
		Code(&code).
		Do()
	if err != nil {
		return errors.Wrap(err, "post webhook")
	}
	if code >= 300 {
		return errors.Errorf("webhook endpoint returned status %d", code)
	}
	return nil
}
