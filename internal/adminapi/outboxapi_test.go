package adminapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talkincode/wagate/internal/billing"
	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/internal/outbox"
	"github.com/talkincode/wagate/pkg/common"
)

func TestOutboxEnqueuePersistsPendingMessage(t *testing.T) {
	env := newTestEnv(t, nil)
	svc.Outbox = outbox.NewService(env.db, nil)

	rec := env.api(t, http.MethodPost, "/api/outbox/acme/messages", map[string]interface{}{
		"chat_id": "team@g.us",
		"text":    "deploy done",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	data := dataField(t, rec)
	assert.Equal(t, domain.OutboxStatusPending, data["status"])
	assert.NotEmpty(t, data["message_id"])

	var rows []domain.WaOutboxMessage
	require.NoError(t, env.db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "acme", rows[0].TenantCode)
	assert.Equal(t, "deploy done", rows[0].Content)
}

func TestOutboxEnqueueRejectsUnentitledTenant(t *testing.T) {
	env := newTestEnv(t, nil)
	seedTenantRow(t, env.db, "acme", common.DISABLED)
	svc.Outbox = outbox.NewService(env.db, nil)
	svc.Billing = billing.NewChecker(env.db, 0)

	rec := env.api(t, http.MethodPost, "/api/outbox/acme/messages", map[string]interface{}{
		"chat_id": "team@g.us",
		"text":    "deploy done",
	})

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "NOT_ENTITLED", decodeEnvelope(t, rec)["error"])

	var count int64
	env.db.Model(&domain.WaOutboxMessage{}).Count(&count)
	assert.EqualValues(t, 0, count)
}

func TestOutboxListFiltersByTenant(t *testing.T) {
	env := newTestEnv(t, nil)
	svc.Outbox = outbox.NewService(env.db, nil)

	for _, tenant := range []string{"acme", "acme", "globex"} {
		rec := env.api(t, http.MethodPost, "/api/outbox/"+tenant+"/messages", map[string]interface{}{
			"chat_id": "team@g.us",
			"text":    "ping",
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := env.api(t, http.MethodGet, "/api/outbox/messages?tenant=acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decodeEnvelope(t, rec)["total"])

	all := env.api(t, http.MethodGet, "/api/outbox/messages", nil)
	require.Equal(t, http.StatusOK, all.Code)
	assert.EqualValues(t, 3, decodeEnvelope(t, all)["total"])
}

func TestOutboxValidationRejectsEmptyText(t *testing.T) {
	env := newTestEnv(t, nil)
	svc.Outbox = outbox.NewService(env.db, nil)

	rec := env.api(t, http.MethodPost, "/api/outbox/acme/messages", map[string]interface{}{
		"chat_id": "team@g.us",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeEnvelope(t, rec)["error"])
}
