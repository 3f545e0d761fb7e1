package adminapi

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talkincode/wagate/internal/billing"
	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/pkg/common"
)

func TestTenantCreateAndFetch(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.api(t, http.MethodPost, "/api/tenants", map[string]interface{}{
		"code":           "acme",
		"name":           "Acme Corp",
		"plan":           "standard",
		"plan_expire_at": "2027-01-31",
		"webhook_url":    "https://hooks.acme.example/wa",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	data := dataField(t, rec)
	assert.Equal(t, "acme", data["code"])
	assert.Equal(t, common.ENABLED, data["status"])

	var row domain.Tenant
	require.NoError(t, env.db.Where("code = ?", "acme").First(&row).Error)
	assert.Equal(t, "Acme Corp", row.Name)
	assert.Equal(t, 2027, row.PlanExpireAt.Year())

	fetch := env.api(t, http.MethodGet, fmt.Sprintf("/api/tenants/%d", row.ID), nil)
	require.Equal(t, http.StatusOK, fetch.Code)
	assert.Equal(t, "acme", dataField(t, fetch)["code"])
}

func TestTenantDuplicateCodeConflicts(t *testing.T) {
	env := newTestEnv(t, nil)
	seedTenantRow(t, env.db, "acme", common.ENABLED)

	rec := env.api(t, http.MethodPost, "/api/tenants", map[string]interface{}{
		"code": "acme",
		"name": "Second Acme",
	})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "TENANT_EXISTS", decodeEnvelope(t, rec)["error"])
}

func TestTenantListFilters(t *testing.T) {
	env := newTestEnv(t, nil)
	seedTenantRow(t, env.db, "acme", common.ENABLED)
	seedTenantRow(t, env.db, "globex", common.DISABLED)

	rec := env.api(t, http.MethodGet, "/api/tenants?q=acm", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	envelope := decodeEnvelope(t, rec)
	assert.EqualValues(t, 1, envelope["total"])

	byStatus := env.api(t, http.MethodGet, "/api/tenants?status=disabled", nil)
	require.Equal(t, http.StatusOK, byStatus.Code)
	assert.EqualValues(t, 1, decodeEnvelope(t, byStatus)["total"])
}

func TestTenantUpdateDropsCachedVerdict(t *testing.T) {
	env := newTestEnv(t, nil)
	row := seedTenantRow(t, env.db, "acme", common.ENABLED)

	checker := billing.NewChecker(env.db, 0)
	svc.Billing = checker
	require.NoError(t, checker.Entitled(context.Background(), "acme"))

	rec := env.api(t, http.MethodPut, fmt.Sprintf("/api/tenants/%d", row.ID), map[string]interface{}{
		"status": "disabled",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// Without the Forget call the cached verdict would still pass here.
	assert.Error(t, checker.Entitled(context.Background(), "acme"))
}

func TestTenantDeleteGuardsLiveSession(t *testing.T) {
	factory := newFakeFactory()
	env := newTestEnv(t, func(s *Services) {
		s.Manager = newTestManager(t, factory, nil)
	})
	row := seedTenantRow(t, env.db, "acme", common.ENABLED)

	warm := env.api(t, http.MethodPost, "/api/gateway/acme/connect", nil)
	require.Equal(t, http.StatusOK, warm.Code)

	rec := env.api(t, http.MethodDelete, fmt.Sprintf("/api/tenants/%d", row.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "TENANT_IN_USE", decodeEnvelope(t, rec)["error"])

	logout := env.api(t, http.MethodPost, "/api/gateway/acme/logout", nil)
	require.Equal(t, http.StatusOK, logout.Code)

	again := env.api(t, http.MethodDelete, fmt.Sprintf("/api/tenants/%d", row.ID), nil)
	require.Equal(t, http.StatusOK, again.Code)

	var count int64
	env.db.Model(&domain.Tenant{}).Where("code = ?", "acme").Count(&count)
	assert.EqualValues(t, 0, count)
}

func TestTenantUpdateUnknownID(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.api(t, http.MethodPut, "/api/tenants/999999", map[string]interface{}{
		"name": "Nobody",
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "TENANT_NOT_FOUND", decodeEnvelope(t, rec)["error"])
}
