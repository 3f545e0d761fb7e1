package adminapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/internal/webserver"
)

const (
	defaultChallengeWait = 30 * time.Second
	maxChallengeWait     = 120 * time.Second
)

type sendPayload struct {
	ChatID string `json:"chat_id" validate:"required,min=3,max=100"`
	Text   string `json:"text" validate:"required,min=1,max=4096"`
}

// registerGatewayRoutes registers the live session operations
func registerGatewayRoutes() {
	webserver.ApiGET("/gateway/sessions", listSessions)
	webserver.ApiGET("/gateway/snapshots", listSnapshots)
	webserver.ApiGET("/gateway/:tenant/status", getSessionStatus)
	webserver.ApiGET("/gateway/:tenant/challenge", getChallenge)
	webserver.ApiPOST("/gateway/:tenant/connect", connectSession)
	webserver.ApiGET("/gateway/:tenant/groups", listGroups)
	webserver.ApiPOST("/gateway/:tenant/send", sendText)
	webserver.ApiPOST("/gateway/:tenant/mention-all", sendMentionAll)
	webserver.ApiPOST("/gateway/:tenant/logout", logoutSession)
}

func tenantParam(c echo.Context) string {
	return strings.TrimSpace(c.Param("tenant"))
}

// listSessions reports every tenant currently holding a registry slot.
func listSessions(c echo.Context) error {
	gw := gatewayManager()
	if gw == nil {
		return fail(c, http.StatusServiceUnavailable, "GATEWAY_NOT_READY", "Gateway runtime is not initialized", nil)
	}
	tenants := gw.Tenants()
	statuses := make([]interface{}, 0, len(tenants))
	for _, tenant := range tenants {
		statuses = append(statuses, gw.Status(tenant))
	}
	return ok(c, statuses)
}

// listSnapshots pages the persisted session states, which survive
// restarts and cover tenants with no live slot.
func listSnapshots(c echo.Context) error {
	page, pageSize := parsePagination(c)

	db := GetDB(c).Model(&domain.WaSession{})
	if tenant := strings.TrimSpace(c.QueryParam("tenant")); tenant != "" {
		db = db.Where("tenant_code = ?", tenant)
	}
	if state := strings.TrimSpace(c.QueryParam("state")); state != "" {
		db = db.Where("state = ?", state)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query session snapshots", err.Error())
	}

	var rows []domain.WaSession
	if err := db.Order("updated_at DESC").Offset((page-1)*pageSize).Limit(pageSize).Find(&rows).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query session snapshots", err.Error())
	}

	return paged(c, rows, total, page, pageSize)
}

func getSessionStatus(c echo.Context) error {
	tenant := tenantParam(c)
	if tenant == "" {
		return fail(c, http.StatusBadRequest, "INVALID_TENANT", "Tenant code is required", nil)
	}
	gw := gatewayManager()
	if gw == nil {
		return fail(c, http.StatusServiceUnavailable, "GATEWAY_NOT_READY", "Gateway runtime is not initialized", nil)
	}
	return ok(c, gw.Status(tenant))
}

// getChallenge blocks until the tenant has a pairing code, logs in
// silently from stored credentials, or the wait window ends.
func getChallenge(c echo.Context) error {
	tenant := tenantParam(c)
	if tenant == "" {
		return fail(c, http.StatusBadRequest, "INVALID_TENANT", "Tenant code is required", nil)
	}
	gw := gatewayManager()
	if gw == nil {
		return fail(c, http.StatusServiceUnavailable, "GATEWAY_NOT_READY", "Gateway runtime is not initialized", nil)
	}

	wait := defaultChallengeWait
	if v := c.QueryParam("wait"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			wait = time.Duration(secs) * time.Second
		}
	}
	if wait > maxChallengeWait {
		wait = maxChallengeWait
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), wait)
	defer cancel()

	info, err := gw.Challenge(ctx, tenant)
	if err != nil {
		return failGateway(c, err)
	}
	return ok(c, info)
}

// connectSession warms the session up without waiting for pairing, so
// a restored credential store reconnects in the background.
func connectSession(c echo.Context) error {
	tenant := tenantParam(c)
	if tenant == "" {
		return fail(c, http.StatusBadRequest, "INVALID_TENANT", "Tenant code is required", nil)
	}
	gw := gatewayManager()
	if gw == nil {
		return fail(c, http.StatusServiceUnavailable, "GATEWAY_NOT_READY", "Gateway runtime is not initialized", nil)
	}
	if svc.Billing != nil {
		if err := svc.Billing.Entitled(c.Request().Context(), tenant); err != nil {
			return failGateway(c, err)
		}
	}
	if _, err := gw.Acquire(c.Request().Context(), tenant); err != nil {
		return failGateway(c, err)
	}
	return ok(c, gw.Status(tenant))
}

func listGroups(c echo.Context) error {
	tenant := tenantParam(c)
	if tenant == "" {
		return fail(c, http.StatusBadRequest, "INVALID_TENANT", "Tenant code is required", nil)
	}
	gw := gatewayManager()
	if gw == nil {
		return fail(c, http.StatusServiceUnavailable, "GATEWAY_NOT_READY", "Gateway runtime is not initialized", nil)
	}
	groups, err := gw.ListGroups(c.Request().Context(), tenant)
	if err != nil {
		return failGateway(c, err)
	}
	return ok(c, groups)
}

func sendText(c echo.Context) error {
	tenant := tenantParam(c)
	if tenant == "" {
		return fail(c, http.StatusBadRequest, "INVALID_TENANT", "Tenant code is required", nil)
	}
	gw := gatewayManager()
	if gw == nil {
		return fail(c, http.StatusServiceUnavailable, "GATEWAY_NOT_READY", "Gateway runtime is not initialized", nil)
	}

	var payload sendPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse message parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	id, err := gw.Send(c.Request().Context(), tenant, payload.ChatID, payload.Text)
	if err != nil {
		return failGateway(c, err)
	}
	return ok(c, map[string]interface{}{"message_id": id})
}

func sendMentionAll(c echo.Context) error {
	tenant := tenantParam(c)
	if tenant == "" {
		return fail(c, http.StatusBadRequest, "INVALID_TENANT", "Tenant code is required", nil)
	}
	gw := gatewayManager()
	if gw == nil {
		return fail(c, http.StatusServiceUnavailable, "GATEWAY_NOT_READY", "Gateway runtime is not initialized", nil)
	}

	var payload sendPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse message parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	id, err := gw.MentionAll(c.Request().Context(), tenant, payload.ChatID, payload.Text)
	if err != nil {
		return failGateway(c, err)
	}
	return ok(c, map[string]interface{}{"message_id": id})
}

// logoutSession evicts the tenant. purge=true additionally removes the
// stored credentials so the next connect starts from a fresh pairing.
func logoutSession(c echo.Context) error {
	tenant := tenantParam(c)
	if tenant == "" {
		return fail(c, http.StatusBadRequest, "INVALID_TENANT", "Tenant code is required", nil)
	}
	gw := gatewayManager()
	if gw == nil {
		return fail(c, http.StatusServiceUnavailable, "GATEWAY_NOT_READY", "Gateway runtime is not initialized", nil)
	}

	purge := svc.Config != nil && svc.Config.Gateway.HardLogout
	if v := strings.TrimSpace(c.QueryParam("purge")); v != "" {
		purge = v == "true" || v == "1"
	}

	existed := gw.Logout(c.Request().Context(), tenant, purge)
	return ok(c, map[string]interface{}{"existed": existed, "purged": purge})
}
