package adminapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/talkincode/wagate/internal/webserver"
)

type outboxPayload struct {
	ChatID     string `json:"chat_id" validate:"required,min=3,max=100"`
	Text       string `json:"text" validate:"required,min=1,max=4096"`
	MentionAll bool   `json:"mention_all"`
}

// registerOutboxRoutes registers the durable message queue routes
func registerOutboxRoutes() {
	webserver.ApiPOST("/outbox/:tenant/messages", enqueueMessage)
	webserver.ApiGET("/outbox/messages", listOutbox)
	webserver.ApiPOST("/outbox/dispatch", dispatchOutbox)
}

// enqueueMessage accepts a message for asynchronous delivery. The row
// is durable before this returns, the dispatcher delivers it later.
func enqueueMessage(c echo.Context) error {
	tenant := tenantParam(c)
	if tenant == "" {
		return fail(c, http.StatusBadRequest, "INVALID_TENANT", "Tenant code is required", nil)
	}
	if svc == nil || svc.Outbox == nil {
		return fail(c, http.StatusServiceUnavailable, "OUTBOX_NOT_READY", "Outbox service is not initialized", nil)
	}

	var payload outboxPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse message parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	if svc.Billing != nil {
		if err := svc.Billing.Entitled(c.Request().Context(), tenant); err != nil {
			return failGateway(c, err)
		}
	}

	msg, err := svc.Outbox.Enqueue(c.Request().Context(), tenant, payload.ChatID, payload.Text, payload.MentionAll)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "ENQUEUE_FAILED", "Failed to enqueue message", err.Error())
	}

	return ok(c, msg)
}

func listOutbox(c echo.Context) error {
	if svc == nil || svc.Outbox == nil {
		return fail(c, http.StatusServiceUnavailable, "OUTBOX_NOT_READY", "Outbox service is not initialized", nil)
	}

	page, pageSize := parsePagination(c)
	tenant := strings.TrimSpace(c.QueryParam("tenant"))

	msgs, total, err := svc.Outbox.List(c.Request().Context(), tenant, page, pageSize)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query outbox", err.Error())
	}

	return paged(c, msgs, total, page, pageSize)
}

// dispatchOutbox runs one delivery cycle immediately instead of
// waiting for the ticker. Useful after fixing a tenant's session.
func dispatchOutbox(c echo.Context) error {
	if svc == nil || svc.Outbox == nil {
		return fail(c, http.StatusServiceUnavailable, "OUTBOX_NOT_READY", "Outbox service is not initialized", nil)
	}
	svc.Outbox.DispatchOnce(c.Request().Context())
	return ok(c, map[string]interface{}{"dispatched": true})
}
