package adminapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/talkincode/wagate/config"
	"github.com/talkincode/wagate/internal/billing"
	"github.com/talkincode/wagate/internal/outbox"
	"github.com/talkincode/wagate/internal/session"
	"github.com/talkincode/wagate/internal/webserver"
)

// Services carries the gateway runtime the handlers call into, wired
// once by InitRouter during startup.
type Services struct {
	Config  *config.AppConfig
	Manager *session.Manager
	Billing *billing.Checker
	Outbox  *outbox.Service
}

var svc *Services

// GetDB fetches the request-scoped gorm handle injected by the web server.
func GetDB(c echo.Context) *gorm.DB {
	return c.Get(webserver.ContextKeyDB).(*gorm.DB)
}

func gatewayManager() *session.Manager {
	if svc == nil {
		return nil
	}
	return svc.Manager
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"code": 0,
		"data": data,
	})
}

func fail(c echo.Context, status int, code, message string, detail interface{}) error {
	body := map[string]interface{}{
		"code":    1,
		"error":   code,
		"message": message,
	}
	if detail != nil {
		body["detail"] = detail
	}
	return c.JSON(status, body)
}

func paged(c echo.Context, items interface{}, total int64, page, pageSize int) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"code":      0,
		"data":      items,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func parsePagination(c echo.Context) (page, pageSize int) {
	page, _ = strconv.Atoi(c.QueryParam("page"))
	pageSize, _ = strconv.Atoi(c.QueryParam("page_size"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 500 {
		pageSize = 500
	}
	return page, pageSize
}

func parseIDParam(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

func handleValidationError(c echo.Context, err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "Request validation failed", he.Message)
	}
	return fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "Request validation failed", err.Error())
}

// failGateway maps session sentinels onto the HTTP taxonomy so callers
// can branch on status and error code without parsing messages.
func failGateway(c echo.Context, err error) error {
	switch {
	case errors.Is(err, session.ErrNotEntitled):
		return fail(c, http.StatusForbidden, "NOT_ENTITLED", "Tenant plan does not allow this operation", err.Error())
	case errors.Is(err, session.ErrNotAGroup):
		return fail(c, http.StatusBadRequest, "NOT_A_GROUP", "Target chat is not a group", err.Error())
	case errors.Is(err, session.ErrAuthTimeout):
		return fail(c, http.StatusGatewayTimeout, "AUTH_TIMEOUT", "Pairing did not complete in time", err.Error())
	case errors.Is(err, session.ErrAuthRejected):
		return fail(c, http.StatusConflict, "AUTH_REJECTED", "Messaging account rejected the session", err.Error())
	case errors.Is(err, session.ErrNotReady):
		return fail(c, http.StatusConflict, "SESSION_NOT_READY", "Session is not authenticated", err.Error())
	case errors.Is(err, session.ErrConstruction):
		return fail(c, http.StatusBadGateway, "SESSION_CONSTRUCTION_FAILED", "Session could not be built", err.Error())
	case errors.Is(err, session.ErrUpstream):
		return fail(c, http.StatusBadGateway, "UPSTREAM_ERROR", "Messaging service call failed", err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fail(c, http.StatusGatewayTimeout, "REQUEST_TIMEOUT", "Operation timed out", err.Error())
	default:
		return fail(c, http.StatusInternalServerError, "GATEWAY_ERROR", "Gateway operation failed", err.Error())
	}
}
