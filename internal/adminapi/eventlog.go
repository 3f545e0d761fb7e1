package adminapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/internal/webserver"
)

// registerEventLogRoutes registers the audit trail routes
func registerEventLogRoutes() {
	webserver.ApiGET("/events", listEvents)
	webserver.ApiGET("/oprlogs", listOprLogs)
}

// listEvents pages the session lifecycle audit trail, newest first.
func listEvents(c echo.Context) error {
	page, pageSize := parsePagination(c)

	db := GetDB(c).Model(&domain.WaEventLog{})
	if tenant := strings.TrimSpace(c.QueryParam("tenant")); tenant != "" {
		db = db.Where("tenant_code = ?", tenant)
	}
	if event := strings.TrimSpace(c.QueryParam("event")); event != "" {
		db = db.Where("event = ?", event)
	}
	if start := strings.TrimSpace(c.QueryParam("start")); start != "" {
		if ts, err := time.Parse(time.RFC3339, start); err == nil {
			db = db.Where("event_time >= ?", ts)
		}
	}
	if end := strings.TrimSpace(c.QueryParam("end")); end != "" {
		if ts, err := time.Parse(time.RFC3339, end); err == nil {
			db = db.Where("event_time <= ?", ts)
		}
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query events", err.Error())
	}

	var events []domain.WaEventLog
	if err := db.Order("event_time DESC").Offset((page-1)*pageSize).Limit(pageSize).Find(&events).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query events", err.Error())
	}

	return paged(c, events, total, page, pageSize)
}

func listOprLogs(c echo.Context) error {
	page, pageSize := parsePagination(c)

	db := GetDB(c).Model(&domain.SysOprLog{})
	if name := strings.TrimSpace(c.QueryParam("opr_name")); name != "" {
		db = db.Where("opr_name = ?", name)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query operator logs", err.Error())
	}

	var logs []domain.SysOprLog
	if err := db.Order("opt_time DESC").Offset((page-1)*pageSize).Limit(pageSize).Find(&logs).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query operator logs", err.Error())
	}

	return paged(c, logs, total, page, pageSize)
}
