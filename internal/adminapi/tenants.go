package adminapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/internal/webserver"
	"github.com/talkincode/wagate/pkg/common"
)

type tenantPayload struct {
	Code         string `json:"code" validate:"required,min=1,max=50"`
	Name         string `json:"name" validate:"required,min=1,max=200"`
	Plan         string `json:"plan" validate:"omitempty,max=50"`
	PlanExpireAt string `json:"plan_expire_at" validate:"omitempty"`
	WebhookURL   string `json:"webhook_url" validate:"omitempty,url,max=500"`
	Status       string `json:"status" validate:"omitempty,oneof=enabled disabled"`
	Remark       string `json:"remark" validate:"omitempty,max=500"`
}

type tenantUpdatePayload struct {
	Name         *string `json:"name" validate:"omitempty,min=1,max=200"`
	Plan         *string `json:"plan" validate:"omitempty,max=50"`
	PlanExpireAt *string `json:"plan_expire_at" validate:"omitempty"`
	WebhookURL   *string `json:"webhook_url" validate:"omitempty,max=500"`
	Status       *string `json:"status" validate:"omitempty,oneof=enabled disabled"`
	Remark       *string `json:"remark" validate:"omitempty,max=500"`
}

// registerTenantRoutes registers tenant CRUD routes
func registerTenantRoutes() {
	webserver.ApiGET("/tenants", listTenants)
	webserver.ApiGET("/tenants/:id", getTenant)
	webserver.ApiPOST("/tenants", createTenant)
	webserver.ApiPUT("/tenants/:id", updateTenant)
	webserver.ApiDELETE("/tenants/:id", deleteTenant)
}

func listTenants(c echo.Context) error {
	page, pageSize := parsePagination(c)

	db := GetDB(c).Model(&domain.Tenant{})
	if q := strings.TrimSpace(c.QueryParam("q")); q != "" {
		if strings.EqualFold(db.Name(), "postgres") { //nolint:staticcheck
			db = db.Where("code ILIKE ? OR name ILIKE ?", "%"+q+"%", "%"+q+"%")
		} else {
			db = db.Where("LOWER(code) LIKE ? OR LOWER(name) LIKE ?", "%"+strings.ToLower(q)+"%", "%"+strings.ToLower(q)+"%")
		}
	}
	if status := strings.TrimSpace(c.QueryParam("status")); status != "" {
		db = db.Where("status = ?", status)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query tenants", err.Error())
	}

	var tenants []domain.Tenant
	if err := db.Order("id DESC").Offset((page-1)*pageSize).Limit(pageSize).Find(&tenants).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query tenants", err.Error())
	}

	return paged(c, tenants, total, page, pageSize)
}

func getTenant(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid tenant ID", nil)
	}

	var t domain.Tenant
	if err := GetDB(c).Where("id = ?", id).First(&t).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusNotFound, "TENANT_NOT_FOUND", "Tenant not found", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query tenant", err.Error())
	}

	return ok(c, t)
}

func createTenant(c echo.Context) error {
	var payload tenantPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse tenant parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	payload.Code = strings.TrimSpace(payload.Code)
	payload.Name = strings.TrimSpace(payload.Name)

	expireAt, err := parsePlanExpire(payload.PlanExpireAt)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "plan_expire_at must be RFC3339 or YYYY-MM-DD", nil)
	}

	var exists int64
	GetDB(c).Model(&domain.Tenant{}).Where("code = ?", payload.Code).Count(&exists)
	if exists > 0 {
		return fail(c, http.StatusConflict, "TENANT_EXISTS", "Tenant code already exists", nil)
	}

	tenant := domain.Tenant{
		ID:           common.UUIDint64(),
		Code:         payload.Code,
		Name:         payload.Name,
		Plan:         payload.Plan,
		PlanExpireAt: expireAt,
		WebhookURL:   strings.TrimSpace(payload.WebhookURL),
		Status:       common.IfEmptyStr(payload.Status, common.ENABLED),
		Remark:       payload.Remark,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	if err := GetDB(c).Create(&tenant).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to create tenant", err.Error())
	}

	return ok(c, tenant)
}

func updateTenant(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid tenant ID", nil)
	}

	var payload tenantUpdatePayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse tenant parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	var t domain.Tenant
	if err := GetDB(c).Where("id = ?", id).First(&t).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusNotFound, "TENANT_NOT_FOUND", "Tenant not found", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query tenant", err.Error())
	}

	if payload.Name != nil {
		t.Name = strings.TrimSpace(*payload.Name)
	}
	if payload.Plan != nil {
		t.Plan = *payload.Plan
	}
	if payload.PlanExpireAt != nil {
		expireAt, err := parsePlanExpire(*payload.PlanExpireAt)
		if err != nil {
			return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "plan_expire_at must be RFC3339 or YYYY-MM-DD", nil)
		}
		t.PlanExpireAt = expireAt
	}
	if payload.WebhookURL != nil {
		t.WebhookURL = strings.TrimSpace(*payload.WebhookURL)
	}
	if payload.Status != nil {
		t.Status = *payload.Status
	}
	if payload.Remark != nil {
		t.Remark = *payload.Remark
	}
	t.UpdatedAt = time.Now()

	if err := GetDB(c).Save(&t).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to update tenant", err.Error())
	}

	// Plan or status edits must take effect before the cached verdict ages out.
	if svc != nil && svc.Billing != nil {
		svc.Billing.Forget(t.Code)
	}

	return ok(c, t)
}

func deleteTenant(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid tenant ID", nil)
	}

	var t domain.Tenant
	if err := GetDB(c).Where("id = ?", id).First(&t).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusNotFound, "TENANT_NOT_FOUND", "Tenant not found", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query tenant", err.Error())
	}

	// Refuse while a session holds the registry slot, the operator must
	// log the tenant out first.
	if gw := gatewayManager(); gw != nil {
		if st := gw.Status(t.Code); st.State != "ABSENT" {
			return fail(c, http.StatusConflict, "TENANT_IN_USE", "Tenant has a live session and cannot be deleted", map[string]interface{}{"state": st.State})
		}
	}

	if err := GetDB(c).Where("id = ?", id).Delete(&domain.Tenant{}).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to delete tenant", err.Error())
	}

	if svc != nil && svc.Billing != nil {
		svc.Billing.Forget(t.Code)
	}

	return ok(c, map[string]interface{}{"id": id})
}

func parsePlanExpire(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339, v); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02", v)
}
