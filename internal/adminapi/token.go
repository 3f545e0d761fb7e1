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

type loginPayload struct {
	Username string `json:"username" validate:"required,min=1,max=100"`
	Password string `json:"password" validate:"required,min=1,max=200"`
}

// registerTokenRoutes registers the operator login route
func registerTokenRoutes() {
	webserver.PubPOST("/token", createToken)
}

func createToken(c echo.Context) error {
	var payload loginPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse login parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	username := strings.TrimSpace(payload.Username)

	var opr domain.SysOpr
	err := GetDB(c).Where("username = ?", username).First(&opr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !common.BcryptCheck(opr.Password, payload.Password)) {
		// One answer for unknown user and wrong password.
		return fail(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query operator", err.Error())
	}

	if opr.Status == common.DISABLED {
		return fail(c, http.StatusForbidden, "OPERATOR_DISABLED", "Operator account is disabled", nil)
	}

	token, err := webserver.MintToken(svc.Config.Web.Secret, opr.Username, opr.Level)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "TOKEN_ERROR", "Failed to sign token", err.Error())
	}

	now := time.Now()
	GetDB(c).Model(&domain.SysOpr{}).Where("id = ?", opr.ID).Update("last_login", now)
	GetDB(c).Create(&domain.SysOprLog{
		ID:        common.UUIDint64(),
		OprName:   opr.Username,
		OprIp:     c.RealIP(),
		OptAction: "login",
		OptDesc:   "Issued API token",
		OptTime:   now,
	})

	return ok(c, map[string]interface{}{
		"token":    token,
		"username": opr.Username,
		"level":    opr.Level,
		"expires":  now.Add(webserver.TokenTTL).Unix(),
	})
}
