package adminapi

import (
	"bytes"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/talkincode/wagate/config"
	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/internal/webserver"
	"github.com/talkincode/wagate/pkg/common"
)

const testSecret = "api-test-secret"

type apiEnv struct {
	srv *webserver.WebServer
	db  *gorm.DB
	cfg *config.AppConfig
}

// newTestEnv boots a fresh web server over a throwaway database and
// rewires the route table onto it.
func newTestEnv(t *testing.T, wire func(s *Services)) *apiEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "api.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(domain.Tables...))

	cfg := *config.DefaultAppConfig
	cfg.Web.Secret = testSecret

	srv := webserver.Init(&cfg, db)
	services := &Services{Config: &cfg}
	if wire != nil {
		wire(services)
	}
	InitRouter(services)

	return &apiEnv{srv: srv, db: db, cfg: &cfg}
}

func (e *apiEnv) request(t *testing.T, method, target string, body interface{}, authed bool) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := jsoniter.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if authed {
		token, err := webserver.MintToken(testSecret, "admin", "super")
		require.NoError(t, err)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.srv.Echo().ServeHTTP(rec, req)
	return rec
}

func (e *apiEnv) api(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return e.request(t, method, target, body, true)
}

func (e *apiEnv) public(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return e.request(t, method, target, body, false)
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var envelope map[string]interface{}
	require.NoError(t, jsoniter.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope
}

func dataField(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	data, ok := decodeEnvelope(t, rec)["data"].(map[string]interface{})
	require.True(t, ok, "envelope has no object data field")
	return data
}

func seedTenantRow(t *testing.T, db *gorm.DB, code, status string) *domain.Tenant {
	t.Helper()
	tenant := &domain.Tenant{
		ID:        common.UUIDint64(),
		Code:      code,
		Name:      "Tenant " + code,
		Plan:      "standard",
		Status:    status,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, db.Create(tenant).Error)
	return tenant
}

func seedOperator(t *testing.T, db *gorm.DB, username, password, status string) {
	t.Helper()
	require.NoError(t, db.Create(&domain.SysOpr{
		ID:        common.UUIDint64(),
		Realname:  "Test Operator",
		Username:  username,
		Password:  common.BcryptHash(password),
		Level:     "super",
		Status:    status,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}).Error)
}
