package webserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/talkincode/wagate/config"
)

// ContextKeyDB is the echo context key carrying the gorm handle.
const ContextKeyDB = "gdb"

var server *WebServer

// WebServer wraps the echo instance. The /api group requires a bearer
// token, the pub group is open for login and liveness.
type WebServer struct {
	root *echo.Echo
	api  *echo.Group
	pub  *echo.Group
	cfg  *config.AppConfig
}

// CustomValidator bridges go-playground validation into echo binding.
type CustomValidator struct {
	validate *validator.Validate
}

func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.validate.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// Init builds the global web server. Call once at startup, before any
// route registration.
func Init(appConfig *config.AppConfig, gdb *gorm.DB) *WebServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &CustomValidator{validate: validator.New()}
	e.Use(middleware.Recover())
	e.Use(zapLoggerMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(ContextKeyDB, gdb)
			return next(c)
		}
	})

	s := &WebServer{
		root: e,
		pub:  e.Group("/pub"),
		api:  e.Group("/api"),
		cfg:  appConfig,
	}
	s.api.Use(echojwt.WithConfig(echojwt.Config{
		SigningKey: []byte(appConfig.Web.Secret),
	}))

	e.GET("/status", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	server = s
	return s
}

// Listen blocks serving HTTP until shutdown.
func Listen() error {
	addr := fmt.Sprintf("%s:%d", server.cfg.Web.Host, server.cfg.Web.Port)
	zap.L().Info("admin api listening",
		zap.String("namespace", "web"),
		zap.String("addr", addr),
	)
	err := server.root.Start(addr)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func Shutdown(ctx context.Context) error {
	if server == nil {
		return nil
	}
	return server.root.Shutdown(ctx)
}

// Instance returns the live server, nil before Init. Tests build their
// own echo instances instead.
func Instance() *WebServer {
	return server
}

// Echo exposes the underlying engine.
func (s *WebServer) Echo() *echo.Echo {
	return s.root
}

// ApiGET registers an authenticated GET route.
func ApiGET(path string, h echo.HandlerFunc) {
	server.api.GET(path, h)
}

// ApiPOST registers an authenticated POST route.
func ApiPOST(path string, h echo.HandlerFunc) {
	server.api.POST(path, h)
}

// ApiPUT registers an authenticated PUT route.
func ApiPUT(path string, h echo.HandlerFunc) {
	server.api.PUT(path, h)
}

// ApiDELETE registers an authenticated DELETE route.
func ApiDELETE(path string, h echo.HandlerFunc) {
	server.api.DELETE(path, h)
}

// PubPOST registers an unauthenticated POST route under /pub.
func PubPOST(path string, h echo.HandlerFunc) {
	server.pub.POST(path, h)
}

func zapLoggerMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			req := c.Request()
			res := c.Response()
			fields := []zap.Field{
				zap.String("namespace", "web"),
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Int("status", res.Status),
				zap.Duration("latency", time.Since(start)),
				zap.String("remote", c.RealIP()),
			}
			if err != nil {
				fields = append(fields, zap.Error(err))
				zap.L().Warn("http request", fields...)
				return err
			}
			zap.L().Debug("http request", fields...)
			return nil
		}
	}
}
