package app

import (
	"context"
	"os"
	"runtime/debug"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/panjf2000/ants/v2"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"

	"github.com/asaskevich/EventBus"
	"github.com/talkincode/wagate/config"
	"github.com/talkincode/wagate/internal/billing"
	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/internal/notify"
	"github.com/talkincode/wagate/internal/outbox"
	"github.com/talkincode/wagate/internal/session"
	"github.com/talkincode/wagate/internal/wadriver"
)

const notifyWorkers = 64

type Application struct {
	appConfig     *config.AppConfig
	gormDB        *gorm.DB
	sched         *cron.Cron
	configManager *ConfigManager

	bus        EventBus.Bus
	pool       *ants.Pool
	dispatcher *notify.Dispatcher
	factory    *wadriver.Factory
	billingChk *billing.Checker
	manager    *session.Manager
	outboxSvc  *outbox.Service
}

// Ensure Application implements all interfaces
var (
	_ DBProvider            = (*Application)(nil)
	_ ConfigProvider        = (*Application)(nil)
	_ SettingsProvider      = (*Application)(nil)
	_ SchedulerProvider     = (*Application)(nil)
	_ ConfigManagerProvider = (*Application)(nil)
	_ GatewayProvider       = (*Application)(nil)
	_ AppContext            = (*Application)(nil)
)

var app *Application

// GApp returns the process-wide application instance.
func GApp() *Application {
	return app
}

func NewApplication(appConfig *config.AppConfig) *Application {
	app = &Application{appConfig: appConfig}
	return app
}

func (a *Application) Config() *config.AppConfig {
	return a.appConfig
}

func (a *Application) DB() *gorm.DB {
	return a.gormDB
}

// OverrideDB replaces the application's database handle (used in tests).
func (a *Application) OverrideDB(db *gorm.DB) {
	a.gormDB = db
}

func (a *Application) Init(cfg *config.AppConfig) {
	loc, err := time.LoadLocation(cfg.System.Location)
	if err != nil {
		zap.S().Error("timezone config error")
	} else {
		time.Local = loc
	}

	// Initialize zap logger
	var zapConfig zap.Config
	if cfg.Logger.Mode == "production" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	// Configure output paths
	zapConfig.OutputPaths = []string{"stdout"}
	if cfg.Logger.FileEnable {
		zapConfig.OutputPaths = append(zapConfig.OutputPaths, cfg.Logger.Filename)
	}

	// Build logger with file rotation if enabled
	var logger *zap.Logger
	if cfg.Logger.FileEnable {
		lumberJackLogger := &lumberjack.Logger{
			Filename:   cfg.Logger.Filename,
			MaxSize:    64,
			MaxBackups: 7,
			MaxAge:     7,
			Compress:   false,
		}

		core := zapcore.NewTee(
			zapcore.NewCore(
				zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
				zapcore.AddSync(lumberJackLogger),
				zapConfig.Level,
			),
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
				zapcore.AddSync(os.Stdout),
				zapConfig.Level,
			),
		)
		logger = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	} else {
		logger, err = zapConfig.Build(zap.AddCaller(), zap.AddCallerSkip(1))
		if err != nil {
			panic(err)
		}
	}

	zap.ReplaceGlobals(logger)

	// Initialize database connection
	if cfg.Database.Type == "" {
		cfg.Database.Type = "sqlite"
	}
	a.gormDB = getDatabase(cfg.Database, cfg.System.Workdir)
	zap.S().Infof("Database connection successful, type: %s", cfg.Database.Type)

	// Ensure database schema is migrated before loading configs
	if err := a.MigrateDB(false); err != nil {
		zap.S().Errorf("database migration failed: %v", err)
	}

	// wait for database initialization to complete
	go func() {
		time.Sleep(3 * time.Second)
		a.checkSuper()
		a.checkSettings()
		a.checkTenants()
	}()

	// Initialize the configuration manager
	a.configManager = NewConfigManager(a)

	a.initGateway()
	a.initJob()
}

// initGateway wires the messaging runtime: notification fan-out, the
// driver factory, entitlement checks, the session registry and the
// outbox dispatcher.
func (a *Application) initGateway() {
	var err error

	a.pool, err = ants.NewPool(notifyWorkers)
	if err != nil {
		zap.S().Errorf("notify pool init failed: %v", err)
		return
	}
	a.bus = EventBus.New()
	a.dispatcher, err = notify.NewDispatcher(a.bus, a.pool,
		notify.NewSnapshotHook(a.gormDB),
		notify.NewAuditHook(a.gormDB),
		notify.NewWebhookHook(a.gormDB),
	)
	if err != nil {
		zap.S().Errorf("notify dispatcher init failed: %v", err)
		return
	}

	gw := a.appConfig.Gateway
	a.factory, err = wadriver.NewFactory(wadriver.Config{
		StorageDir:  a.appConfig.GetStorageDir(),
		Driver:      gw.StoreDriver,
		PostgresDSN: gw.StoreDSN,
	})
	if err != nil {
		zap.S().Errorf("credential store init failed: %v", err)
		return
	}

	a.billingChk = billing.NewChecker(a.gormDB, 0)
	a.manager = session.NewManager(a.factory, a.billingChk, session.Config{
		AuthTimeout:    a.gatewaySeconds("auth_timeout", gw.AuthTimeout),
		ChallengeTTL:   a.gatewaySeconds("challenge_ttl", gw.ChallengeTTL),
		CacheTTL:       a.gatewaySeconds("cache_ttl", gw.CacheTTL),
		SignoutTimeout: time.Duration(gw.SignoutTimeout) * time.Second,
		HealthInterval: a.gatewaySeconds("health_interval", gw.HealthInterval),
		Strategy:       gw.ReconnectStrategy,
		HardLogout:     gw.HardLogout,
		OnTransition:   a.dispatcher.Publish,
	})
	a.manager.StartHealthMonitor(context.Background())

	a.outboxSvc = outbox.NewService(a.gormDB, a.manager)
	a.outboxSvc.Tune(
		a.configManager.GetInt("outbox", "batch_size"),
		a.configManager.GetInt("outbox", "max_attempts"),
		time.Duration(a.configManager.GetInt("outbox", "send_timeout"))*time.Second,
	)
	a.outboxSvc.Start(context.Background(), a.gatewaySeconds("dispatch_interval", 10))

	if gw.RestoreOnBoot {
		go a.restoreSessions()
	}
}

// gatewaySeconds resolves a runtime override from sys_config, falling
// back to the config file value. Both are second counts.
func (a *Application) gatewaySeconds(name string, fileValue int) time.Duration {
	if v := a.configManager.GetInt("gateway", name); v > 0 {
		return time.Duration(v) * time.Second
	}
	return time.Duration(fileValue) * time.Second
}

// restoreSessions reconnects every tenant whose snapshot shows a
// completed pairing. Runs once per boot in the background.
func (a *Application) restoreSessions() {
	var rows []domain.WaSession
	if err := a.gormDB.Where("jid <> ''").Find(&rows).Error; err != nil {
		zap.S().Errorf("restore query failed: %v", err)
		return
	}
	if len(rows) == 0 {
		return
	}

	tenants := make([]string, 0, len(rows))
	for _, row := range rows {
		tenants = append(tenants, row.TenantCode)
	}

	limit := a.configManager.GetInt("gateway", "max_restore_workers")
	zap.L().Info("restoring paired sessions",
		zap.Int("count", len(tenants)), zap.Int("workers", limit))
	a.manager.Restore(context.Background(), tenants, limit)
}

func (a *Application) MigrateDB(track bool) (err error) {
	defer func() {
		if err1 := recover(); err1 != nil {
			if os.Getenv("GO_DEGUB_TRACE") != "" {
				debug.PrintStack()
			}
			err2, ok := err1.(error)
			if ok {
				err = err2
				zap.S().Error(err2.Error())
			}
		}
	}()
	if track {
		if err := a.gormDB.Debug().Migrator().AutoMigrate(domain.Tables...); err != nil {
			zap.S().Error(err)
		}
	} else {
		if err := a.gormDB.Migrator().AutoMigrate(domain.Tables...); err != nil {
			zap.S().Error(err)
		}
	}
	return nil
}

func (a *Application) DropAll() {
	_ = a.gormDB.Migrator().DropTable(domain.Tables...)
}

func (a *Application) InitDb() {
	_ = a.gormDB.Migrator().DropTable(domain.Tables...)
	err := a.gormDB.Migrator().AutoMigrate(domain.Tables...)
	if err != nil {
		zap.S().Error(err)
	}
}

// ConfigMgr returns the configuration manager
func (a *Application) ConfigMgr() *ConfigManager {
	return a.configManager
}

// Scheduler returns the cron scheduler
func (a *Application) Scheduler() *cron.Cron {
	return a.sched
}

// SessionManager returns the tenant session registry
func (a *Application) SessionManager() *session.Manager {
	return a.manager
}

// Billing returns the entitlement checker
func (a *Application) Billing() *billing.Checker {
	return a.billingChk
}

// Outbox returns the durable message dispatcher
func (a *Application) Outbox() *outbox.Service {
	return a.outboxSvc
}

// GetSettingsStringValue retrieves a string configuration value
func (a *Application) GetSettingsStringValue(category, key string) string {
	return a.configManager.GetString(category, key)
}

// GetSettingsInt64Value retrieves an int64 configuration value
func (a *Application) GetSettingsInt64Value(category, key string) int64 {
	return a.configManager.GetInt64(category, key)
}

// GetSettingsBoolValue retrieves a boolean configuration value
func (a *Application) GetSettingsBoolValue(category, key string) bool {
	return a.configManager.GetBool(category, key)
}

// SaveSettings persists configuration settings keyed as "type.name".
func (a *Application) SaveSettings(settings map[string]interface{}) error {
	for key, value := range settings {
		parts := strings.SplitN(key, ".", 2)
		if len(parts) != 2 {
			continue
		}
		if err := a.configManager.Set(parts[0], parts[1], value); err != nil {
			return err
		}
	}
	return nil
}

// Release releases application resources
func (a *Application) Release() {
	if a.sched != nil {
		a.sched.Stop()
	}
	if a.outboxSvc != nil {
		a.outboxSvc.Stop()
	}
	if a.manager != nil {
		a.manager.Shutdown()
	}
	if a.dispatcher != nil {
		a.dispatcher.Flush()
	}
	if a.pool != nil {
		a.pool.Release()
	}
	if a.factory != nil {
		_ = a.factory.Close()
	}

	_ = zap.L().Sync()
}
