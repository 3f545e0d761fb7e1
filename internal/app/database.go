package app

import (
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/talkincode/wagate/config"
)

// getDatabase opens the application store. Postgres for shared
// deployments, a single sqlite file under the workdir otherwise.
func getDatabase(dbcfg config.DBConfig, workdir string) *gorm.DB {
	logLevel := logger.Silent
	if dbcfg.Debug {
		logLevel = logger.Info
	}
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	}

	var (
		db  *gorm.DB
		err error
	)
	switch dbcfg.Type {
	case "sqlite":
		dsn := filepath.Join(workdir, "data", dbcfg.Name+".db") + "?_journal=WAL&_busy_timeout=5000"
		db, err = gorm.Open(sqlite.Open(dsn), gormConfig)
	default:
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
			dbcfg.Host, dbcfg.User, dbcfg.Passwd, dbcfg.Name, dbcfg.Port)
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	}
	if err != nil {
		zap.S().Panicf("database connect failed: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		zap.S().Panicf("database handle unavailable: %v", err)
	}
	if dbcfg.MaxConn > 0 {
		sqlDB.SetMaxOpenConns(dbcfg.MaxConn)
	}
	if dbcfg.IdleConn > 0 {
		sqlDB.SetMaxIdleConns(dbcfg.IdleConn)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db
}
