package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"go.uber.org/zap"

	"github.com/talkincode/wagate/config"
	"github.com/talkincode/wagate/internal/adminapi"
	"github.com/talkincode/wagate/internal/app"
	"github.com/talkincode/wagate/internal/webserver"
)

// Set at build time with -ldflags "-X main.BuildVersion=..."
var (
	BuildVersion = "latest"
	BuildTime    = ""
)

var (
	h        bool
	v        bool
	x        bool
	initdb   bool
	conffile string
)

func init() {
	flag.BoolVar(&h, "h", false, "help usage")
	flag.BoolVar(&v, "v", false, "print version")
	flag.BoolVar(&x, "x", false, "enable debug")
	flag.BoolVar(&initdb, "initdb", false, "drop and rebuild all tables, data is lost")
	flag.StringVar(&conffile, "c", "", "config file, yaml format")
}

func main() {
	flag.Parse()
	if h {
		flag.Usage()
		return
	}
	if v {
		fmt.Printf("wagate %s %s\n", BuildVersion, BuildTime)
		return
	}

	cfg := config.LoadConfig(conffile)
	if x {
		cfg.System.Debug = true
		cfg.Database.Debug = true
	}

	figure.NewFigure("WaGate", "cybermedium", true).Print()
	fmt.Println()

	a := app.NewApplication(cfg)
	a.Init(cfg)

	if initdb {
		a.InitDb()
		zap.L().Info("database rebuilt, all tables are empty")
		return
	}

	webserver.Init(cfg, a.DB())
	adminapi.InitRouter(&adminapi.Services{
		Config:  cfg,
		Manager: a.SessionManager(),
		Billing: a.Billing(),
		Outbox:  a.Outbox(),
	})

	go func() {
		if err := webserver.Listen(); err != nil {
			zap.L().Fatal("admin api server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	zap.L().Info("shutdown signal received, draining connections")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := webserver.Shutdown(ctx); err != nil {
		zap.L().Warn("web server shutdown", zap.Error(err))
	}
	a.Release()
}
