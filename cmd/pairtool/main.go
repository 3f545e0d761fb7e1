package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/mdp/qrterminal/v3"
	"go.uber.org/zap"

	"github.com/talkincode/wagate/internal/session"
	"github.com/talkincode/wagate/internal/wadriver"
)

// pairtool links a tenant to a WhatsApp account from a terminal. It
// renders the pairing QR inline and keeps refreshing it while the
// server rotates codes, so the credential store ends up ready for the
// gateway to pick up on its next boot.
var (
	tenant   string
	storeDir string
	driver   string
	storeDSN string
	waitSec  int
	x        bool
)

func init() {
	flag.StringVar(&tenant, "tenant", "", "tenant code to pair")
	flag.StringVar(&storeDir, "store", "./wastore", "credential store directory")
	flag.StringVar(&driver, "driver", "sqlite", "store backend, sqlite or postgres")
	flag.StringVar(&storeDSN, "dsn", "", "postgres dsn when -driver postgres")
	flag.IntVar(&waitSec, "wait", 180, "seconds to wait for the scan")
	flag.BoolVar(&x, "x", false, "enable debug output")
}

func main() {
	flag.Parse()
	if tenant == "" {
		flag.Usage()
		os.Exit(2)
	}
	if x {
		logger, _ := zap.NewDevelopment()
		zap.ReplaceGlobals(logger)
	}

	factory, err := wadriver.NewFactory(wadriver.Config{
		StorageDir:  storeDir,
		Driver:      driver,
		PostgresDSN: storeDSN,
	})
	if err != nil {
		log.Fatalf("failed to open credential store: %v", err)
	}
	defer factory.Close()

	m := session.NewManager(factory, session.AllowAll{}, session.Config{
		AuthTimeout: time.Duration(waitSec) * time.Second,
	})
	defer m.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(waitSec)*time.Second)
	defer cancel()

	info, err := m.Challenge(ctx, tenant)
	if err != nil {
		log.Fatalf("failed to start pairing: %v", err)
	}
	if info.State == "AUTHENTICATED" {
		st := m.Status(tenant)
		fmt.Printf("Tenant %s is already paired as %s\n", tenant, st.AccountID)
		return
	}

	fmt.Println("Scan with WhatsApp on your phone: Settings > Linked Devices > Link a Device")
	renderCode(info.Code)

	// The server rotates the code every few seconds, keep the terminal
	// in sync until the scan lands or the window closes.
	lastCode := info.Code
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Fatalf("pairing window closed without a scan")
		case <-ticker.C:
		}

		st := m.Status(tenant)
		if st.LoggedIn {
			fmt.Printf("\nPaired. Tenant %s is now %s\n", tenant, st.AccountID)
			return
		}
		if st.State == "AUTH_FAILED" {
			log.Fatalf("pairing rejected: %s", st.LastError)
		}

		probe, cancelProbe := context.WithTimeout(ctx, 3*time.Second)
		refreshed, err := m.Challenge(probe, tenant)
		cancelProbe()
		if err != nil {
			continue
		}
		if refreshed.State == "AUTHENTICATED" {
			st := m.Status(tenant)
			fmt.Printf("\nPaired. Tenant %s is now %s\n", tenant, st.AccountID)
			return
		}
		if refreshed.Code != "" && refreshed.Code != lastCode {
			lastCode = refreshed.Code
			fmt.Println("\nCode rotated, scan the fresh one:")
			renderCode(refreshed.Code)
		}
	}
}

func renderCode(code string) {
	if code == "" {
		return
	}
	qrterminal.GenerateHalfBlock(code, qrterminal.L, os.Stdout)
}
