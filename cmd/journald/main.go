package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/anthonyr0ux/trading-journal-macos/internal/controlplane/server"
	"github.com/anthonyr0ux/trading-journal-macos/internal/ledger"
	"github.com/anthonyr0ux/trading-journal-macos/pkg/config"
	"github.com/anthonyr0ux/trading-journal-macos/pkg/logger"
	"github.com/anthonyr0ux/trading-journal-macos/pkg/shutdown"
	"github.com/anthonyr0ux/trading-journal-macos/pkg/vault"
)

func main() {
	// Load .env (best-effort). If missing, fall back to real env vars.
	_ = godotenv.Load()

	getenv := func(key, def string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return def
	}

	var (
		configPath = flag.String("config", getenv("JOURNAL_CONFIG", "config.yaml"), "config file path")
		listenAddr = flag.String("listen", getenv("JOURNAL_LISTEN", ""), "HTTP listen address")
		dataDir    = flag.String("data-dir", getenv("JOURNAL_DATA_DIR", ""), "base data directory")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if *listenAddr != "" {
		cfg.Listen = *listenAddr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config invalid: %v", err)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Logging.Level,
		OutputFile: cfg.Logging.OutputFile,
		MaxSize:    cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	}); err != nil {
		log.Fatalf("init logger failed: %v", err)
	}

	if err := vault.Initialize(cfg.DataDir); err != nil {
		logger.Errorf("init vault failed: %v", err)
		os.Exit(1)
	}
	secrets, err := vault.Default()
	if err != nil {
		logger.Errorf("vault not available: %v", err)
		os.Exit(1)
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(cfg.DataDir, config.DefaultDBFile)
	}
	l, err := ledger.Open(dbPath)
	if err != nil {
		logger.Errorf("open ledger failed: %v", err)
		os.Exit(1)
	}

	srv := server.New(cfg, l, secrets)
	if err := srv.Start(context.Background()); err != nil {
		logger.Errorf("start scheduler failed: %v", err)
		os.Exit(1)
	}

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Infof("journald listening on %s", cfg.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("http server error: %v", err)
		}
	}()

	sd := shutdown.NewManager()
	sd.OnShutdown(func(ctx context.Context) {
		_ = httpSrv.Shutdown(ctx)
	})
	sd.OnShutdown(func(ctx context.Context) {
		srv.Close()
		_ = l.Close()
	})

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	<-stopCh

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sd.Shutdown(ctx)
	logger.Info("journald stopped")
}
