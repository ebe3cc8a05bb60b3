package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/acalanto-app/sentinela/internal/api"
	"github.com/acalanto-app/sentinela/internal/audit"
	"github.com/acalanto-app/sentinela/internal/chstore"
	"github.com/acalanto-app/sentinela/internal/obs"
	"github.com/acalanto-app/sentinela/internal/policy"
	"github.com/acalanto-app/sentinela/internal/quota"
	"github.com/acalanto-app/sentinela/internal/risk"
	"github.com/acalanto-app/sentinela/internal/security"
	"github.com/acalanto-app/sentinela/internal/store"
	"github.com/acalanto-app/sentinela/internal/vault"
)

func main() {
	_ = godotenv.Load()

	logger := mustBuildLogger(envOrDefault("SENTINELA_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	httpPort := envOrDefault("SENTINELA_HTTP_PORT", "8080")
	postgresDSN := os.Getenv("POSTGRES_DSN")
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	cacheTTL := envOrDefaultInt("SENTINELA_AUTH_CACHE_TTL_S", 30)
	ipRateRPS := envOrDefaultFloat("SENTINELA_IP_RATE_RPS", 50)
	ipRateBurst := envOrDefaultInt("SENTINELA_IP_RATE_BURST", 100)
	maintenanceSpec := envOrDefault("SENTINELA_MAINTENANCE_CRON", "0 4 * * *")
	aiCredential := os.Getenv("SENTINELA_AI_API_KEY")

	obs.Init()

	logger.Info("starting sentinela server",
		zap.String("http_port", httpPort),
		zap.Bool("postgres", postgresDSN != ""),
		zap.Bool("clickhouse", clickhouseDSN != ""),
	)

	// Master key — hex takes precedence, passphrase derivation is the
	// fallback. Neither set means pass-through mode.
	var master []byte
	if hexKey := os.Getenv("SENTINELA_MASTER_KEY"); hexKey != "" {
		var err error
		master, err = vault.MasterKeyFromHex(hexKey)
		if err != nil {
			logger.Fatal("invalid SENTINELA_MASTER_KEY", zap.Error(err))
		}
	} else if pass := os.Getenv("SENTINELA_MASTER_PASSPHRASE"); pass != "" {
		master = vault.MasterKeyFromPassphrase(pass, envOrDefault("SENTINELA_MASTER_SALT", "sentinela-v1"))
	} else {
		logger.Warn("no master key configured, vault runs in pass-through mode")
	}

	// Postgres — backs rate limits, encryption keys, and API clients.
	// Without a DSN everything falls back to memory (dev only).
	var pgStore *store.Store
	if postgresDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		var err error
		pgStore, err = store.Open(ctx, postgresDSN)
		cancel()
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer func() { _ = pgStore.Close() }()
		logger.Info("postgres connected")
	} else {
		logger.Warn("no POSTGRES_DSN set, using in-memory stores and disabling auth")
	}

	var quotaStore quota.Store = quota.NewMemoryStore()
	var keyStore vault.Store = vault.NewMemoryStore()
	if pgStore != nil {
		quotaStore = pgStore.RateLimits()
		keyStore = pgStore.Keys()
	}

	// ClickHouse — backs the audit trail. Memory fallback otherwise.
	var auditStore audit.Store = audit.NewMemoryStore()
	var chAudit *chstore.AuditStore
	if clickhouseDSN != "" {
		var err error
		chAudit, err = chstore.New(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, audit falls back to memory", zap.Error(err))
		} else {
			auditStore = chAudit
			defer func() { _ = chAudit.Close() }()
			logger.Info("clickhouse connected")
		}
	} else {
		logger.Warn("no CLICKHOUSE_DSN set, audit trail is in-memory only")
	}

	auditRetention := time.Duration(envOrDefaultInt("SENTINELA_AUDIT_RETENTION_DAYS", 730)) * 24 * time.Hour
	auditLogger := audit.New(auditStore, auditRetention, logger)

	riskCfg := risk.DefaultConfig()
	if err := riskCfg.Validate(); err != nil {
		logger.Fatal("invalid risk config", zap.Error(err))
	}

	var primary, auditDB security.Pinger
	if pgStore != nil {
		primary = pgStore
	}
	if chAudit != nil {
		auditDB = chAudit
	}

	sec := security.New(security.Config{
		Policy:       policy.NewEngine(),
		Risk:         risk.NewDetector(riskCfg),
		Quota:        quota.NewGuard(quotaStore, quota.DefaultLimits(), logger),
		Vault:        vault.New(keyStore, master, logger),
		Audit:        auditLogger,
		Primary:      primary,
		AuditDB:      auditDB,
		AICredential: aiCredential,
		Logger:       logger,
	})

	// Daily maintenance: stale rate-limit eviction, audit retention,
	// key rotation.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(maintenanceSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		sec.Maintenance(ctx)
	}); err != nil {
		logger.Fatal("invalid maintenance cron spec", zap.String("spec", maintenanceSpec), zap.Error(err))
	}
	scheduler.Start()

	deps := &api.Dependencies{
		Security:    sec,
		Logger:      logger,
		CacheTTL:    time.Duration(cacheTTL) * time.Second,
		IPRateRPS:   ipRateRPS,
		IPRateBurst: ipRateBurst,
	}
	if pgStore != nil {
		deps.Clients = pgStore.Clients()
	}

	httpServer := &http.Server{
		Addr:         ":" + httpPort,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	// Stop taking requests first, then the scheduler, then drain the
	// audit buffer so nothing recorded in-flight is lost. Store
	// connections close last via the deferred handlers.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}
	<-scheduler.Stop().Done()
	deps.Close()
	auditLogger.Close()

	logger.Info("sentinela server stopped")
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
