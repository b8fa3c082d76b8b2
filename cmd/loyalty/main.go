package main

import (
	"log"
	"os"
	"slices"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"met-loyalty/pkg/config"
	"met-loyalty/pkg/db"
	"met-loyalty/pkg/gen"
	"met-loyalty/pkg/grafana/pyroscope"
	"met-loyalty/pkg/health"
	"met-loyalty/pkg/logger"
	"met-loyalty/pkg/otelcol"
	"met-loyalty/pkg/redis"
	"met-loyalty/pkg/sequence"
	"met-loyalty/pkg/server"
	"met-loyalty/pkg/task"
	"met-loyalty/services/catalog"
	"met-loyalty/services/loyalty"
	"met-loyalty/services/notification"
)

func main() {
	cfg := loadConfig()

	opts := []fx.Option{
		fx.Supply(cfg),
		logger.Module,
		otelcol.Module,
		pyroscope.ProvidePyroscope,
		gen.Module,
		sequence.Module,
		health.Module,
		catalog.Module,
		notification.Module,
		loyalty.Module,
		server.ProvideHTTPServer,
		server.ProvideGRPCServer,
		fxLogger,
	}

	// only dial what the configured backends use
	if cfg.Loyalty.Repository != "memory" || cfg.Loyalty.CatalogSource == "database" {
		opts = append(opts, db.Module)
	}
	if cfg.Loyalty.LockBackend == "redis" {
		opts = append(opts, redis.Module)
	}
	if slices.ContainsFunc(cfg.Loyalty.NotificationSinks, func(s string) bool { return strings.EqualFold(s, notification.SinkAsynq) }) {
		opts = append(opts, task.Client)
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

func loadConfig() *config.Config {
	if _, ok := os.LookupEnv("REMOTE_CONFIG_PROVIDER"); ok {
		return config.LoadRemote()
	}
	return config.LoadConfig()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "development" {
		return &fxevent.ZapLogger{Logger: logger}
	}
	return fxevent.NopLogger
})
