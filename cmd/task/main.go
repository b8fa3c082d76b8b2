package main

import (
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"met-loyalty/pkg/config"
	"met-loyalty/pkg/grafana/pyroscope"
	"met-loyalty/pkg/logger"
	"met-loyalty/pkg/otelcol"
	"met-loyalty/pkg/task"
	"met-loyalty/services/notification"
)

// The worker drains the notification queue the API enqueues into when the
// asynq sink is enabled, and hands each event to the log and kafka sinks.
func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		otelcol.Module,
		pyroscope.ProvidePyroscope,
		task.Server,
		notification.TaskModule,
		fx.Invoke(func(trace.TracerProvider) {}),
		fxLogger,
	)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
