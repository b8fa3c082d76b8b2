package pyroscope

import (
	"context"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"met-loyalty/pkg/config"
)

var ProvidePyroscope = fx.Module("pyroscope",
	fx.Provide(NewConfig),
	fx.Invoke(Start),
)

func NewConfig(cfg *config.Config) pyroscope.Config {
	return pyroscope.Config{
		ApplicationName: cfg.AppName,
		ServerAddress:   cfg.Pyroscope.Addr,
		Logger:          zap.S().Named("pyroscope"),
		Tags: map[string]string{
			"env":     cfg.AppEnv,
			"version": cfg.AppVersion,
		},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,

			// lock contention on the per-account mutexes shows up here
			pyroscope.ProfileGoroutines,
			pyroscope.ProfileMutexCount,
			pyroscope.ProfileMutexDuration,
			pyroscope.ProfileBlockCount,
			pyroscope.ProfileBlockDuration,
		},
	}
}

// Start runs the profiler for the lifetime of the app. Nothing happens
// when PYROSCOPE.ADDR is empty.
func Start(lc fx.Lifecycle, cfg pyroscope.Config) {
	if cfg.ServerAddress == "" {
		return
	}

	var profiler *pyroscope.Profiler
	lc.Append(fx.Hook{
		OnStart: func(context.Context) (err error) {
			profiler, err = pyroscope.Start(cfg)
			return err
		},
		OnStop: func(context.Context) error {
			if profiler == nil {
				return nil
			}
			return profiler.Stop()
		},
	})
}
