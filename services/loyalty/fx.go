package loyalty

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"met-loyalty/pkg/config"
	"met-loyalty/pkg/lock"
)

var Module = fx.Module("loyalty",
	fx.Provide(
		NewRepository,
		NewLocker,
		NewEngine,
		NewHandler,
	),
	fx.Invoke(registerRoutes),
)

type RepositoryParams struct {
	fx.In
	Config *config.Config
	DB     *gorm.DB `optional:"true"`
}

// NewRepository selects the account store from LOYALTY.REPOSITORY.
func NewRepository(p RepositoryParams) (Repository, error) {
	switch p.Config.Loyalty.Repository {
	case "memory":
		zap.L().Warn("loyalty accounts are kept in memory and lost on restart")
		return NewMemoryRepository(), nil
	case "database", "":
		if p.DB == nil {
			return nil, errors.New("loyalty repository database requires a database connection")
		}
		if err := p.DB.AutoMigrate(Models()...); err != nil {
			return nil, fmt.Errorf("migrate loyalty tables: %w", err)
		}
		return NewGormRepository(p.DB), nil
	default:
		return nil, fmt.Errorf("unknown loyalty repository %q", p.Config.Loyalty.Repository)
	}
}

type LockerParams struct {
	fx.In
	Config *config.Config
	Redis  *redis.Client `optional:"true"`
}

// NewLocker selects per-account locking from LOYALTY.LOCK_BACKEND. The redis
// backend serializes accounts across instances.
func NewLocker(p LockerParams) (lock.Locker, error) {
	switch p.Config.Loyalty.LockBackend {
	case "redis":
		if p.Redis == nil {
			return nil, errors.New("loyalty lock backend redis requires a redis client")
		}
		return lock.NewRedis(p.Redis, p.Config.Loyalty.LockTTL), nil
	case "memory", "":
		return lock.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown loyalty lock backend %q", p.Config.Loyalty.LockBackend)
	}
}

func registerRoutes(r *gin.Engine, h *Handler) {
	h.Register(r)
}
