package config

import (
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/viper"
	_ "github.com/spf13/viper/remote"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	config       = viper.New()
	configHolder atomic.Value
	backend      = "consul"
	backendAddr  = "127.0.0.1:8500"
	backendPath  = "development" // e.g., app/<env>/<service_name>
	configType   = "yaml"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr     string `mapstructure:"ADDR"`
		Protocol string `mapstructure:"PROTOCOL"`
	} `mapstructure:"OTEL"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Grpc struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"GRPC_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		Metrics        bool   `mapstructure:"METRICS"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Kafka struct {
		Brokers string `mapstructure:"BROKERS"`
		Topic   string `mapstructure:"TOPIC"`
	} `mapstructure:"KAFKA"`
	Loyalty Loyalty `mapstructure:"LOYALTY"`
}

// Loyalty holds the ledger engine settings.
type Loyalty struct {
	LockBackend           string        `mapstructure:"LOCK_BACKEND"`
	LockTTL               time.Duration `mapstructure:"LOCK_TTL"`
	Repository            string        `mapstructure:"REPOSITORY"`
	RepositoryTimeout     time.Duration `mapstructure:"REPOSITORY_TIMEOUT"`
	MaxConflictRetries    int           `mapstructure:"MAX_CONFLICT_RETRIES"`
	NegativeBalancePolicy string        `mapstructure:"NEGATIVE_BALANCE_POLICY"`
	Timezone              string        `mapstructure:"TIMEZONE"`
	CatalogSource         string        `mapstructure:"CATALOG_SOURCE"`
	CatalogPath           string        `mapstructure:"CATALOG_PATH"`
	NotificationSinks     []string      `mapstructure:"NOTIFICATION_SINKS"`
	Points                struct {
		CourseCompletion   int64 `mapstructure:"COURSE_COMPLETION"`
		FirstCourseBonus   int64 `mapstructure:"FIRST_COURSE_BONUS"`
		FirstCourseMinimum int64 `mapstructure:"FIRST_COURSE_MINIMUM"`
		DailyLogin         int64 `mapstructure:"DAILY_LOGIN"`
	} `mapstructure:"POINTS"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))
var RemoteModule = fx.Module("remote.config", fx.Provide(LoadRemote))

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "met-loyalty")
	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("GRPC_SERVER.ADDR", "9090")
	v.SetDefault("DATABASE.TYPE", "sqlite")
	v.SetDefault("DATABASE.DBNAME", "loyalty.db")
	v.SetDefault("DATABASE.HOST", "localhost")
	v.SetDefault("DATABASE.PORT", "5432")
	v.SetDefault("DATABASE.USER", "")
	v.SetDefault("DATABASE.PASSWORD", "")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("DATABASE.METRICS", false)
	v.SetDefault("REDIS.ADDR", "localhost:6379")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.POOL_TIMEOUT", 4*time.Second)
	v.SetDefault("OTEL.ADDR", "")
	v.SetDefault("OTEL.PROTOCOL", "grpc")
	v.SetDefault("PYROSCOPE.ADDR", "")
	v.SetDefault("TLS.ENABLE", false)
	v.SetDefault("KAFKA.BROKERS", "")
	v.SetDefault("KAFKA.TOPIC", "loyalty.notifications")

	v.SetDefault("LOYALTY.LOCK_BACKEND", "memory")
	v.SetDefault("LOYALTY.LOCK_TTL", 10*time.Second)
	v.SetDefault("LOYALTY.REPOSITORY", "database")
	v.SetDefault("LOYALTY.REPOSITORY_TIMEOUT", 3*time.Second)
	v.SetDefault("LOYALTY.MAX_CONFLICT_RETRIES", 3)
	v.SetDefault("LOYALTY.NEGATIVE_BALANCE_POLICY", "reject")
	v.SetDefault("LOYALTY.TIMEZONE", "UTC")
	v.SetDefault("LOYALTY.CATALOG_SOURCE", "default")
	v.SetDefault("LOYALTY.CATALOG_PATH", "")
	v.SetDefault("LOYALTY.NOTIFICATION_SINKS", []string{"log"})
	v.SetDefault("LOYALTY.POINTS.COURSE_COMPLETION", 100)
	v.SetDefault("LOYALTY.POINTS.FIRST_COURSE_BONUS", 100)
	v.SetDefault("LOYALTY.POINTS.FIRST_COURSE_MINIMUM", 200)
	v.SetDefault("LOYALTY.POINTS.DAILY_LOGIN", 10)
}

// Default returns a configuration populated only with defaults.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(err)
	}
	return &cfg
}

func LoadConfig() *Config {
	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()
	setDefaults(config)

	if err := config.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			zap.L().Error("failed to read config", zap.Error(err))
			os.Exit(1)
		}
		zap.L().Warn("config file not found, using defaults and environment")
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	return &cfg
}

func LoadRemote() *Config {
	if v, ok := os.LookupEnv("REMOTE_CONFIG_PROVIDER"); ok {
		backend = v
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_ADDR"); ok {
		backendAddr = v
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_PATH"); ok {
		backendPath = v
	}

	config.SetConfigType(configType)
	setDefaults(config)
	if err := config.AddRemoteProvider(backend, backendAddr, backendPath); err != nil {
		os.Exit(1)
	}

	if err := config.ReadRemoteConfig(); err != nil {
		os.Exit(1)
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		os.Exit(1)
	}
	configHolder.Store(&cfg)

	go func() {
		for {
			time.Sleep(time.Second * 5)

			if err := config.WatchRemoteConfig(); err != nil {
				zap.L().Error("unable to read remote config", zap.Error(err))
				continue
			}

			var newcfg Config
			if err := config.Unmarshal(&newcfg); err != nil {
				zap.L().Error("unable to unmarshal remote config", zap.Error(err))
				continue
			}
			configHolder.Store(&newcfg)
		}
	}()

	return &cfg
}

// Current returns the latest remote configuration, if one was loaded.
func Current() *Config {
	if v, ok := configHolder.Load().(*Config); ok {
		return v
	}
	return nil
}
