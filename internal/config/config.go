package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Server        ServerConfig        `mapstructure:"server"`
	Log           LogConfig           `mapstructure:"log"`
	DB            DBConfig            `mapstructure:"db"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Cron          CronConfig          `mapstructure:"cron"`
	Upstream      UpstreamConfig      `mapstructure:"upstream"`
	RecordingSync RecordingSyncConfig `mapstructure:"recording_sync"`
	SearchIndex   SearchIndexConfig   `mapstructure:"search_index"`
	Auth          AuthConfig          `mapstructure:"auth"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type CronConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	RecordingSync string `mapstructure:"recording_sync"`
}

// UpstreamConfig describes the recording platform session API.
type UpstreamConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	Breaker           BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MinRequests  uint32        `mapstructure:"min_requests"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
}

// RecordingSyncConfig holds the sync engine tunables. The overlap and lookback
// windows are deployment specific; the defaults match observed upstream lag.
type RecordingSyncConfig struct {
	SyncType               string        `mapstructure:"sync_type"`
	PageSize               int           `mapstructure:"page_size"`
	MaxPagesPerRun         int           `mapstructure:"max_pages_per_run"`
	PageDelay              time.Duration `mapstructure:"page_delay"`
	OverlapWindow          time.Duration `mapstructure:"overlap_window"`
	DefaultLookback        time.Duration `mapstructure:"default_lookback"`
	FutureSkewLookback     time.Duration `mapstructure:"future_skew_lookback"`
	BackfillDays           int           `mapstructure:"backfill_days"`
	BackfillMaxDaysPerRun  int           `mapstructure:"backfill_max_days_per_run"`
	BackfillMaxPagesPerDay int           `mapstructure:"backfill_max_pages_per_day"`
	HistoryLimit           int           `mapstructure:"history_limit"`
}

type SearchIndexConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	Workers   int           `mapstructure:"workers"`
	QueueSize int           `mapstructure:"queue_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
	BatchSize int           `mapstructure:"rebuild_batch_size"`
}

type AuthConfig struct {
	Disabled  bool   `mapstructure:"disabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Role      string `mapstructure:"role"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.recording_sync", "@every 5m")

	v.SetDefault("upstream.base_url", "")
	v.SetDefault("upstream.api_key", "")
	v.SetDefault("upstream.timeout", "30s")
	v.SetDefault("upstream.requests_per_second", 2.0)
	v.SetDefault("upstream.burst", 1)
	v.SetDefault("upstream.breaker.enabled", true)
	v.SetDefault("upstream.breaker.max_requests", 1)
	v.SetDefault("upstream.breaker.interval", "1m")
	v.SetDefault("upstream.breaker.timeout", "2m")
	v.SetDefault("upstream.breaker.min_requests", 5)
	v.SetDefault("upstream.breaker.failure_ratio", 0.6)

	v.SetDefault("recording_sync.sync_type", "recordings")
	v.SetDefault("recording_sync.page_size", 100)
	v.SetDefault("recording_sync.max_pages_per_run", 50)
	v.SetDefault("recording_sync.page_delay", "500ms")
	v.SetDefault("recording_sync.overlap_window", "30m")
	v.SetDefault("recording_sync.default_lookback", "24h")
	v.SetDefault("recording_sync.future_skew_lookback", "168h")
	v.SetDefault("recording_sync.backfill_days", 180)
	v.SetDefault("recording_sync.backfill_max_days_per_run", 7)
	v.SetDefault("recording_sync.backfill_max_pages_per_day", 500)
	v.SetDefault("recording_sync.history_limit", 20)

	v.SetDefault("search_index.enabled", true)
	v.SetDefault("search_index.key_prefix", "callsync")
	v.SetDefault("search_index.workers", 2)
	v.SetDefault("search_index.queue_size", 1024)
	v.SetDefault("search_index.timeout", "5s")
	v.SetDefault("search_index.rebuild_batch_size", 200)

	v.SetDefault("auth.disabled", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.role", "admin")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
