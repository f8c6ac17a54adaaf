package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "EVENTLOG_DB_DSN"
	EnvDBHost = "EVENTLOG_DB_HOST"
	EnvDBUser = "EVENTLOG_DB_USER"
	EnvDBName = "EVENTLOG_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App        AppConfig
	Service    ServiceConfig
	DB         DBConfig
	Redis      RedisConfig
	ClickHouse ClickHouseConfig
	Outbox     OutboxConfig
	Buffer     BufferConfig
	Cron       CronConfig
	Metrics    MetricsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	// Env doubles as the environment tag stamped on every outbox record.
	Env          string `envconfig:"EVENTLOG_APP_ENV" required:"true"`
	Port         string `envconfig:"EVENTLOG_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"EVENTLOG_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"EVENTLOG_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool   `envconfig:"EVENTLOG_AUTO_MIGRATE" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"EVENTLOG_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"EVENTLOG_DB_DSN"`
	Driver string `envconfig:"EVENTLOG_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"EVENTLOG_DB_HOST"`
	LegacyPort     int    `envconfig:"EVENTLOG_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"EVENTLOG_DB_USER"`
	LegacyPassword string `envconfig:"EVENTLOG_DB_PASSWORD"`
	LegacyName     string `envconfig:"EVENTLOG_DB_NAME"`
	LegacySSLMode  string `envconfig:"EVENTLOG_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"EVENTLOG_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"EVENTLOG_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"EVENTLOG_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"EVENTLOG_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"EVENTLOG_REDIS_URL"`
	Address      string        `envconfig:"EVENTLOG_REDIS_ADDR"`
	Password     string        `envconfig:"EVENTLOG_REDIS_PASSWORD"`
	DB           int           `envconfig:"EVENTLOG_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"EVENTLOG_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"EVENTLOG_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"EVENTLOG_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"EVENTLOG_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"EVENTLOG_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type ClickHouseConfig struct {
	Addr          string        `envconfig:"EVENTLOG_CLICKHOUSE_ADDR" default:"localhost:9000"`
	Database      string        `envconfig:"EVENTLOG_CLICKHOUSE_DATABASE" default:"default"`
	Username      string        `envconfig:"EVENTLOG_CLICKHOUSE_USER" default:"default"`
	Password      string        `envconfig:"EVENTLOG_CLICKHOUSE_PASSWORD"`
	EventLogTable string        `envconfig:"EVENTLOG_CLICKHOUSE_EVENT_LOG_TABLE" default:"event_log"`
	DialTimeout   time.Duration `envconfig:"EVENTLOG_CLICKHOUSE_DIAL_TIMEOUT" default:"10s"`
	InsertTimeout time.Duration `envconfig:"EVENTLOG_CLICKHOUSE_INSERT_TIMEOUT" default:"30s"`
}

type OutboxConfig struct {
	BatchSize       int           `envconfig:"EVENTLOG_OUTBOX_BATCH_SIZE" default:"100"`
	PollInterval    time.Duration `envconfig:"EVENTLOG_OUTBOX_POLL_INTERVAL" default:"1s"`
	MaxRetries      int           `envconfig:"EVENTLOG_OUTBOX_MAX_RETRIES" default:"5"`
	Retention       time.Duration `envconfig:"EVENTLOG_OUTBOX_RETENTION" default:"720h"`
	MetadataVersion int           `envconfig:"EVENTLOG_OUTBOX_METADATA_VERSION" default:"1"`
}

type BufferConfig struct {
	Enabled      bool          `envconfig:"EVENTLOG_BUFFER_ENABLED" default:"false"`
	QueueKey     string        `envconfig:"EVENTLOG_BUFFER_QUEUE_KEY" default:"event_log_queue"`
	FailedKey    string        `envconfig:"EVENTLOG_BUFFER_FAILED_KEY" default:"event_log_failed"`
	BatchSize    int           `envconfig:"EVENTLOG_BUFFER_BATCH_SIZE" default:"100"`
	BatchTimeout time.Duration `envconfig:"EVENTLOG_BUFFER_BATCH_TIMEOUT" default:"5s"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"EVENTLOG_CRON_INTERVAL" default:"24h"`
	LockTTL  time.Duration `envconfig:"EVENTLOG_CRON_LOCK_TTL" default:"25h"`
}

type MetricsConfig struct {
	Addr string `envconfig:"EVENTLOG_METRICS_ADDR" default:":9091"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
