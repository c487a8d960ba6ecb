package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Bank         BankConfig
	Settlement   SettlementConfig
	Catalog      CatalogConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Maintenance  MaintenanceConfig
	Telemetry    TelemetryConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Bank.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"MARKETPLACE_APP_ENV" required:"true"`
	Port         string   `envconfig:"MARKETPLACE_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"MARKETPLACE_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"MARKETPLACE_LOG_WARN_STACK" default:"false"`
	Version      string   `envconfig:"MARKETPLACE_APP_VERSION" default:"dev"`
	CORSOrigins  []string `envconfig:"MARKETPLACE_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"MARKETPLACE_DB_DSN"`
	Driver string `envconfig:"MARKETPLACE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MARKETPLACE_DB_HOST"`
	LegacyPort     int    `envconfig:"MARKETPLACE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MARKETPLACE_DB_USER"`
	LegacyPassword string `envconfig:"MARKETPLACE_DB_PASSWORD"`
	LegacyName     string `envconfig:"MARKETPLACE_DB_NAME"`
	LegacySSLMode  string `envconfig:"MARKETPLACE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MARKETPLACE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MARKETPLACE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MARKETPLACE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MARKETPLACE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MARKETPLACE_REDIS_URL"`
	Address      string        `envconfig:"MARKETPLACE_REDIS_ADDR"`
	Password     string        `envconfig:"MARKETPLACE_REDIS_PASSWORD"`
	DB           int           `envconfig:"MARKETPLACE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MARKETPLACE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MARKETPLACE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MARKETPLACE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MARKETPLACE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MARKETPLACE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"MARKETPLACE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"MARKETPLACE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"MARKETPLACE_JWT_EXPIRATION_MINUTES" default:"60"`
}

// BankConfig holds the acquiring gateway credentials. The integration header
// is sent verbatim on the token request.
type BankConfig struct {
	BaseURL           string        `envconfig:"MARKETPLACE_BANK_BASE_URL"`
	TokenURL          string        `envconfig:"MARKETPLACE_BANK_TOKEN_URL"`
	ClientID          string        `envconfig:"MARKETPLACE_BANK_CLIENT_ID"`
	ClientSecret      string        `envconfig:"MARKETPLACE_BANK_CLIENT_SECRET"`
	IntegrationHeader string        `envconfig:"MARKETPLACE_BANK_INTEGRATION_HEADER" default:"X-Integration-Id"`
	IntegrationID     string        `envconfig:"MARKETPLACE_BANK_INTEGRATION_ID"`
	Scope             string        `envconfig:"MARKETPLACE_BANK_SCOPE" default:"payment"`
	HTTPTimeout       time.Duration `envconfig:"MARKETPLACE_BANK_HTTP_TIMEOUT" default:"10s"`
	CacheTokens       bool          `envconfig:"MARKETPLACE_BANK_CACHE_TOKENS" default:"false"`
}

// Enabled reports whether credentials are present.
func (b BankConfig) Enabled() bool {
	return strings.TrimSpace(b.BaseURL) != "" && strings.TrimSpace(b.ClientID) != ""
}

func (b BankConfig) validate() error {
	if !b.Enabled() {
		return nil
	}
	if strings.TrimSpace(b.ClientSecret) == "" {
		return fmt.Errorf("%s is required when %s is set", EnvBankClientSecret, EnvBankClientID)
	}
	if _, err := url.Parse(b.BaseURL); err != nil {
		return fmt.Errorf("parsing %s: %w", EnvBankBaseURL, err)
	}
	return nil
}

type SettlementConfig struct {
	Deadline          time.Duration `envconfig:"MARKETPLACE_SETTLEMENT_DEADLINE" default:"20s"`
	LeaseTTL          time.Duration `envconfig:"MARKETPLACE_SETTLEMENT_LEASE_TTL" default:"2m"`
	DefaultServiceFee string        `envconfig:"MARKETPLACE_SETTLEMENT_DEFAULT_SERVICE_FEE" default:"0"`
	CostRetries       int           `envconfig:"MARKETPLACE_SETTLEMENT_COST_RETRIES" default:"3"`
}

type CatalogConfig struct {
	ChunkSize    int `envconfig:"MARKETPLACE_CATALOG_CHUNK_SIZE" default:"500"`
	MaxBatchSize int `envconfig:"MARKETPLACE_CATALOG_MAX_BATCH_SIZE" default:"50000"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"MARKETPLACE_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"MARKETPLACE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"MARKETPLACE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"MARKETPLACE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrderStatusTopic string `envconfig:"MARKETPLACE_PUBSUB_ORDER_STATUS_TOPIC" default:"order-status-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"MARKETPLACE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"MARKETPLACE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"MARKETPLACE_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type MaintenanceConfig struct {
	Interval            time.Duration `envconfig:"MARKETPLACE_MAINTENANCE_INTERVAL" default:"5m"`
	LockTTL             time.Duration `envconfig:"MARKETPLACE_MAINTENANCE_LOCK_TTL" default:"10m"`
	OutboxRetentionDays int           `envconfig:"MARKETPLACE_OUTBOX_RETENTION_DAYS" default:"30"`
	SettlementMinAge    time.Duration `envconfig:"MARKETPLACE_SETTLEMENT_SWEEP_MIN_AGE" default:"10m"`
	SettlementLookback  time.Duration `envconfig:"MARKETPLACE_SETTLEMENT_SWEEP_LOOKBACK" default:"24h"`
	SettlementBatch     int           `envconfig:"MARKETPLACE_SETTLEMENT_SWEEP_BATCH" default:"100"`
}

type TelemetryConfig struct {
	Enabled      bool   `envconfig:"MARKETPLACE_OTEL_ENABLED" default:"false"`
	OTLPEndpoint string `envconfig:"MARKETPLACE_OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4317"`
	Insecure     bool   `envconfig:"MARKETPLACE_OTEL_EXPORTER_OTLP_INSECURE" default:"true"`
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
