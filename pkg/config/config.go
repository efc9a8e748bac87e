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
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Stripe       StripeConfig
	Billing      BillingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Billing.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ENTITLEMENT_APP_ENV" required:"true"`
	Port         string `envconfig:"ENTITLEMENT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"ENTITLEMENT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ENTITLEMENT_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"ENTITLEMENT_LOG_FORMAT" default:"json"`

	CORSAllowedOrigins []string      `envconfig:"ENTITLEMENT_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	RequestTimeout     time.Duration `envconfig:"ENTITLEMENT_REQUEST_TIMEOUT" default:"10s"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"ENTITLEMENT_SERVICE_KIND" default:"api"`
	// MetricsAddr is the listen address for worker metrics. Empty disables the listener.
	MetricsAddr string `envconfig:"ENTITLEMENT_METRICS_ADDR"`
}

type DBConfig struct {
	DSN    string `envconfig:"ENTITLEMENT_DB_DSN"`
	Driver string `envconfig:"ENTITLEMENT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ENTITLEMENT_DB_HOST"`
	LegacyPort     int    `envconfig:"ENTITLEMENT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ENTITLEMENT_DB_USER"`
	LegacyPassword string `envconfig:"ENTITLEMENT_DB_PASSWORD"`
	LegacyName     string `envconfig:"ENTITLEMENT_DB_NAME"`
	LegacySSLMode  string `envconfig:"ENTITLEMENT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ENTITLEMENT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ENTITLEMENT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ENTITLEMENT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ENTITLEMENT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"ENTITLEMENT_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ENTITLEMENT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"ENTITLEMENT_REDIS_ADDR"`
	Password     string        `envconfig:"ENTITLEMENT_REDIS_PASSWORD"`
	DB           int           `envconfig:"ENTITLEMENT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ENTITLEMENT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ENTITLEMENT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ENTITLEMENT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ENTITLEMENT_REDIS_READ_TIMEOUT" default:"2s"`
	WriteTimeout time.Duration `envconfig:"ENTITLEMENT_REDIS_WRITE_TIMEOUT" default:"2s"`
}

// JWTConfig holds the shared secret used to decode identities minted by the upstream auth service.
type JWTConfig struct {
	Secret            string `envconfig:"ENTITLEMENT_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"ENTITLEMENT_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"ENTITLEMENT_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"ENTITLEMENT_AUTO_MIGRATE" default:"false"`
}

type StripeConfig struct {
	WebhookSecret string        `envconfig:"ENTITLEMENT_STRIPE_WEBHOOK_SECRET"`
	Env           string        `envconfig:"ENTITLEMENT_STRIPE_ENV" default:"test"`
	SkewTolerance time.Duration `envconfig:"ENTITLEMENT_STRIPE_SKEW_TOLERANCE" default:"5m"`
	MaxBodyBytes  int64         `envconfig:"ENTITLEMENT_STRIPE_MAX_BODY_BYTES" default:"1048576"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// BillingConfig carries the lifecycle policy knobs that no provider event announces.
type BillingConfig struct {
	GracePeriod       time.Duration `envconfig:"ENTITLEMENT_BILLING_GRACE_PERIOD" default:"336h"`
	TrialExpiryPolicy string        `envconfig:"ENTITLEMENT_BILLING_TRIAL_EXPIRY_POLICY" default:"canceled"`
	SweepSchedule     string        `envconfig:"ENTITLEMENT_BILLING_SWEEP_SCHEDULE" default:"@every 1m"`
	SweepConcurrency  int           `envconfig:"ENTITLEMENT_BILLING_SWEEP_CONCURRENCY" default:"8"`
	SweepBatchSize    int           `envconfig:"ENTITLEMENT_BILLING_SWEEP_BATCH_SIZE" default:"500"`
	CacheTTL          time.Duration `envconfig:"ENTITLEMENT_BILLING_CACHE_TTL" default:"30s"`
	LockTTL           time.Duration `envconfig:"ENTITLEMENT_BILLING_LOCK_TTL" default:"15s"`
	LockWait          time.Duration `envconfig:"ENTITLEMENT_BILLING_LOCK_WAIT" default:"5s"`
	ReplaySchedule    string        `envconfig:"ENTITLEMENT_BILLING_REPLAY_SCHEDULE" default:"@every 5m"`
	ReplayAfter       time.Duration `envconfig:"ENTITLEMENT_BILLING_REPLAY_AFTER" default:"5m"`
	ReplayBatchSize   int           `envconfig:"ENTITLEMENT_BILLING_REPLAY_BATCH_SIZE" default:"100"`
}

func (b BillingConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(b.TrialExpiryPolicy)) {
	case TrialExpiryCanceled, TrialExpiryNone:
	default:
		return fmt.Errorf("%s must be %q or %q", EnvTrialExpiryPolicy, TrialExpiryCanceled, TrialExpiryNone)
	}
	if b.GracePeriod < 0 {
		return fmt.Errorf("%s must not be negative", EnvGracePeriod)
	}
	if b.CacheTTL <= 0 {
		return fmt.Errorf("%s must be positive", EnvCacheTTL)
	}
	return nil
}

type GCPConfig struct {
	ProjectID              string `envconfig:"ENTITLEMENT_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"ENTITLEMENT_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"ENTITLEMENT_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	EntitlementTopic string `envconfig:"ENTITLEMENT_PUBSUB_ENTITLEMENT_TOPIC" default:"entitlement-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"ENTITLEMENT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"ENTITLEMENT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"ENTITLEMENT_OUTBOX_MAX_ATTEMPTS" default:"10"`

	Retention         time.Duration `envconfig:"ENTITLEMENT_OUTBOX_RETENTION" default:"720h"`
	RetentionSchedule string        `envconfig:"ENTITLEMENT_OUTBOX_RETENTION_SCHEDULE" default:"@daily"`
	RetentionBatch    int           `envconfig:"ENTITLEMENT_OUTBOX_RETENTION_BATCH" default:"1000"`
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
