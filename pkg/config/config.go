package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvPrefix namespaces every environment variable the service reads.
	EnvPrefix = "CAMPUSKIT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "CAMPUSKIT_DB_DSN"
	EnvDBHost = "CAMPUSKIT_DB_HOST"
	EnvDBUser = "CAMPUSKIT_DB_USER"
	EnvDBName = "CAMPUSKIT_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Stripe       StripeConfig
	Billing      BillingConfig
	Mail         MailConfig
	FeatureFlags FeatureFlagsConfig
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
	Env          string `envconfig:"CAMPUSKIT_APP_ENV" required:"true"`
	Port         string `envconfig:"CAMPUSKIT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CAMPUSKIT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CAMPUSKIT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"CAMPUSKIT_DB_DSN"`
	Driver string `envconfig:"CAMPUSKIT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CAMPUSKIT_DB_HOST"`
	LegacyPort     int    `envconfig:"CAMPUSKIT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CAMPUSKIT_DB_USER"`
	LegacyPassword string `envconfig:"CAMPUSKIT_DB_PASSWORD"`
	LegacyName     string `envconfig:"CAMPUSKIT_DB_NAME"`
	LegacySSLMode  string `envconfig:"CAMPUSKIT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CAMPUSKIT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CAMPUSKIT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CAMPUSKIT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CAMPUSKIT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CAMPUSKIT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CAMPUSKIT_REDIS_ADDR"`
	Password     string        `envconfig:"CAMPUSKIT_REDIS_PASSWORD"`
	DB           int           `envconfig:"CAMPUSKIT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CAMPUSKIT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CAMPUSKIT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CAMPUSKIT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CAMPUSKIT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CAMPUSKIT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type StripeConfig struct {
	APIKey          string        `envconfig:"CAMPUSKIT_STRIPE_API_KEY"`
	WebhookSecret   string        `envconfig:"CAMPUSKIT_STRIPE_WEBHOOK_SECRET"`
	Env             string        `envconfig:"CAMPUSKIT_STRIPE_ENV" default:"test"`
	CallTimeout     time.Duration `envconfig:"CAMPUSKIT_STRIPE_CALL_TIMEOUT" default:"20s"`
	CheckoutSuccess string        `envconfig:"CAMPUSKIT_STRIPE_CHECKOUT_SUCCESS_URL"`
	CheckoutCancel  string        `envconfig:"CAMPUSKIT_STRIPE_CHECKOUT_CANCEL_URL"`
	PortalReturnURL string        `envconfig:"CAMPUSKIT_STRIPE_PORTAL_RETURN_URL"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type BillingConfig struct {
	Currency      string        `envconfig:"CAMPUSKIT_BILLING_CURRENCY" default:"usd"`
	PriceCacheTTL time.Duration `envconfig:"CAMPUSKIT_BILLING_PRICE_CACHE_TTL" default:"12h"`
	WebhookDedupe time.Duration `envconfig:"CAMPUSKIT_BILLING_WEBHOOK_DEDUPE_TTL" default:"72h"`
	OperatorKey   string        `envconfig:"CAMPUSKIT_BILLING_OPERATOR_KEY"`
}

type MailConfig struct {
	Endpoint    string `envconfig:"CAMPUSKIT_MAIL_ENDPOINT"`
	APIKey      string `envconfig:"CAMPUSKIT_MAIL_API_KEY"`
	DefaultFrom string `envconfig:"CAMPUSKIT_MAIL_FROM_EMAIL"`
	OpsEmail    string `envconfig:"CAMPUSKIT_MAIL_OPS_EMAIL"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"CAMPUSKIT_AUTO_MIGRATE" default:"false"`
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
