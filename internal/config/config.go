package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "KOLI"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabaseDriver    = DriverSQLite
	defaultDatabasePath      = "koli.db"
	defaultLogLevel          = "info"
	defaultLogFormat         = "json"
	defaultTokenIssuer       = "koli-admin"
	defaultTokenAudience     = "koli-admin-api"
	defaultTokenTTLMinutes   = 60
	defaultClaimMaxAttempts  = 5
	defaultSweepInterval     = time.Minute
	defaultTracingService    = "koli-admin-api"
	minimumSweepInterval     = time.Second
	maximumClaimAttemptLimit = 50
)

const (
	// DriverSQLite selects the embedded pure-Go SQLite store.
	DriverSQLite = "sqlite"
	// DriverPostgres selects a PostgreSQL store reached through DatabaseDSN.
	DriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the admin API and its CLI commands.
type AppConfig struct {
	HTTPAddress      string
	AllowedOrigins   []string
	DatabaseDriver   string
	DatabasePath     string
	DatabaseDSN      string
	LogLevel         string
	LogFormat        string
	SigningSecret    string
	TokenIssuer      string
	TokenAudience    string
	TokenTTL         time.Duration
	ClaimMaxAttempts int
	SweepInterval    time.Duration
	TracingEnabled   bool
	TracingService   string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{"*"})
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("auth.issuer", defaultTokenIssuer)
	configViper.SetDefault("auth.audience", defaultTokenAudience)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("rewards.claim_max_attempts", defaultClaimMaxAttempts)
	configViper.SetDefault("rewards.sweep_interval", defaultSweepInterval)
	configViper.SetDefault("tracing.enabled", false)
	configViper.SetDefault("tracing.service_name", defaultTracingService)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		AllowedOrigins:   splitOrigins(configViper.GetStringSlice("http.allowed_origins")),
		DatabaseDriver:   strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:     configViper.GetString("database.path"),
		DatabaseDSN:      configViper.GetString("database.dsn"),
		LogLevel:         configViper.GetString("log.level"),
		LogFormat:        configViper.GetString("log.format"),
		SigningSecret:    configViper.GetString("auth.signing_secret"),
		TokenIssuer:      configViper.GetString("auth.issuer"),
		TokenAudience:    configViper.GetString("auth.audience"),
		TokenTTL:         time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		ClaimMaxAttempts: configViper.GetInt("rewards.claim_max_attempts"),
		SweepInterval:    configViper.GetDuration("rewards.sweep_interval"),
		TracingEnabled:   configViper.GetBool("tracing.enabled"),
		TracingService:   configViper.GetString("tracing.service_name"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// ValidateAuth reports whether token issuing and validation can be configured.
func (c AppConfig) ValidateAuth() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.TokenIssuer) == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	if strings.TrimSpace(c.TokenAudience) == "" {
		return fmt.Errorf("auth.audience is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	return nil
}

func (c AppConfig) validate() error {
	switch c.DatabaseDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if c.ClaimMaxAttempts < 1 || c.ClaimMaxAttempts > maximumClaimAttemptLimit {
		return fmt.Errorf("rewards.claim_max_attempts must be between 1 and %d", maximumClaimAttemptLimit)
	}
	if c.SweepInterval < minimumSweepInterval {
		return fmt.Errorf("rewards.sweep_interval must be at least %s", minimumSweepInterval)
	}
	return nil
}

// splitOrigins accepts both list values and a single comma separated env string.
func splitOrigins(values []string) []string {
	origins := make([]string, 0, len(values))
	for _, value := range values {
		for _, origin := range strings.Split(value, ",") {
			trimmed := strings.TrimSpace(origin)
			if trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
