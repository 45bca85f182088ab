package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/carebook/booking/internal/domain/scheduling"
)

// MemoryDatabase selects the in-process ledger instead of Postgres.
const MemoryDatabase = "memory"

type Config struct {
	Port          string   `mapstructure:"PORT"`
	Env           string   `mapstructure:"ENV"`
	LogLevel      string   `mapstructure:"LOG_LEVEL"`
	DatabaseURL   string   `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32    `mapstructure:"DB_MIN_CONNS"`
	DefaultTenant string   `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins   []string `mapstructure:"CORS_ORIGINS"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	RedisURL         string        `mapstructure:"REDIS_URL"`
	ProviderCacheTTL time.Duration `mapstructure:"PROVIDER_CACHE_TTL"`
	ProvidersFile    string        `mapstructure:"PROVIDERS_FILE"`
	DefaultTimeZone  string        `mapstructure:"DEFAULT_TIMEZONE"`

	CancelWindow            time.Duration `mapstructure:"CANCEL_WINDOW"`
	RescheduleWindow        time.Duration `mapstructure:"RESCHEDULE_WINDOW"`
	VaccineCancelWindow     time.Duration `mapstructure:"VACCINE_CANCEL_WINDOW"`
	VaccineRescheduleWindow time.Duration `mapstructure:"VACCINE_RESCHEDULE_WINDOW"`
	VaccineMaxReschedules   int           `mapstructure:"VACCINE_MAX_RESCHEDULES"`

	EventsQueueURL      string `mapstructure:"EVENTS_QUEUE_URL"`
	AWSRegion           string `mapstructure:"AWS_REGION"`
	AWSEndpointOverride string `mapstructure:"AWS_ENDPOINT_OVERRIDE"`
	AWSAccessKeyID      string `mapstructure:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey  string `mapstructure:"AWS_SECRET_ACCESS_KEY"`
	NotifyBuffer        int    `mapstructure:"NOTIFY_BUFFER"`

	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"DEFAULT_TENANT", "CORS_ORIGINS",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"REDIS_URL", "PROVIDER_CACHE_TTL", "PROVIDERS_FILE", "DEFAULT_TIMEZONE",
	"CANCEL_WINDOW", "RESCHEDULE_WINDOW", "VACCINE_CANCEL_WINDOW",
	"VACCINE_RESCHEDULE_WINDOW", "VACCINE_MAX_RESCHEDULES",
	"EVENTS_QUEUE_URL", "AWS_REGION", "AWS_ENDPOINT_OVERRIDE",
	"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "NOTIFY_BUFFER",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATABASE_URL", MemoryDatabase)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("PROVIDER_CACHE_TTL", "5m")
	v.SetDefault("DEFAULT_TIMEZONE", "Asia/Kolkata")
	v.SetDefault("CANCEL_WINDOW", "2h")
	v.SetDefault("RESCHEDULE_WINDOW", "4h")
	v.SetDefault("VACCINE_CANCEL_WINDOW", "2h")
	v.SetDefault("VACCINE_RESCHEDULE_WINDOW", "24h")
	v.SetDefault("VACCINE_MAX_RESCHEDULES", 2)
	v.SetDefault("AWS_REGION", "ap-south-1")
	v.SetDefault("NOTIFY_BUFFER", 256)
	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("REQUEST_TIMEOUT", "15s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// UsesMemoryLedger reports whether bookings live in process memory.
func (c *Config) UsesMemoryLedger() bool {
	return c.DatabaseURL == "" || c.DatabaseURL == MemoryDatabase
}

// Validate checks that the configuration is safe to run. Outside development
// a token verifier (AUTH_SIGNING_KEY or AUTH_JWKS_URL) and a real database are
// required.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT must be set")
	}
	windows := map[string]time.Duration{
		"CANCEL_WINDOW":             c.CancelWindow,
		"RESCHEDULE_WINDOW":         c.RescheduleWindow,
		"VACCINE_CANCEL_WINDOW":     c.VaccineCancelWindow,
		"VACCINE_RESCHEDULE_WINDOW": c.VaccineRescheduleWindow,
	}
	for name, d := range windows {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.VaccineMaxReschedules < 0 {
		return fmt.Errorf("VACCINE_MAX_RESCHEDULES must not be negative")
	}
	if _, err := time.LoadLocation(c.DefaultTimeZone); err != nil {
		return fmt.Errorf("DEFAULT_TIMEZONE %q: %w", c.DefaultTimeZone, err)
	}
	if c.ProviderCacheTTL < 0 {
		return fmt.Errorf("PROVIDER_CACHE_TTL must not be negative")
	}
	if c.NotifyBuffer <= 0 {
		return fmt.Errorf("NOTIFY_BUFFER must be positive")
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("rate limit settings must not be negative")
	}
	if c.IsDev() {
		return nil
	}
	if c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf(
			"AUTH_SIGNING_KEY or AUTH_JWKS_URL must be set when ENV=%q; "+
				"refusing to start without token verification", c.Env)
	}
	if c.IsProduction() && c.UsesMemoryLedger() {
		return fmt.Errorf("DATABASE_URL is required in production")
	}
	return nil
}

// Policies builds the cancellation and reschedule rules from the configured
// windows.
func (c *Config) Policies() scheduling.Policies {
	return scheduling.Policies{
		scheduling.KindConsultation: {
			Cancel:     scheduling.WindowPolicy{Window: c.CancelWindow},
			Reschedule: scheduling.WindowPolicy{Window: c.RescheduleWindow},
		},
		scheduling.KindVaccination: {
			Cancel:     scheduling.WindowPolicy{Window: c.VaccineCancelWindow},
			Reschedule: scheduling.WindowPolicy{Window: c.VaccineRescheduleWindow, MaxUses: c.VaccineMaxReschedules},
		},
	}
}
