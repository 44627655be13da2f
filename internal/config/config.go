package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process and leadctl.
// Values come from the environment, optionally seeded from a .env file.
type Config struct {
	App         AppConfig
	Log         LogConfig
	DB          DBConfig
	Redis       RedisConfig
	Auth        AuthConfig
	Leads       LeadsConfig
	Maintenance MaintenanceConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type LogConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// LeadsConfig carries the built-in quota defaults (the last resolution tier)
// and engine-wide knobs.
type LeadsConfig struct {
	PerRequestLimit        int
	DailyCallLimit         int
	OutstandingLimit       int
	TTLHours               int
	ReactivationWindowDays int

	// DayTimezone decides where a calendar day starts for daily call counters.
	DayTimezone    string
	ConfigCacheTTL time.Duration
	FetchGuardTTL  time.Duration
}

type MaintenanceConfig struct {
	Enabled  bool
	Interval time.Duration
}

// Load reads .env (if present) and the process environment, then validates.
func Load() (Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port, parseErrs = appendParseErr(parseErrs)(mustInt("APP_PORT"))

	c.Log.File = strings.TrimSpace(os.Getenv("LOG_FILE"))
	c.Log.MaxSizeMB, parseErrs = appendParseErr(parseErrs)(optionalInt("LOG_MAX_SIZE_MB", 100))
	c.Log.MaxBackups, parseErrs = appendParseErr(parseErrs)(optionalInt("LOG_MAX_BACKUPS", 7))
	c.Log.MaxAgeDays, parseErrs = appendParseErr(parseErrs)(optionalInt("LOG_MAX_AGE_DAYS", 30))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port, parseErrs = appendParseErr(parseErrs)(mustInt("DB_PORT"))
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port, parseErrs = appendParseErr(parseErrs)(mustInt("REDIS_PORT"))
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	c.Redis.DB, parseErrs = appendParseErr(parseErrs)(optionalInt("REDIS_DB", 0))

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate().
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Leads.PerRequestLimit, parseErrs = appendParseErr(parseErrs)(optionalInt("LEADS_DEFAULT_PER_REQUEST_LIMIT", 100))
	c.Leads.DailyCallLimit, parseErrs = appendParseErr(parseErrs)(optionalInt("LEADS_DEFAULT_DAILY_CALL_LIMIT", 50))
	c.Leads.OutstandingLimit, parseErrs = appendParseErr(parseErrs)(optionalInt("LEADS_DEFAULT_OUTSTANDING_LIMIT", 10))
	c.Leads.TTLHours, parseErrs = appendParseErr(parseErrs)(optionalInt("LEADS_DEFAULT_TTL_HOURS", 24))
	c.Leads.ReactivationWindowDays, parseErrs = appendParseErr(parseErrs)(optionalInt("LEADS_DEFAULT_REACTIVATION_DAYS", 30))
	c.Leads.DayTimezone = strings.TrimSpace(os.Getenv("LEADS_DAY_TIMEZONE"))
	c.Leads.ConfigCacheTTL = mustDuration("LEADS_CONFIG_CACHE_TTL")
	c.Leads.FetchGuardTTL = mustDuration("LEADS_FETCH_GUARD_TTL")

	c.Maintenance.Enabled = optionalBool("MAINTENANCE_ENABLED", true)
	c.Maintenance.Interval = mustDuration("MAINTENANCE_INTERVAL")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks every field and fills optional defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	errs = append(errs, c.Leads.validate()...)

	if c.Maintenance.Interval <= 0 {
		c.Maintenance.Interval = time.Hour
	}

	return joinErrors(errs)
}

func (l *LeadsConfig) validate() []error {
	var errs []error
	if l.PerRequestLimit <= 0 {
		errs = append(errs, fmt.Errorf("LEADS_DEFAULT_PER_REQUEST_LIMIT must be > 0, got %d", l.PerRequestLimit))
	}
	if l.DailyCallLimit <= 0 {
		errs = append(errs, fmt.Errorf("LEADS_DEFAULT_DAILY_CALL_LIMIT must be > 0, got %d", l.DailyCallLimit))
	}
	if l.OutstandingLimit <= 0 {
		errs = append(errs, fmt.Errorf("LEADS_DEFAULT_OUTSTANDING_LIMIT must be > 0, got %d", l.OutstandingLimit))
	}
	if l.TTLHours <= 0 {
		errs = append(errs, fmt.Errorf("LEADS_DEFAULT_TTL_HOURS must be > 0, got %d", l.TTLHours))
	}
	if l.ReactivationWindowDays <= 0 {
		errs = append(errs, fmt.Errorf("LEADS_DEFAULT_REACTIVATION_DAYS must be > 0, got %d", l.ReactivationWindowDays))
	}
	if l.DayTimezone == "" {
		l.DayTimezone = "UTC"
	}
	if _, err := time.LoadLocation(l.DayTimezone); err != nil {
		errs = append(errs, fmt.Errorf("LEADS_DAY_TIMEZONE is not a known zone: %q", l.DayTimezone))
	}
	if l.ConfigCacheTTL <= 0 {
		l.ConfigCacheTTL = 30 * time.Second
	}
	if l.FetchGuardTTL <= 0 {
		l.FetchGuardTTL = 15 * time.Second
	}
	return errs
}

// DayLocation returns the zone used to cut calendar days. Validate must have
// accepted the config first.
func (c Config) DayLocation() *time.Location {
	loc, err := time.LoadLocation(c.Leads.DayTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string, def int) (int, error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return def, nil
	}
	return mustInt(key)
}

func optionalBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

// appendParseErr records err (if any) and passes n through, so each Load line
// stays a single assignment.
func appendParseErr(errs []error) func(int, error) (int, []error) {
	return func(n int, err error) (int, []error) {
		if err != nil {
			errs = append(errs, err)
		}
		return n, errs
	}
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
