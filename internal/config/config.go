package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config 应用配置
type Config struct {
	// Server
	Port      string `koanf:"port"`
	JWTSecret string `koanf:"jwt_secret"` // empty disables API auth
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	// Storage
	DBDriver    string `koanf:"db_driver"` // sqlite, postgres or memory
	DBPath      string `koanf:"db_path"`
	DatabaseURL string `koanf:"database_url"`

	// Movement classification
	MovementRadiusMeters float64 `koanf:"movement_radius_m"`
	TrackBufferSize      int     `koanf:"track_buffer_size"`

	// Sleep detection
	SleepMinHours  float64 `koanf:"sleep_min_hours"`
	SleepMaxHours  float64 `koanf:"sleep_max_hours"`
	NightStartHour int     `koanf:"night_start_hour"`
	NightEndHour   int     `koanf:"night_end_hour"`
	Timezone       string  `koanf:"timezone"`
	SleepSource    string  `koanf:"sleep_source"`

	// Places
	PlaceCacheSize int           `koanf:"place_cache_size"`
	PlaceCacheTTL  time.Duration `koanf:"place_cache_ttl"`

	// Engine
	EventQueueSize       int `koanf:"event_queue_size"`
	PersistRetryAttempts int `koanf:"persist_retry_attempts"`

	// Retention
	RetentionDays     int           `koanf:"retention_days"` // 0 disables retention
	RetentionInterval time.Duration `koanf:"retention_interval"`
	PendingMaxAge     time.Duration `koanf:"pending_max_age"`
}

// Configuration validation errors
var (
	ErrInvalidDriver     = errors.New("DB_DRIVER must be sqlite, postgres or memory")
	ErrMissingDBPath     = errors.New("DB_PATH is required for the sqlite driver")
	ErrMissingDatabase   = errors.New("DATABASE_URL is required for the postgres driver")
	ErrInvalidNumber     = errors.New("value must be a valid number")
	ErrInvalidDuration   = errors.New("value must be a valid duration")
	ErrInvalidRadius     = errors.New("MOVEMENT_RADIUS_M must be positive")
	ErrInvalidSleepRange = errors.New("SLEEP_MIN_HOURS must be positive and below SLEEP_MAX_HOURS")
	ErrInvalidNightHour  = errors.New("night hours must be between 0 and 23")
	ErrInvalidTimezone   = errors.New("TIMEZONE is not a known IANA zone")
	ErrInvalidLogLevel   = errors.New("LOG_LEVEL must be debug, info, warn or error")
	ErrInvalidLogFormat  = errors.New("LOG_FORMAT must be text or json")
)

// Defaults
const (
	DefaultPort                 = ":8080"
	DefaultDBDriver             = "sqlite"
	DefaultDBPath               = "./data/records/records.db"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
	DefaultMovementRadiusMeters = 100.0
	DefaultTrackBufferSize      = 100
	DefaultSleepMinHours        = 2.0
	DefaultSleepMaxHours        = 12.0
	DefaultNightStartHour       = 21
	DefaultNightEndHour         = 6
	DefaultTimezone             = "Local"
	DefaultSleepSource          = "activity_recognition"
	DefaultPlaceCacheSize       = 1000
	DefaultPlaceCacheTTL        = 10 * time.Minute
	DefaultEventQueueSize       = 256
	DefaultPersistRetryAttempts = 3
	DefaultRetentionDays        = 365
	DefaultRetentionInterval    = 24 * time.Hour
	DefaultPendingMaxAge        = 48 * time.Hour
)

// Load 加载配置
//
// Values come from the optional YAML file, overridden by environment variables.
// The returned slice holds every validation error; the config is usable only when it is empty.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	collect := func(err error) {
		if err != nil {
			loadErrs = append(loadErrs, err)
		}
	}

	cfg := &Config{
		Port:        getEnvOrDefault("PORT", k.String("port"), DefaultPort),
		JWTSecret:   getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		LogLevel:    strings.ToLower(getEnvOrDefault("LOG_LEVEL", k.String("log_level"), DefaultLogLevel)),
		LogFormat:   strings.ToLower(getEnvOrDefault("LOG_FORMAT", k.String("log_format"), DefaultLogFormat)),
		DBDriver:    strings.ToLower(getEnvOrDefault("DB_DRIVER", k.String("db_driver"), DefaultDBDriver)),
		DBPath:      getEnvOrDefault("DB_PATH", k.String("db_path"), DefaultDBPath),
		DatabaseURL: getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		Timezone:    getEnvOrDefault("TIMEZONE", k.String("timezone"), DefaultTimezone),
		SleepSource: getEnvOrDefault("SLEEP_SOURCE", k.String("sleep_source"), DefaultSleepSource),
	}

	// Accept a bare port number
	if !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}

	var err error
	cfg.MovementRadiusMeters, err = getEnvFloatOrDefault("MOVEMENT_RADIUS_M", k.Float64("movement_radius_m"), DefaultMovementRadiusMeters)
	collect(err)
	cfg.TrackBufferSize, err = getEnvIntOrDefault("TRACK_BUFFER_SIZE", k.Int("track_buffer_size"), DefaultTrackBufferSize)
	collect(err)
	cfg.SleepMinHours, err = getEnvFloatOrDefault("SLEEP_MIN_HOURS", k.Float64("sleep_min_hours"), DefaultSleepMinHours)
	collect(err)
	cfg.SleepMaxHours, err = getEnvFloatOrDefault("SLEEP_MAX_HOURS", k.Float64("sleep_max_hours"), DefaultSleepMaxHours)
	collect(err)
	cfg.NightStartHour, err = getEnvIntOrKoanf("NIGHT_START_HOUR", k, "night_start_hour", DefaultNightStartHour)
	collect(err)
	cfg.NightEndHour, err = getEnvIntOrKoanf("NIGHT_END_HOUR", k, "night_end_hour", DefaultNightEndHour)
	collect(err)
	cfg.PlaceCacheSize, err = getEnvIntOrDefault("PLACE_CACHE_SIZE", k.Int("place_cache_size"), DefaultPlaceCacheSize)
	collect(err)
	cfg.PlaceCacheTTL, err = getEnvDurationOrDefault("PLACE_CACHE_TTL", k.String("place_cache_ttl"), DefaultPlaceCacheTTL)
	collect(err)
	cfg.EventQueueSize, err = getEnvIntOrDefault("EVENT_QUEUE_SIZE", k.Int("event_queue_size"), DefaultEventQueueSize)
	collect(err)
	cfg.PersistRetryAttempts, err = getEnvIntOrDefault("PERSIST_RETRY_ATTEMPTS", k.Int("persist_retry_attempts"), DefaultPersistRetryAttempts)
	collect(err)
	cfg.RetentionDays, err = getEnvIntOrKoanf("RETENTION_DAYS", k, "retention_days", DefaultRetentionDays)
	collect(err)
	cfg.RetentionInterval, err = getEnvDurationOrDefault("RETENTION_INTERVAL", k.String("retention_interval"), DefaultRetentionInterval)
	collect(err)
	cfg.PendingMaxAge, err = getEnvDurationOrDefault("PENDING_MAX_AGE", k.String("pending_max_age"), DefaultPendingMaxAge)
	collect(err)

	errs := cfg.Validate()
	return cfg, append(loadErrs, errs...)
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault treats a zero koanf value as unset.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", envKey, ErrInvalidNumber)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrKoanf is getEnvIntOrDefault for keys where zero is a meaningful file value,
// such as midnight or disabled retention.
func getEnvIntOrKoanf(envKey string, k *koanf.Koanf, koanfKey string, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", envKey, ErrInvalidNumber)
		}
		return i, nil
	}
	if k.Exists(koanfKey) {
		return k.Int(koanfKey), nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", envKey, ErrInvalidNumber)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvDurationOrDefault parses Go duration strings such as "10m" or "24h".
func getEnvDurationOrDefault(envKey string, koanfVal string, defaultVal time.Duration) (time.Duration, error) {
	raw := getEnvOrDefault(envKey, koanfVal, "")
	if raw == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", envKey, ErrInvalidDuration)
	}
	return d, nil
}

// Validate checks value ranges and driver requirements.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	switch c.DBDriver {
	case "sqlite":
		if c.DBPath == "" {
			errs = append(errs, ErrMissingDBPath)
		}
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, ErrMissingDatabase)
		}
	case "memory":
	default:
		errs = append(errs, ErrInvalidDriver)
	}

	if c.MovementRadiusMeters <= 0 {
		errs = append(errs, ErrInvalidRadius)
	}
	if c.SleepMinHours <= 0 || c.SleepMinHours >= c.SleepMaxHours {
		errs = append(errs, ErrInvalidSleepRange)
	}
	if c.NightStartHour < 0 || c.NightStartHour > 23 || c.NightEndHour < 0 || c.NightEndHour > 23 {
		errs = append(errs, ErrInvalidNightHour)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, ErrInvalidTimezone)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ErrInvalidLogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, ErrInvalidLogFormat)
	}

	return errs
}

// Location returns the configured time zone
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// SleepMinDuration returns the minimum sleep length
func (c *Config) SleepMinDuration() time.Duration {
	return time.Duration(c.SleepMinHours * float64(time.Hour))
}

// SleepMaxDuration returns the maximum sleep length
func (c *Config) SleepMaxDuration() time.Duration {
	return time.Duration(c.SleepMaxHours * float64(time.Hour))
}

// LogSummary returns the configuration with secrets masked, for startup logging.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":              c.Port,
		"db_driver":         c.DBDriver,
		"db_path":           c.DBPath,
		"database_url":      maskDatabaseURL(c.DatabaseURL),
		"jwt_secret":        maskSecret(c.JWTSecret),
		"log_level":         c.LogLevel,
		"movement_radius_m": strconv.FormatFloat(c.MovementRadiusMeters, 'f', -1, 64),
		"timezone":          c.Timezone,
		"retention_days":    strconv.Itoa(c.RetentionDays),
	}
}

// maskSecret shows only the first 4 characters of secrets of 8 characters or more.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a postgres:// URL.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s
	}
	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s
	}

	return s[:schemeEnd+3] + rest[:colonIndex] + ":****" + rest[atIndex:]
}
