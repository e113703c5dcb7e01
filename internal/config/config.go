package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration, loaded from the environment
type Config struct {
	Database    DatabaseConfig
	Server      ServerConfig
	Logging     LoggingConfig
	Soundcharts SoundchartsConfig
	Meteo       MeteoConfig
	Holidays    HolidaysConfig
	Sync        SyncConfig
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// ServerConfig holds HTTP API server settings
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level string
}

// SoundchartsConfig holds chart API access settings
type SoundchartsConfig struct {
	BaseURL       string
	AppID         string
	APIKey        string
	ChartSlug     string
	Country       string
	TopN          int
	RequestBudget int64
}

// MeteoConfig holds weather archive API settings
type MeteoConfig struct {
	BaseURL string
}

// HolidaysConfig holds school holiday API settings
type HolidaysConfig struct {
	BaseURL string
}

// SyncConfig holds synchronization run settings
type SyncConfig struct {
	StartDate        time.Time
	WeatherBatchSize int
	TrackBatchSize   int
	FactBatchSize    int
	HolidayBatchSize int
	FeatureFetchCap  int
	LinkCommitEvery  int
	ChartPause       time.Duration
	FeaturePause     time.Duration
	LocationPause    time.Duration
	RangePause       time.Duration
}

// LoadConfig reads configuration from .env (if present) and the environment
func LoadConfig() (*Config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	startDate, err := getEnvDate("SYNC_START_DATE", "2020-01-01")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "chart_warehouse"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
		},
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Soundcharts: SoundchartsConfig{
			BaseURL:       getEnv("SOUNDCHARTS_BASE_URL", "https://customer.api.soundcharts.com"),
			AppID:         getEnv("SOUNDCHARTS_APP_ID", ""),
			APIKey:        getEnv("SOUNDCHARTS_API_KEY", ""),
			ChartSlug:     getEnv("SOUNDCHARTS_CHART_SLUG", "top-songs-22"),
			Country:       getEnv("SOUNDCHARTS_COUNTRY", "DE"),
			TopN:          getEnvInt("SOUNDCHARTS_TOP_N", 200),
			RequestBudget: int64(getEnvInt("SOUNDCHARTS_REQUEST_BUDGET", 950)),
		},
		Meteo: MeteoConfig{
			BaseURL: getEnv("METEO_BASE_URL", "https://archive-api.open-meteo.com"),
		},
		Holidays: HolidaysConfig{
			BaseURL: getEnv("HOLIDAYS_BASE_URL", "https://ferien-api.de"),
		},
		Sync: SyncConfig{
			StartDate:        startDate,
			WeatherBatchSize: getEnvInt("SYNC_WEATHER_BATCH_SIZE", 1000),
			TrackBatchSize:   getEnvInt("SYNC_TRACK_BATCH_SIZE", 500),
			FactBatchSize:    getEnvInt("SYNC_FACT_BATCH_SIZE", 1000),
			HolidayBatchSize: getEnvInt("SYNC_HOLIDAY_BATCH_SIZE", 1000),
			FeatureFetchCap:  getEnvInt("SYNC_FEATURE_CAP", 200),
			LinkCommitEvery:  getEnvInt("SYNC_LINK_COMMIT_EVERY", 5000),
			ChartPause:       getEnvDuration("SYNC_CHART_PAUSE", 500*time.Millisecond),
			FeaturePause:     getEnvDuration("SYNC_FEATURE_PAUSE", 100*time.Millisecond),
			LocationPause:    getEnvDuration("SYNC_LOCATION_PAUSE", time.Second),
			RangePause:       getEnvDuration("SYNC_RANGE_PAUSE", 5*time.Second),
		},
	}

	return cfg, nil
}

// Validate checks settings every command depends on
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host must not be empty")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("database port %d out of range", c.Database.Port)
	}
	if c.Database.User == "" {
		return fmt.Errorf("database user must not be empty")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name must not be empty")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	return nil
}

// ValidateSync checks settings a synchronization run additionally depends on
func (c *Config) ValidateSync() error {
	if c.Soundcharts.AppID == "" {
		return fmt.Errorf("SOUNDCHARTS_APP_ID must be set")
	}
	if c.Soundcharts.APIKey == "" {
		return fmt.Errorf("SOUNDCHARTS_API_KEY must be set")
	}
	if c.Soundcharts.TopN <= 0 {
		return fmt.Errorf("chart top N must be positive, got %d", c.Soundcharts.TopN)
	}
	if c.Sync.StartDate.After(time.Now()) {
		return fmt.Errorf("sync start date %s lies in the future", c.Sync.StartDate.Format("2006-01-02"))
	}
	if c.Sync.WeatherBatchSize <= 0 || c.Sync.TrackBatchSize <= 0 || c.Sync.FactBatchSize <= 0 {
		return fmt.Errorf("batch sizes must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvDate(key, fallback string) (time.Time, error) {
	raw := getEnv(key, fallback)
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date in %s: %w", key, err)
	}
	return t, nil
}
