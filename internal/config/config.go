package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the full application configuration surface.
type Config struct {
	Server    ServerConfig
	MongoDB   MongoDBConfig
	Notary    NotaryConfig
	USSD      USSDConfig
	Sheets    SheetsConfig
	Reporting ReportingConfig
}

// ServerConfig holds HTTP server related options.
type ServerConfig struct {
	Port string
}

// MongoDBConfig holds settings for the MongoDB batch and history stores.
type MongoDBConfig struct {
	URI    string
	DBName string
}

// NotaryConfig contains credentials and options for the Cardano
// notarization gateway.
type NotaryConfig struct {
	BaseURL  string
	APIKey   string
	PolicyID string
	Timeout  time.Duration
}

// USSDConfig holds options for the USSD callback surface.
type USSDConfig struct {
	SessionTTL time.Duration
}

// SheetsConfig contains configuration required to export co-op reports to
// Google Sheets.
type SheetsConfig struct {
	CredentialsPath string
	SpreadsheetID   string
}

// ReportingConfig holds scheduler-related settings.
type ReportingConfig struct {
	CronSchedule string
	Timezone     string
}

// Load reads environment variables (optionally from the provided file) and
// materializes a Config instance.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed loading env file %s: %w", envFile, err)
			}
		}
	} else {
		// Ignore the returned error here; missing .env files are acceptable when
		// configuration comes from the environment directly.
		_ = godotenv.Load()
	}

	notaryTimeout, err := durationWithDefault("NOTARY_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	sessionTTL, err := durationWithDefault("USSD_SESSION_TTL", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getenvWithDefault("APP_PORT", "8080"),
		},
		MongoDB: MongoDBConfig{
			URI:    getenvWithDefault("MONGODB_URI", "mongodb://localhost:27017"),
			DBName: getenvWithDefault("MONGODB_DB_NAME", "cuptrace"),
		},
		Notary: NotaryConfig{
			BaseURL:  os.Getenv("NOTARY_BASE_URL"),
			APIKey:   os.Getenv("NOTARY_API_KEY"),
			PolicyID: os.Getenv("NOTARY_POLICY_ID"),
			Timeout:  notaryTimeout,
		},
		USSD: USSDConfig{
			SessionTTL: sessionTTL,
		},
		Sheets: SheetsConfig{
			CredentialsPath: os.Getenv("GOOGLE_SHEETS_CREDENTIALS_PATH"),
			SpreadsheetID:   os.Getenv("GOOGLE_SHEET_REPORT_ID"),
		},
		Reporting: ReportingConfig{
			CronSchedule: getenvWithDefault("REPORT_CRON_SCHEDULE", "0 20 * * *"),
			Timezone:     getenvWithDefault("TIMEZONE", "Africa/Kigali"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures that required configuration fields are populated.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if c.Server.Port == "" {
		return errors.New("APP_PORT must be provided")
	}

	if c.MongoDB.URI == "" {
		return errors.New("MONGODB_URI must be provided")
	}

	if c.MongoDB.DBName == "" {
		return errors.New("MONGODB_DB_NAME must be provided")
	}

	// The notarization gateway is optional; stage updates proceed without it.
	if c.Notary.BaseURL != "" && c.Notary.APIKey == "" {
		return errors.New("NOTARY_API_KEY must be provided when NOTARY_BASE_URL is set")
	}

	if c.Notary.Timeout <= 0 {
		return errors.New("NOTARY_TIMEOUT must be positive")
	}

	if c.USSD.SessionTTL <= 0 {
		return errors.New("USSD_SESSION_TTL must be positive")
	}

	// Sheets export is optional; the daily report still lands in MongoDB.
	if c.Sheets.CredentialsPath != "" && c.Sheets.SpreadsheetID == "" {
		return errors.New("GOOGLE_SHEET_REPORT_ID must be provided when sheets credentials are set")
	}

	if c.Reporting.CronSchedule == "" {
		return errors.New("REPORT_CRON_SCHEDULE must be provided")
	}

	if c.Reporting.Timezone == "" {
		return errors.New("TIMEZONE must be provided")
	}

	return nil
}

func getenvWithDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}

	if seconds, err := strconv.Atoi(raw); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return parsed, nil
}
