package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port           string
	AllowedOrigins []string
	// TrustedProxies are CIDRs whose forwarding headers are honoured.
	TrustedProxies []string

	// Database
	SQLiteDBPath string

	// Settings file (services, prompts, taxonomy)
	SettingsFile string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets taxonomy source
	GoogleSpreadsheetID string
	GoogleTaxonomyRange string

	// Classification worker
	AutoClassify         bool
	AutoClassifyInterval time.Duration

	// SettingsRefreshInterval is how often the worker reloads settings.
	SettingsRefreshInterval time.Duration

	AnalyticsCacheTTL time.Duration

	LogLevel  string
	LogFormat string
}

func Load() *Config {
	cfg := &Config{
		Port:           getEnv("PORT", "8081"),
		AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
		TrustedProxies: getEnvList("TRUSTED_PROXIES"),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/spendwise.db"),
		SettingsFile: getEnv("SETTINGS_FILE", "./config/settings.yaml"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "spendwise"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "classify_requests"),

		GoogleSpreadsheetID: getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleTaxonomyRange: getEnv("GOOGLE_TAXONOMY_RANGE", "Categories!A2:B"),

		AutoClassify:         getEnvBool("AUTO_CLASSIFY", false),
		AutoClassifyInterval: getEnvDuration("AUTO_CLASSIFY_INTERVAL", 0),

		SettingsRefreshInterval: getEnvDuration("SETTINGS_REFRESH_INTERVAL", time.Hour),

		AnalyticsCacheTTL: getEnvDuration("ANALYTICS_CACHE_TTL", time.Minute),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	for _, cidr := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			errors = append(errors, fmt.Sprintf("invalid trusted proxy '%s': must be a CIDR", cidr))
		}
	}

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	if c.SettingsFile == "" {
		errors = append(errors, "settings file path cannot be empty")
	}

	// AMQP is optional; when set it must be well formed.
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.GoogleSpreadsheetID != "" && !strings.Contains(c.GoogleTaxonomyRange, "!") {
		errors = append(errors, fmt.Sprintf("invalid taxonomy range '%s': must be in Sheet!A1:B form", c.GoogleTaxonomyRange))
	}

	if c.AutoClassifyInterval < 0 {
		errors = append(errors, fmt.Sprintf("invalid auto-classify interval %v: must not be negative", c.AutoClassifyInterval))
	} else if c.AutoClassifyInterval > 0 && c.AutoClassifyInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid auto-classify interval %v: must be at least 1 second", c.AutoClassifyInterval))
	} else if c.AutoClassifyInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid auto-classify interval %v: must be at most 24 hours", c.AutoClassifyInterval))
	}

	if c.SettingsRefreshInterval < 0 {
		errors = append(errors, fmt.Sprintf("invalid settings refresh interval %v: must not be negative", c.SettingsRefreshInterval))
	}

	if c.AnalyticsCacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid analytics cache TTL %v: must not be negative", c.AnalyticsCacheTTL))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
