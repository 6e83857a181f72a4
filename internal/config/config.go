// Package config loads service settings from the environment, after an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidPort     = errors.New("invalid port")
	ErrInvalidDuration = errors.New("duration must be positive")
	ErrInvalidRate     = errors.New("rate limit must be positive")
)

// Config holds every setting of the service.
type Config struct {
	MongoURI string
	MongoDB  string
	Port     string

	MQTTBroker   string
	MQTTTopic    string
	MQTTClientID string

	ScanInterval     time.Duration
	ScanStartupDelay time.Duration
	DebounceWindow   time.Duration
	AuditRetention   time.Duration
	WarrantyWarnDays int
	Timezone         string

	RateLimit         int
	RateLimitWindow   time.Duration
	RequireAttachment bool

	LogLevel  string
	LogFormat string
}

// Load reads files (default ".env") if present and then the environment.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("cannot read %s: %w", f, err)
		}
	}

	c := &Config{
		MongoURI:     os.Getenv("MONGO_URI"),
		MongoDB:      getEnv("MONGO_DB", "parts_workflow"),
		Port:         getEnv("PORT", "8080"),
		MQTTBroker:   os.Getenv("MQTT_BROKER"),
		MQTTTopic:    getEnv("MQTT_TOPIC", "parts/notifications"),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "parts-workflow"),
		Timezone:     os.Getenv("TZ"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFormat:    getEnv("LOG_FORMAT", "text"),
	}

	var err error
	if c.ScanInterval, err = getDuration("SCAN_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if c.ScanStartupDelay, err = getDuration("SCAN_STARTUP_DELAY", 2*time.Second); err != nil {
		return nil, err
	}
	if c.DebounceWindow, err = getDuration("DEBOUNCE_WINDOW", time.Second); err != nil {
		return nil, err
	}
	if c.AuditRetention, err = getDuration("AUDIT_RETENTION", 48*time.Hour); err != nil {
		return nil, err
	}
	if c.RateLimitWindow, err = getDuration("RATE_LIMIT_WINDOW", time.Minute); err != nil {
		return nil, err
	}
	if c.WarrantyWarnDays, err = getInt("WARRANTY_WARN_DAYS", 0); err != nil {
		return nil, err
	}
	if c.RateLimit, err = getInt("RATE_LIMIT", 300); err != nil {
		return nil, err
	}
	if c.RequireAttachment, err = getBool("REQUIRE_ATTACHMENT", true); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("%q: %w", c.Port, ErrInvalidPort)
	}
	for name, d := range map[string]time.Duration{
		"SCAN_INTERVAL":     c.ScanInterval,
		"DEBOUNCE_WINDOW":   c.DebounceWindow,
		"AUDIT_RETENTION":   c.AuditRetention,
		"RATE_LIMIT_WINDOW": c.RateLimitWindow,
	} {
		if d <= 0 {
			return fmt.Errorf("%s: %w", name, ErrInvalidDuration)
		}
	}
	if c.RateLimit <= 0 {
		return ErrInvalidRate
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location returns the time zone warranty and reminder dates are read in.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TZ %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// WarnWindow returns the warranty warning window.
func (c *Config) WarnWindow() time.Duration {
	if c.WarrantyWarnDays < 0 {
		return -1
	}
	return time.Duration(c.WarrantyWarnDays) * 24 * time.Hour
}

// NewLogger builds the service logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)
	if strings.EqualFold(c.LogFormat, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
