package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "MONGO_DB", "SCAN_INTERVAL", "DEBOUNCE_WINDOW", "AUDIT_RETENTION", "WARRANTY_WARN_DAYS", "LOG_FORMAT", "TZ", "REQUIRE_ATTACHMENT"} {
		t.Setenv(k, "")
	}
	c, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "8080", c.Port)
	assert.Equal(t, "parts_workflow", c.MongoDB)
	assert.Equal(t, time.Minute, c.ScanInterval)
	assert.Equal(t, time.Second, c.DebounceWindow)
	assert.Equal(t, 48*time.Hour, c.AuditRetention)
	assert.Zero(t, c.WarnWindow(), "every active warranty is notified")
	assert.True(t, c.RequireAttachment)
	assert.NoError(t, c.Validate())
}

func TestLoadFromEnvFile(t *testing.T) {
	// godotenv never overrides variables that exist, even empty ones
	for _, k := range []string{"PORT", "DEBOUNCE_WINDOW"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=9090\nDEBOUNCE_WINDOW=250ms\n"), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", c.Port)
	assert.Equal(t, 250*time.Millisecond, c.DebounceWindow)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"SCAN_INTERVAL", "often"},
		{"WARRANTY_WARN_DAYS", "thirty"},
		{"REQUIRE_ATTACHMENT", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:            "8080",
			ScanInterval:    time.Minute,
			DebounceWindow:  time.Second,
			AuditRetention:  48 * time.Hour,
			RateLimitWindow: time.Minute,
			RateLimit:       10,
		}
	}
	require.NoError(t, valid().Validate())

	c := valid()
	c.Port = "99999"
	assert.ErrorIs(t, c.Validate(), ErrInvalidPort)

	c = valid()
	c.DebounceWindow = 0
	assert.ErrorIs(t, c.Validate(), ErrInvalidDuration)

	c = valid()
	c.RateLimit = 0
	assert.ErrorIs(t, c.Validate(), ErrInvalidRate)

	c = valid()
	c.Timezone = "Mars/Olympus"
	assert.Error(t, c.Validate())
}

func TestNewLogger(t *testing.T) {
	c := &Config{LogLevel: "debug", LogFormat: "json"}
	logger, err := c.NewLogger()
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	c.LogLevel = "loud"
	_, err = c.NewLogger()
	assert.Error(t, err)
}
