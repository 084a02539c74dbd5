package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/models"
)

func TestNewDefaultConfig(t *testing.T) {
	config := models.NewDefaultConfig()
	require.NoError(t, config.Validate())

	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, models.StorageTypeMemory, config.Storage.Type)
	assert.True(t, config.RateLimit.Enabled)
	assert.Equal(t, time.Minute, config.RateLimit.API.Window)
	assert.Equal(t, 100, config.RateLimit.API.MaxRequests)
	assert.Equal(t, 5*time.Minute, config.RateLimit.Feed.Window)
	assert.Equal(t, 10, config.RateLimit.Feed.MaxRequests)
	assert.Equal(t, 50, config.RateLimit.Webhook.MaxRequests)
	assert.Equal(t, 24*time.Hour, config.RateLimit.Retention)
	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, "storefront", config.Observability.ServiceName)
}

func TestServerConfigValidate(t *testing.T) {
	valid := models.ServerConfig{Port: 8080, Host: "localhost"}
	assert.NoError(t, valid.Validate())

	invalidPort := valid
	invalidPort.Port = 0
	assert.ErrorContains(t, invalidPort.Validate(), "port must be between 1 and 65535")

	emptyHost := valid
	emptyHost.Host = ""
	assert.ErrorContains(t, emptyHost.Validate(), "host cannot be empty")

	tlsNoCert := valid
	tlsNoCert.TLSEnabled = true
	assert.ErrorContains(t, tlsNoCert.Validate(), "TLS cert file is required")
}

func TestStorageConfigValidate(t *testing.T) {
	assert.NoError(t, (&models.StorageConfig{Type: models.StorageTypeMemory}).Validate())

	postgres := &models.StorageConfig{Type: models.StorageTypePostgres}
	assert.ErrorContains(t, postgres.Validate(), "database DSN is required")
	postgres.Database.DSN = "postgres://localhost/storefront"
	assert.NoError(t, postgres.Validate())

	redis := &models.StorageConfig{Type: models.StorageTypeRedis}
	assert.ErrorContains(t, redis.Validate(), "redis address is required")

	assert.ErrorContains(t, (&models.StorageConfig{Type: "cassandra"}).Validate(), "invalid storage type")
}

func TestRateLimitConfigValidate(t *testing.T) {
	valid := models.NewDefaultConfig().RateLimit
	assert.NoError(t, valid.Validate())

	// A disabled gate skips policy validation entirely.
	disabled := models.RateLimitConfig{Enabled: false}
	assert.NoError(t, disabled.Validate())

	noWindow := valid
	noWindow.Feed.Window = 0
	assert.ErrorContains(t, noWindow.Validate(), "feed policy window must be positive")

	noMax := valid
	noMax.API.MaxRequests = 0
	assert.ErrorContains(t, noMax.Validate(), "api policy max_requests must be positive")

	noRetention := valid
	noRetention.Retention = 0
	assert.ErrorContains(t, noRetention.Validate(), "retention must be positive")

	noPrune := valid
	noPrune.PruneInterval = -time.Minute
	assert.ErrorContains(t, noPrune.Validate(), "prune interval must be positive")
}

func TestLoggingConfigValidate(t *testing.T) {
	valid := models.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}
	assert.NoError(t, valid.Validate())

	badLevel := valid
	badLevel.Level = "verbose"
	assert.ErrorContains(t, badLevel.Validate(), "invalid log level")

	badFormat := valid
	badFormat.Format = "xml"
	assert.ErrorContains(t, badFormat.Validate(), "invalid log format")

	fileNoPath := valid
	fileNoPath.Output = "file"
	assert.ErrorContains(t, fileNoPath.Validate(), "file path is required")
}

func TestMetricsConfigValidate(t *testing.T) {
	assert.NoError(t, (&models.MetricsConfig{Enabled: false}).Validate())
	assert.NoError(t, (&models.MetricsConfig{Enabled: true, Path: "/metrics", Port: 9090}).Validate())
	assert.ErrorContains(t, (&models.MetricsConfig{Enabled: true, Port: 9090}).Validate(), "metrics path cannot be empty")
	assert.ErrorContains(t, (&models.MetricsConfig{Enabled: true, Path: "/metrics", Port: 70000}).Validate(), "metrics port must be between 1 and 65535")
}

func TestConfigValidate_WrapsSectionErrors(t *testing.T) {
	config := models.NewDefaultConfig()
	config.Storage.Type = "cassandra"
	assert.ErrorContains(t, config.Validate(), "invalid storage config")
}
