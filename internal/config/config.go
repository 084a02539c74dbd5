package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"storefront/internal/models"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*models.Config, error) {
	// Start with default configuration
	config := models.NewDefaultConfig()

	// Load from file if provided and exists
	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	loadFromEnvironment(config)

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// loadFromEnvironment loads configuration from environment variables
func loadFromEnvironment(config *models.Config) {
	// Server configuration
	if port := os.Getenv("STOREFRONT_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("STOREFRONT_HOST"); host != "" {
		config.Server.Host = host
	}
	if timeout := os.Getenv("STOREFRONT_READ_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.ReadTimeout = d
		}
	}
	if timeout := os.Getenv("STOREFRONT_WRITE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.WriteTimeout = d
		}
	}
	if timeout := os.Getenv("STOREFRONT_IDLE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.IdleTimeout = d
		}
	}
	if tls := os.Getenv("STOREFRONT_TLS_ENABLED"); tls != "" {
		config.Server.TLSEnabled = strings.ToLower(tls) == "true"
	}
	if certFile := os.Getenv("STOREFRONT_TLS_CERT_FILE"); certFile != "" {
		config.Server.TLSCertFile = certFile
	}
	if keyFile := os.Getenv("STOREFRONT_TLS_KEY_FILE"); keyFile != "" {
		config.Server.TLSKeyFile = keyFile
	}

	// Storage configuration
	if storageType := os.Getenv("STOREFRONT_STORAGE_TYPE"); storageType != "" {
		config.Storage.Type = storageType
	}
	if dsn := os.Getenv("STOREFRONT_DATABASE_DSN"); dsn != "" {
		config.Storage.Database.DSN = dsn
	}
	if driver := os.Getenv("STOREFRONT_DATABASE_DRIVER"); driver != "" {
		config.Storage.Database.Driver = driver
	}
	if maxOpen := os.Getenv("STOREFRONT_DATABASE_MAX_OPEN_CONNS"); maxOpen != "" {
		if conns, err := strconv.Atoi(maxOpen); err == nil {
			config.Storage.Database.MaxOpenConns = conns
		}
	}
	if maxIdle := os.Getenv("STOREFRONT_DATABASE_MAX_IDLE_CONNS"); maxIdle != "" {
		if conns, err := strconv.Atoi(maxIdle); err == nil {
			config.Storage.Database.MaxIdleConns = conns
		}
	}

	// Redis configuration
	if addr := os.Getenv("STOREFRONT_REDIS_ADDR"); addr != "" {
		config.Storage.Redis.Addr = addr
	}
	if password := os.Getenv("STOREFRONT_REDIS_PASSWORD"); password != "" {
		config.Storage.Redis.Password = password
	}
	if db := os.Getenv("STOREFRONT_REDIS_DB"); db != "" {
		if dbNum, err := strconv.Atoi(db); err == nil {
			config.Storage.Redis.DB = dbNum
		}
	}
	if poolSize := os.Getenv("STOREFRONT_REDIS_POOL_SIZE"); poolSize != "" {
		if size, err := strconv.Atoi(poolSize); err == nil {
			config.Storage.Redis.PoolSize = size
		}
	}

	// Security configuration
	if auth := os.Getenv("STOREFRONT_ENABLE_AUTH"); auth != "" {
		config.Security.EnableAuth = strings.ToLower(auth) == "true"
	}
	if bk := os.Getenv("STOREFRONT_BOOTSTRAP_KEY"); bk != "" {
		config.Security.BootstrapKey = bk
	}

	// Rate limit configuration
	if enabled := os.Getenv("STOREFRONT_RATE_LIMIT_ENABLED"); enabled != "" {
		config.RateLimit.Enabled = strings.ToLower(enabled) == "true"
	}
	loadPolicyFromEnvironment("STOREFRONT_RATE_LIMIT_API", &config.RateLimit.API)
	loadPolicyFromEnvironment("STOREFRONT_RATE_LIMIT_FEED", &config.RateLimit.Feed)
	loadPolicyFromEnvironment("STOREFRONT_RATE_LIMIT_WEBHOOK", &config.RateLimit.Webhook)
	if retention := os.Getenv("STOREFRONT_RATE_LIMIT_RETENTION"); retention != "" {
		if d, err := time.ParseDuration(retention); err == nil {
			config.RateLimit.Retention = d
		}
	}
	if interval := os.Getenv("STOREFRONT_RATE_LIMIT_PRUNE_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.RateLimit.PruneInterval = d
		}
	}

	// Logging configuration
	if level := os.Getenv("STOREFRONT_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("STOREFRONT_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("STOREFRONT_LOG_OUTPUT"); output != "" {
		config.Logging.Output = output
	}
	if filePath := os.Getenv("STOREFRONT_LOG_FILE_PATH"); filePath != "" {
		config.Logging.FilePath = filePath
	}

	// Metrics configuration
	if metrics := os.Getenv("STOREFRONT_METRICS_ENABLED"); metrics != "" {
		config.Metrics.Enabled = strings.ToLower(metrics) == "true"
	}
	if path := os.Getenv("STOREFRONT_METRICS_PATH"); path != "" {
		config.Metrics.Path = path
	}
	if port := os.Getenv("STOREFRONT_METRICS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Metrics.Port = p
		}
	}

	// Observability configuration
	if name := os.Getenv("STOREFRONT_SERVICE_NAME"); name != "" {
		config.Observability.ServiceName = name
	}
	if tracing := os.Getenv("STOREFRONT_TRACING_ENABLED"); tracing != "" {
		config.Observability.Tracing.Enabled = strings.ToLower(tracing) == "true"
	}
	if exporter := os.Getenv("STOREFRONT_TRACING_EXPORTER"); exporter != "" {
		config.Observability.Tracing.Exporter = exporter
	}
	if endpoint := os.Getenv("STOREFRONT_OTLP_ENDPOINT"); endpoint != "" {
		config.Observability.Tracing.OTLPEndpoint = endpoint
	}
}

// loadPolicyFromEnvironment reads <prefix>_WINDOW and <prefix>_MAX_REQUESTS
// into a policy config.
func loadPolicyFromEnvironment(prefix string, policy *models.PolicyConfig) {
	if window := os.Getenv(prefix + "_WINDOW"); window != "" {
		if d, err := time.ParseDuration(window); err == nil {
			policy.Window = d
		}
	}
	if maxReq := os.Getenv(prefix + "_MAX_REQUESTS"); maxReq != "" {
		if n, err := strconv.Atoi(maxReq); err == nil {
			policy.MaxRequests = n
		}
	}
}
