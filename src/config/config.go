package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"laserstream-relay/src/data_source/solana"
	"laserstream-relay/src/helpers"
	"laserstream-relay/src/models"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
	"gopkg.in/yaml.v3"
)

// Upstream endpoints per network for the solana feed.
var networkEndpoints = map[string]string{
	"mainnet": "wss://mainnet.helius-rpc.com",
	"devnet":  "wss://devnet.helius-rpc.com",
}

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// envOverrides holds the environment variables that win over the YAML file.
// Booleans and counts are strings so that "unset" differs from "false"/"0".
type envOverrides struct {
	APIKey        string `env:"HELIUS_API_KEY"`
	Endpoint      string `env:"LASERSTREAM_ENDPOINT"`
	Network       string `env:"LASERSTREAM_NETWORK"`
	Commitment    string `env:"COMMITMENT_LEVEL"`
	Port          string `env:"PORT"`
	AutoReconnect string `env:"AUTO_RECONNECT"`
	MaxAttempts   string `env:"MAX_RECONNECT_ATTEMPTS"`
	LogLevel      string `env:"LOG_LEVEL"`
	DatabaseURL   string `env:"DATABASE_URL"`
	RedisURL      string `env:"REDIS_URL"`
}

// -----------------------------------------------------------------------------

// Default returns the configuration used when no file is given.
func Default() *models.MConfig {
	return &models.MConfig{
		Name:        "laserstream-relay",
		Host:        "0.0.0.0",
		Port:        8080,
		LogLevel:    "INFO",
		LogFormat:   "text",
		GrpcHost:    "0.0.0.0",
		GrpcPort:    0,
		StartOnBoot: true,
		Upstream: models.MUpstreamConfig{
			Kind:       "solana",
			Network:    "mainnet",
			Commitment: "confirmed",
			Slots:      true,
		},
		Reconnect: models.MReconnectConfig{
			AutoReconnect:    true,
			BaseDelaySeconds: 1,
			MaxDelaySeconds:  32,
		},
		Broadcast: models.MBroadcastConfig{
			MailboxSize:             256,
			WriteWaitSeconds:        10,
			PongWaitSeconds:         60,
			MaxMessageSize:          64 * 1024,
			ClientMessagesPerSecond: 10,
		},
		Storage: models.MStorageConfig{
			DBType:                    "none",
			CheckpointIntervalSeconds: 5,
		},
		Redis: models.MRedisConfig{
			Channel: "laserstream:updates",
		},
		Network: models.MNetworkConfig{
			HandshakeTimeoutSeconds: 10,
		},
	}
}

// -----------------------------------------------------------------------------

// NewConfig loads defaults, then the YAML file at configPath (if any), then a
// .env file and the environment, and validates the result.
func NewConfig(configPath string) (*Config, error) {
	modelConfig := Default()

	// 1. Read the YAML file content
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, helpers.NewConfigurationError("failed to read config file '%s': %v", configPath, err)
		}

		// 2. Unmarshal data over the defaults
		if err := yaml.Unmarshal(data, modelConfig); err != nil {
			return nil, helpers.NewConfigurationError("failed to parse config from YAML: %v", err)
		}
	}

	// 3. Environment
	// A missing .env file is normal in containers
	_ = godotenv.Load()

	config := &Config{MConfig: modelConfig}
	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}
	config.deriveEndpoint()

	// 4. Validate the loaded configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// -----------------------------------------------------------------------------

// ApplyEnv overlays the process environment onto the config.
func (c *Config) ApplyEnv() error {
	var ov envOverrides
	if err := env.Load(&ov, nil); err != nil {
		return helpers.NewConfigurationError("failed to load environment variables: %v", err)
	}

	if ov.APIKey != "" {
		c.Upstream.Token = ov.APIKey
	}
	if ov.Endpoint != "" {
		c.Upstream.Endpoint = ov.Endpoint
	}
	if ov.Network != "" {
		c.Upstream.Network = strings.ToLower(ov.Network)
	}
	if ov.Commitment != "" {
		c.Upstream.Commitment = strings.ToLower(ov.Commitment)
	}
	if ov.LogLevel != "" {
		c.LogLevel = strings.ToUpper(ov.LogLevel)
	}

	if ov.Port != "" {
		port, err := strconv.Atoi(ov.Port)
		if err != nil {
			return helpers.NewConfigurationError("invalid PORT %q", ov.Port)
		}
		c.Port = port
	}
	if ov.AutoReconnect != "" {
		auto, err := strconv.ParseBool(ov.AutoReconnect)
		if err != nil {
			return helpers.NewConfigurationError("invalid AUTO_RECONNECT %q", ov.AutoReconnect)
		}
		c.Reconnect.AutoReconnect = auto
	}
	if ov.MaxAttempts != "" {
		attempts, err := strconv.Atoi(ov.MaxAttempts)
		if err != nil {
			return helpers.NewConfigurationError("invalid MAX_RECONNECT_ATTEMPTS %q", ov.MaxAttempts)
		}
		c.Reconnect.MaxAttempts = attempts
	}

	if ov.DatabaseURL != "" {
		c.Storage.DBConnectionString = ov.DatabaseURL
		if c.Storage.DBType == "" || c.Storage.DBType == "none" {
			c.Storage.DBType = "postgres"
		}
	}
	if ov.RedisURL != "" {
		c.Redis.URL = ov.RedisURL
	}
	return nil
}

// deriveEndpoint fills the solana endpoint from the network name when unset.
func (c *Config) deriveEndpoint() {
	if c.Upstream.Endpoint != "" || c.Upstream.Kind != "solana" {
		return
	}
	if endpoint, ok := networkEndpoints[c.Upstream.Network]; ok {
		c.Upstream.Endpoint = endpoint
	}
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	// Validate App configuration (Flattened)
	if c.Name == "" {
		return helpers.NewConfigurationError("application name cannot be empty")
	}

	// Validate Server configuration (Flattened)
	if c.Host == "" {
		return helpers.NewConfigurationError("server host cannot be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return helpers.NewConfigurationError("invalid server port number: %d (must be between 1 and 65535)", c.Port)
	}
	if c.GrpcPort < 0 || c.GrpcPort > 65535 {
		return helpers.NewConfigurationError("invalid grpc port number: %d", c.GrpcPort)
	}

	// Validate Upstream configuration
	up := c.Upstream
	switch up.Kind {
	case "solana":
		if up.Token == "" {
			return helpers.NewConfigurationError("HELIUS_API_KEY (upstream.token) is required for the solana upstream")
		}
		if !up.Slots && len(up.Accounts) == 0 && len(up.Mentions) == 0 {
			return helpers.NewConfigurationError("upstream filter selects nothing: enable slots or list accounts/mentions")
		}
		if err := solana.ValidateKeys(up.Accounts); err != nil {
			return err
		}
		if err := solana.ValidateKeys(up.Mentions); err != nil {
			return err
		}
		if c.Network.Proxy != "" || c.Network.InsecureSkipVerify {
			return helpers.NewConfigurationError("network.proxy and network.insecure_skip_verify are not supported by the solana upstream")
		}
	case "relay":
	default:
		return helpers.NewConfigurationError("unknown upstream kind %q", up.Kind)
	}
	if up.Endpoint == "" {
		return helpers.NewConfigurationError("upstream endpoint cannot be empty (unknown network %q?)", up.Network)
	}
	if !solana.ValidCommitment(up.Commitment) {
		return helpers.NewConfigurationError("invalid commitment level %q", up.Commitment)
	}

	// Validate Reconnect configuration
	if c.Reconnect.MaxAttempts < 0 {
		return helpers.NewConfigurationError("max reconnect attempts cannot be negative")
	}
	if c.Reconnect.BaseDelaySeconds < 0 || c.Reconnect.MaxDelaySeconds < 0 {
		return helpers.NewConfigurationError("reconnect delays cannot be negative")
	}

	// Validate Broadcast configuration
	if c.Broadcast.MailboxSize <= 0 {
		return helpers.NewConfigurationError("mailbox size must be greater than 0")
	}

	// Validate Storage configuration
	switch c.Storage.DBType {
	case "", "none":
	case "sqlite":
		if c.Storage.DBPath == "" {
			return helpers.NewConfigurationError("database path cannot be empty for sqlite")
		}
	case "postgres":
		if c.Storage.DBConnectionString == "" {
			return helpers.NewConfigurationError("DATABASE_URL (storage.db_connection_string) is required for postgres")
		}
	default:
		return helpers.NewConfigurationError("unknown database type %q", c.Storage.DBType)
	}

	return nil
}

// -----------------------------------------------------------------------------

// ReconnectPolicy converts the reconnect section into a backoff policy.
func (c *Config) ReconnectPolicy() helpers.ReconnectPolicy {
	policy := helpers.ReconnectPolicy{
		AutoReconnect: c.Reconnect.AutoReconnect,
		MaxAttempts:   c.Reconnect.MaxAttempts,
		BaseDelay:     helpers.DefaultBaseDelay,
		MaxDelay:      helpers.DefaultMaxDelay,
	}
	if c.Reconnect.BaseDelaySeconds > 0 {
		policy.BaseDelay = secondsToDuration(c.Reconnect.BaseDelaySeconds)
	}
	if c.Reconnect.MaxDelaySeconds > 0 {
		policy.MaxDelay = secondsToDuration(c.Reconnect.MaxDelaySeconds)
	}
	return policy
}

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	// 1. Marshal the struct to YAML
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// 2. Write to file (0600 permissions)
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}
