package models

// MConfig Structure
type MConfig struct {
	Name        string           `yaml:"name"`
	Host        string           `yaml:"host"`
	Port        int              `yaml:"port"`
	LogLevel    string           `yaml:"log_level"`
	LogFormat   string           `yaml:"log_format"`
	GrpcHost    string           `yaml:"grpc_host"`
	GrpcPort    int              `yaml:"grpc_port"`
	StartOnBoot bool             `yaml:"start_on_boot"`
	Upstream    MUpstreamConfig  `yaml:"upstream"`
	Reconnect   MReconnectConfig `yaml:"reconnect"`
	Broadcast   MBroadcastConfig `yaml:"broadcast"`
	Storage     MStorageConfig   `yaml:"storage"`
	Redis       MRedisConfig     `yaml:"redis"`
	Network     MNetworkConfig   `yaml:"network"`
}

type MUpstreamConfig struct {
	Kind       string   `yaml:"kind"` // "solana" or "relay"
	Endpoint   string   `yaml:"endpoint"`
	Token      string   `yaml:"token"`
	Network    string   `yaml:"network"` // mainnet, devnet
	Commitment string   `yaml:"commitment"`
	Slots      bool     `yaml:"slots"`
	Accounts   []string `yaml:"accounts"`
	Mentions   []string `yaml:"mentions"`
	Channels   []string `yaml:"channels"`
}

type MReconnectConfig struct {
	AutoReconnect    bool `yaml:"auto_reconnect"`
	MaxAttempts      int  `yaml:"max_attempts"` // 0 = unlimited
	BaseDelaySeconds int  `yaml:"base_delay_seconds"`
	MaxDelaySeconds  int  `yaml:"max_delay_seconds"`
}

type MBroadcastConfig struct {
	MailboxSize             int      `yaml:"mailbox_size"`
	WriteWaitSeconds        int      `yaml:"write_wait_seconds"`
	PongWaitSeconds         int      `yaml:"pong_wait_seconds"`
	MaxMessageSize          int64    `yaml:"max_message_size"`
	ClientMessagesPerSecond float64  `yaml:"client_messages_per_second"`
	AllowedOrigins          []string `yaml:"allowed_origins"`
}

type MStorageConfig struct {
	DBType                    string `yaml:"db_type"` // none, sqlite, postgres
	DBPath                    string `yaml:"db_path"`
	DBConnectionString        string `yaml:"db_connection_string"`
	CheckpointIntervalSeconds int    `yaml:"checkpoint_interval_seconds"`
}

type MRedisConfig struct {
	URL     string `yaml:"url"`
	Channel string `yaml:"channel"`
}

type MNetworkConfig struct {
	Proxy                   string `yaml:"proxy"`
	HandshakeTimeoutSeconds int    `yaml:"handshake_timeout_seconds"`
	InsecureSkipVerify      bool   `yaml:"insecure_skip_verify"`
}

// Filter builds the upstream subscription filter described by the config.
func (u MUpstreamConfig) Filter() MFilter {
	return MFilter{
		Slots:      u.Slots,
		Accounts:   u.Accounts,
		Mentions:   u.Mentions,
		Channels:   u.Channels,
		Commitment: u.Commitment,
	}
}

// Origin identifies the upstream a cached value came from. Checkpoints are
// keyed by it so a relay pointed at another chain never restores a foreign slot.
func (u MUpstreamConfig) Origin() string {
	return u.Kind + "|" + u.Endpoint
}
