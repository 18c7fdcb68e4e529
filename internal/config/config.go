package config

// Config holds all application configuration loaded from environment variables.
// This struct uses github.com/caarlos0/env for automatic environment variable parsing.
type Config struct {
	// Server configuration
	MetricsPort int    `env:"METRICS_PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"dev"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"KardsSessionBroker"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Kards backend configuration
	Hostname    string `env:"KARDS_HOSTNAME" envDefault:"kards.live.1939api.com"`
	DriftAPIKey string `env:"KARDS_DRIFT_API_KEY,required"`
	AppID       string `env:"KARDS_APP_ID" envDefault:"544810"`

	// Account pool configuration
	PoolType     string `env:"KARDS_POOL_TYPE" envDefault:"*"`
	AccountsFile string `env:"ACCOUNTS_FILE" envDefault:"config/accounts.yaml"`

	// Steam bridge configuration. The bridge sidecar owns the actual Steam
	// connection; this service only talks HTTP to it.
	SteamBridgeURL       string `env:"STEAM_BRIDGE_URL" envDefault:"http://localhost:8350"`
	SteamLoginTimeoutSec int    `env:"STEAM_LOGIN_TIMEOUT_SEC" envDefault:"60"`

	// Redis configuration
	RedisHost         string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort         string `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword     string `env:"REDIS_PASSWORD"`
	RedisMaxRetries   int    `env:"REDIS_MAX_RETRIES" envDefault:"5"`
	RedisRetryDelayMs int    `env:"REDIS_RETRY_DELAY_MS" envDefault:"1000"`

	// Telemetry configuration
	OtelEnabled bool `env:"OTEL_ENABLED" envDefault:"true"`
}
