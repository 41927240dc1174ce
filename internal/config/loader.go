package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML config file at path (if non-empty) on top of Defaults(),
// loads a.env file from the working directory when present, then applies
// HIVE_* environment variable overrides. Environment variables take
// precedence over the file.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decoding %s: %w", path, err)
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides maps HIVE_* environment variables onto cfg, so deploys
// can override a TOML file without rewriting it.
func applyEnvOverrides(cfg *Config) {
	setStr("HIVE_NETWORK", &cfg.Network)
	setStr("HIVE_DASHBOARD_URL", &cfg.DashboardURL)
	setBool("HIVE_MONITOR", &cfg.Monitor)
	setStr("HIVE_LOG_LEVEL", &cfg.LogLevel)

	setStr("HIVE_WALLET_MAIN_ADDRESS", &cfg.Wallet.MainAddress)
	setStr("HIVE_WALLET_PRIVATE_KEY", &cfg.Wallet.PrivateKey)
	setStr("HIVE_WALLET_ENCRYPTED_KEY_PATH", &cfg.Wallet.EncryptedKeyPath)
	setStr("HIVE_WALLET_KEY_PASSWORD", &cfg.Wallet.KeyPassword)

	setStr("HIVE_EXCHANGE_REST_HOST", &cfg.Exchange.RESTHost)
	setStr("HIVE_EXCHANGE_WS_HOST", &cfg.Exchange.WsHost)
	setInt("HIVE_EXCHANGE_CHAIN_ID", &cfg.Exchange.ChainID)
	setDuration("HIVE_EXCHANGE_REQUEST_TIMEOUT", &cfg.Exchange.RequestTimeout)
	setDuration("HIVE_EXCHANGE_ORDER_ACK_TIMEOUT", &cfg.Exchange.OrderAckTimeout)
	setInt("HIVE_EXCHANGE_GLOBAL_RATE_PER_SECOND", &cfg.Exchange.GlobalRatePerSecond)
	setInt("HIVE_EXCHANGE_SYMBOL_RATE_PER_SECOND", &cfg.Exchange.SymbolRatePerSecond)

	setStr("HIVE_POSTGRES_DSN", &cfg.Postgres.DSN)
	setStr("HIVE_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("HIVE_POSTGRES_PORT", &cfg.Postgres.Port)
	setStr("HIVE_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setStr("HIVE_POSTGRES_USER", &cfg.Postgres.User)
	setStr("HIVE_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setStr("HIVE_POSTGRES_SSL_MODE", &cfg.Postgres.SSLMode)
	setInt("HIVE_POSTGRES_POOL_MAX_CONNS", &cfg.Postgres.PoolMaxConns)
	setInt("HIVE_POSTGRES_POOL_MIN_CONNS", &cfg.Postgres.PoolMinConns)
	setBool("HIVE_POSTGRES_RUN_MIGRATIONS", &cfg.Postgres.RunMigrations)

	setStr("HIVE_REDIS_ADDR", &cfg.Redis.Addr)
	setStr("HIVE_REDIS_PASSWORD", &cfg.Redis.Password)
	setInt("HIVE_REDIS_DB", &cfg.Redis.DB)
	setInt("HIVE_REDIS_POOL_SIZE", &cfg.Redis.PoolSize)
	setInt("HIVE_REDIS_MAX_RETRIES", &cfg.Redis.MaxRetries)
	setBool("HIVE_REDIS_TLS_ENABLED", &cfg.Redis.TLSEnabled)

	setStr("HIVE_S3_ENDPOINT", &cfg.S3.Endpoint)
	setStr("HIVE_S3_REGION", &cfg.S3.Region)
	setStr("HIVE_S3_BUCKET", &cfg.S3.Bucket)
	setStr("HIVE_S3_ACCESS_KEY", &cfg.S3.AccessKey)
	setStr("HIVE_S3_SECRET_KEY", &cfg.S3.SecretKey)
	setBool("HIVE_S3_USE_SSL", &cfg.S3.UseSSL)
	setBool("HIVE_S3_FORCE_PATH_STYLE", &cfg.S3.ForcePathStyle)

	setDuration("HIVE_SCHEDULER_TICK_INTERVAL", &cfg.Scheduler.TickInterval)
	setDuration("HIVE_SCHEDULER_SOFT_TICK_BUDGET", &cfg.Scheduler.SoftTickBudget)
	setDuration("HIVE_SCHEDULER_BOOK_STALE_THRESHOLD", &cfg.Scheduler.BookStaleThreshold)
	setDuration("HIVE_SCHEDULER_SHUTDOWN_GRACE", &cfg.Scheduler.ShutdownGrace)
	setDuration("HIVE_SCHEDULER_CLOSE_DEADLINE", &cfg.Scheduler.CloseDeadline)
	setFloat("HIVE_SCHEDULER_MAX_POSITION_NOTIONAL_MULTIPLE", &cfg.Scheduler.MaxPositionNotionalMultiple)
	setFloat("HIVE_SCHEDULER_MIN_MARGIN_FRACTION", &cfg.Scheduler.MinMarginFraction)

	setInt("HIVE_GATEWAY_GLOBAL_ORDERS_PER_SECOND", &cfg.Gateway.GlobalOrdersPerSecond)
	setInt("HIVE_GATEWAY_DEFAULT_MAX_ORDERS_PER_SECOND", &cfg.Gateway.DefaultMaxOrdersPerSecond)
	setInt("HIVE_GATEWAY_DEFAULT_MAX_INFLIGHT_ORDERS", &cfg.Gateway.DefaultMaxInflightOrders)
	setInt("HIVE_GATEWAY_QUEUE_CAP", &cfg.Gateway.QueueCap)
	setDuration("HIVE_GATEWAY_RETRY_DELAY", &cfg.Gateway.RetryDelay)

	setBool("HIVE_SERVER_ENABLED", &cfg.Server.Enabled)
	setInt("HIVE_SERVER_PORT", &cfg.Server.Port)
	setStr("HIVE_SERVER_BASE_PATH", &cfg.Server.BasePath)
	setStr("HIVE_SERVER_ADMIN_TOKEN", &cfg.Server.AdminToken)
	setStringSlice("HIVE_SERVER_CORS_ORIGINS", &cfg.Server.CORSOrigins)
	setBool("HIVE_SERVER_REQUIRE_FRESH_TIMESTAMP", &cfg.Server.RequireFreshTimestamp)
	setDuration("HIVE_SERVER_MAX_TIMESTAMP_SKEW", &cfg.Server.MaxTimestampSkew)
	setDuration("HIVE_SERVER_HEARTBEAT_INTERVAL", &cfg.Server.HeartbeatInterval)
	setDuration("HIVE_SERVER_HEARTBEAT_OFFLINE_AFTER", &cfg.Server.HeartbeatOfflineAfter)
}

func setStr(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setBool(key string, dst *bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err == nil {
		*dst = b
	}
}

func setInt(key string, dst *int) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err == nil {
		*dst = n
	}
}

func setFloat(key string, dst *float64) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err == nil {
		*dst = f
	}
}

func setDuration(key string, dst *duration) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err == nil {
		dst.Duration = d
	}
}

func setStringSlice(key string, dst *[]string) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	parts := strings.Split(v, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	*dst = parts
}
