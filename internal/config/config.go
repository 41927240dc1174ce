// Package config defines the top-level configuration for the Hive
// orchestrator and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure, populated from a TOML file
// (see cmd/hive/main.go) and overridable by a handful of CLI flags.
type Config struct {
	Network      string `toml:"network"` // "mainnet" | "testnet"
	DashboardURL string `toml:"dashboard_url"`
	Monitor      bool   `toml:"monitor"` // read-only: gateway logs Creates instead of submitting them
	LogLevel     string `toml:"log_level"`

	Wallet    WalletConfig    `toml:"wallet"`
	Exchange  ExchangeConfig  `toml:"exchange"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Gateway   GatewayConfig   `toml:"gateway"`
	Server    ServerConfig    `toml:"server"`
}

// WalletConfig holds the delegated-key credential used to sign exchange
// actions. The orchestrator consumes an already-provisioned
// agent key; it never performs the delegation handshake itself.
type WalletConfig struct {
	MainAddress      string `toml:"main_address"`
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ExchangeConfig holds the perpetuals venue's REST/WS endpoints.
type ExchangeConfig struct {
	RESTHost            string   `toml:"rest_host"`
	WsHost              string   `toml:"ws_host"`
	ChainID             int      `toml:"chain_id"`
	RequestTimeout      duration `toml:"request_timeout"`
	OrderAckTimeout     duration `toml:"order_ack_timeout"`
	GlobalRatePerSecond int      `toml:"global_rate_per_second"`
	SymbolRatePerSecond int      `toml:"symbol_rate_per_second"`
}

// PostgresConfig holds the relational store's connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds the cache/lock/rate-limiter/signal-bus connection
// parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for activity/order
// archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// SchedulerConfig holds the Clock & Scheduler's timing parameters.
type SchedulerConfig struct {
	TickInterval       duration `toml:"tick_interval"` // default 1s
	SoftTickBudget     duration `toml:"soft_tick_budget"` // default 20ms
	BookStaleThreshold duration `toml:"book_stale_threshold"` // default 5s
	ShutdownGrace      duration `toml:"shutdown_grace"` // default 10s
	CloseDeadline      duration `toml:"close_deadline"` // default 30s

	// MaxPositionNotionalMultiple bounds a strategy's position notional as
	// a multiple of its configured total_amount_quote before the risk gate
	// suspends Creates.
	MaxPositionNotionalMultiple float64 `toml:"max_position_notional_multiple"` // default 1.5
	// MinMarginFraction is the account health floor the risk gate checks.
	MinMarginFraction float64 `toml:"min_margin_fraction"` // default 0.1
}

// GatewayConfig holds the Order Gateway's quota/retry parameters.
type GatewayConfig struct {
	GlobalOrdersPerSecond     int      `toml:"global_orders_per_second"`
	DefaultMaxOrdersPerSecond int      `toml:"default_max_orders_per_second"`
	DefaultMaxInflightOrders  int      `toml:"default_max_inflight_orders"`
	QueueCap                  int      `toml:"queue_cap"`
	RetryDelay                duration `toml:"retry_delay"` // default 250ms
}

// ServerConfig holds the Control Plane HTTP server's parameters.
type ServerConfig struct {
	Enabled               bool     `toml:"enabled"`
	Port                  int      `toml:"port"`
	BasePath              string   `toml:"base_path"`
	AdminToken            string   `toml:"admin_token"`
	CORSOrigins           []string `toml:"cors_origins"`
	RequireFreshTimestamp bool     `toml:"require_fresh_timestamp"` // deployment toggle, default false
	MaxTimestampSkew      duration `toml:"max_timestamp_skew"` // default 5m when enabled
	HeartbeatInterval     duration `toml:"heartbeat_interval"` // default 30s
	HeartbeatOfflineAfter duration `toml:"heartbeat_offline_after"` // default 2m
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Network: "testnet",
		LogLevel: "info",
		Exchange: ExchangeConfig{
			RESTHost: "https://api.exchange.example/v1",
			WsHost: "wss://api.exchange.example/ws",
			ChainID: 1,
			RequestTimeout: duration{10 * time.Second},
			OrderAckTimeout: duration{5 * time.Second},
			GlobalRatePerSecond: 50,
			SymbolRatePerSecond: 10,
		},
		Postgres: PostgresConfig{
			Host: "localhost",
			Port: 5432,
			Database: "hive",
			User: "hive",
			SSLMode: "disable",
			PoolMaxConns: 10,
			PoolMinConns: 2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			PoolSize: 20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint: "http://localhost:9000",
			Region: "us-east-1",
			Bucket: "hive-archive",
			ForcePathStyle: true,
		},
		Scheduler: SchedulerConfig{
			TickInterval: duration{1 * time.Second},
			SoftTickBudget: duration{20 * time.Millisecond},
			BookStaleThreshold: duration{5 * time.Second},
			ShutdownGrace: duration{10 * time.Second},
			CloseDeadline: duration{30 * time.Second},
			MaxPositionNotionalMultiple: 1.5,
			MinMarginFraction: 0.1,
		},
		Gateway: GatewayConfig{
			GlobalOrdersPerSecond: 20,
			DefaultMaxOrdersPerSecond: 5,
			DefaultMaxInflightOrders: 50,
			QueueCap: 200,
			RetryDelay: duration{250 * time.Millisecond},
		},
		Server: ServerConfig{
			Enabled: true,
			Port: 8000,
			BasePath: "/api",
			CORSOrigins: []string{"*"},
			RequireFreshTimestamp: false,
			MaxTimestampSkew: duration{5 * time.Minute},
			HeartbeatInterval: duration{30 * time.Second},
			HeartbeatOfflineAfter: duration{2 * time.Minute},
		},
	}
}

var validNetworks = map[string]bool{"mainnet": true, "testnet": true}

var validLogLevels = map[string]bool{
	"debug": true,
	"info": true,
	"warn": true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found, rather than failing on
// the first.
func (c *Config) Validate() error {
	var errs []string

	if !validNetworks[strings.ToLower(c.Network)] {
		errs = append(errs, fmt.Sprintf("unknown network %q (valid: mainnet, testnet)", c.Network))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if !c.Monitor {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set unless --monitor is used")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	if c.Exchange.RESTHost == "" {
		errs = append(errs, "exchange: rest_host must not be empty")
	}
	if c.Exchange.WsHost == "" {
		errs = append(errs, "exchange: ws_host must not be empty")
	}
	if c.Exchange.ChainID <= 0 {
		errs = append(errs, "exchange: chain_id must be positive")
	}
	if c.Exchange.GlobalRatePerSecond <= 0 {
		errs = append(errs, "exchange: global_rate_per_second must be > 0")
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be >= 0 and <= pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	if c.Scheduler.TickInterval.Duration <= 0 {
		errs = append(errs, "scheduler: tick_interval must be > 0")
	}
	if c.Scheduler.SoftTickBudget.Duration <= 0 {
		errs = append(errs, "scheduler: soft_tick_budget must be > 0")
	}
	if c.Scheduler.BookStaleThreshold.Duration <= 0 {
		errs = append(errs, "scheduler: book_stale_threshold must be > 0")
	}
	if c.Scheduler.CloseDeadline.Duration <= 0 {
		errs = append(errs, "scheduler: close_deadline must be > 0")
	}
	if c.Scheduler.MaxPositionNotionalMultiple <= 0 {
		errs = append(errs, "scheduler: max_position_notional_multiple must be > 0")
	}
	if c.Scheduler.MinMarginFraction < 0 || c.Scheduler.MinMarginFraction > 1 {
		errs = append(errs, "scheduler: min_margin_fraction must be in [0, 1]")
	}

	if c.Gateway.GlobalOrdersPerSecond <= 0 {
		errs = append(errs, "gateway: global_orders_per_second must be > 0")
	}
	if c.Gateway.QueueCap <= 0 {
		errs = append(errs, "gateway: queue_cap must be > 0")
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.AdminToken == "" {
			errs = append(errs, "server: admin_token should be set; wallet-signature auth alone is used otherwise")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n - %s", strings.Join(errs, "\n - "))
	}
	return nil
}

// ValidateStrategyParams enforces numeric bounds and
// cross-field invariants for a single strategy config's type-tagged
// parameters. It accumulates every violation rather than stopping at the
// first, matching the control plane's field-level error response.
func ValidateStrategyParams(typ string, leverage int, pmm *PMMParamsView, dir *DirectionalParamsView, mm *MMV2ParamsView) []FieldIssue {
	var issues []FieldIssue

	if leverage < 1 || leverage > 20 {
		issues = append(issues, FieldIssue{Field: "leverage", Message: "must be in [1, 20]"})
	}

	switch typ {
	case "pure_market_making":
		if pmm == nil {
			issues = append(issues, FieldIssue{Field: "pmm", Message: "required for strategy_type pure_market_making"})
			break
		}
		if pmm.BidSpread < 0 || pmm.BidSpread > 1 {
			issues = append(issues, FieldIssue{Field: "bid_spread", Message: "must be in [0, 1]"})
		}
		if pmm.AskSpread < 0 || pmm.AskSpread > 1 {
			issues = append(issues, FieldIssue{Field: "ask_spread", Message: "must be in [0, 1]"})
		}
		if pmm.OrderAmount <= 0 {
			issues = append(issues, FieldIssue{Field: "order_amount", Message: "must be > 0"})
		}
		if pmm.OrderLevels < 1 {
			issues = append(issues, FieldIssue{Field: "order_levels", Message: "must be >= 1"})
		}
		if pmm.OrderRefreshTime < 0 {
			issues = append(issues, FieldIssue{Field: "order_refresh_time", Message: "must be >= 0 (0 collapses to every tick)"})
		}
	case "directional_trading":
		if dir == nil {
			issues = append(issues, FieldIssue{Field: "directional", Message: "required for strategy_type directional_trading"})
			break
		}
		if dir.BBLength < 2 {
			issues = append(issues, FieldIssue{Field: "bb_length", Message: "must be >= 2"})
		}
		if dir.CooldownTime < 0 {
			issues = append(issues, FieldIssue{Field: "cooldown_time", Message: "must be >= 0"})
		}
		if dir.MaxExecutorsPerSide < 1 {
			issues = append(issues, FieldIssue{Field: "max_executors_per_side", Message: "must be >= 1"})
		}
	case "market_making_v2":
		if mm == nil {
			issues = append(issues, FieldIssue{Field: "mm_v2", Message: "required for strategy_type market_making_v2"})
			break
		}
		if sum := sumPct(mm.BuyAmountsPct); sum < 99.99 || sum > 100.01 {
			issues = append(issues, FieldIssue{Field: "buy_amounts_pct", Message: "must sum to 100 +/- 0.01"})
		}
		if sum := sumPct(mm.SellAmountsPct); sum < 99.99 || sum > 100.01 {
			issues = append(issues, FieldIssue{Field: "sell_amounts_pct", Message: "must sum to 100 +/- 0.01"})
		}
	case "arbitrage":
		// Recognized but unsupported: no parameter validation beyond the
		// common fields.
	default:
		issues = append(issues, FieldIssue{Field: "strategy_type", Message: "unrecognized strategy type: " + typ})
	}

	return issues
}

func sumPct(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum
}

// FieldIssue is a lightweight field/message pair; internal/server converts
// these into domain.FieldError with severity "error".
type FieldIssue struct {
	Field   string
	Message string
}

// PMMParamsView, DirectionalParamsView, and MMV2ParamsView mirror the
// relevant subset of internal/domain's strategy parameter structs so this
// package does not import internal/domain (keeping config dependency-free
// besides BurntSushi/toml).
type PMMParamsView struct {
	BidSpread        float64
	AskSpread        float64
	OrderAmount      float64
	OrderLevels      int
	OrderRefreshTime float64
}

type DirectionalParamsView struct {
	BBLength            int
	CooldownTime        float64
	MaxExecutorsPerSide int
}

type MMV2ParamsView struct {
	BuyAmountsPct  []float64
	SellAmountsPct []float64
}
