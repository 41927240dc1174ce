package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	s3blob "github.com/hivebot/hive/internal/blob/s3"
	"github.com/hivebot/hive/internal/cache/redis"
	"github.com/hivebot/hive/internal/closeproto"
	"github.com/hivebot/hive/internal/config"
	"github.com/hivebot/hive/internal/crypto"
	"github.com/hivebot/hive/internal/domain"
	"github.com/hivebot/hive/internal/exchange"
	"github.com/hivebot/hive/internal/feed"
	"github.com/hivebot/hive/internal/gateway"
	"github.com/hivebot/hive/internal/observability"
	"github.com/hivebot/hive/internal/registry"
	"github.com/hivebot/hive/internal/scheduler"
	"github.com/hivebot/hive/internal/server"
	"github.com/hivebot/hive/internal/server/handler"
	"github.com/hivebot/hive/internal/server/ws"
	"github.com/hivebot/hive/internal/store/postgres"
)

// bookLingerWindow bounds how long the Market Data Hub keeps streaming a
// symbol after the last strategy releases it, so a quick restart doesn't
// force a resubscribe.
const bookLingerWindow = 30 * time.Second

// Dependencies bundles every constructed component the Orchestrator drives.
// Wire builds it once at startup; Close tears it down in reverse order.
type Dependencies struct {
	PG    *postgres.Client
	Redis *redis.Client
	S3    *s3blob.Client

	Signer    *crypto.Signer
	Connector *exchange.Connector
	BookHub   *feed.Hub
	Candles   *feed.CandleFeed

	Registry  *registry.Registry
	Gateway   *gateway.Gateway
	Sched     *scheduler.Scheduler
	Close     *closeproto.Runner
	Heartbeat *observability.Heartbeat

	Server *server.Server
	WSHub  *ws.Hub
}

// Wire constructs every component from cfg and returns it with a cleanup
// function that releases resources in reverse build order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	pg, err := postgres.New(ctx, postgres.ClientConfig{
		DSN: cfg.Postgres.DSN,
		Host: cfg.Postgres.Host,
		Port: cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User: cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode: cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	deps.PG = pg
	closers = append(closers, pg.Close)

	if cfg.Postgres.RunMigrations {
		if err := pg.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	strategyStore := postgres.NewStrategyStore(pg)
	activityStore := postgres.NewActivityStore(pg)
	botStore := postgres.NewBotStore(pg)

	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr: cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB: cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	deps.Redis = redisClient
	closers = append(closers, func() { _ = redisClient.Close() })

	bookCache := redis.NewBookCache(redisClient)
	lockManager := redis.NewLockManager(redisClient)
	rateLimiter := redis.NewRateLimiter(redisClient)
	signalBus := redis.NewSignalBus(redisClient)

	s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
		Endpoint: cfg.S3.Endpoint,
		Region: cfg.S3.Region,
		Bucket: cfg.S3.Bucket,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		UseSSL: cfg.S3.UseSSL,
		ForcePathStyle: cfg.S3.ForcePathStyle,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: s3: %w", err)
	}
	deps.S3 = s3Client
	closers = append(closers, func() { _ = s3Client.Close() })

	blobWriter := s3blob.NewWriter(s3Client)
	archiver := s3blob.NewArchiver(blobWriter, activityStore)

	// --- Delegated-key signer. Skipped in --monitor mode, where
	// the gateway logs Creates instead of submitting them. ---
	if !cfg.Monitor {
		keyHex, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey: cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword: cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: loading wallet key: %w", err)
		}
		signer, err := crypto.NewSigner(keyHex, cfg.Exchange.ChainID)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: signer: %w", err)
		}
		deps.Signer = signer
	}

	connector := exchange.New(exchange.Config{
		RESTHost: cfg.Exchange.RESTHost,
		WsHost: cfg.Exchange.WsHost,
		ChainID: cfg.Exchange.ChainID,
		RequestTimeout: cfg.Exchange.RequestTimeout.Duration,
		GlobalRatePerSecond: cfg.Exchange.GlobalRatePerSecond,
		SymbolRatePerSecond: cfg.Exchange.SymbolRatePerSecond,
	}, deps.Signer, rateLimiter)
	deps.Connector = connector
	closers = append(closers, func() { _ = connector.Close() })

	if err := connector.Connect(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: connector connect: %w", err)
	}

	bookHub := feed.New(connector.WS(), cfg.Scheduler.BookStaleThreshold.Duration, bookLingerWindow, logger)
	bookHub.OnUpdate(func(book domain.MarketBook) {
		_ = bookCache.SetBook(ctx, book)
	})
	deps.BookHub = bookHub

	candles := feed.NewCandleFeed(connector.WS())
	deps.Candles = candles

	reg := registry.New(strategyStore, activityStore, signalBus, logger)
	reg.SetOnRegister(func(cfg domain.StrategyConfig) {
		if _, err := bookHub.Subscribe(cfg.TradingPair); err != nil {
			logger.Warn("wire: book subscribe failed", slog.String("strategy_id", cfg.ID), slog.String("error", err.Error()))
		}
		if cfg.Directional != nil {
			if err := candles.Subscribe(cfg.CandlesPair(), cfg.Directional.Interval); err != nil {
				logger.Warn("wire: candle subscribe failed", slog.String("strategy_id", cfg.ID), slog.String("error", err.Error()))
			}
		}
	})
	if err := reg.Restore(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: restore strategies: %w", err)
	}
	deps.Registry = reg

	connector.WS().OnFill(func(order domain.OrderRecord) {
		reg.ApplyFill(ctx, order)
	})
	connector.WS().OnReconnect(func([]string) {
		go func() {
			recCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			if err := connector.Reconcile(recCtx, reg, logger); err != nil {
				logger.Warn("wire: reconnect reconciliation failed", slog.String("error", err.Error()))
			}
		}()
	})

	gw := gateway.New(connector, rateLimiter, gateway.Config{
		GlobalOrdersPerSecond: cfg.Gateway.GlobalOrdersPerSecond,
		QueueCap: cfg.Gateway.QueueCap,
		RetryDelay: cfg.Gateway.RetryDelay.Duration,
	}, logger)
	deps.Gateway = gw

	closeRunner := closeproto.New(reg, gw, bookHub, lockManager, closeproto.Config{
		CancelDeadline: cfg.Scheduler.CloseDeadline.Duration,
		LockTTL: cfg.Scheduler.CloseDeadline.Duration + 15*time.Second,
	}, logger)
	closeRunner.SetArchiver(archiver)
	deps.Close = closeRunner

	sched := scheduler.New(reg, bookHub, connector, candles, gw, scheduler.Config{
		TickInterval: cfg.Scheduler.TickInterval.Duration,
		SoftTickBudget: cfg.Scheduler.SoftTickBudget.Duration,
		ShutdownGrace: cfg.Scheduler.ShutdownGrace.Duration,
		MaxPositionNotionalMultiple: cfg.Scheduler.MaxPositionNotionalMultiple,
		MinMarginFraction: cfg.Scheduler.MinMarginFraction,
	}, logger)
	sched.SetShutdownCloser(func(ctx context.Context, strategyID string) error {
		return closeRunner.Close(ctx, strategyID, closeproto.Options{ClosePositions: true, CancelOrders: true})
	})
	deps.Sched = sched

	botID := cfg.Wallet.MainAddress
	if botID == "" {
		if host, err := os.Hostname(); err == nil {
			botID = host
		} else {
			botID = "hive"
		}
	}
	deps.Heartbeat = observability.New(reg, botStore, signalBus, observability.Config{
		BotID: botID,
		BotName: "hive-" + cfg.Network,
		Interval: cfg.Server.HeartbeatInterval.Duration,
		APIPort: cfg.Server.Port,
		DashboardURL: cfg.DashboardURL,
		MainAddress: cfg.Wallet.MainAddress,
	}, logger)

	if cfg.Server.Enabled {
		wsHub := ws.NewHub(signalBus, logger, ws.Config{BotID: botID, StartedAt: time.Now().UTC()})
		deps.WSHub = wsHub

		handlers := server.Handlers{
			Health: handler.NewHealthHandler(logger),
			Strategy: handler.NewStrategyHandler(reg, logger),
			Close: handler.NewCloseHandler(reg, closeRunner, logger),
			Portfolio: handler.NewPortfolioHandler(reg),
			Bots: handler.NewBotsHandler(botStore, logger),
		}

		deps.Server = server.NewServer(server.Config{
			Port: cfg.Server.Port,
			BasePath: cfg.Server.BasePath,
			CORSOrigins: cfg.Server.CORSOrigins,
			AdminToken: cfg.Server.AdminToken,
			RequireFreshTimestamp: cfg.Server.RequireFreshTimestamp,
			MaxTimestampSkew: cfg.Server.MaxTimestampSkew.Duration,
		}, handlers, wsHub, rateLimiter, logger)
	}

	return deps, cleanup, nil
}
