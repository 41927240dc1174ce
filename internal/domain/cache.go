package domain

import (
	"context"
	"time"
)

// BookCache provides fast shared access to the latest MarketBook per symbol,
// backing internal/feed's Market Data Hub.
type BookCache interface {
	SetBook(ctx context.Context, book MarketBook) error
	GetBook(ctx context.Context, symbol string) (MarketBook, error)
}

// RateLimiter provides distributed rate limiting, backing the Order
// Gateway's global and per-strategy quotas.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking, backing the Close Protocol's
// at-most-one-in-flight guarantee.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is a single entry from a durable SignalBus stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams, used to fan Activity and
// BotHeartbeat events out to the control plane's WebSocket hub.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
