package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hivebot/hive/internal/domain"
	"github.com/redis/go-redis/v9"
)

// bookCacheTTL bounds how long a cached book survives without a refresh,
// so a crashed feed does not serve an indefinitely stale snapshot to a late
// subscriber.
const bookCacheTTL = 30 * time.Second

// BookCache implements domain.BookCache, giving every process sharing a
// Redis instance a consistent view of the Market Data Hub's latest books
// (used by the control plane's /portfolio endpoint and any sidecar reader
// that is not the scheduler's own in-process hub).
type BookCache struct {
	rdb *redis.Client
}

// NewBookCache creates a BookCache backed by the given Client.
func NewBookCache(c *Client) *BookCache {
	return &BookCache{rdb: c.Underlying()}
}

func bookKey(symbol string) string {
	return "book:" + symbol
}

// SetBook stores the latest MarketBook snapshot for its symbol.
func (bc *BookCache) SetBook(ctx context.Context, book domain.MarketBook) error {
	data, err := json.Marshal(book)
	if err != nil {
		return fmt.Errorf("redis: marshal book %s: %w", book.Symbol, err)
	}
	if err := bc.rdb.Set(ctx, bookKey(book.Symbol), data, bookCacheTTL).Err(); err != nil {
		return fmt.Errorf("redis: set book %s: %w", book.Symbol, err)
	}
	return nil
}

// GetBook returns the latest cached MarketBook for symbol, or
// domain.ErrNotFound if nothing has been cached (or it expired).
func (bc *BookCache) GetBook(ctx context.Context, symbol string) (domain.MarketBook, error) {
	data, err := bc.rdb.Get(ctx, bookKey(symbol)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return domain.MarketBook{}, domain.ErrNotFound
		}
		return domain.MarketBook{}, fmt.Errorf("redis: get book %s: %w", symbol, err)
	}

	var book domain.MarketBook
	if err := json.Unmarshal(data, &book); err != nil {
		return domain.MarketBook{}, fmt.Errorf("redis: unmarshal book %s: %w", symbol, err)
	}
	return book, nil
}

// Compile-time interface check.
var _ domain.BookCache = (*BookCache)(nil)
