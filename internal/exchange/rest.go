// Package exchange implements the Exchange Connector: a single REST+WS
// client per venue, shared by every hosted strategy.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hivebot/hive/internal/crypto"
	"github.com/hivebot/hive/internal/domain"
)

// RESTConfig holds the venue's REST endpoint and signing parameters.
type RESTConfig struct {
	BaseURL        string
	ChainID        int
	RequestTimeout time.Duration
}

// RESTClient is the authenticated REST client for the perpetuals venue. It
// signs every order action with the delegated agent key so the orchestrator
// never handles the user's main wallet key.
type RESTClient struct {
	cfg        RESTConfig
	httpClient *http.Client
	signer     *crypto.Signer
	nonce      *nonceSource
}

// NewRESTClient creates a RESTClient bound to the given delegated-key
// signer.
func NewRESTClient(cfg RESTConfig, signer *crypto.Signer) *RESTClient {
	return &RESTClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		signer: signer,
		nonce: newNonceSource(),
	}
}

// PlaceOrder submits a signed create action and returns the venue's
// assigned exchange order id on acceptance.
func (c *RESTClient) PlaceOrder(ctx context.Context, in domain.Intent) (exchangeOrderID string, err error) {
	side := 0
	if in.Side == domain.SideSell {
		side = 1
	}
	orderType := orderTypeCode(in.Type)

	payload := crypto.ActionPayload{
		Symbol: in.Symbol,
		Side: side,
		OrderType: orderType,
		Price: formatFixed(in.Price),
		Size: formatFixed(in.Size),
		ReduceOnly: in.ReduceOnly,
		ClientOrderID: in.ClientOrderID,
		Nonce: c.nonce.next(),
		Expiration: 0,
	}

	sig, err := c.signer.SignAction(payload)
	if err != nil {
		return "", fmt.Errorf("exchange: sign place order: %w", err)
	}

	body := map[string]any{
		"symbol": in.Symbol,
		"side": string(in.Side),
		"type": string(in.Type),
		"price": payload.Price,
		"size": payload.Size,
		"reduceOnly": in.ReduceOnly,
		"clientOrderId": in.ClientOrderID,
		"nonce": payload.Nonce,
		"signature": sig,
		"signer": c.signer.Address().Hex(),
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/orders", body)
	if err != nil {
		return "", err
	}

	var result struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("exchange: decode place-order response: %w", err)
	}
	return result.OrderID, nil
}

// CancelOrder cancels a single order by client or exchange order id.
func (c *RESTClient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	payload := crypto.ActionPayload{
		Symbol: symbol,
		Price: "0",
		Size: "0",
		ClientOrderID: orderID,
		Nonce: c.nonce.next(),
	}
	sig, err := c.signer.SignAction(payload)
	if err != nil {
		return fmt.Errorf("exchange: sign cancel order: %w", err)
	}

	body := map[string]any{
		"symbol": symbol,
		"orderId": orderID,
		"nonce": payload.Nonce,
		"signature": sig,
		"signer": c.signer.Address().Hex(),
	}

	_, err = c.doAuthenticatedRequest(ctx, http.MethodDelete, "/orders", body)
	if err != nil {
		return fmt.Errorf("exchange: cancel order %s: %w", orderID, err)
	}
	return nil
}

// CancelAll cancels every open order for the given symbol.
func (c *RESTClient) CancelAll(ctx context.Context, symbol string) error {
	payload := crypto.ActionPayload{Symbol: symbol, Price: "0", Size: "0", Nonce: c.nonce.next()}
	sig, err := c.signer.SignAction(payload)
	if err != nil {
		return fmt.Errorf("exchange: sign cancel-all: %w", err)
	}

	body := map[string]any{
		"symbol": symbol,
		"nonce": payload.Nonce,
		"signature": sig,
		"signer": c.signer.Address().Hex(),
	}

	_, err = c.doAuthenticatedRequest(ctx, http.MethodDelete, "/orders/all", body)
	if err != nil {
		return fmt.Errorf("exchange: cancel-all %s: %w", symbol, err)
	}
	return nil
}

// OpenOrders returns every order the venue still lists as open for this
// account, used by reconnect reconciliation.
func (c *RESTClient) OpenOrders(ctx context.Context) ([]domain.OrderRecord, error) {
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, "/orders/open", nil)
	if err != nil {
		return nil, fmt.Errorf("exchange: open orders: %w", err)
	}
	var orders []domain.OrderRecord
	if err := json.Unmarshal(respBody, &orders); err != nil {
		return nil, fmt.Errorf("exchange: decode open orders: %w", err)
	}
	return orders, nil
}

// OrderStatus returns one order's current record by client order id,
// including terminal states, or domain.ErrNotFound if the venue never saw it.
func (c *RESTClient) OrderStatus(ctx context.Context, symbol, clientOrderID string) (domain.OrderRecord, error) {
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, "/orders/"+symbol+"/"+clientOrderID, nil)
	if err != nil {
		return domain.OrderRecord{}, err
	}
	var order domain.OrderRecord
	if err := json.Unmarshal(respBody, &order); err != nil {
		return domain.OrderRecord{}, fmt.Errorf("exchange: decode order status: %w", err)
	}
	return order, nil
}

// Positions returns the account's open positions.
func (c *RESTClient) Positions(ctx context.Context) ([]domain.ExchangePosition, error) {
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, "/positions", nil)
	if err != nil {
		return nil, fmt.Errorf("exchange: positions: %w", err)
	}
	var positions []domain.ExchangePosition
	if err := json.Unmarshal(respBody, &positions); err != nil {
		return nil, fmt.Errorf("exchange: decode positions: %w", err)
	}
	return positions, nil
}

// Balances returns the account's margin snapshot.
func (c *RESTClient) Balances(ctx context.Context) (domain.Balances, error) {
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, "/balances", nil)
	if err != nil {
		return domain.Balances{}, fmt.Errorf("exchange: balances: %w", err)
	}
	var b domain.Balances
	if err := json.Unmarshal(respBody, &b); err != nil {
		return domain.Balances{}, fmt.Errorf("exchange: decode balances: %w", err)
	}
	return b, nil
}

// InstrumentMeta fetches tick/lot size metadata for a symbol.
func (c *RESTClient) InstrumentMeta(ctx context.Context, symbol string) (domain.InstrumentMeta, error) {
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, "/instruments/"+symbol, nil)
	if err != nil {
		return domain.InstrumentMeta{}, fmt.Errorf("exchange: instrument meta %s: %w", symbol, err)
	}
	var meta domain.InstrumentMeta
	if err := json.Unmarshal(respBody, &meta); err != nil {
		return domain.InstrumentMeta{}, fmt.Errorf("exchange: decode instrument meta %s: %w", symbol, err)
	}
	return meta, nil
}

// doAuthenticatedRequest builds, signs, sends, and reads an HTTP request
// against the venue's REST API, mapping non-2xx responses to the domain
// error taxonomy so callers (the gateway's retry logic) can classify them.
func (c *RESTClient) doAuthenticatedRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("exchange: marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("exchange: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Agent-Address", c.signer.Address().Hex())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrWSDisconnect, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("exchange: read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to the domain error taxonomy
//: 4xx that reject the order body are VenueRejected-shaped
// (ordinary errors), 429/5xx are treated as retriable VenueTransient.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch {
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	case statusCode >= 500:
		return &VenueError{Kind: domain.KindVenueTransient, StatusCode: statusCode, Body: bodyStr}
	default:
		return &VenueError{Kind: domain.KindVenueRejected, StatusCode: statusCode, Body: bodyStr}
	}
}

// VenueError carries the error taxonomy classification the gateway needs to
// decide whether to retry a rejected Create.
type VenueError struct {
	Kind       domain.ErrorKind
	StatusCode int
	Body       string
}

func (e *VenueError) Error() string {
	return fmt.Sprintf("exchange: venue error (%s, HTTP %d): %s", e.Kind, e.StatusCode, e.Body)
}

// ErrorKind lets internal/gateway classify rejections without importing
// internal/exchange's concrete error type.
func (e *VenueError) ErrorKind() domain.ErrorKind {
	return e.Kind
}

func orderTypeCode(t domain.OrderType) int {
	switch t {
	case domain.OrderGTC:
		return 0
	case domain.OrderGTD:
		return 1
	case domain.OrderFOK:
		return 2
	case domain.OrderFAK:
		return 3
	default:
		return 0
	}
}

func formatFixed(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// nonceSource produces a monotonically increasing nonce seeded from wall
// time, so signed actions are never replayable across process restarts.
type nonceSource struct {
	mu   sync.Mutex
	last int64
}

func newNonceSource() *nonceSource {
	return &nonceSource{last: time.Now().UnixMicro()}
}

func (n *nonceSource) next() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := time.Now().UnixMicro()
	if now <= n.last {
		now = n.last + 1
	}
	n.last = now
	return now
}
