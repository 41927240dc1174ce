package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hivebot/hive/internal/domain"
)

type memBotStore struct {
	mu   sync.Mutex
	rows map[string]domain.BotHeartbeat
}

func newMemBotStore() *memBotStore {
	return &memBotStore{rows: make(map[string]domain.BotHeartbeat)}
}

func (s *memBotStore) Upsert(ctx context.Context, hb domain.BotHeartbeat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[hb.BotID] = hb
	return nil
}

func (s *memBotStore) Get(ctx context.Context, botID string) (domain.BotHeartbeat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hb, ok := s.rows[botID]
	if !ok {
		return domain.BotHeartbeat{}, domain.ErrNotFound
	}
	return hb, nil
}

func (s *memBotStore) List(ctx context.Context) ([]domain.BotHeartbeat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.BotHeartbeat, 0, len(s.rows))
	for _, hb := range s.rows {
		out = append(out, hb)
	}
	return out, nil
}

func (s *memBotStore) Delete(ctx context.Context, botID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, botID)
	return nil
}

func TestHeartbeatUpsertsAndEchoes(t *testing.T) {
	store := newMemBotStore()
	h := NewBotsHandler(store, testLogger())

	body, err := json.Marshal(domain.BotHeartbeat{BotID: "bot-1", Name: "hive-testnet", Status: "running"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/bots", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Heartbeat(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool                `json:"success"`
		Bot     domain.BotHeartbeat `json:"bot"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, "bot-1", resp.Bot.BotID)

	stored, err := store.Get(context.Background(), "bot-1")
	require.NoError(t, err)
	require.False(t, stored.LastActivity.IsZero())
}

func TestHeartbeatRequiresID(t *testing.T) {
	h := NewBotsHandler(newMemBotStore(), testLogger())

	req := httptest.NewRequest(http.MethodPost, "/bots", bytes.NewReader([]byte(`{"name":"x"}`)))
	rec := httptest.NewRecorder()
	h.Heartbeat(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

// A bot silent for longer than the 2-minute threshold is listed offline.
func TestListMarksSilentBotsOffline(t *testing.T) {
	store := newMemBotStore()
	now := time.Now().UTC()
	require.NoError(t, store.Upsert(context.Background(), domain.BotHeartbeat{
		BotID: "alive", LastActivity: now.Add(-30 * time.Second),
	}))
	require.NoError(t, store.Upsert(context.Background(), domain.BotHeartbeat{
		BotID: "silent", LastActivity: now.Add(-3 * time.Minute),
	}))

	h := NewBotsHandler(store, testLogger())
	req := httptest.NewRequest(http.MethodGet, "/bots", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Bots []struct {
			domain.BotHeartbeat
			Online bool `json:"online"`
		} `json:"bots"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Bots, 2)

	online := map[string]bool{}
	for _, b := range resp.Bots {
		online[b.BotID] = b.Online
	}
	require.True(t, online["alive"])
	require.False(t, online["silent"])
}

func TestListMetricsFormatAggregates(t *testing.T) {
	store := newMemBotStore()
	now := time.Now().UTC()
	require.NoError(t, store.Upsert(context.Background(), domain.BotHeartbeat{
		BotID: "a", TotalStrategies: 2, TotalActions: 10, LastActivity: now,
	}))
	require.NoError(t, store.Upsert(context.Background(), domain.BotHeartbeat{
		BotID: "b", TotalStrategies: 3, TotalActions: 5, LastActivity: now.Add(-10 * time.Minute),
	}))

	h := NewBotsHandler(store, testLogger())
	req := httptest.NewRequest(http.MethodGet, "/bots?format=metrics", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.EqualValues(t, 2, resp["total_bots"])
	require.EqualValues(t, 1, resp["online_bots"])
	require.EqualValues(t, 5, resp["total_strategies"])
	require.EqualValues(t, 15, resp["total_actions"])
}

func TestDeleteBotReturnsSuccess(t *testing.T) {
	store := newMemBotStore()
	require.NoError(t, store.Upsert(context.Background(), domain.BotHeartbeat{BotID: "bot-1"}))

	h := NewBotsHandler(store, testLogger())
	req := httptest.NewRequest(http.MethodDelete, "/bots/bot-1", nil)
	req.SetPathValue("id", "bot-1")
	rec := httptest.NewRecorder()
	h.Delete(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, true, resp["success"])

	_, err := store.Get(context.Background(), "bot-1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
