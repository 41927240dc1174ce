package domain

import "time"

// ActivityKind enumerates the append-only event kinds recorded for a
// strategy.
type ActivityKind string

const (
	ActivityCreate       ActivityKind = "create"
	ActivityCancel       ActivityKind = "cancel"
	ActivityFill         ActivityKind = "fill"
	ActivityRiskGateTrip ActivityKind = "risk_gate_trip"
	ActivityStatusChange ActivityKind = "status_change"
	ActivityCloseStep    ActivityKind = "close_step"
	ActivityError        ActivityKind = "error"
)

// Activity is an append-only structured event. Retained in a
// bounded ring per strategy and a bounded global ring, persisted
// opportunistically to durable storage.
type Activity struct {
	Timestamp   time.Time    `json:"timestamp"`
	StrategyID  string       `json:"strategy_id"`
	Kind        ActivityKind `json:"kind"`
	Success     bool         `json:"success"`
	OrderID     string       `json:"order_id,omitempty"`
	Price       float64      `json:"price,omitempty"`
	Size        float64      `json:"size,omitempty"`
	TradingPair string       `json:"trading_pair"`
	Detail      string       `json:"detail,omitempty"`
}

// GlobalActivityCap bounds the global activity ring buffer.
const GlobalActivityCap = 2000

// BotHeartbeat is the periodic status document sent to the manager.
// The manager considers a bot offline if not seen within
// 2 minutes.
type BotHeartbeat struct {
	BotID            string    `json:"id"`
	Name             string    `json:"name"`
	Status           string    `json:"status"`
	Strategies       []string  `json:"strategies"`
	UptimeSeconds    int64     `json:"uptime"`
	TotalStrategies  int       `json:"total_strategies"`
	TotalActions     int64     `json:"total_actions"`
	ActionsPerMinute float64   `json:"actions_per_minute"`
	MemoryUsageMB    float64   `json:"memory_usage"`
	CPUUsagePct      float64   `json:"cpu_usage"`
	APIPort          int       `json:"api_port"`
	UserMainAddress  string    `json:"user_main_address,omitempty"`
	LastActivity     time.Time `json:"last_activity"`
}

// HeartbeatOfflineThreshold is how long the manager waits without a
// heartbeat before considering a bot offline.
const HeartbeatOfflineThreshold = 2 * time.Minute
