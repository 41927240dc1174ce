// Package registry implements the Strategy Registry & Store:
// the in-memory source of truth for every hosted strategy's config and
// runtime state, write-through to durable storage, with the lifecycle DFA
// and bounded activity rings enforced on every mutation.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hivebot/hive/internal/domain"
	"github.com/hivebot/hive/internal/strategy"
)

// entry bundles one strategy's config, runtime snapshot, and live Strategy
// instance. mu serializes runtime mutations per strategy.
type entry struct {
	mu       sync.Mutex
	cfg      domain.StrategyConfig
	runtime  domain.StrategyRuntime
	instance strategy.Strategy
}

// Filter narrows List results.
type Filter struct {
	Owner  string
	Status domain.StrategyStatus // empty = any
}

// Registry is the Strategy Registry & Store.
type Registry struct {
	store      domain.StrategyStore
	activities domain.ActivityStore
	bus        domain.SignalBus
	logger     *slog.Logger

	mu     sync.RWMutex
	byID   map[string]*entry
	byName map[string]string // owner+name key -> id, for DuplicateName checks
	order  []string          // registration order, for the scheduler's stable iteration

	globalMu  sync.Mutex
	globalLog []domain.Activity

	onRegister func(domain.StrategyConfig) // optional: market-data subscribe hook
}

// SetOnRegister wires a callback invoked once for every strategy that enters
// memory, whether freshly registered or restored at startup. The orchestrator
// uses this to subscribe the Market Data Hub to the strategy's trading pair.
func (r *Registry) SetOnRegister(fn func(domain.StrategyConfig)) {
	r.onRegister = fn
}

// New constructs a Registry backed by store for write-through persistence,
// activities for the durable activity log, and bus for fanning Activity and
// status-change events out to the control plane.
func New(store domain.StrategyStore, activities domain.ActivityStore, bus domain.SignalBus, logger *slog.Logger) *Registry {
	return &Registry{
		store: store,
		activities: activities,
		bus: bus,
		logger: logger.With(slog.String("component", "registry")),
		byID: make(map[string]*entry),
		byName: make(map[string]string),
	}
}

// Restore loads every non-terminal strategy from the durable store into
// memory, reconstructing its Strategy instance. Called once at startup so a
// restart picks up strategies left active.
func (r *Registry) Restore(ctx context.Context) error {
	cfgs, err := r.store.List(ctx, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("registry: restore list: %w", err)
	}
	for _, cfg := range cfgs {
		inst, err := strategy.New(cfg)
		if err != nil {
			r.logger.Error("registry: restore strategy construction failed",
				slog.String("strategy_id", cfg.ID), slog.String("error", err.Error()))
			continue
		}
		e := &entry{
			cfg: cfg,
			runtime: domain.StrategyRuntime{
				StrategyID: cfg.ID,
				Status: domain.StatusPending,
				LiveOrders: make(map[string]*domain.OrderRecord),
			},
			instance: inst,
		}
		r.mu.Lock()
		r.byID[cfg.ID] = e
		r.byName[ownerNameKey(cfg.Owner, cfg.Name)] = cfg.ID
		r.order = append(r.order, cfg.ID)
		r.mu.Unlock()

		if r.onRegister != nil {
			r.onRegister(cfg)
		}
	}
	r.logger.Info("registry: restored strategies", slog.Int("count", len(cfgs)))
	return nil
}

// Register validates and persists a new strategy, returning its assigned id.
// The strategy starts in status `pending`.
func (r *Registry) Register(ctx context.Context, cfg domain.StrategyConfig) (string, error) {
	if cfg.Name == "" {
		return "", fmt.Errorf("registry: %w: name is required", domain.ErrInvalidConfig)
	}

	nameKey := ownerNameKey(cfg.Owner, cfg.Name)

	r.mu.Lock()
	if _, exists := r.byName[nameKey]; exists {
		r.mu.Unlock()
		return "", fmt.Errorf("registry: strategy name %q: %w", cfg.Name, domain.ErrDuplicateName)
	}
	r.mu.Unlock()

	cfg.ID = uuid.New().String()
	cfg.CreatedAt = time.Now().UTC()

	inst, err := strategy.New(cfg)
	if err != nil {
		return "", fmt.Errorf("registry: construct strategy: %w", err)
	}

	if err := r.store.Insert(ctx, cfg); err != nil {
		return "", fmt.Errorf("registry: persist strategy: %w", err)
	}

	e := &entry{
		cfg: cfg,
		runtime: domain.StrategyRuntime{
			StrategyID: cfg.ID,
			Status: domain.StatusPending,
			LiveOrders: make(map[string]*domain.OrderRecord),
		},
		instance: inst,
	}

	r.mu.Lock()
	r.byID[cfg.ID] = e
	r.byName[nameKey] = cfg.ID
	r.order = append(r.order, cfg.ID)
	r.mu.Unlock()

	r.logger.Info("registry: strategy registered",
		slog.String("strategy_id", cfg.ID), slog.String("name", cfg.Name), slog.String("type", string(cfg.Type)))

	if r.onRegister != nil {
		r.onRegister(cfg)
	}

	return cfg.ID, nil
}

// Get returns a strategy's config and a snapshot copy of its runtime.
func (r *Registry) Get(id string) (domain.StrategyConfig, domain.StrategyRuntime, error) {
	r.mu.RLock()
	e, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return domain.StrategyConfig{}, domain.StrategyRuntime{}, domain.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg, snapshotRuntime(e.runtime), nil
}

// ownerNameKey builds the byName composite key. Names are unique per owner,
// not globally.
func ownerNameKey(owner, name string) string {
	return owner + "\x00" + name
}

// IDForName resolves a strategy's id from its (owner-scoped) name, for the
// close-by-name control plane endpoint.
// An empty owner (the admin bypass path) matches by name across all owners,
// as long as exactly one strategy holds that name.
func (r *Registry) IDForName(owner, name string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if owner != "" {
		id, ok := r.byName[ownerNameKey(owner, name)]
		if !ok {
			return "", domain.ErrNotFound
		}
		return id, nil
	}

	var found string
	for _, e := range r.byID {
		e.mu.Lock()
		match := e.cfg.Name == name
		id := e.cfg.ID
		e.mu.Unlock()
		if !match {
			continue
		}
		if found != "" {
			return "", domain.ErrNotFound
		}
		found = id
	}
	if found == "" {
		return "", domain.ErrNotFound
	}
	return found, nil
}

// List returns every strategy matching filter, sorted by registration order.
func (r *Registry) List(filter Filter) []struct {
	Config  domain.StrategyConfig
	Runtime domain.StrategyRuntime
} {
	r.mu.RLock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	r.mu.RUnlock()

	out := make([]struct {
		Config  domain.StrategyConfig
		Runtime domain.StrategyRuntime
	}, 0, len(ids))

	for _, id := range ids {
		r.mu.RLock()
		e, ok := r.byID[id]
		r.mu.RUnlock()
		if !ok {
			continue
		}
		e.mu.Lock()
		cfg, rt := e.cfg, snapshotRuntime(e.runtime)
		e.mu.Unlock()

		if filter.Owner != "" && cfg.Owner != filter.Owner {
			continue
		}
		if filter.Status != "" && rt.Status != filter.Status {
			continue
		}
		out = append(out, struct {
			Config  domain.StrategyConfig
			Runtime domain.StrategyRuntime
		}{cfg, rt})
	}
	return out
}

// Instance returns the live Strategy implementation for id, for the
// Scheduler and Close Protocol to drive directly.
func (r *Registry) Instance(id string) (strategy.Strategy, bool) {
	r.mu.RLock()
	e, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return e.instance, true
}

// EligibleIDs returns, in stable registration order, the ids of strategies
// the Scheduler may tick right now: status active and next_eligible_at <= at.
// The caller is responsible for also checking market
// book freshness, which the registry does not track.
func (r *Registry) EligibleIDs(at time.Time) []string {
	r.mu.RLock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	r.mu.RUnlock()

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		r.mu.RLock()
		e, ok := r.byID[id]
		r.mu.RUnlock()
		if !ok {
			continue
		}
		e.mu.Lock()
		backoffCleared := e.runtime.BackoffUntil.IsZero() || e.runtime.BackoffUntil.Before(at)
		eligible := e.runtime.Status == domain.StatusActive &&
			!e.runtime.NextEligibleAt.After(at) &&
			backoffCleared
		e.mu.Unlock()
		if eligible {
			out = append(out, id)
		}
	}
	return out
}

// UpdateRuntime applies mutator to the strategy's runtime under its
// per-strategy lock.
func (r *Registry) UpdateRuntime(id string, mutator func(*domain.StrategyRuntime)) error {
	r.mu.RLock()
	e, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return domain.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	mutator(&e.runtime)
	return nil
}

// MarkStatus transitions a strategy's status, enforcing the lifecycle DFA
//  and write-through persisting the new status. A status_change
// Activity is appended on success.
func (r *Registry) MarkStatus(ctx context.Context, id string, newStatus domain.StrategyStatus) error {
	r.mu.RLock()
	e, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return domain.ErrNotFound
	}

	e.mu.Lock()
	old := e.runtime.Status
	if !domain.CanTransition(old, newStatus) {
		e.mu.Unlock()
		return fmt.Errorf("registry: strategy %s: %s -> %s: %w", id, old, newStatus, domain.ErrBadStatusTransition)
	}
	e.runtime.Status = newStatus
	symbol := e.cfg.TradingPair
	e.mu.Unlock()

	if err := r.store.UpdateStatus(ctx, id, newStatus); err != nil {
		r.logger.Warn("registry: persist status failed",
			slog.String("strategy_id", id), slog.String("error", err.Error()))
	}

	r.AppendActivity(ctx, domain.Activity{
		Timestamp: time.Now().UTC(),
		StrategyID: id,
		Kind: domain.ActivityStatusChange,
		Success: true,
		TradingPair: symbol,
		Detail: fmt.Sprintf("%s -> %s", old, newStatus),
	})

	r.logger.Info("registry: status transition",
		slog.String("strategy_id", id), slog.String("from", string(old)), slog.String("to", string(newStatus)))
	return nil
}

// Delete removes a strategy permanently. The strategy must be stopped first.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return domain.ErrNotFound
	}
	e.mu.Lock()
	status := e.runtime.Status
	owner := e.cfg.Owner
	name := e.cfg.Name
	e.mu.Unlock()

	if status != domain.StatusStopped && status != domain.StatusError {
		r.mu.Unlock()
		return fmt.Errorf("registry: strategy %s must be stopped before delete (status=%s): %w", id, status, domain.ErrBadStatusTransition)
	}

	delete(r.byID, id)
	delete(r.byName, ownerNameKey(owner, name))
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	return r.store.Delete(ctx, id)
}

// AppendActivity appends a to the strategy's bounded ring, the bounded
// global ring, the durable activity log, and publishes it to the signal bus
// for the control plane's WebSocket clients.
func (r *Registry) AppendActivity(ctx context.Context, a domain.Activity) {
	r.mu.RLock()
	e, ok := r.byID[a.StrategyID]
	r.mu.RUnlock()
	if ok {
		e.mu.Lock()
		e.runtime.AppendRecentAction(a)
		e.mu.Unlock()
	}

	r.globalMu.Lock()
	r.globalLog = append(r.globalLog, a)
	if overflow := len(r.globalLog) - domain.GlobalActivityCap; overflow > 0 {
		r.globalLog = append([]domain.Activity(nil), r.globalLog[overflow:]...)
	}
	r.globalMu.Unlock()

	if r.activities != nil {
		if err := r.activities.Append(ctx, a); err != nil {
			r.logger.Warn("registry: durable activity append failed",
				slog.String("strategy_id", a.StrategyID), slog.String("error", err.Error()))
		}
	}

	if r.bus != nil {
		if payload, err := json.Marshal(a); err == nil {
			_ = r.bus.Publish(ctx, "ch:status", payload)
		}
	}
}

// RecentGlobalActivity returns up to limit of the most recent global
// activity records, newest first.
func (r *Registry) RecentGlobalActivity(limit int) []domain.Activity {
	r.globalMu.Lock()
	defer r.globalMu.Unlock()
	n := len(r.globalLog)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.Activity, limit)
	for i := 0; i < limit; i++ {
		out[i] = r.globalLog[n-1-i]
	}
	return out
}

// LiveOrderRecords returns a snapshot of every non-terminal order across all
// strategies, for the connector's reconnect reconciliation.
func (r *Registry) LiveOrderRecords() []domain.OrderRecord {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.byID))
	for _, e := range r.byID {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var out []domain.OrderRecord
	for _, e := range entries {
		e.mu.Lock()
		for _, o := range e.runtime.LiveOrders {
			if !o.State.IsTerminal() {
				out = append(out, *o)
			}
		}
		e.mu.Unlock()
	}
	return out
}

// ApplyFill records a fill/order-state update from the exchange connector's
// user channel: it updates the owning strategy's live_orders entry and
// position, forwards the event to the strategy instance's OnEvent, and
// appends a fill Activity.
func (r *Registry) ApplyFill(ctx context.Context, order domain.OrderRecord) {
	r.mu.RLock()
	e, ok := r.byID[order.StrategyID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	delta := order.FilledSize
	e.mu.Lock()
	if prev, exists := e.runtime.LiveOrders[order.ClientOrderID]; exists {
		delta = order.FilledSize - prev.FilledSize
	}
	rec := order
	if order.State.IsTerminal() {
		delete(e.runtime.LiveOrders, order.ClientOrderID)
	} else {
		e.runtime.LiveOrders[order.ClientOrderID] = &rec
	}
	if delta != 0 {
		signed := delta
		if order.Side == domain.SideSell {
			signed = -delta
		}
		applyFillToPosition(&e.runtime.Position, signed, order.Price)
	}
	inst := e.instance
	e.mu.Unlock()

	if inst != nil {
		if err := inst.OnEvent(ctx, order); err != nil {
			r.logger.Warn("registry: strategy OnEvent failed",
				slog.String("strategy_id", order.StrategyID), slog.String("error", err.Error()))
		}
	}

	if delta != 0 {
		r.AppendActivity(ctx, domain.Activity{
			Timestamp: order.UpdatedAt,
			StrategyID: order.StrategyID,
			Kind: domain.ActivityFill,
			Success: true,
			OrderID: order.ClientOrderID,
			Price: order.Price,
			Size: delta,
			TradingPair: order.Symbol,
		})
	}
}

// applyFillToPosition folds a signed fill at price into pos. Same-direction
// fills blend the entry VWAP by size; opposite-direction fills first realize
// PnL on the reduced portion at the running VWAP, and a fill large enough to
// flip the position re-opens the residual at the fill price.
func applyFillToPosition(pos *domain.Position, signedSize, price float64) {
	if pos.IsFlat() || (pos.Size > 0) == (signedSize > 0) {
		newSize := pos.Size + signedSize
		if newSize != 0 {
			pos.EntryVWAP = (pos.EntryVWAP*pos.Size + price*signedSize) / newSize
		} else {
			pos.EntryVWAP = price
		}
		pos.Size = newSize
		return
	}

	closing := -signedSize
	if absFloat(closing) > absFloat(pos.Size) {
		closing = pos.Size
	}
	dir := 1.0
	if pos.Size < 0 {
		dir = -1
	}
	pos.RealizedPnL += absFloat(closing) * (price - pos.EntryVWAP) * dir

	pos.Size += signedSize
	if pos.IsFlat() {
		pos.Size = 0
		return
	}
	if (pos.Size > 0) == (signedSize > 0) {
		// Flipped through flat: the residual opened at this fill's price.
		pos.EntryVWAP = price
	}
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// snapshotRuntime returns a deep-enough copy for weakly consistent
// dashboard reads.
func snapshotRuntime(rt domain.StrategyRuntime) domain.StrategyRuntime {
	out := rt
	out.LiveOrders = make(map[string]*domain.OrderRecord, len(rt.LiveOrders))
	for id, o := range rt.LiveOrders {
		cp := *o
		out.LiveOrders[id] = &cp
	}
	out.RecentActions = append([]domain.Activity(nil), rt.RecentActions...)
	return out
}
