package tracker

import (
	"context"
	"maps"
	"sync"

	"github.com/MarcoPoloResearchLab/gymroutes/internal/gym"
	"go.uber.org/zap"
)

// CompletionCache mirrors the signed-in user's climb logs as route id -> completed.
type CompletionCache struct {
	store  ClimbLogStore
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]bool
}

// NewCompletionCache builds an empty cache over the climb log store.
func NewCompletionCache(store ClimbLogStore, logger *zap.Logger) (*CompletionCache, error) {
	if store == nil {
		return nil, ErrMissingBackend
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompletionCache{store: store, logger: logger, entries: map[string]bool{}}, nil
}

// Load replaces the cache with the user's climb logs. On failure the cache is left empty
// so routes read as incomplete rather than stale.
func (c *CompletionCache) Load(ctx context.Context, userID string) error {
	logs, err := c.store.ListClimbLogs(ctx, userID)
	if err != nil {
		c.Clear()
		c.logger.Warn("climb log load failed", zap.String("user_id", userID), zap.Error(err))
		return fetchError("list_climb_logs", err)
	}
	entries := make(map[string]bool, len(logs))
	for _, log := range logs {
		entries[log.RouteID] = log.IsComplete
	}
	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
	return nil
}

// Get reports whether the route is completed. Unseen routes are not completed.
func (c *CompletionCache) Get(routeID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[routeID]
}

// Apply overwrites the entry named by a pushed change.
func (c *CompletionCache) Apply(change gym.ClimbLogChange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if change.Deleted {
		delete(c.entries, change.RouteID)
		return
	}
	c.entries[change.RouteID] = change.IsComplete
}

func (c *CompletionCache) set(routeID string, isComplete bool) {
	c.mu.Lock()
	c.entries[routeID] = isComplete
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *CompletionCache) Clear() {
	c.mu.Lock()
	c.entries = map[string]bool{}
	c.mu.Unlock()
}

// Len reports the number of known routes.
func (c *CompletionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot copies the current entries.
func (c *CompletionCache) Snapshot() map[string]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.entries)
}
