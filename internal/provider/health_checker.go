package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"flockbridge.io/flockbridge/internal/pkg/logger"
)

// Status is an org's provider reachability.
type Status string

const (
	StatusUnknown     Status = "UNKNOWN"
	StatusHealthy     Status = "HEALTHY"
	StatusUnreachable Status = "UNREACHABLE"
)

// OrgHealth is the last probe result for one org.
type OrgHealth struct {
	OrgID       string    `json:"org_id"`
	Status      Status    `json:"status"`
	LastChecked time.Time `json:"last_checked"`
	Error       string    `json:"error,omitempty"`
}

// HealthChecker periodically probes the provider with each org's credentials.
type HealthChecker struct {
	client   Client
	path     string
	interval time.Duration
	results  map[string]*OrgHealth
	mu       sync.RWMutex
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHealthChecker creates a HealthChecker probing path with a one-row list.
func NewHealthChecker(client Client, path string, interval time.Duration) *HealthChecker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &HealthChecker{
		client:   client,
		path:     path,
		interval: interval,
		results:  make(map[string]*OrgHealth),
		stopCh:   make(chan struct{}),
	}
}

// CheckOrg performs a single probe.
func (c *HealthChecker) CheckOrg(ctx context.Context, orgID string) *OrgHealth {
	health := &OrgHealth{OrgID: orgID, LastChecked: time.Now()}
	if _, err := c.client.List(ctx, orgID, c.path, map[string]string{"per_page": "1"}); err != nil {
		health.Status = StatusUnreachable
		health.Error = fmt.Sprintf("provider probe failed: %v", err)
		logger.Warn("Provider health check failed",
			zap.String("org_id", orgID),
			zap.Error(err),
		)
		return health
	}
	health.Status = StatusHealthy
	return health
}

// GetHealth returns the cached result for an org.
func (c *HealthChecker) GetHealth(orgID string) *OrgHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if h, ok := c.results[orgID]; ok {
		return h
	}
	return &OrgHealth{OrgID: orgID, Status: StatusUnknown}
}

// Snapshot returns every cached result.
func (c *HealthChecker) Snapshot() []OrgHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]OrgHealth, 0, len(c.results))
	for _, h := range c.results {
		out = append(out, *h)
	}
	return out
}

func (c *HealthChecker) update(h *OrgHealth) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[h.OrgID] = h
}

// Start probes orgs immediately and then on every interval.
// nolint:naked-goroutine // ticker loop; doesn't fit worker pool pattern.
func (c *HealthChecker) Start(ctx context.Context, orgIDs []string) {
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.checkAll(ctx, orgIDs)
		for {
			select {
			case <-ticker.C:
				c.checkAll(ctx, orgIDs)
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts periodic probing. Safe to call more than once.
func (c *HealthChecker) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}

func (c *HealthChecker) checkAll(ctx context.Context, orgIDs []string) {
	for _, id := range orgIDs {
		c.update(c.CheckOrg(ctx, id))
	}
}
