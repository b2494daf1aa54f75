package storage

import (
	"context"
	"time"

	"github.com/dgellow/ebo-bff/internal/log"
)

const sweepTimeout = time.Minute

// CleanupManager sweeps sessions past their TTL out of a store on a fixed
// interval. Stores that expire entries themselves report zero per sweep.
type CleanupManager struct {
	store    SessionStore
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewCleanupManager creates a manager sweeping store every interval.
func NewCleanupManager(store SessionStore, interval time.Duration) *CleanupManager {
	return &CleanupManager{store: store, interval: interval}
}

// Start sweeps once right away and then every interval until Stop is called
// or ctx ends.
func (cm *CleanupManager) Start(ctx context.Context) {
	ctx, cm.cancel = context.WithCancel(ctx)
	cm.done = make(chan struct{})

	log.LogInfoWithFields("cleanup", "Starting session sweeper", map[string]any{
		"interval": cm.interval.String(),
	})
	go cm.loop(ctx)
}

// Stop cancels the sweeper and waits for an in-flight sweep to return.
func (cm *CleanupManager) Stop() {
	if cm.cancel == nil {
		return
	}
	cm.cancel()
	<-cm.done
	cm.cancel = nil
	log.LogDebug("Session sweeper stopped")
}

func (cm *CleanupManager) loop(ctx context.Context) {
	defer close(cm.done)

	cm.Sweep(context.WithoutCancel(ctx))

	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cm.Sweep(ctx)
		}
	}
}

// Sweep runs a single cleanup pass and returns how many sessions it removed.
func (cm *CleanupManager) Sweep(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	start := time.Now()
	removed, err := cm.store.CleanupExpiredSessions(ctx)
	if err != nil {
		log.LogErrorWithFields("cleanup", "Session sweep failed", map[string]any{
			"error": err.Error(),
		})
		return 0
	}
	if removed > 0 {
		log.LogInfoWithFields("cleanup", "Removed expired sessions", map[string]any{
			"count":    removed,
			"duration": time.Since(start).String(),
		})
	}
	return removed
}
