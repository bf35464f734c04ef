package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// orphanState tracks orphan detection metrics (thread-safe).
type orphanState struct {
	mu               sync.Mutex
	lastOrphanScan   time.Time
	orphansRecovered int
}

func (o *orphanState) record(n int) {
	o.mu.Lock()
	o.lastOrphanScan = time.Now()
	o.orphansRecovered += n
	o.mu.Unlock()
}

func (o *orphanState) snapshot() (time.Time, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastOrphanScan, o.orphansRecovered
}

// runOrphanDetection periodically fails running experiments whose heartbeat
// went stale. All pods run this independently; the update is idempotent.
func (p *WorkerPool) runOrphanDetection(ctx context.Context) {
	interval := p.config.OrphanDetectionInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			n, err := p.store.RecoverOrphans(ctx, p.config.OrphanThreshold)
			if err != nil {
				slog.Error("Orphan detection failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Warn("Recovered orphaned experiments", "count", n)
			}
			p.orphans.record(n)
		}
	}
}
