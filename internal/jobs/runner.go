package jobs

import (
	"context"
	"log"
	"time"

	"github.com/example/storefront/internal/services"
)

// Runner ticks the retention automaton in-process when no external
// scheduler is wired. Every pass is re-entrant safe, so running this
// alongside the HTTP job triggers is harmless.
type Runner struct {
	retention *services.RetentionService
	interval  time.Duration
}

func NewRunner(retention *services.RetentionService, interval time.Duration) *Runner {
	return &Runner{retention: retention, interval: interval}
}

// Run blocks until the context is cancelled.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			summary := r.retention.RunAbandonedCleanup(ctx)
			log.Printf("[Retention] Abandoned cleanup: notified=%d deleted=%d failed=%d",
				summary.Notified, summary.Acted, summary.Failed)

			summary = r.retention.RunDeferredErasure(ctx)
			log.Printf("[Retention] Deferred erasure: notified=%d completed=%d failed=%d",
				summary.Notified, summary.Acted, summary.Failed)
		case <-ctx.Done():
			return
		}
	}
}
