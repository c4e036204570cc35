package care

import (
	"context"
	"log"
	"time"
)

// StartReaper periodically reclaims idle voice links and ends idle sessions.
// Session teardown goes through the normal end path so listeners see the
// same events as an explicit end, tagged as timeout-initiated.
func (o *Orchestrator) StartReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.reapOnce(ctx)
			}
		}
	}()
}

func (o *Orchestrator) reapOnce(ctx context.Context) {
	if reaped := o.pool.ReapIdle(o.cfg.IdleLinkTimeout); reaped > 0 {
		log.Printf("care: reaped %d idle voice links", reaped)
	}

	cutoff := time.Now().UTC().Add(-o.cfg.IdleSessionTimeout)
	o.mu.Lock()
	var stale []string
	for id, s := range o.sessions {
		if s.Status == StatusActive && !s.inFlight && s.LastActivityAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	o.mu.Unlock()

	for _, id := range stale {
		if _, err := o.endWithReason(ctx, id, 0, "", EndReasonTimeout); err != nil {
			log.Printf("care: reap session %s failed: %v", id, err)
		}
	}
	if len(stale) > 0 {
		log.Printf("care: ended %d idle sessions", len(stale))
	}
}
