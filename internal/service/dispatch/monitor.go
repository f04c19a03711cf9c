package dispatch

import (
	"context"
	"log"
	"sort"
	"time"

	"support-dispatch-backend/internal/events"
	"support-dispatch-backend/internal/model"

	"golang.org/x/sync/errgroup"
)

type SLAReport struct {
	Checked    int
	Violations []string
	Escalated  []string
	Failed     int
	Drained    int
}

// CheckSLA escalates every waiting human-mode session past its deadline.
// A breached session leaves the waiting status, so each breach is
// reported once.
func (d *Dispatcher) CheckSLA(ctx context.Context) SLAReport {
	ob := d.lock()
	defer d.unlock(ob)

	now := d.clock.Now()
	var (
		report   SLAReport
		breached []*model.Session
	)
	for _, s := range d.sessions.all() {
		if s.Status != model.SessionStatusWaiting || s.Mode != model.SessionModeHuman || s.AgentID != "" {
			continue
		}
		report.Checked++
		if now.After(s.SLADeadline) {
			breached = append(breached, s)
		}
	}
	sort.SliceStable(breached, func(i, j int) bool {
		return breached[i].SLADeadline.Before(breached[j].SLADeadline)
	})

	for _, s := range breached {
		waitStart := s.StartedAt
		if s.HumanRequestedAt != nil {
			waitStart = *s.HumanRequestedAt
		}
		d.stats.slaViolations++
		d.metrics.slaViolations.Inc()
		log.Printf("[SLA] session %s (%s) missed its deadline by %s", s.ID, s.Priority, now.Sub(s.SLADeadline).Round(time.Second))

		payload := payloadFor(s, now)
		payload.Reason = "SLA violation"
		payload.WaitTimeSeconds = now.Sub(waitStart).Seconds()
		ob.add(events.SLAViolation, payload)
		report.Violations = append(report.Violations, s.ID)

		if _, err := d.escalateLocked(s.ID, EscalateParams{Reason: "SLA violation"}, now, ob); err != nil {
			log.Printf("[SLA] escalation of session %s failed: %v", s.ID, err)
			report.Failed++
			continue
		}
		report.Escalated = append(report.Escalated, s.ID)
	}

	report.Drained = d.drainQueueLocked(now, ob)
	return report
}

// RefreshEstimates re-sorts the queue, recomputes every entry's wait
// estimate and publishes the result as the latest snapshot.
func (d *Dispatcher) RefreshEstimates(ctx context.Context) []model.QueueEntry {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	d.reorderLocked(now)
	entries := d.queueEntriesLocked(now)
	d.lastEstimates = entries
	d.lastEstimatedAt = now
	d.refreshGaugesLocked()
	return entries
}

// LastEstimates returns the snapshot taken by the most recent refresh
// without touching the queue.
func (d *Dispatcher) LastEstimates(ctx context.Context) ([]model.QueueEntry, time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.QueueEntry(nil), d.lastEstimates...), d.lastEstimatedAt
}

func (d *Dispatcher) RunSLAMonitor(ctx context.Context) error {
	ticker := d.clock.NewTicker(d.cfg.SLAScanInterval)
	defer ticker.Stop()
	log.Printf("[SLA] monitor running every %s", d.cfg.SLAScanInterval)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[SLA] monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			report := d.CheckSLA(ctx)
			if len(report.Violations) > 0 || report.Drained > 0 {
				log.Printf("[SLA] scan: %d checked, %d violations, %d drained", report.Checked, len(report.Violations), report.Drained)
			}
		}
	}
}

func (d *Dispatcher) RunEstimateRefresher(ctx context.Context) error {
	ticker := d.clock.NewTicker(d.cfg.EstimateRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.RefreshEstimates(ctx)
		}
	}
}

// Run drives both periodic tasks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.RunSLAMonitor(gctx) })
	g.Go(func() error { return d.RunEstimateRefresher(gctx) })
	return g.Wait()
}
