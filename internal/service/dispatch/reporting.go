package dispatch

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type collectors struct {
	queueDepth          prometheus.Gauge
	liveSessions        prometheus.Gauge
	agentsOnline        prometheus.Gauge
	utilization         prometheus.Gauge
	sessionsStarted     prometheus.Counter
	sessionsEnded       prometheus.Counter
	assignments         prometheus.Counter
	handoffs            *prometheus.CounterVec
	slaViolations       prometheus.Counter
	persistenceFailures prometheus.Counter
	waitSeconds         prometheus.Histogram
}

// newCollectors builds the engine's collectors and registers them when
// reg is non-nil.
func newCollectors(reg prometheus.Registerer) *collectors {
	c := &collectors{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "support_dispatch_queue_depth",
			Help: "Sessions waiting for a human agent.",
		}),
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "support_dispatch_live_sessions",
			Help: "Support sessions that have not ended.",
		}),
		agentsOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "support_dispatch_agents_online",
			Help: "Agents that are available or busy.",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "support_dispatch_agent_utilization_percent",
			Help: "Occupied share of online agent capacity.",
		}),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "support_dispatch_sessions_started_total",
			Help: "Support sessions started.",
		}),
		sessionsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "support_dispatch_sessions_ended_total",
			Help: "Support sessions ended.",
		}),
		assignments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "support_dispatch_assignments_total",
			Help: "Sessions assigned to an agent.",
		}),
		handoffs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "support_dispatch_handoffs_total",
			Help: "Sessions moved away from their agent, by kind.",
		}, []string{"kind"}),
		slaViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "support_dispatch_sla_violations_total",
			Help: "Waiting sessions that passed their SLA deadline.",
		}),
		persistenceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "support_dispatch_persistence_failures_total",
			Help: "Durable store writes that failed after a retry.",
		}),
		waitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "support_dispatch_wait_seconds",
			Help:    "Time from human request or queueing to assignment.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 900, 1800, 3600},
		}),
	}
	if reg != nil {
		reg.MustRegister(
			c.queueDepth, c.liveSessions, c.agentsOnline, c.utilization,
			c.sessionsStarted, c.sessionsEnded, c.assignments, c.handoffs,
			c.slaViolations, c.persistenceFailures, c.waitSeconds,
		)
	}
	return c
}

type MetricsReport struct {
	TotalSessions  int `json:"totalSessions"`
	LiveSessions   int `json:"liveSessions"`
	ActiveSessions int `json:"activeSessions"`
	EndedSessions  int `json:"endedSessions"`
	QueueDepth     int `json:"queueDepth"`
	AgentsOnline   int `json:"agentsOnline"`
	SLAViolations  int `json:"slaViolations"`

	AverageWaitMinutes      float64   `json:"averageWaitMinutes"`
	AverageSatisfaction     float64   `json:"averageSatisfaction"`
	AgentUtilizationPercent float64   `json:"agentUtilizationPercent"`
	GeneratedAt             time.Time `json:"generatedAt"`
}

func (d *Dispatcher) Metrics(ctx context.Context) MetricsReport {
	d.mu.Lock()
	defer d.mu.Unlock()

	report := MetricsReport{
		TotalSessions: d.stats.started,
		LiveSessions:  d.sessions.liveCount(),
		EndedSessions: d.stats.ended,
		QueueDepth:    d.queue.len(),
		AgentsOnline:  d.agents.onlineCount(),
		SLAViolations: d.stats.slaViolations,
		GeneratedAt:   d.clock.Now(),
	}
	for _, s := range d.sessions.live {
		if s.AgentID != "" {
			report.ActiveSessions++
		}
	}
	if d.stats.waitSamples > 0 {
		report.AverageWaitMinutes = d.stats.waitTotal.Minutes() / float64(d.stats.waitSamples)
	}
	if d.stats.satisfactionCount > 0 {
		report.AverageSatisfaction = float64(d.stats.satisfactionTotal) / float64(d.stats.satisfactionCount)
	}
	report.AgentUtilizationPercent = d.utilizationLocked()
	return report
}

func (d *Dispatcher) utilizationLocked() float64 {
	current, capacity := d.agents.load()
	if capacity == 0 {
		return 0
	}
	return float64(current) / float64(capacity) * 100
}

func (d *Dispatcher) refreshGaugesLocked() {
	d.metrics.queueDepth.Set(float64(d.queue.len()))
	d.metrics.liveSessions.Set(float64(d.sessions.liveCount()))
	d.metrics.agentsOnline.Set(float64(d.agents.onlineCount()))
	d.metrics.utilization.Set(d.utilizationLocked())
}
