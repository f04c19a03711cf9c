// Package dispatch is the live support-session engine: it owns sessions,
// agents and the waiting queue, and is the only writer of all three.
package dispatch

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"support-dispatch-backend/internal/archive"
	"support-dispatch-backend/internal/clock"
	"support-dispatch-backend/internal/events"
	"support-dispatch-backend/internal/model"
	"support-dispatch-backend/internal/queue"
	"support-dispatch-backend/internal/statestore"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

type Options struct {
	// Config defaults to DefaultConfig when its SLA table is empty.
	Config    Config
	Clock     clock.Clock
	Store     statestore.Store
	Archiver  archive.Archiver
	Emitter   events.Emitter
	Assistant Assistant
	// Writer runs store writes off the request path. Without one, staged
	// writes only reach the store through Flush.
	Writer     *queue.RequestQueueManager
	Registerer prometheus.Registerer
	NewID      func() string
}

type Dispatcher struct {
	mu sync.Mutex

	cfg       Config
	clock     clock.Clock
	agents    *agentRegistry
	sessions  *sessionBook
	queue     *waitingQueue
	emitter   events.Emitter
	assistant Assistant
	mirror    *mirror
	metrics   *collectors
	stats     runningStats
	newID     func() string

	lastEstimates   []model.QueueEntry
	lastEstimatedAt time.Time
}

type runningStats struct {
	started           int
	ended             int
	waitTotal         time.Duration
	waitSamples       int
	satisfactionTotal int
	satisfactionCount int
	slaViolations     int
}

func New(opts Options) (*Dispatcher, error) {
	cfg := opts.Config
	if cfg.SLA == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, newError(ErrorCodeValidation, err.Error(), err)
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Emitter == nil {
		opts.Emitter = events.Nop()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	archiver := opts.Archiver
	if archiver == nil && opts.Store != nil {
		archiver = archive.NewStoreArchive(opts.Store, cfg.ArchiveTTL)
	}

	d := &Dispatcher{
		cfg:       cfg,
		clock:     opts.Clock,
		agents:    newAgentRegistry(),
		sessions:  newSessionBook(cfg.RecentEndedLimit),
		queue:     newWaitingQueue(),
		emitter:   opts.Emitter,
		assistant: opts.Assistant,
		metrics:   newCollectors(opts.Registerer),
		newID:     opts.NewID,
	}
	d.mirror = newMirror(opts.Store, archiver, opts.Writer, d.metrics.persistenceFailures.Inc)
	return d, nil
}

func (d *Dispatcher) Config() Config {
	return d.cfg
}

// outbox collects events raised under the lock; they are emitted once the
// lock is released.
type outbox struct {
	events []events.Event
}

func (o *outbox) add(name string, payload events.Payload) {
	o.events = append(o.events, events.Event{Name: name, Payload: payload})
}

func (d *Dispatcher) lock() *outbox {
	d.mu.Lock()
	return &outbox{}
}

func (d *Dispatcher) unlock(ob *outbox) {
	d.refreshGaugesLocked()
	d.mu.Unlock()
	for _, evt := range ob.events {
		d.emitter.Emit(evt.Name, evt.Payload)
	}
	d.mirror.schedule()
}

func payloadFor(s *model.Session, now time.Time) events.Payload {
	return events.Payload{
		SessionID: s.ID,
		UserID:    s.RequesterID,
		AgentID:   s.AgentID,
		Priority:  string(s.Priority),
		Status:    string(s.Status),
		Category:  s.Category,
		Timestamp: now,
	}
}

// liveSession resolves id to a live session; ended sessions are an
// invalid transition rather than unknown.
func (d *Dispatcher) liveSession(id string) (*model.Session, error) {
	if s, ok := d.sessions.get(id); ok {
		return s, nil
	}
	if _, ok := d.sessions.endedSession(id); ok {
		return nil, invalidTransition("session %s has ended", id)
	}
	return nil, sessionNotFound(id)
}

func (d *Dispatcher) GetSession(ctx context.Context, id string) (model.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.sessions.get(id); ok {
		return s.Clone(), nil
	}
	if s, ok := d.sessions.endedSession(id); ok {
		return s.Clone(), nil
	}
	return model.Session{}, sessionNotFound(id)
}

// ActiveSessionFor returns the requester's live session, if any.
func (d *Dispatcher) ActiveSessionFor(ctx context.Context, requesterID string) (model.Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions.activeFor(requesterID)
	if !ok {
		return model.Session{}, false
	}
	return s.Clone(), true
}

// Authorize fails with ErrorCodeUnauthorized unless userID is the
// session's requester or its assigned agent.
func (d *Dispatcher) Authorize(ctx context.Context, sessionID, userID string) error {
	s, err := d.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !s.CanAccess(strings.TrimSpace(userID)) {
		return newError(ErrorCodeUnauthorized, "caller is not a participant of this session", nil)
	}
	return nil
}

func (d *Dispatcher) GetAgent(ctx context.Context, id string) (model.Agent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.agents.get(id)
	if !ok {
		return model.Agent{}, agentNotFound(id)
	}
	return a.Clone(), nil
}

// ListAgents returns every agent in registration order.
func (d *Dispatcher) ListAgents(ctx context.Context) []model.Agent {
	d.mu.Lock()
	defer d.mu.Unlock()
	all := d.agents.all()
	out := make([]model.Agent, 0, len(all))
	for _, a := range all {
		out = append(out, a.Clone())
	}
	return out
}

// FindBestAgent reports which agent would be picked right now for the
// given skills and priority, without assigning anything.
func (d *Dispatcher) FindBestAgent(ctx context.Context, requiredSkills []string, priority model.Priority) (model.Agent, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a := d.agents.bestMatch(matchCriteria{skills: requiredSkills, priority: priority})
	if a == nil {
		return model.Agent{}, false
	}
	return a.Clone(), true
}

// QueueSnapshot returns the waiting sessions in service order.
func (d *Dispatcher) QueueSnapshot(ctx context.Context) []model.QueueEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clock.Now()
	d.reorderLocked(now)
	return d.queueEntriesLocked(now)
}

func (d *Dispatcher) lookupLive(id string) *model.Session {
	s, _ := d.sessions.get(id)
	return s
}

func (d *Dispatcher) reorderLocked(now time.Time) {
	d.queue.reorder(d.cfg, d.lookupLive, now)
}

func (d *Dispatcher) estimateLocked(position int) int {
	return d.cfg.EstimateWaitMinutes(position, d.agents.onlineCount())
}

func (d *Dispatcher) queueEntriesLocked(now time.Time) []model.QueueEntry {
	ids := d.queue.snapshot()
	online := d.agents.onlineCount()
	out := make([]model.QueueEntry, 0, len(ids))
	for i, id := range ids {
		s := d.lookupLive(id)
		if s == nil {
			log.Printf("[DISPATCH] queue references unknown session %s", id)
			continue
		}
		entry := model.QueueEntry{
			SessionID:            s.ID,
			RequesterID:          s.RequesterID,
			Priority:             s.Priority,
			PriorityScore:        d.cfg.PriorityScore(*s, now),
			RequiredSkills:       append([]string(nil), s.RequiredSkills...),
			Position:             i + 1,
			EstimatedWaitMinutes: d.cfg.EstimateWaitMinutes(i+1, online),
		}
		if s.QueuedAt != nil {
			entry.EnqueuedAt = *s.QueuedAt
		}
		out = append(out, entry)
	}
	return out
}

func copyMetadata(input map[string]string) map[string]string {
	if len(input) == 0 {
		return nil
	}
	out := make(map[string]string, len(input))
	for k, v := range input {
		out[k] = v
	}
	return out
}

// mergeSkills unions the skill lists, keeping first-seen order.
func mergeSkills(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, skill := range list {
			skill = strings.TrimSpace(skill)
			if skill == "" {
				continue
			}
			if _, ok := seen[skill]; ok {
				continue
			}
			seen[skill] = struct{}{}
			out = append(out, skill)
		}
	}
	return out
}

func appendUnique(list []string, value string) []string {
	if value == "" {
		return list
	}
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}

func timePtr(t time.Time) *time.Time {
	return &t
}
