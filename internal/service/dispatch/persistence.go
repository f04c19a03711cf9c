package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"support-dispatch-backend/internal/archive"
	"support-dispatch-backend/internal/model"
	"support-dispatch-backend/internal/queue"
	"support-dispatch-backend/internal/statestore"
)

const flushTimeout = 10 * time.Second

type pendingWrite struct {
	seq uint64
	fn  func(context.Context) error
}

// mirror copies engine state to the durable store. Writes are staged per
// key, latest wins, and run later on the writer queue or through Flush.
type mirror struct {
	store     statestore.Store
	archiver  archive.Archiver
	writer    *queue.RequestQueueManager
	onFailure func()

	mu        sync.Mutex
	pending   map[string]pendingWrite
	seq       uint64
	scheduled bool
	closed    bool
	lastErr   error
	failures  int

	flushMu sync.Mutex
}

func newMirror(store statestore.Store, archiver archive.Archiver, writer *queue.RequestQueueManager, onFailure func()) *mirror {
	return &mirror{
		store:     store,
		archiver:  archiver,
		writer:    writer,
		onFailure: onFailure,
		pending:   make(map[string]pendingWrite),
	}
}

func (m *mirror) stage(key string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.pending[key] = pendingWrite{seq: m.seq, fn: fn}
}

func (m *mirror) schedule() {
	if m.writer == nil {
		return
	}
	m.mu.Lock()
	if m.closed || m.scheduled || len(m.pending) == 0 {
		m.mu.Unlock()
		return
	}
	m.scheduled = true
	m.mu.Unlock()

	accepted := m.writer.TryEnqueueJob(queue.Job{Fn: func() error {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		return m.flush(ctx)
	}})
	if !accepted {
		m.mu.Lock()
		m.scheduled = false
		m.mu.Unlock()
	}
}

// flush runs every staged write, retrying each once. A write that still
// fails is kept for the next flush unless a newer one replaced it.
func (m *mirror) flush(ctx context.Context) error {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	m.mu.Lock()
	batch := m.pending
	m.pending = make(map[string]pendingWrite)
	m.scheduled = false
	m.mu.Unlock()

	keys := make([]string, 0, len(batch))
	for key := range batch {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return batch[keys[i]].seq < batch[keys[j]].seq })

	var errs []error
	for _, key := range keys {
		w := batch[key]
		err := w.fn(ctx)
		if err != nil {
			err = w.fn(ctx)
		}
		if err == nil {
			continue
		}
		perr := newError(ErrorCodePersistence, fmt.Sprintf("persist %s: %v", key, err), err)
		log.Printf("[PERSIST] %v", perr)
		errs = append(errs, perr)

		m.mu.Lock()
		if _, superseded := m.pending[key]; !superseded {
			m.pending[key] = w
		}
		m.lastErr = perr
		m.failures++
		m.mu.Unlock()
		if m.onFailure != nil {
			m.onFailure()
		}
	}
	if len(errs) == 0 {
		m.mu.Lock()
		if len(m.pending) == 0 {
			m.lastErr = nil
		}
		m.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (m *mirror) pendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *mirror) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (d *Dispatcher) persistSession(s *model.Session) {
	store := d.mirror.store
	if store == nil {
		return
	}
	snapshot := s.Clone()
	key := model.SessionKey(s.ID)
	ttl := d.cfg.LiveTTL
	d.mirror.stage(key, func(ctx context.Context) error {
		data, err := json.Marshal(snapshot)
		if err != nil {
			return err
		}
		return store.Set(ctx, key, data, ttl)
	})
}

func (d *Dispatcher) persistAgent(a *model.Agent) {
	store := d.mirror.store
	if store == nil {
		return
	}
	snapshot := a.Clone()
	key := model.AgentKey(a.ID)
	d.mirror.stage(key, func(ctx context.Context) error {
		data, err := json.Marshal(snapshot)
		if err != nil {
			return err
		}
		return store.Set(ctx, key, data, 0)
	})
}

// archiveSession replaces any pending live write of the session with the
// archive write.
func (d *Dispatcher) archiveSession(s *model.Session) {
	archiver := d.mirror.archiver
	if archiver == nil {
		return
	}
	snapshot := s.Clone()
	d.mirror.stage(model.SessionKey(s.ID), func(ctx context.Context) error {
		return archiver.Archive(ctx, snapshot)
	})
}

// Flush writes everything staged so far and reports the writes that
// failed twice.
func (d *Dispatcher) Flush(ctx context.Context) error {
	return d.mirror.flush(ctx)
}

// PersistenceError returns the most recent store failure. It is cleared
// once a flush drains every staged write.
func (d *Dispatcher) PersistenceError() error {
	d.mirror.mu.Lock()
	defer d.mirror.mu.Unlock()
	return d.mirror.lastErr
}

func (d *Dispatcher) PendingWrites() int {
	return d.mirror.pendingCount()
}

// Close stops scheduling background writes and flushes what is left.
// The writer queue must still be running when Close is called.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mirror.close()
	return d.Flush(ctx)
}

type RestoreReport struct {
	Agents   int
	Sessions int
	Queued   int
	Skipped  int
	// Pruned counts undecodable records deleted from the store.
	Pruned int
}

// Restore rebuilds agents and live sessions from the durable store.
// Records already held in memory win over stored ones.
func (d *Dispatcher) Restore(ctx context.Context) (RestoreReport, error) {
	store := d.mirror.store
	if store == nil {
		return RestoreReport{}, nil
	}
	agents, agentLoad, err := loadRecords[model.Agent](ctx, store, model.AgentKeyPrefix)
	if err != nil {
		return RestoreReport{}, newError(ErrorCodePersistence, "list stored agents", err)
	}
	sessions, sessionLoad, err := loadRecords[model.Session](ctx, store, model.SessionKeyPrefix)
	if err != nil {
		return RestoreReport{}, newError(ErrorCodePersistence, "list stored sessions", err)
	}

	ob := d.lock()
	defer d.unlock(ob)

	now := d.clock.Now()
	report := RestoreReport{
		Skipped: agentLoad.skipped + sessionLoad.skipped,
		Pruned:  agentLoad.pruned + sessionLoad.pruned,
	}

	sort.SliceStable(agents, func(i, j int) bool {
		if !agents[i].RegisteredAt.Equal(agents[j].RegisteredAt) {
			return agents[i].RegisteredAt.Before(agents[j].RegisteredAt)
		}
		return agents[i].ID < agents[j].ID
	})
	for i := range agents {
		a := agents[i]
		if _, exists := d.agents.get(a.ID); exists || a.ID == "" {
			report.Skipped++
			continue
		}
		a.CurrentSessions = 0
		if a.MaxSessions < 1 {
			a.MaxSessions = d.cfg.DefaultMaxSessions
		}
		d.agents.put(&a)
		report.Agents++
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.Before(sessions[j].StartedAt)
	})
	for i := range sessions {
		s := sessions[i]
		if s.Ended() || s.ID == "" {
			continue
		}
		if _, exists := d.sessions.get(s.ID); exists {
			report.Skipped++
			continue
		}
		if _, taken := d.sessions.activeFor(s.RequesterID); taken {
			report.Skipped++
			continue
		}
		if s.AgentID != "" {
			a, ok := d.agents.get(s.AgentID)
			if ok && a.Status.Online() && a.HasCapacity() {
				a.CurrentSessions++
			} else {
				log.Printf("[PERSIST] session %s lost agent %s during restore; requeueing", s.ID, s.AgentID)
				s.AgentID = ""
				s.Status = model.SessionStatusWaiting
				s.Mode = model.SessionModeHuman
				s.QueuedAt = nil
			}
		}
		restored := s
		d.sessions.add(&restored)
		d.stats.started++
		report.Sessions++
		if restored.AwaitingAgent() {
			if restored.QueuedAt == nil {
				restored.QueuedAt = timePtr(now)
			}
			d.queue.add(restored.ID)
			report.Queued++
		}
		d.persistSession(&restored)
	}

	for _, a := range d.agents.all() {
		settleStatus(a, now)
		d.persistAgent(a)
	}
	d.reorderLocked(now)
	drained := d.drainQueueLocked(now, ob)

	log.Printf("[PERSIST] restored %d agents and %d sessions (%d queued, %d drained, %d skipped, %d pruned)",
		report.Agents, report.Sessions, report.Queued, drained, report.Skipped, report.Pruned)
	return report, nil
}

type loadStats struct {
	skipped int
	pruned  int
}

// loadRecords decodes every record under prefix. Records that cannot be
// decoded are deleted so they do not resurface on the next restore.
func loadRecords[T any](ctx context.Context, store statestore.Store, prefix string) ([]T, loadStats, error) {
	var stats loadStats
	keys, err := store.ListKeys(ctx, prefix)
	if err != nil {
		return nil, stats, err
	}
	var out []T
	for _, key := range keys {
		if _, ok := model.IDFromKey(key, prefix); !ok {
			continue
		}
		data, err := store.Get(ctx, key)
		if err != nil {
			if !errors.Is(err, statestore.ErrNotFound) {
				log.Printf("[PERSIST] read %s: %v", key, err)
			}
			stats.skipped++
			continue
		}
		var record T
		if err := json.Unmarshal(data, &record); err != nil {
			log.Printf("[PERSIST] decode %s: %v", key, err)
			if err := store.Delete(ctx, key); err != nil {
				log.Printf("[PERSIST] prune %s: %v", key, err)
				stats.skipped++
				continue
			}
			stats.pruned++
			continue
		}
		out = append(out, record)
	}
	return out, stats, nil
}
