package dispatch

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"support-dispatch-backend/internal/events"
	"support-dispatch-backend/internal/model"
)

type RegisterAgentParams struct {
	ID              string
	Name            string
	Email           string
	Phone           string
	Skills          []string
	Specializations []string
	// Tier defaults to tier1 and MaxSessions to the configured default.
	Tier        model.AgentTier
	MaxSessions int
	// Status is the initial status: available (default), away or offline.
	Status model.AgentStatus
}

type UnavailableResult struct {
	Agent      model.Agent
	Reassigned []string
	Requeued   []string
}

// Register adds an agent or updates its profile. Load, counters and the
// original registration order survive re-registration.
func (d *Dispatcher) Register(ctx context.Context, params RegisterAgentParams) (model.Agent, error) {
	id := strings.TrimSpace(params.ID)
	if id == "" {
		return model.Agent{}, newError(ErrorCodeValidation, "agent id is required", nil)
	}
	tier := params.Tier
	if tier == "" {
		tier = model.Tier1
	}
	if !tier.Valid() {
		return model.Agent{}, newError(ErrorCodeValidation, fmt.Sprintf("unknown tier %q", params.Tier), nil)
	}
	maxSessions := params.MaxSessions
	if maxSessions == 0 {
		maxSessions = d.cfg.DefaultMaxSessions
	}
	if maxSessions < 1 {
		return model.Agent{}, newError(ErrorCodeValidation, "max sessions must be at least 1", nil)
	}
	switch params.Status {
	case "", model.AgentStatusAvailable, model.AgentStatusAway, model.AgentStatusOffline:
	default:
		return model.Agent{}, newError(ErrorCodeValidation, fmt.Sprintf("cannot register agent as %q", params.Status), nil)
	}

	ob := d.lock()
	defer d.unlock(ob)

	now := d.clock.Now()
	a, exists := d.agents.get(id)
	if exists && maxSessions < a.CurrentSessions {
		return model.Agent{}, newError(ErrorCodeValidation,
			fmt.Sprintf("agent %s holds %d sessions, above the requested maximum", id, a.CurrentSessions), nil)
	}
	if !exists {
		a = &model.Agent{
			ID:               id,
			Status:           model.AgentStatusOffline,
			RegisteredAt:     now,
			LastStatusChange: now,
		}
		d.agents.put(a)
	}
	a.Name = strings.TrimSpace(params.Name)
	a.Email = strings.TrimSpace(params.Email)
	a.Phone = strings.TrimSpace(params.Phone)
	a.Skills = mergeSkills(params.Skills)
	a.Specializations = mergeSkills(params.Specializations)
	a.Tier = tier
	a.MaxSessions = maxSessions

	status := params.Status
	if status == "" {
		status = model.AgentStatusAvailable
		if exists && !a.Status.Online() {
			status = a.Status
		}
	}
	if status.Online() {
		setAgentStatus(a, model.AgentStatusAvailable, now)
		settleStatus(a, now)
	} else if a.Status != status {
		d.leaveLocked(a, status, "re-registered as "+string(status), now, ob)
	}
	d.persistAgent(a)

	log.Printf("[DISPATCH] agent %s registered (%s, %s, max %d)", a.ID, a.Tier, a.Status, a.MaxSessions)
	d.drainForAgentLocked(a, now, ob, false)
	return a.Clone(), nil
}

func (d *Dispatcher) SetAvailable(ctx context.Context, agentID string) (model.Agent, error) {
	ob := d.lock()
	defer d.unlock(ob)

	now := d.clock.Now()
	a, ok := d.agents.get(agentID)
	if !ok {
		return model.Agent{}, agentNotFound(agentID)
	}
	if !a.Status.Online() {
		setAgentStatus(a, model.AgentStatusAvailable, now)
	}
	settleStatus(a, now)
	d.persistAgent(a)
	log.Printf("[DISPATCH] agent %s is %s", a.ID, a.Status)

	d.drainForAgentLocked(a, now, ob, false)
	return a.Clone(), nil
}

// SetUnavailable hands off every session the agent holds, then marks it
// offline.
func (d *Dispatcher) SetUnavailable(ctx context.Context, agentID, reason string) (UnavailableResult, error) {
	return d.leave(agentID, model.AgentStatusOffline, reason)
}

// SetAway is SetUnavailable for a short break: the agent keeps its
// registration but ends up away instead of offline.
func (d *Dispatcher) SetAway(ctx context.Context, agentID, reason string) (UnavailableResult, error) {
	return d.leave(agentID, model.AgentStatusAway, reason)
}

func (d *Dispatcher) leave(agentID string, status model.AgentStatus, reason string) (UnavailableResult, error) {
	ob := d.lock()
	defer d.unlock(ob)

	a, ok := d.agents.get(agentID)
	if !ok {
		return UnavailableResult{}, agentNotFound(agentID)
	}
	res := d.leaveLocked(a, status, reason, d.clock.Now(), ob)
	return res, nil
}

func (d *Dispatcher) leaveLocked(a *model.Agent, status model.AgentStatus, reason string, now time.Time, ob *outbox) UnavailableResult {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "agent unavailable"
	}
	// The status flips first so the agent cannot win its own sessions back.
	setAgentStatus(a, status, now)

	var res UnavailableResult
	for _, s := range d.sessions.heldBy(a.ID) {
		d.releaseLocked(s, now)
		target := d.agents.bestMatch(matchCriteria{
			skills:   s.RequiredSkills,
			priority: s.Priority,
			exclude:  s.ExcludedAgentIDs,
		})
		record := model.TransferRecord{Timestamp: now, FromAgentID: a.ID, Reason: reason, Kind: model.TransferKindAgentLeft}
		if target != nil {
			record.ToAgentID = target.ID
		}
		s.TransferHistory = append(s.TransferHistory, record)
		d.metrics.handoffs.WithLabelValues(string(model.TransferKindAgentLeft)).Inc()

		if target != nil {
			if err := d.assignLocked(s, target, now, ob); err == nil {
				res.Reassigned = append(res.Reassigned, s.ID)
			} else {
				d.requeueLocked(s, now, ob)
				res.Requeued = append(res.Requeued, s.ID)
			}
		} else {
			d.requeueLocked(s, now, ob)
			res.Requeued = append(res.Requeued, s.ID)
		}
		d.persistSession(s)

		payload := payloadFor(s, now)
		payload.FromAgentID = a.ID
		payload.Reason = reason
		ob.add(events.SessionTransferred, payload)
	}
	a.CurrentSessions = 0
	d.persistAgent(a)

	log.Printf("[DISPATCH] agent %s is %s (%s): %d reassigned, %d requeued",
		a.ID, a.Status, reason, len(res.Reassigned), len(res.Requeued))
	res.Agent = a.Clone()
	return res
}

// drainForAgentLocked fills the agent's free slots from the queue, head
// to tail, taking the first entries the agent qualifies for. A session
// that excludes the agent is taken only when no other agent qualifies,
// and never when handoff is set, since the agent just gave it up.
func (d *Dispatcher) drainForAgentLocked(a *model.Agent, now time.Time, ob *outbox, handoff bool) int {
	assigned := 0
	for a.Status == model.AgentStatusAvailable && a.HasCapacity() {
		d.reorderLocked(now)
		var picked *model.Session
		for _, id := range d.queue.snapshot() {
			s := d.lookupLive(id)
			if s == nil {
				continue
			}
			c := d.drainCriteria(s)
			if !c.qualifies(a) {
				continue
			}
			if c.excludes(a.ID) && (handoff || d.agents.bestMatch(c) != nil) {
				continue
			}
			picked = s
			break
		}
		if picked == nil {
			break
		}
		if err := d.assignLocked(picked, a, now, ob); err != nil {
			break
		}
		assigned++
	}
	return assigned
}

// drainQueueLocked offers every queued session, in order, to its best
// agent by the same soft scoring as an immediate match. Excluded agents
// serve as a last resort.
func (d *Dispatcher) drainQueueLocked(now time.Time, ob *outbox) int {
	assigned := 0
	d.reorderLocked(now)
	for _, id := range d.queue.snapshot() {
		if !d.agents.anyAvailable() {
			break
		}
		s := d.lookupLive(id)
		if s == nil {
			continue
		}
		c := d.drainCriteria(s)
		c.requireSkill = false
		c.fallbackExcluded = true
		a := d.agents.bestMatch(c)
		if a == nil {
			continue
		}
		if err := d.assignLocked(s, a, now, ob); err == nil {
			assigned++
		}
	}
	return assigned
}

// drainCriteria requires a skill overlap for queued sessions, except
// escalated ones which take any agent.
func (d *Dispatcher) drainCriteria(s *model.Session) matchCriteria {
	return matchCriteria{
		skills:       s.RequiredSkills,
		priority:     s.Priority,
		exclude:      s.ExcludedAgentIDs,
		requireSkill: s.Status != model.SessionStatusEscalated,
	}
}

// DrainQueue runs one global matching pass and returns the number of
// sessions assigned.
func (d *Dispatcher) DrainQueue(ctx context.Context) int {
	ob := d.lock()
	defer d.unlock(ob)
	return d.drainQueueLocked(d.clock.Now(), ob)
}
