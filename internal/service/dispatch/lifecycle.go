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

type StartSessionParams struct {
	RequesterID string
	Role        model.RequesterRole
	Category    string
	Subcategory string
	// Priority is derived from Role and Category when empty.
	Priority model.Priority
	Metadata map[string]string
}

type HumanRequestParams struct {
	Category       string
	RequiredSkills []string
	Reason         string
}

type HumanRequestResult struct {
	Session              model.Session
	Assigned             bool
	AgentID              string
	QueuePosition        int
	EstimatedWaitMinutes int
}

type TransferParams struct {
	// ToAgentID picks the target explicitly; when empty the best other
	// agent is matched.
	ToAgentID string
	Reason    string
	Kind      model.TransferKind
}

type EscalateParams struct {
	Reason     string
	TargetTier model.AgentTier
}

type HandoffResult struct {
	Session              model.Session
	Assigned             bool
	AgentID              string
	FromAgentID          string
	QueuePosition        int
	EstimatedWaitMinutes int
}

type EndParams struct {
	Resolution   string
	Satisfaction *int
	Tags         []string
}

func (d *Dispatcher) StartSession(ctx context.Context, params StartSessionParams) (model.Session, error) {
	requesterID := strings.TrimSpace(params.RequesterID)
	if requesterID == "" {
		return model.Session{}, newError(ErrorCodeValidation, "requester id is required", nil)
	}
	if !params.Role.Valid() {
		return model.Session{}, newError(ErrorCodeValidation, fmt.Sprintf("unknown requester role %q", params.Role), nil)
	}
	if params.Priority != "" && !params.Priority.Valid() {
		return model.Session{}, newError(ErrorCodeValidation, fmt.Sprintf("unknown priority %q", params.Priority), nil)
	}

	ob := d.lock()
	defer d.unlock(ob)

	if existing, ok := d.sessions.activeFor(requesterID); ok {
		return existing.Clone(), nil
	}

	now := d.clock.Now()
	category := strings.TrimSpace(params.Category)
	priority := d.initialPriority(params.Role, category, params.Priority)
	s := &model.Session{
		ID:             d.newID(),
		RequesterID:    requesterID,
		RequesterRole:  params.Role,
		Status:         model.SessionStatusWaiting,
		Mode:           model.SessionModeScripted,
		Priority:       priority,
		Category:       category,
		Subcategory:    strings.TrimSpace(params.Subcategory),
		Metadata:       copyMetadata(params.Metadata),
		SLADeadline:    now.Add(d.cfg.slaFor(priority)),
		RequiredSkills: mergeSkills(d.cfg.skillsForCategory(category)),
		StartedAt:      now,
		UpdatedAt:      now,
	}
	d.sessions.add(s)
	d.stats.started++
	d.metrics.sessionsStarted.Inc()
	d.persistSession(s)

	log.Printf("[DISPATCH] session %s started for %s %s (priority %s)", s.ID, s.RequesterRole, s.RequesterID, s.Priority)
	ob.add(events.SupportSessionStarted, payloadFor(s, now))
	return s.Clone(), nil
}

func (d *Dispatcher) initialPriority(role model.RequesterRole, category string, explicit model.Priority) model.Priority {
	priority := explicit
	if priority == "" {
		priority = model.PriorityMedium
		if d.cfg.isHighPriorityRole(role) {
			priority = model.PriorityHigh
		}
	}
	if d.cfg.isUrgentCategory(category) {
		priority = priority.Max(model.PriorityUrgent)
	}
	return priority
}

// raisePriority never lowers the priority; a raise tightens the SLA
// deadline when the new tier's window from start is shorter.
func (d *Dispatcher) raisePriority(s *model.Session, to model.Priority) {
	next := s.Priority.Max(to)
	if next == s.Priority {
		return
	}
	s.Priority = next
	if deadline := s.StartedAt.Add(d.cfg.slaFor(next)); deadline.Before(s.SLADeadline) {
		s.SLADeadline = deadline
	}
}

func (d *Dispatcher) RequestHumanAgent(ctx context.Context, sessionID string, params HumanRequestParams) (HumanRequestResult, error) {
	ob := d.lock()
	defer d.unlock(ob)
	return d.requestHumanLocked(sessionID, params, d.clock.Now(), ob)
}

func (d *Dispatcher) requestHumanLocked(sessionID string, params HumanRequestParams, now time.Time, ob *outbox) (HumanRequestResult, error) {
	s, err := d.liveSession(sessionID)
	if err != nil {
		return HumanRequestResult{}, err
	}
	if s.Mode == model.SessionModeHuman && (s.AgentID != "" || d.queue.contains(s.ID)) {
		return d.humanResultLocked(s, now), nil
	}

	if category := strings.TrimSpace(params.Category); category != "" && category != s.Category {
		s.Category = category
		if d.cfg.isUrgentCategory(category) {
			d.raisePriority(s, model.PriorityUrgent)
		}
	}
	s.RequiredSkills = mergeSkills(s.RequiredSkills, d.cfg.skillsForCategory(s.Category), params.RequiredSkills)
	s.Mode = model.SessionModeHuman
	if s.Status != model.SessionStatusEscalated {
		s.Status = model.SessionStatusWaiting
	}
	if s.HumanRequestedAt == nil {
		s.HumanRequestedAt = timePtr(now)
	}
	s.UpdatedAt = now

	reason := params.Reason
	if reason == "" {
		reason = "requested"
	}
	log.Printf("[DISPATCH] session %s requested a human agent (%s)", s.ID, reason)

	agent := d.agents.bestMatch(matchCriteria{
		skills:   s.RequiredSkills,
		priority: s.Priority,
		exclude:  s.ExcludedAgentIDs,
	})
	if agent != nil {
		if err := d.assignLocked(s, agent, now, ob); err != nil {
			return HumanRequestResult{}, err
		}
	} else {
		d.enqueueLocked(s, now, ob)
	}
	d.persistSession(s)
	return d.humanResultLocked(s, now), nil
}

func (d *Dispatcher) humanResultLocked(s *model.Session, now time.Time) HumanRequestResult {
	res := HumanRequestResult{AgentID: s.AgentID, Assigned: s.AgentID != ""}
	if !res.Assigned {
		d.reorderLocked(now)
		res.QueuePosition = d.queue.position(s.ID)
		res.EstimatedWaitMinutes = d.estimateLocked(res.QueuePosition)
	}
	res.Session = s.Clone()
	return res
}

// assignLocked gives s to a. The session leaves the queue and its status
// becomes active, or transferred when another agent held it before.
func (d *Dispatcher) assignLocked(s *model.Session, a *model.Agent, now time.Time, ob *outbox) error {
	if err := occupy(a, now); err != nil {
		log.Printf("[DISPATCH] refusing to assign session %s: %v", s.ID, err)
		return err
	}
	d.queue.remove(s.ID)

	waitStart := now
	if s.QueuedAt != nil {
		waitStart = *s.QueuedAt
	} else if s.HumanRequestedAt != nil {
		waitStart = *s.HumanRequestedAt
	}
	wait := now.Sub(waitStart)
	if wait < 0 {
		wait = 0
	}

	s.AgentID = a.ID
	if s.PreviouslyAssigned() {
		s.Status = model.SessionStatusTransferred
	} else {
		s.Status = model.SessionStatusActive
	}
	s.AssignedAt = timePtr(now)
	s.QueuedAt = nil
	s.QueueBoost = 0
	s.ExcludedAgentIDs = nil
	s.UpdatedAt = now

	recordResponse(a, wait.Seconds())
	d.stats.waitTotal += wait
	d.stats.waitSamples++
	d.metrics.assignments.Inc()
	d.metrics.waitSeconds.Observe(wait.Seconds())

	d.persistSession(s)
	d.persistAgent(a)

	log.Printf("[DISPATCH] session %s assigned to agent %s after %s", s.ID, a.ID, wait.Round(time.Second))
	payload := payloadFor(s, now)
	payload.WaitTimeSeconds = wait.Seconds()
	ob.add(events.AgentAssigned, payload)
	return nil
}

func (d *Dispatcher) enqueueLocked(s *model.Session, now time.Time, ob *outbox) {
	if s.QueuedAt == nil {
		s.QueuedAt = timePtr(now)
	}
	if !d.queue.add(s.ID) {
		return
	}
	d.reorderLocked(now)
	position := d.queue.position(s.ID)
	estimate := d.estimateLocked(position)
	d.persistSession(s)

	log.Printf("[DISPATCH] session %s queued at position %d (estimate %d min)", s.ID, position, estimate)
	payload := payloadFor(s, now)
	payload.QueuePosition = position
	payload.EstimatedWait = estimate
	ob.add(events.SessionQueued, payload)
}

// releaseLocked frees the session's agent slot and returns that agent.
func (d *Dispatcher) releaseLocked(s *model.Session, now time.Time) *model.Agent {
	if s.AgentID == "" {
		return nil
	}
	a, ok := d.agents.get(s.AgentID)
	s.AgentID = ""
	s.UpdatedAt = now
	if !ok {
		return nil
	}
	vacate(a, now)
	d.persistAgent(a)
	return a
}

// requeueLocked puts a session that lost its agent back in line with a
// fresh SLA window, keeping excluded agents out of its next match.
func (d *Dispatcher) requeueLocked(s *model.Session, now time.Time, ob *outbox) {
	if s.Status != model.SessionStatusEscalated {
		s.Status = model.SessionStatusWaiting
		s.SLADeadline = now.Add(d.cfg.slaFor(s.Priority))
	}
	s.QueuedAt = nil
	d.enqueueLocked(s, now, ob)
}

func (d *Dispatcher) TransferSession(ctx context.Context, sessionID string, params TransferParams) (HandoffResult, error) {
	ob := d.lock()
	defer d.unlock(ob)
	return d.transferLocked(sessionID, params, d.clock.Now(), ob)
}

func (d *Dispatcher) transferLocked(sessionID string, params TransferParams, now time.Time, ob *outbox) (HandoffResult, error) {
	s, err := d.liveSession(sessionID)
	if err != nil {
		return HandoffResult{}, err
	}
	if s.AgentID == "" {
		return HandoffResult{}, invalidTransition("session %s has no assigned agent", s.ID)
	}
	kind := params.Kind
	if kind == "" {
		kind = model.TransferKindTransfer
	}
	reason := strings.TrimSpace(params.Reason)
	if reason == "" {
		reason = "transfer"
	}

	from := s.AgentID
	var target *model.Agent
	if params.ToAgentID != "" {
		a, ok := d.agents.get(params.ToAgentID)
		if !ok {
			return HandoffResult{}, agentNotFound(params.ToAgentID)
		}
		if a.ID == from {
			return HandoffResult{}, invalidTransition("session %s is already held by agent %s", s.ID, a.ID)
		}
		if a.Status != model.AgentStatusAvailable || !a.HasCapacity() {
			return HandoffResult{}, invalidTransition("agent %s cannot take sessions while %s", a.ID, a.Status)
		}
		target = a
	}

	released := d.releaseLocked(s, now)
	excluded := appendUnique(append([]string(nil), s.ExcludedAgentIDs...), from)
	if target == nil {
		target = d.agents.bestMatch(matchCriteria{
			skills:   s.RequiredSkills,
			priority: s.Priority,
			exclude:  excluded,
		})
	}

	record := model.TransferRecord{Timestamp: now, FromAgentID: from, Reason: reason, Kind: kind}
	if target != nil {
		record.ToAgentID = target.ID
	}
	s.TransferHistory = append(s.TransferHistory, record)
	d.metrics.handoffs.WithLabelValues(string(kind)).Inc()

	if target != nil {
		if err := d.assignLocked(s, target, now, ob); err != nil {
			return HandoffResult{}, err
		}
	} else {
		s.ExcludedAgentIDs = excluded
		d.requeueLocked(s, now, ob)
	}
	d.persistSession(s)

	log.Printf("[DISPATCH] session %s transferred from %s to %q (%s)", s.ID, from, record.ToAgentID, reason)
	payload := payloadFor(s, now)
	payload.FromAgentID = from
	payload.Reason = reason
	ob.add(events.SessionTransferred, payload)

	res := d.handoffResultLocked(s, from, now)
	if released != nil {
		d.drainForAgentLocked(released, now, ob, true)
	}
	return res, nil
}

func (d *Dispatcher) handoffResultLocked(s *model.Session, from string, now time.Time) HandoffResult {
	res := HandoffResult{
		Assigned:    s.AgentID != "",
		AgentID:     s.AgentID,
		FromAgentID: from,
	}
	if !res.Assigned {
		d.reorderLocked(now)
		res.QueuePosition = d.queue.position(s.ID)
		res.EstimatedWaitMinutes = d.estimateLocked(res.QueuePosition)
	}
	res.Session = s.Clone()
	return res
}

func (d *Dispatcher) EscalateSession(ctx context.Context, sessionID string, params EscalateParams) (HandoffResult, error) {
	if params.TargetTier != "" && !params.TargetTier.Valid() {
		return HandoffResult{}, newError(ErrorCodeValidation, fmt.Sprintf("unknown tier %q", params.TargetTier), nil)
	}
	ob := d.lock()
	defer d.unlock(ob)
	return d.escalateLocked(sessionID, params, d.clock.Now(), ob)
}

func escalatedPriority(p model.Priority) model.Priority {
	if p.Rank() >= model.PriorityHigh.Rank() {
		return model.PriorityUrgent
	}
	return model.PriorityHigh
}

func (d *Dispatcher) escalateLocked(sessionID string, params EscalateParams, now time.Time, ob *outbox) (HandoffResult, error) {
	s, err := d.liveSession(sessionID)
	if err != nil {
		return HandoffResult{}, err
	}
	reason := strings.TrimSpace(params.Reason)
	if reason == "" {
		reason = "escalation"
	}

	d.raisePriority(s, escalatedPriority(s.Priority))

	from := s.AgentID
	tier := params.TargetTier
	if tier == "" {
		switch {
		case s.Priority == model.PriorityUrgent:
			tier = model.Supervisor
		case from != "":
			if a, ok := d.agents.get(from); ok {
				tier = a.Tier.Next()
			} else {
				tier = model.Tier2
			}
		default:
			tier = model.Tier2
		}
	}

	s.Mode = model.SessionModeHuman
	s.Status = model.SessionStatusEscalated
	if s.HumanRequestedAt == nil {
		s.HumanRequestedAt = timePtr(now)
	}
	released := d.releaseLocked(s, now)
	excluded := appendUnique(append([]string(nil), s.ExcludedAgentIDs...), from)

	target := d.agents.bestMatch(matchCriteria{
		skills:   s.RequiredSkills,
		priority: s.Priority,
		minTier:  tier,
		exclude:  excluded,
	})

	record := model.TransferRecord{Timestamp: now, FromAgentID: from, Reason: reason, Kind: model.TransferKindEscalation}
	if target != nil {
		record.ToAgentID = target.ID
	}
	s.TransferHistory = append(s.TransferHistory, record)
	s.UpdatedAt = now
	d.metrics.handoffs.WithLabelValues(string(model.TransferKindEscalation)).Inc()

	if target != nil {
		if err := d.assignLocked(s, target, now, ob); err != nil {
			return HandoffResult{}, err
		}
	} else {
		s.ExcludedAgentIDs = excluded
		s.QueueBoost += d.cfg.EscalationBoost
		d.enqueueLocked(s, now, ob)
		d.reorderLocked(now)
	}
	d.persistSession(s)

	log.Printf("[DISPATCH] session %s escalated to %s/%s (%s)", s.ID, s.Priority, tier, reason)
	payload := payloadFor(s, now)
	payload.FromAgentID = from
	payload.Reason = reason
	ob.add(events.SessionEscalated, payload)

	res := d.handoffResultLocked(s, from, now)
	if released != nil {
		d.drainForAgentLocked(released, now, ob, true)
	}
	return res, nil
}

func (d *Dispatcher) EndSession(ctx context.Context, sessionID string, params EndParams) (model.Session, error) {
	if params.Satisfaction != nil && (*params.Satisfaction < 1 || *params.Satisfaction > 5) {
		return model.Session{}, newError(ErrorCodeValidation, "satisfaction must be between 1 and 5", nil)
	}

	ob := d.lock()
	defer d.unlock(ob)

	now := d.clock.Now()
	s, err := d.liveSession(sessionID)
	if err != nil {
		return model.Session{}, err
	}

	d.queue.remove(s.ID)
	agentID := s.AgentID
	released := d.releaseLocked(s, now)
	if released != nil {
		recordHandled(released, params.Satisfaction)
		d.persistAgent(released)
	}

	s.Status = model.SessionStatusEnded
	s.EndedAt = timePtr(now)
	s.UpdatedAt = now
	s.Resolution = strings.TrimSpace(params.Resolution)
	s.Tags = mergeSkills(s.Tags, params.Tags)
	s.QueuedAt = nil
	s.QueueBoost = 0
	if params.Satisfaction != nil {
		score := *params.Satisfaction
		s.SatisfactionScore = &score
		d.stats.satisfactionTotal += score
		d.stats.satisfactionCount++
	}

	d.sessions.retire(s)
	d.stats.ended++
	d.metrics.sessionsEnded.Inc()
	d.archiveSession(s)

	log.Printf("[DISPATCH] session %s ended (%s)", s.ID, s.Resolution)
	payload := payloadFor(s, now)
	payload.AgentID = agentID
	if s.SatisfactionScore != nil {
		payload.Satisfaction = *s.SatisfactionScore
	}
	payload.Reason = s.Resolution
	ob.add(events.SessionEnded, payload)

	ended := s.Clone()
	if released != nil {
		d.drainForAgentLocked(released, now, ob, false)
	}
	return ended, nil
}

type ModeSwitchResult struct {
	Session model.Session
	// Human is set when the switch went to human mode.
	Human *HumanRequestResult
}

func (d *Dispatcher) SwitchMode(ctx context.Context, sessionID string, mode model.SessionMode) (ModeSwitchResult, error) {
	if mode != model.SessionModeHuman && mode != model.SessionModeScripted {
		return ModeSwitchResult{}, newError(ErrorCodeValidation, fmt.Sprintf("unknown mode %q", mode), nil)
	}

	ob := d.lock()
	defer d.unlock(ob)

	now := d.clock.Now()
	s, err := d.liveSession(sessionID)
	if err != nil {
		return ModeSwitchResult{}, err
	}

	if mode == model.SessionModeHuman {
		res, err := d.requestHumanLocked(sessionID, HumanRequestParams{Reason: "mode switch"}, now, ob)
		if err != nil {
			return ModeSwitchResult{}, err
		}
		return ModeSwitchResult{Session: res.Session, Human: &res}, nil
	}

	if s.Mode == model.SessionModeScripted {
		return ModeSwitchResult{Session: s.Clone()}, nil
	}

	d.queue.remove(s.ID)
	released := d.releaseLocked(s, now)
	s.Mode = model.SessionModeScripted
	s.Status = model.SessionStatusWaiting
	s.QueuedAt = nil
	s.QueueBoost = 0
	s.ExcludedAgentIDs = nil
	s.UpdatedAt = now
	d.persistSession(s)
	log.Printf("[DISPATCH] session %s switched back to scripted mode", s.ID)

	out := ModeSwitchResult{Session: s.Clone()}
	if released != nil {
		d.drainForAgentLocked(released, now, ob, false)
	}
	return out, nil
}
