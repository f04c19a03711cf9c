package dispatch

import (
	"errors"
	"fmt"

	"support-dispatch-backend/internal/model"
)

// CheckInvariants cross-checks sessions, agents and the queue and returns
// every inconsistency found. It is cheap enough for tests and debug
// endpoints, not for the hot path.
func (d *Dispatcher) CheckInvariants() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	load := make(map[string]int)
	for _, s := range d.sessions.live {
		if s.Ended() {
			errs = append(errs, fmt.Errorf("ended session %s is still live", s.ID))
		}
		if queued := d.queue.contains(s.ID); queued != s.AwaitingAgent() {
			errs = append(errs, fmt.Errorf("session %s (%s/%s) queued=%v", s.ID, s.Status, s.Mode, queued))
		}
		held := s.Status == model.SessionStatusActive || s.Status == model.SessionStatusTransferred
		if held != (s.AgentID != "") {
			errs = append(errs, fmt.Errorf("session %s is %s with agent %q", s.ID, s.Status, s.AgentID))
		}
		if s.AgentID == "" {
			continue
		}
		if _, ok := d.agents.get(s.AgentID); !ok {
			errs = append(errs, fmt.Errorf("session %s held by unknown agent %s", s.ID, s.AgentID))
		}
		load[s.AgentID]++
	}

	if len(d.queue.ids) != len(d.queue.members) {
		errs = append(errs, fmt.Errorf("queue holds %d entries for %d sessions", len(d.queue.ids), len(d.queue.members)))
	}
	for _, id := range d.queue.ids {
		if _, ok := d.sessions.get(id); !ok {
			errs = append(errs, fmt.Errorf("queued session %s is not live", id))
		}
	}

	for _, a := range d.agents.all() {
		if a.CurrentSessions > a.MaxSessions {
			errs = append(errs, fmt.Errorf("agent %s over capacity: %d/%d", a.ID, a.CurrentSessions, a.MaxSessions))
		}
		if a.CurrentSessions != load[a.ID] {
			errs = append(errs, fmt.Errorf("agent %s counts %d sessions but holds %d", a.ID, a.CurrentSessions, load[a.ID]))
		}
		if a.Status == model.AgentStatusAvailable && !a.HasCapacity() {
			errs = append(errs, fmt.Errorf("agent %s is available at full capacity", a.ID))
		}
		if a.Status == model.AgentStatusBusy && a.HasCapacity() {
			errs = append(errs, fmt.Errorf("agent %s is busy with free capacity", a.ID))
		}
	}
	return errors.Join(errs...)
}
