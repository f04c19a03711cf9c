package dispatch

import (
	"fmt"
	"time"

	"support-dispatch-backend/internal/model"
)

// agentRegistry holds agents in registration order. It is only touched
// with the dispatcher lock held.
type agentRegistry struct {
	agents map[string]*model.Agent
	order  []string
}

func newAgentRegistry() *agentRegistry {
	return &agentRegistry{agents: make(map[string]*model.Agent)}
}

func (r *agentRegistry) get(id string) (*model.Agent, bool) {
	a, ok := r.agents[id]
	return a, ok
}

func (r *agentRegistry) put(a *model.Agent) {
	if _, exists := r.agents[a.ID]; !exists {
		r.order = append(r.order, a.ID)
	}
	r.agents[a.ID] = a
}

func (r *agentRegistry) all() []*model.Agent {
	out := make([]*model.Agent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id])
	}
	return out
}

func (r *agentRegistry) onlineCount() int {
	n := 0
	for _, a := range r.agents {
		if a.Status.Online() {
			n++
		}
	}
	return n
}

// load sums current and maximum sessions over online agents.
func (r *agentRegistry) load() (current, capacity int) {
	for _, a := range r.agents {
		if !a.Status.Online() {
			continue
		}
		current += a.CurrentSessions
		capacity += a.MaxSessions
	}
	return current, capacity
}

func (r *agentRegistry) anyAvailable() bool {
	for _, a := range r.agents {
		if a.Status == model.AgentStatusAvailable && a.HasCapacity() {
			return true
		}
	}
	return false
}

func setAgentStatus(a *model.Agent, status model.AgentStatus, now time.Time) {
	if a.Status == status {
		return
	}
	a.Status = status
	a.LastStatusChange = now
}

// settleStatus keeps an online agent busy exactly when it is full.
func settleStatus(a *model.Agent, now time.Time) {
	if !a.Status.Online() {
		return
	}
	if a.HasCapacity() {
		setAgentStatus(a, model.AgentStatusAvailable, now)
	} else {
		setAgentStatus(a, model.AgentStatusBusy, now)
	}
}

func occupy(a *model.Agent, now time.Time) error {
	if a.Status != model.AgentStatusAvailable || !a.HasCapacity() {
		return newError(ErrorCodeCapacityExceeded,
			fmt.Sprintf("agent %s is %s with %d/%d sessions", a.ID, a.Status, a.CurrentSessions, a.MaxSessions), nil)
	}
	a.CurrentSessions++
	settleStatus(a, now)
	return nil
}

func vacate(a *model.Agent, now time.Time) {
	if a.CurrentSessions > 0 {
		a.CurrentSessions--
	}
	if a.Status == model.AgentStatusBusy {
		settleStatus(a, now)
	}
}

func recordResponse(a *model.Agent, seconds float64) {
	a.ResponseSamples++
	a.AvgResponseTime += (seconds - a.AvgResponseTime) / float64(a.ResponseSamples)
}

func recordHandled(a *model.Agent, satisfaction *int) {
	a.TotalHandled++
	if satisfaction == nil {
		return
	}
	a.RatedSessions++
	a.AvgSatisfaction += (float64(*satisfaction) - a.AvgSatisfaction) / float64(a.RatedSessions)
}
