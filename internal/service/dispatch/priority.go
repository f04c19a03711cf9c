package dispatch

import (
	"math"
	"sort"
	"time"

	"support-dispatch-backend/internal/model"
)

// PriorityScore is the queue ordering key of a waiting session: a base
// weight for its priority, one point per full minute queued, a bonus per
// recorded hand-off and any escalation boost.
func (c Config) PriorityScore(s model.Session, now time.Time) float64 {
	score := c.BaseWeights[s.Priority]
	if s.QueuedAt != nil {
		if waited := now.Sub(*s.QueuedAt); waited > 0 {
			score += math.Floor(waited.Minutes()) * c.WaitMinuteWeight
		}
	}
	score += float64(s.TransferCount()) * c.TransferBonus
	score += s.QueueBoost
	return score
}

// EstimateWaitMinutes estimates the wait for a 1-based queue position.
func (c Config) EstimateWaitMinutes(position, onlineAgents int) int {
	if onlineAgents <= 0 {
		return c.NoAgentWaitMinutes
	}
	if position < 1 {
		position = 1
	}
	rounds := (position + onlineAgents - 1) / onlineAgents
	estimate := rounds * c.AverageHandleMinutes
	if estimate < c.MinimumWaitMinutes {
		estimate = c.MinimumWaitMinutes
	}
	return estimate
}

// waitingQueue keeps the ids of sessions awaiting an agent, sorted by
// PriorityScore after every reorder.
type waitingQueue struct {
	ids     []string
	members map[string]struct{}
}

func newWaitingQueue() *waitingQueue {
	return &waitingQueue{members: make(map[string]struct{})}
}

// add reports whether id was newly queued.
func (q *waitingQueue) add(id string) bool {
	if _, ok := q.members[id]; ok {
		return false
	}
	q.members[id] = struct{}{}
	q.ids = append(q.ids, id)
	return true
}

// remove is idempotent and reports whether id was queued.
func (q *waitingQueue) remove(id string) bool {
	if _, ok := q.members[id]; !ok {
		return false
	}
	delete(q.members, id)
	for i, queued := range q.ids {
		if queued == id {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			break
		}
	}
	return true
}

func (q *waitingQueue) contains(id string) bool {
	_, ok := q.members[id]
	return ok
}

func (q *waitingQueue) len() int {
	return len(q.ids)
}

// position is 1-based; 0 means not queued.
func (q *waitingQueue) position(id string) int {
	for i, queued := range q.ids {
		if queued == id {
			return i + 1
		}
	}
	return 0
}

func (q *waitingQueue) snapshot() []string {
	return append([]string(nil), q.ids...)
}

func (q *waitingQueue) reorder(cfg Config, lookup func(string) *model.Session, now time.Time) {
	scores := make(map[string]float64, len(q.ids))
	for _, id := range q.ids {
		if s := lookup(id); s != nil {
			scores[id] = cfg.PriorityScore(*s, now)
		}
	}
	sort.SliceStable(q.ids, func(i, j int) bool {
		a, b := q.ids[i], q.ids[j]
		if scores[a] != scores[b] {
			return scores[a] > scores[b]
		}
		sa, sb := lookup(a), lookup(b)
		if sa == nil || sb == nil || sa.QueuedAt == nil || sb.QueuedAt == nil {
			return false
		}
		return sa.QueuedAt.Before(*sb.QueuedAt)
	})
}
