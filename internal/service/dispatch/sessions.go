package dispatch

import (
	"sort"

	"support-dispatch-backend/internal/model"
)

// sessionBook is the live session store plus a bounded index of recently
// ended sessions.
type sessionBook struct {
	live        map[string]*model.Session
	byRequester map[string]string

	ended      map[string]model.Session
	endedOrder []string
	endedLimit int
}

func newSessionBook(endedLimit int) *sessionBook {
	if endedLimit <= 0 {
		endedLimit = 1
	}
	return &sessionBook{
		live:        make(map[string]*model.Session),
		byRequester: make(map[string]string),
		ended:       make(map[string]model.Session),
		endedLimit:  endedLimit,
	}
}

func (b *sessionBook) get(id string) (*model.Session, bool) {
	s, ok := b.live[id]
	return s, ok
}

func (b *sessionBook) endedSession(id string) (model.Session, bool) {
	s, ok := b.ended[id]
	return s, ok
}

func (b *sessionBook) add(s *model.Session) {
	b.live[s.ID] = s
	b.byRequester[s.RequesterID] = s.ID
}

func (b *sessionBook) activeFor(requesterID string) (*model.Session, bool) {
	id, ok := b.byRequester[requesterID]
	if !ok {
		return nil, false
	}
	return b.get(id)
}

// retire moves an ended session out of the live set.
func (b *sessionBook) retire(s *model.Session) {
	delete(b.live, s.ID)
	if b.byRequester[s.RequesterID] == s.ID {
		delete(b.byRequester, s.RequesterID)
	}
	if _, ok := b.ended[s.ID]; !ok {
		b.endedOrder = append(b.endedOrder, s.ID)
	}
	b.ended[s.ID] = s.Clone()
	for len(b.endedOrder) > b.endedLimit {
		delete(b.ended, b.endedOrder[0])
		b.endedOrder = b.endedOrder[1:]
	}
}

func (b *sessionBook) liveCount() int {
	return len(b.live)
}

// all returns live sessions ordered by start time.
func (b *sessionBook) all() []*model.Session {
	out := make([]*model.Session, 0, len(b.live))
	for _, s := range b.live {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (b *sessionBook) heldBy(agentID string) []*model.Session {
	var out []*model.Session
	for _, s := range b.all() {
		if s.AgentID == agentID {
			out = append(out, s)
		}
	}
	return out
}
