package dispatch

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"support-dispatch-backend/internal/clock"
	"support-dispatch-backend/internal/events"
	"support-dispatch-backend/internal/model"
	"support-dispatch-backend/internal/statestore"
)

var testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	d      *Dispatcher
	clock  *clock.FakeClock
	events *events.Recorder
	store  *statestore.MemoryStore
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	fake := clock.Fake(testStart)
	rec := &events.Recorder{}
	store := statestore.NewMemoryStore(fake.Now)
	var seq atomic.Int64
	opts := Options{
		Clock:   fake,
		Store:   store,
		Emitter: rec,
		NewID: func() string {
			return fmt.Sprintf("s%d", seq.Add(1))
		},
	}
	for _, m := range mutate {
		m(&opts)
	}
	d, err := New(opts)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return &harness{d: d, clock: fake, events: rec, store: store}
}

func (h *harness) register(t *testing.T, id string, tier model.AgentTier, maxSessions int, skills ...string) model.Agent {
	t.Helper()
	a, err := h.d.Register(context.Background(), RegisterAgentParams{
		ID:          id,
		Name:        "Agent " + id,
		Tier:        tier,
		MaxSessions: maxSessions,
		Skills:      skills,
	})
	if err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
	return a
}

func (h *harness) start(t *testing.T, requester, category string, priority model.Priority) model.Session {
	t.Helper()
	s, err := h.d.StartSession(context.Background(), StartSessionParams{
		RequesterID: requester,
		Role:        model.RoleCustomer,
		Category:    category,
		Priority:    priority,
	})
	if err != nil {
		t.Fatalf("start session for %s: %v", requester, err)
	}
	return s
}

func (h *harness) human(t *testing.T, sessionID string) HumanRequestResult {
	t.Helper()
	res, err := h.d.RequestHumanAgent(context.Background(), sessionID, HumanRequestParams{})
	if err != nil {
		t.Fatalf("request human for %s: %v", sessionID, err)
	}
	return res
}

func (h *harness) session(t *testing.T, id string) model.Session {
	t.Helper()
	s, err := h.d.GetSession(context.Background(), id)
	if err != nil {
		t.Fatalf("get session %s: %v", id, err)
	}
	return s
}

func (h *harness) agent(t *testing.T, id string) model.Agent {
	t.Helper()
	a, err := h.d.GetAgent(context.Background(), id)
	if err != nil {
		t.Fatalf("get agent %s: %v", id, err)
	}
	return a
}

func (h *harness) checkInvariants(t *testing.T) {
	t.Helper()
	if err := h.d.CheckInvariants(); err != nil {
		t.Fatalf("invariants violated: %v", err)
	}
}

func (h *harness) queueIDs() []string {
	var ids []string
	for _, entry := range h.d.QueueSnapshot(context.Background()) {
		ids = append(ids, entry.SessionID)
	}
	return ids
}
