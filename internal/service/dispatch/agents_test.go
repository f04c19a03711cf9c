package dispatch

import (
	"context"
	"testing"
	"time"

	"support-dispatch-backend/internal/events"
	"support-dispatch-backend/internal/model"
)

func TestSetUnavailableHandsOffEverySession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(t, "a1", model.Tier1, 2)
	s1 := h.start(t, "u1", "", "")
	h.human(t, s1.ID)
	s2 := h.start(t, "u2", "", "")
	h.human(t, s2.ID)
	h.register(t, "a2", model.Tier1, 1)
	h.events.Reset()

	res, err := h.d.SetUnavailable(ctx, "a1", "shift over")
	if err != nil {
		t.Fatalf("set unavailable: %v", err)
	}
	if len(res.Reassigned) != 1 || res.Reassigned[0] != s1.ID {
		t.Fatalf("expected s1 reassigned, got %+v", res)
	}
	if len(res.Requeued) != 1 || res.Requeued[0] != s2.ID {
		t.Fatalf("expected s2 requeued, got %+v", res)
	}
	if res.Agent.Status != model.AgentStatusOffline || res.Agent.CurrentSessions != 0 {
		t.Fatalf("expected a1 offline and empty, got %+v", res.Agent)
	}

	got := h.session(t, s1.ID)
	if got.AgentID != "a2" || got.Status != model.SessionStatusTransferred {
		t.Fatalf("unexpected s1 %s/%q", got.Status, got.AgentID)
	}
	if rec := got.TransferHistory[0]; rec.Kind != model.TransferKindAgentLeft || rec.Reason != "shift over" {
		t.Fatalf("unexpected record %+v", rec)
	}
	got = h.session(t, s2.ID)
	if got.Status != model.SessionStatusWaiting || got.AgentID != "" || got.TransferCount() != 1 {
		t.Fatalf("unexpected s2 %+v", got)
	}
	if n := len(h.events.Named(events.SessionTransferred)); n != 2 {
		t.Fatalf("expected two transfer events, got %d", n)
	}
	h.checkInvariants(t)

	// Coming back drains the requeued session.
	if _, err := h.d.SetAvailable(ctx, "a1"); err != nil {
		t.Fatalf("set available: %v", err)
	}
	if got := h.session(t, s2.ID); got.AgentID != "a1" {
		t.Fatalf("expected s2 back with a1, got %q", got.AgentID)
	}
	h.checkInvariants(t)
}

func TestSetAwayKeepsAgentRegistered(t *testing.T) {
	h := newHarness(t)
	h.register(t, "a1", model.Tier1, 1)
	s := h.start(t, "u1", "", "")
	h.human(t, s.ID)

	res, err := h.d.SetAway(context.Background(), "a1", "")
	if err != nil {
		t.Fatalf("set away: %v", err)
	}
	if res.Agent.Status != model.AgentStatusAway || len(res.Requeued) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if rec := h.session(t, s.ID).TransferHistory[0]; rec.Reason != "agent unavailable" {
		t.Fatalf("expected default reason, got %q", rec.Reason)
	}
	h.checkInvariants(t)
}

func TestSetAvailableSkipsEntriesTheAgentCannotServe(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	if _, err := h.d.Register(ctx, RegisterAgentParams{
		ID: "biller", Skills: []string{"billing"}, MaxSessions: 1, Status: model.AgentStatusOffline,
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	orders := h.start(t, "u1", "order_issue", model.PriorityUrgent)
	if res := h.human(t, orders.ID); res.EstimatedWaitMinutes != h.d.Config().NoAgentWaitMinutes {
		t.Fatalf("expected the no-agent estimate, got %d", res.EstimatedWaitMinutes)
	}
	payment := h.start(t, "u2", "payment_issue", model.PriorityLow)
	h.human(t, payment.ID)
	if ids := h.queueIDs(); len(ids) != 2 || ids[0] != orders.ID {
		t.Fatalf("expected the orders session at the head, got %v", ids)
	}

	a, err := h.d.SetAvailable(ctx, "biller")
	if err != nil {
		t.Fatalf("set available: %v", err)
	}
	if a.Status != model.AgentStatusBusy {
		t.Fatalf("expected biller busy, got %s", a.Status)
	}
	if got := h.session(t, payment.ID); got.AgentID != "biller" {
		t.Fatalf("expected the payment session to be served, got %q", got.AgentID)
	}
	if ids := h.queueIDs(); len(ids) != 1 || ids[0] != orders.ID {
		t.Fatalf("expected the orders session to keep waiting, got %v", ids)
	}
	h.checkInvariants(t)
}

func TestRegisterUpdatesProfileAndKeepsLoad(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	first := h.register(t, "a1", model.Tier1, 2)
	h.register(t, "a2", model.Tier1, 2)
	s := h.start(t, "u1", "", "")
	h.human(t, s.ID)

	h.clock.Advance(time.Minute)
	updated, err := h.d.Register(ctx, RegisterAgentParams{ID: "a1", Name: "Renamed", Tier: model.Tier3, MaxSessions: 4, Skills: []string{"billing", "billing"}})
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if updated.CurrentSessions != 1 || !updated.RegisteredAt.Equal(first.RegisteredAt) {
		t.Fatalf("expected load and registration time kept, got %+v", updated)
	}
	if updated.Tier != model.Tier3 || updated.MaxSessions != 4 || len(updated.Skills) != 1 {
		t.Fatalf("expected profile update, got %+v", updated)
	}
	agents := h.d.ListAgents(ctx)
	if len(agents) != 2 || agents[0].ID != "a1" {
		t.Fatalf("expected registration order kept, got %+v", agents)
	}

	if _, err := h.d.Register(ctx, RegisterAgentParams{ID: "a2", MaxSessions: -1}); CodeOf(err) != ErrorCodeValidation {
		t.Fatalf("expected validation error for capacity, got %v", err)
	}
	s2 := h.start(t, "u2", "", "")
	h.human(t, s2.ID)
	s3 := h.start(t, "u3", "", "")
	h.human(t, s3.ID)
	if _, err := h.d.Register(ctx, RegisterAgentParams{ID: "a1", MaxSessions: 1}); CodeOf(err) != ErrorCodeValidation {
		t.Fatalf("expected validation error below current load, got %v", err)
	}
	h.checkInvariants(t)
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	cases := []RegisterAgentParams{
		{ID: ""},
		{ID: "a1", Tier: "tier7"},
		{ID: "a1", Status: model.AgentStatusBusy},
	}
	for _, params := range cases {
		if _, err := h.d.Register(ctx, params); CodeOf(err) != ErrorCodeValidation {
			t.Fatalf("%+v: expected validation error, got %v", params, err)
		}
	}
	a, err := h.d.Register(ctx, RegisterAgentParams{ID: "a1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if a.Tier != model.Tier1 || a.MaxSessions != h.d.Config().DefaultMaxSessions || a.Status != model.AgentStatusAvailable {
		t.Fatalf("unexpected defaults %+v", a)
	}
}

func TestAgentOperationsOnUnknownAgent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	if _, err := h.d.SetAvailable(ctx, "ghost"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := h.d.SetUnavailable(ctx, "ghost", ""); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := h.d.GetAgent(ctx, "ghost"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
