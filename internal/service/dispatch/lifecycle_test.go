package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"support-dispatch-backend/internal/events"
	"support-dispatch-backend/internal/model"
)

func TestStartSessionIsIdempotentPerRequester(t *testing.T) {
	h := newHarness(t)
	first := h.start(t, "u1", "", "")
	second := h.start(t, "u1", "order_issue", model.PriorityUrgent)
	if first.ID != second.ID {
		t.Fatalf("expected the same session, got %s and %s", first.ID, second.ID)
	}
	if second.Priority != model.PriorityMedium {
		t.Fatalf("expected the original session back, got priority %s", second.Priority)
	}
	if n := len(h.events.Named(events.SupportSessionStarted)); n != 1 {
		t.Fatalf("expected one start event, got %d", n)
	}
}

func TestStartSessionDerivesPriority(t *testing.T) {
	cases := []struct {
		name     string
		role     model.RequesterRole
		category string
		explicit model.Priority
		want     model.Priority
		sla      time.Duration
	}{
		{"customer default", model.RoleCustomer, "", "", model.PriorityMedium, 60 * time.Minute},
		{"driver", model.RoleDriver, "", "", model.PriorityHigh, 15 * time.Minute},
		{"restaurant owner", model.RoleRestaurantOwner, "menu", "", model.PriorityHigh, 15 * time.Minute},
		{"safety category", model.RoleCustomer, "safety", "", model.PriorityUrgent, 5 * time.Minute},
		{"explicit low", model.RoleDriver, "", model.PriorityLow, model.PriorityLow, 240 * time.Minute},
		{"emergency beats explicit", model.RoleCustomer, "Emergency", model.PriorityLow, model.PriorityUrgent, 5 * time.Minute},
	}
	for i, tc := range cases {
		h := newHarness(t)
		s, err := h.d.StartSession(context.Background(), StartSessionParams{
			RequesterID: "u" + string(rune('a'+i)),
			Role:        tc.role,
			Category:    tc.category,
			Priority:    tc.explicit,
		})
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if s.Priority != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, s.Priority)
		}
		if want := testStart.Add(tc.sla); !s.SLADeadline.Equal(want) {
			t.Fatalf("%s: expected deadline %s, got %s", tc.name, want, s.SLADeadline)
		}
		if s.Mode != model.SessionModeScripted || s.Status != model.SessionStatusWaiting {
			t.Fatalf("%s: unexpected initial state %s/%s", tc.name, s.Mode, s.Status)
		}
	}
}

func TestStartSessionValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.d.StartSession(ctx, StartSessionParams{Role: model.RoleCustomer}); CodeOf(err) != ErrorCodeValidation {
		t.Fatalf("expected validation error for missing requester, got %v", err)
	}
	if _, err := h.d.StartSession(ctx, StartSessionParams{RequesterID: "u1", Role: "robot"}); CodeOf(err) != ErrorCodeValidation {
		t.Fatalf("expected validation error for role, got %v", err)
	}
	if _, err := h.d.StartSession(ctx, StartSessionParams{RequesterID: "u1", Role: model.RoleCustomer, Priority: "p0"}); CodeOf(err) != ErrorCodeValidation {
		t.Fatalf("expected validation error for priority, got %v", err)
	}
}

func TestRequestHumanAgentIsIdempotent(t *testing.T) {
	h := newHarness(t)
	s := h.start(t, "u1", "", "")
	first := h.human(t, s.ID)
	second := h.human(t, s.ID)
	if first.Assigned || second.Assigned || first.QueuePosition != 1 || second.QueuePosition != 1 {
		t.Fatalf("unexpected results %+v %+v", first, second)
	}
	if n := len(h.events.Named(events.SessionQueued)); n != 1 {
		t.Fatalf("expected one queued event, got %d", n)
	}
	if got := h.queueIDs(); len(got) != 1 {
		t.Fatalf("expected a single queue entry, got %v", got)
	}
	h.checkInvariants(t)
}

func TestRequestHumanAgentUnknownSession(t *testing.T) {
	h := newHarness(t)
	_, err := h.d.RequestHumanAgent(context.Background(), "missing", HumanRequestParams{})
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRequestHumanAgentMergesSkillsAndCategory(t *testing.T) {
	h := newHarness(t)
	s := h.start(t, "u1", "", "")
	res, err := h.d.RequestHumanAgent(context.Background(), s.ID, HumanRequestParams{
		Category:       "emergency",
		RequiredSkills: []string{"spanish"},
	})
	if err != nil {
		t.Fatalf("request human: %v", err)
	}
	got := res.Session
	if got.Priority != model.PriorityUrgent {
		t.Fatalf("expected urgent after emergency category, got %s", got.Priority)
	}
	if want := testStart.Add(5 * time.Minute); !got.SLADeadline.Equal(want) {
		t.Fatalf("expected tightened deadline %s, got %s", want, got.SLADeadline)
	}
	if len(got.RequiredSkills) != 2 || got.RequiredSkills[0] != "safety" || got.RequiredSkills[1] != "spanish" {
		t.Fatalf("unexpected skills %v", got.RequiredSkills)
	}
}

func TestTransferToExplicitAgent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(t, "a1", model.Tier1, 2)
	s := h.start(t, "u1", "", "")
	h.human(t, s.ID)
	h.register(t, "a2", model.Tier1, 1)

	out, err := h.d.TransferSession(ctx, s.ID, TransferParams{ToAgentID: "a2", Reason: "language"})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if !out.Assigned || out.AgentID != "a2" || out.FromAgentID != "a1" {
		t.Fatalf("unexpected result %+v", out)
	}
	got := h.session(t, s.ID)
	if got.Status != model.SessionStatusTransferred {
		t.Fatalf("expected transferred, got %s", got.Status)
	}
	rec := got.TransferHistory[0]
	if rec.FromAgentID != "a1" || rec.ToAgentID != "a2" || rec.Kind != model.TransferKindTransfer || rec.Reason != "language" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if a1 := h.agent(t, "a1"); a1.CurrentSessions != 0 {
		t.Fatalf("expected a1 released, got %d", a1.CurrentSessions)
	}
	if a2 := h.agent(t, "a2"); a2.Status != model.AgentStatusBusy {
		t.Fatalf("expected a2 busy, got %s", a2.Status)
	}
	transferred := h.events.Named(events.SessionTransferred)
	if len(transferred) != 1 || transferred[0].Payload.FromAgentID != "a1" || transferred[0].Payload.AgentID != "a2" {
		t.Fatalf("unexpected transfer events %+v", transferred)
	}
	h.checkInvariants(t)
}

func TestTransferRejections(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(t, "a1", model.Tier1, 1)
	h.register(t, "a2", model.Tier1, 1)
	held := h.start(t, "u1", "", "")
	h.human(t, held.ID)
	other := h.start(t, "u2", "", "")
	h.human(t, other.ID)
	waiting := h.start(t, "u3", "", "")

	if _, err := h.d.TransferSession(ctx, waiting.ID, TransferParams{Reason: "x"}); !IsInvalidTransition(err) {
		t.Fatalf("expected invalid transition without an agent, got %v", err)
	}
	if _, err := h.d.TransferSession(ctx, held.ID, TransferParams{ToAgentID: "a1"}); !IsInvalidTransition(err) {
		t.Fatalf("expected invalid transition to the same agent, got %v", err)
	}
	if _, err := h.d.TransferSession(ctx, held.ID, TransferParams{ToAgentID: "a2"}); !IsInvalidTransition(err) {
		t.Fatalf("expected invalid transition to a busy agent, got %v", err)
	}
	if _, err := h.d.TransferSession(ctx, held.ID, TransferParams{ToAgentID: "ghost"}); !IsNotFound(err) {
		t.Fatalf("expected not found for unknown agent, got %v", err)
	}
	if _, err := h.d.TransferSession(ctx, "missing", TransferParams{}); !IsNotFound(err) {
		t.Fatalf("expected not found for unknown session, got %v", err)
	}
	if got := h.session(t, held.ID); got.AgentID != "a1" || got.TransferCount() != 0 {
		t.Fatalf("rejected transfers must not change the session, got %+v", got)
	}
	h.checkInvariants(t)
}

func TestTransferredAwayAgentServesWhenAlone(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(t, "A", model.Tier1, 1)
	s := h.start(t, "u1", "", model.PriorityHigh)
	h.human(t, s.ID)

	transfer := func() {
		t.Helper()
		out, err := h.d.TransferSession(ctx, s.ID, TransferParams{Reason: "second opinion"})
		if err != nil {
			t.Fatalf("transfer: %v", err)
		}
		if out.Assigned {
			t.Fatalf("expected the handoff to skip A, got %+v", out)
		}
		if got := h.session(t, s.ID); len(got.ExcludedAgentIDs) != 1 || got.ExcludedAgentIDs[0] != "A" {
			t.Fatalf("expected A excluded, got %v", got.ExcludedAgentIDs)
		}
		h.checkInvariants(t)
	}

	transfer()
	h.clock.Advance(time.Minute)
	h.d.CheckSLA(ctx)
	if got := h.session(t, s.ID); got.AgentID != "A" {
		t.Fatalf("expected the sweep to return the session to A, got %q", got.AgentID)
	}

	transfer()
	if _, err := h.d.SetUnavailable(ctx, "A", "break"); err != nil {
		t.Fatalf("set unavailable: %v", err)
	}
	if _, err := h.d.SetAvailable(ctx, "A"); err != nil {
		t.Fatalf("set available: %v", err)
	}
	got := h.session(t, s.ID)
	if got.AgentID != "A" || got.Status != model.SessionStatusTransferred || got.TransferCount() != 2 {
		t.Fatalf("expected A to hold the session after two transfers, got %s/%q/%d", got.Status, got.AgentID, got.TransferCount())
	}
	h.checkInvariants(t)
}

func TestTransferPrefersAnotherAgentOnReturn(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(t, "A", model.Tier1, 1)
	s := h.start(t, "u1", "", "")
	h.human(t, s.ID)
	if _, err := h.d.Register(ctx, RegisterAgentParams{ID: "B", MaxSessions: 1, Status: model.AgentStatusOffline}); err != nil {
		t.Fatalf("register B: %v", err)
	}

	if _, err := h.d.TransferSession(ctx, s.ID, TransferParams{Reason: "shift change"}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if _, err := h.d.SetAvailable(ctx, "B"); err != nil {
		t.Fatalf("set available: %v", err)
	}
	if got := h.session(t, s.ID); got.AgentID != "B" {
		t.Fatalf("expected B to take the session, got %q", got.AgentID)
	}
	if a := h.agent(t, "A"); a.CurrentSessions != 0 {
		t.Fatalf("expected A left free, got %d", a.CurrentSessions)
	}
	h.checkInvariants(t)
}

func TestTransferRequeueStartsFreshSLAWindow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(t, "A", model.Tier1, 1)
	s := h.start(t, "u1", "", model.PriorityHigh)
	h.human(t, s.ID)

	h.clock.Advance(20 * time.Minute)
	if _, err := h.d.TransferSession(ctx, s.ID, TransferParams{Reason: "handover"}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	got := h.session(t, s.ID)
	if want := h.clock.Now().Add(15 * time.Minute); !got.SLADeadline.Equal(want) {
		t.Fatalf("expected deadline %s, got %s", want, got.SLADeadline)
	}
	if report := h.d.CheckSLA(ctx); len(report.Violations) != 0 {
		t.Fatalf("expected no breach right after the transfer, got %v", report.Violations)
	}
}

func TestEscalateMovesToHigherTier(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(t, "t1", model.Tier1, 2)
	s := h.start(t, "u1", "", "")
	h.human(t, s.ID)
	h.register(t, "t2", model.Tier2, 2)

	out, err := h.d.EscalateSession(ctx, s.ID, EscalateParams{Reason: "angry customer"})
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if !out.Assigned || out.AgentID != "t2" {
		t.Fatalf("expected tier2 agent, got %+v", out)
	}
	got := h.session(t, s.ID)
	if got.Priority != model.PriorityHigh {
		t.Fatalf("expected high priority, got %s", got.Priority)
	}
	if got.Status != model.SessionStatusTransferred {
		t.Fatalf("expected transferred after escalation to a new agent, got %s", got.Status)
	}
	rec := got.TransferHistory[0]
	if rec.Kind != model.TransferKindEscalation || rec.FromAgentID != "t1" || rec.ToAgentID != "t2" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if n := len(h.events.Named(events.SessionEscalated)); n != 1 {
		t.Fatalf("expected one escalation event, got %d", n)
	}
	h.checkInvariants(t)
}

func TestEscalateWithoutSupervisorQueuesWithBoost(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(t, "t2", model.Tier2, 2)
	s := h.start(t, "u1", "", model.PriorityHigh)
	h.human(t, s.ID)

	out, err := h.d.EscalateSession(ctx, s.ID, EscalateParams{Reason: "legal threat"})
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if out.Assigned {
		t.Fatalf("expected no supervisor match, got %+v", out)
	}
	got := h.session(t, s.ID)
	if got.Priority != model.PriorityUrgent || got.Status != model.SessionStatusEscalated {
		t.Fatalf("unexpected state %s/%s", got.Priority, got.Status)
	}
	if got.QueueBoost != h.d.Config().EscalationBoost {
		t.Fatalf("expected boost %v, got %v", h.d.Config().EscalationBoost, got.QueueBoost)
	}
	if out.QueuePosition != 1 {
		t.Fatalf("expected head of queue, got %d", out.QueuePosition)
	}
	if a := h.agent(t, "t2"); a.CurrentSessions != 0 {
		t.Fatalf("expected t2 released, got %d", a.CurrentSessions)
	}
	h.checkInvariants(t)

	// A later supervisor picks it up from the queue.
	h.register(t, "boss", model.Supervisor, 1)
	if got := h.session(t, s.ID); got.AgentID != "boss" {
		t.Fatalf("expected supervisor to drain the escalated session, got %q", got.AgentID)
	}
	h.checkInvariants(t)
}

func TestEscalatedSessionJumpsQueue(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	urgent := h.start(t, "u1", "", model.PriorityUrgent)
	h.human(t, urgent.ID)
	low := h.start(t, "u2", "", model.PriorityLow)
	h.human(t, low.ID)

	if _, err := h.d.EscalateSession(ctx, low.ID, EscalateParams{Reason: "vip"}); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	ids := h.queueIDs()
	if len(ids) != 2 || ids[0] != low.ID {
		t.Fatalf("expected escalated session first, got %v", ids)
	}
}

func TestEscalateRejectsUnknownTier(t *testing.T) {
	h := newHarness(t)
	s := h.start(t, "u1", "", "")
	_, err := h.d.EscalateSession(context.Background(), s.ID, EscalateParams{TargetTier: "tier9"})
	if CodeOf(err) != ErrorCodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestEndSessionTwiceIsInvalid(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.start(t, "u1", "", "")
	score := 5
	ended, err := h.d.EndSession(ctx, s.ID, EndParams{Resolution: "done", Satisfaction: &score, Tags: []string{"refund"}})
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.Status != model.SessionStatusEnded || ended.EndedAt == nil || *ended.SatisfactionScore != 5 {
		t.Fatalf("unexpected ended session %+v", ended)
	}
	if _, err := h.d.EndSession(ctx, s.ID, EndParams{}); !IsInvalidTransition(err) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if _, err := h.d.RequestHumanAgent(ctx, s.ID, HumanRequestParams{}); !IsInvalidTransition(err) {
		t.Fatalf("expected invalid transition on ended session, got %v", err)
	}
	if _, err := h.d.EndSession(ctx, "missing", EndParams{}); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if got := h.session(t, s.ID); got.Resolution != "done" {
		t.Fatalf("expected ended session to stay readable, got %+v", got)
	}

	// The requester can open a new session once the old one ended.
	next := h.start(t, "u1", "", "")
	if next.ID == s.ID {
		t.Fatal("expected a new session id")
	}
}

func TestEndSessionWhileQueuedLeavesQueue(t *testing.T) {
	h := newHarness(t)
	s := h.start(t, "u1", "", "")
	h.human(t, s.ID)
	if _, err := h.d.EndSession(context.Background(), s.ID, EndParams{}); err != nil {
		t.Fatalf("end: %v", err)
	}
	if ids := h.queueIDs(); len(ids) != 0 {
		t.Fatalf("expected empty queue, got %v", ids)
	}
	h.checkInvariants(t)
}

func TestEndSessionRejectsBadSatisfaction(t *testing.T) {
	h := newHarness(t)
	s := h.start(t, "u1", "", "")
	score := 6
	_, err := h.d.EndSession(context.Background(), s.ID, EndParams{Satisfaction: &score})
	if CodeOf(err) != ErrorCodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got := h.session(t, s.ID); got.Ended() {
		t.Fatal("session must stay live after a rejected end")
	}
}

func TestSwitchModeBackToScriptedFreesAgent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(t, "a1", model.Tier1, 1)
	held := h.start(t, "u1", "", "")
	h.human(t, held.ID)
	queued := h.start(t, "u2", "", "")
	h.human(t, queued.ID)

	out, err := h.d.SwitchMode(ctx, held.ID, model.SessionModeScripted)
	if err != nil {
		t.Fatalf("switch mode: %v", err)
	}
	if out.Human != nil || out.Session.AgentID != "" || out.Session.Mode != model.SessionModeScripted || out.Session.Status != model.SessionStatusWaiting {
		t.Fatalf("unexpected result %+v", out)
	}
	if got := h.session(t, queued.ID); got.AgentID != "a1" {
		t.Fatalf("expected the freed agent to take the queued session, got %q", got.AgentID)
	}
	h.checkInvariants(t)

	back, err := h.d.SwitchMode(ctx, held.ID, model.SessionModeHuman)
	if err != nil {
		t.Fatalf("switch back: %v", err)
	}
	if back.Human == nil || back.Human.Assigned || back.Human.QueuePosition != 1 {
		t.Fatalf("expected to queue again, got %+v", back.Human)
	}
	h.checkInvariants(t)

	if _, err := h.d.SwitchMode(ctx, held.ID, "telepathy"); CodeOf(err) != ErrorCodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSwitchModeRemovesQueuedSession(t *testing.T) {
	h := newHarness(t)
	s := h.start(t, "u1", "", "")
	h.human(t, s.ID)
	if _, err := h.d.SwitchMode(context.Background(), s.ID, model.SessionModeScripted); err != nil {
		t.Fatalf("switch mode: %v", err)
	}
	if ids := h.queueIDs(); len(ids) != 0 {
		t.Fatalf("expected empty queue, got %v", ids)
	}
	h.checkInvariants(t)
}

func TestAuthorize(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(t, "a1", model.Tier1, 1)
	s := h.start(t, "u1", "", "")
	h.human(t, s.ID)

	if err := h.d.Authorize(ctx, s.ID, "u1"); err != nil {
		t.Fatalf("requester: %v", err)
	}
	if err := h.d.Authorize(ctx, s.ID, "a1"); err != nil {
		t.Fatalf("agent: %v", err)
	}
	if err := h.d.Authorize(ctx, s.ID, "u2"); CodeOf(err) != ErrorCodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestCodeOfSeesThroughJoin(t *testing.T) {
	err := errors.Join(errors.New("other"), newError(ErrorCodePersistence, "boom", nil))
	if CodeOf(err) != ErrorCodePersistence {
		t.Fatalf("expected persistence code, got %q", CodeOf(err))
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Fatal("expected empty code for foreign error")
	}
}
