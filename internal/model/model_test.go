package model

import (
	"testing"
	"time"
)

func TestAwaitingAgent(t *testing.T) {
	cases := []struct {
		name    string
		session Session
		want    bool
	}{
		{"waiting human", Session{Status: SessionStatusWaiting, Mode: SessionModeHuman}, true},
		{"escalated human unassigned", Session{Status: SessionStatusEscalated, Mode: SessionModeHuman}, true},
		{"waiting scripted", Session{Status: SessionStatusWaiting, Mode: SessionModeScripted}, false},
		{"active", Session{Status: SessionStatusActive, Mode: SessionModeHuman, AgentID: "a"}, false},
		{"ended", Session{Status: SessionStatusEnded, Mode: SessionModeHuman}, false},
	}
	for _, tc := range cases {
		if got := tc.session.AwaitingAgent(); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestPriorityMaxNeverLowers(t *testing.T) {
	if got := PriorityHigh.Max(PriorityLow); got != PriorityHigh {
		t.Fatalf("expected high, got %s", got)
	}
	if got := PriorityMedium.Max(PriorityUrgent); got != PriorityUrgent {
		t.Fatalf("expected urgent, got %s", got)
	}
}

func TestTierNext(t *testing.T) {
	if Tier1.Next() != Tier2 || Tier2.Next() != Tier3 || Tier3.Next() != Supervisor || Supervisor.Next() != Supervisor {
		t.Fatal("unexpected tier progression")
	}
}

func TestSessionCloneIsDeep(t *testing.T) {
	now := time.Now()
	score := 4
	s := Session{
		ID:                "s1",
		Metadata:          map[string]string{"orderId": "o1"},
		TransferHistory:   []TransferRecord{{Reason: "x"}},
		QueuedAt:          &now,
		SatisfactionScore: &score,
	}
	c := s.Clone()
	c.Metadata["orderId"] = "changed"
	c.TransferHistory[0].Reason = "changed"
	*c.QueuedAt = now.Add(time.Hour)
	*c.SatisfactionScore = 1

	if s.Metadata["orderId"] != "o1" || s.TransferHistory[0].Reason != "x" {
		t.Fatal("clone shares maps or slices")
	}
	if !s.QueuedAt.Equal(now) || *s.SatisfactionScore != 4 {
		t.Fatal("clone shares pointers")
	}
}

func TestCanAccess(t *testing.T) {
	s := Session{RequesterID: "u1", AgentID: "a1"}
	if !s.CanAccess("u1") || !s.CanAccess("a1") {
		t.Fatal("requester and agent must have access")
	}
	if s.CanAccess("u2") || s.CanAccess("") {
		t.Fatal("unexpected access")
	}
}

func TestIDFromKey(t *testing.T) {
	id, ok := IDFromKey(SessionKey("abc"), SessionKeyPrefix)
	if !ok || id != "abc" {
		t.Fatalf("unexpected result %q %v", id, ok)
	}
	if _, ok := IDFromKey("agent:abc", SessionKeyPrefix); ok {
		t.Fatal("expected foreign key to be rejected")
	}
}
