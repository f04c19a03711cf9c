package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"support-dispatch-backend/internal/model"
)

func scriptedAssistant() Assistant {
	return AssistantFunc(func(ctx context.Context, text string, role model.RequesterRole) (Reply, error) {
		switch {
		case strings.Contains(text, "charged twice"):
			return Reply{Text: "Connecting you to billing.", RequiresHuman: true, Category: "payment_issue"}, nil
		case strings.Contains(text, "crash"):
			return Reply{}, errors.New("intent engine unavailable")
		default:
			return Reply{Text: "Your order is on its way."}, nil
		}
	})
}

func TestHandleMessageAnswersWithoutHandoff(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Assistant = scriptedAssistant() })
	s := h.start(t, "u1", "", "")

	out, err := h.d.HandleMessage(context.Background(), s.ID, "where is my order?")
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if out.Handoff != nil || out.Reply.Text == "" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if got := h.session(t, s.ID); got.Mode != model.SessionModeScripted {
		t.Fatalf("expected scripted mode, got %s", got.Mode)
	}
}

func TestHandleMessageHandsOffToHuman(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(o *Options) { o.Assistant = scriptedAssistant() })
	h.register(t, "generalist", model.Tier1, 2)
	h.register(t, "biller", model.Tier1, 2, "billing")
	s := h.start(t, "u1", "", "")

	out, err := h.d.HandleMessage(ctx, s.ID, "I was charged twice")
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if out.Handoff == nil || !out.Handoff.Assigned || out.Handoff.AgentID != "biller" {
		t.Fatalf("expected hand-off to biller, got %+v", out.Handoff)
	}
	got := h.session(t, s.ID)
	if got.Category != "payment_issue" || got.Mode != model.SessionModeHuman {
		t.Fatalf("unexpected session %+v", got)
	}

	if _, err := h.d.HandleMessage(ctx, s.ID, "hello?"); !IsInvalidTransition(err) {
		t.Fatalf("expected invalid transition once a human owns the session, got %v", err)
	}
}

func TestHandleMessageErrors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(o *Options) { o.Assistant = scriptedAssistant() })
	s := h.start(t, "u1", "", "")

	if _, err := h.d.HandleMessage(ctx, s.ID, "  "); CodeOf(err) != ErrorCodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := h.d.HandleMessage(ctx, s.ID, "app crash"); CodeOf(err) != ErrorCodeInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
	if _, err := h.d.HandleMessage(ctx, "missing", "hi"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestHandleMessageWithoutAssistantAsksForHuman(t *testing.T) {
	h := newHarness(t)
	s := h.start(t, "u1", "", "")
	out, err := h.d.HandleMessage(context.Background(), s.ID, "help")
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if out.Handoff == nil || out.Handoff.QueuePosition != 1 {
		t.Fatalf("expected a queued hand-off, got %+v", out.Handoff)
	}
}
