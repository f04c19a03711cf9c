package dispatch

import (
	"context"
	"log"
	"strings"

	"support-dispatch-backend/internal/model"
)

// Reply is what the scripted assistant answers to one message.
type Reply struct {
	Text          string
	RequiresHuman bool
	// Category, when set, refines the session's routing on hand-off.
	Category string
}

type Assistant interface {
	Respond(ctx context.Context, text string, role model.RequesterRole) (Reply, error)
}

type AssistantFunc func(ctx context.Context, text string, role model.RequesterRole) (Reply, error)

func (f AssistantFunc) Respond(ctx context.Context, text string, role model.RequesterRole) (Reply, error) {
	return f(ctx, text, role)
}

type MessageOutcome struct {
	Reply Reply
	// Handoff is set when the reply moved the session to a human.
	Handoff *HumanRequestResult
}

// HandleMessage passes a requester message to the assistant while the
// session is scripted. A reply that asks for a human requests one.
// Without an assistant every message asks for a human.
func (d *Dispatcher) HandleMessage(ctx context.Context, sessionID, text string) (MessageOutcome, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return MessageOutcome{}, newError(ErrorCodeValidation, "message text is required", nil)
	}

	d.mu.Lock()
	s, err := d.liveSession(sessionID)
	if err != nil {
		d.mu.Unlock()
		return MessageOutcome{}, err
	}
	mode, role := s.Mode, s.RequesterRole
	d.mu.Unlock()

	if mode != model.SessionModeScripted {
		return MessageOutcome{}, invalidTransition("session %s is handled by a human agent", sessionID)
	}

	reply := Reply{RequiresHuman: true}
	if d.assistant != nil {
		reply, err = d.assistant.Respond(ctx, text, role)
		if err != nil {
			log.Printf("[DISPATCH] assistant failed for session %s: %v", sessionID, err)
			return MessageOutcome{}, newError(ErrorCodeInternal, "assistant failed to respond", err)
		}
	}

	out := MessageOutcome{Reply: reply}
	if !reply.RequiresHuman {
		return out, nil
	}
	res, err := d.RequestHumanAgent(ctx, sessionID, HumanRequestParams{
		Category: reply.Category,
		Reason:   "assistant hand-off",
	})
	if err != nil {
		return MessageOutcome{}, err
	}
	out.Handoff = &res
	return out, nil
}
