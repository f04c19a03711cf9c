// Package archive moves ended support sessions into cold storage with an
// extended retention period.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"support-dispatch-backend/internal/model"
	"support-dispatch-backend/internal/statestore"
)

const DefaultRetention = 7 * 24 * time.Hour

var ErrNotFound = errors.New("archive: session not found")

type Archiver interface {
	Archive(ctx context.Context, session model.Session) error
}

type Reader interface {
	Get(ctx context.Context, sessionID string) (model.Session, error)
}

// RequesterLister is implemented by backends indexed by requester.
type RequesterLister interface {
	ListByRequester(ctx context.Context, requesterID string) ([]model.Session, error)
}

var ErrListUnsupported = errors.New("archive: no backend lists by requester")

// StoreArchive keeps ended sessions in the durable state store under
// their live key with the archive retention.
type StoreArchive struct {
	store     statestore.Store
	retention time.Duration
}

func NewStoreArchive(store statestore.Store, retention time.Duration) *StoreArchive {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &StoreArchive{store: store, retention: retention}
}

func (a *StoreArchive) Archive(ctx context.Context, session model.Session) error {
	if !session.Ended() {
		return fmt.Errorf("archive: session %s is %s, not ended", session.ID, session.Status)
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("archive: marshal session: %w", err)
	}
	return a.store.Set(ctx, model.SessionKey(session.ID), data, a.retention)
}

func (a *StoreArchive) Get(ctx context.Context, sessionID string) (model.Session, error) {
	data, err := a.store.Get(ctx, model.SessionKey(sessionID))
	if err != nil {
		if errors.Is(err, statestore.ErrNotFound) {
			return model.Session{}, ErrNotFound
		}
		return model.Session{}, err
	}
	var session model.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return model.Session{}, fmt.Errorf("archive: unmarshal session: %w", err)
	}
	if !session.Ended() {
		return model.Session{}, ErrNotFound
	}
	return session, nil
}

// Multi archives to every backend and joins the failures.
type Multi []Archiver

func (m Multi) Archive(ctx context.Context, session model.Session) error {
	var errs []error
	for _, a := range m {
		if a == nil {
			continue
		}
		if err := a.Archive(ctx, session); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Get returns the session from the first backend that has it.
func (m Multi) Get(ctx context.Context, sessionID string) (model.Session, error) {
	var errs []error
	for _, a := range m {
		r, ok := a.(Reader)
		if !ok {
			continue
		}
		session, err := r.Get(ctx, sessionID)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return model.Session{}, errors.Join(errs...)
	}
	return model.Session{}, ErrNotFound
}

func (m Multi) ListByRequester(ctx context.Context, requesterID string) ([]model.Session, error) {
	for _, a := range m {
		if l, ok := a.(RequesterLister); ok {
			return l.ListByRequester(ctx, requesterID)
		}
	}
	return nil, ErrListUnsupported
}
