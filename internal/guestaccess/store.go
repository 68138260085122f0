package guestaccess

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aetherhome/aether/internal/session"
)

// DraftStore persists the one pending draft so a restarted client can pick
// its countdown back up.
type DraftStore interface {
	SavePending(ctx context.Context, p PendingDraft) error
	// LoadPending returns nil, nil when nothing is pending.
	LoadPending(ctx context.Context) (*PendingDraft, error)
	ClearPending(ctx context.Context) error
}

const pendingDraftKey = "pending_guest_draft"

// SessionDrafts keeps the pending draft next to the tokens in the session store.
type SessionDrafts struct {
	store session.Store
}

func NewSessionDrafts(store session.Store) *SessionDrafts {
	return &SessionDrafts{store: store}
}

func (s *SessionDrafts) SavePending(ctx context.Context, p PendingDraft) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling pending draft: %w", err)
	}
	return s.store.Put(ctx, pendingDraftKey, data)
}

func (s *SessionDrafts) LoadPending(ctx context.Context) (*PendingDraft, error) {
	data, err := s.store.Get(ctx, pendingDraftKey)
	if errors.Is(err, session.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p PendingDraft
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshaling pending draft: %w", err)
	}
	return &p, nil
}

func (s *SessionDrafts) ClearPending(ctx context.Context) error {
	return s.store.Delete(ctx, pendingDraftKey)
}

type nopDrafts struct{}

func (nopDrafts) SavePending(context.Context, PendingDraft) error    { return nil }
func (nopDrafts) LoadPending(context.Context) (*PendingDraft, error) { return nil, nil }
func (nopDrafts) ClearPending(context.Context) error                 { return nil }
