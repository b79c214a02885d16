// Package store provides the keyed conversation state store with sliding-TTL
// expiry and non-destructive merge semantics.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/RoseVZ/Instalily-casestudy/internal/model"
)

// ErrNotFound is returned by Get when no live state exists for a thread.
// Expired state is indistinguishable from absent state.
var ErrNotFound = errors.New("conversation state not found")

// MergeRequest carries the per-turn updates applied by Merge.
type MergeRequest struct {
	UserID   string
	Entities model.Entities
	Turns    []model.Turn
	Intent   model.Intent

	// WaitingFor updates the follow-up marker when non-nil: an empty
	// string clears it, any other value sets it.
	WaitingFor *string
}

// Store is the conversation state store. Merge is the only mutator and must
// be read-modify-write atomic per thread so concurrent turns on the same
// thread cannot erase each other's entities.
type Store interface {
	// Get returns the live state for a thread, or ErrNotFound when the
	// thread is unknown or its TTL has lapsed.
	Get(ctx context.Context, threadID string) (*model.ConversationState, error)

	// Merge loads current state (initializing empty state when absent or
	// expired), overlays the non-empty entity fields, appends the new
	// turns (evicting the oldest beyond the history bound), records the
	// intent, and slides the expiry horizon forward.
	Merge(ctx context.Context, threadID string, req MergeRequest) (*model.ConversationState, error)
}

// apply folds a merge request into state in place. Shared by both backends
// so the entity-merge invariant lives in exactly one place.
func apply(state *model.ConversationState, threadID string, req MergeRequest, ttl time.Duration, historyLimit int, now time.Time) {
	state.ThreadID = threadID
	if req.UserID != "" {
		state.UserID = req.UserID
	}
	state.Entities = state.Entities.Merge(req.Entities)
	state.History = append(state.History, req.Turns...)
	if historyLimit > 0 && len(state.History) > historyLimit {
		state.History = state.History[len(state.History)-historyLimit:]
	}
	if req.Intent != "" {
		state.LastIntent = req.Intent
	}
	if req.WaitingFor != nil {
		state.WaitingFor = *req.WaitingFor
	}
	state.UpdatedAt = now
	state.ExpiresAt = now.Add(ttl)
}
