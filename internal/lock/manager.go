// Package lock arbitrates advisory, time-bounded edit leases on cards.
package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gridboard/api/internal/store"
)

// DefaultTTL mirrors store.DefaultLockTTL; the manager and the store must
// agree on the expiry predicate.
const DefaultTTL = store.DefaultLockTTL

type cardStore interface {
	GetCard(ctx context.Context, cardID string) (store.Card, error)
	AcquireLock(ctx context.Context, cardID, actorID string) (bool, error)
	ReleaseLock(ctx context.Context, cardID, actorID string) error
}

// Result reports the outcome of an acquire attempt. A conflict is a normal
// result, never an error: Granted=false with HeldBy naming the current holder.
type Result struct {
	Granted bool   `json:"granted"`
	HeldBy  string `json:"heldBy,omitempty"`
}

type Manager struct {
	store cardStore
	ttl   time.Duration
	now   func() time.Time
}

func NewManager(s cardStore, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: s, ttl: ttl, now: time.Now}
}

// Acquire grants the edit lease on cardID to actorID. Re-acquiring a lease
// you already hold always succeeds and does not refresh the lease timestamp
// (there is no keep-alive: an editor held open past the TTL can lose the
// lock to another actor). A missing card is a silent non-grant.
func (m *Manager) Acquire(ctx context.Context, cardID, actorID string) (Result, error) {
	card, err := m.store.GetCard(ctx, cardID)
	if errors.Is(err, sql.ErrNoRows) {
		return Result{}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("read card %s: %w", cardID, err)
	}

	if holder, held := m.Holder(card); held {
		if holder == actorID {
			return Result{Granted: true, HeldBy: actorID}, nil
		}
		return Result{HeldBy: holder}, nil
	}

	granted, err := m.store.AcquireLock(ctx, cardID, actorID)
	if err != nil {
		return Result{}, fmt.Errorf("acquire lock %s: %w", cardID, err)
	}
	if !granted {
		// Lost the store-level race; report whoever won.
		card, err := m.store.GetCard(ctx, cardID)
		if err != nil {
			return Result{}, nil
		}
		holder, _ := m.Holder(card)
		return Result{HeldBy: holder}, nil
	}
	return Result{Granted: true, HeldBy: actorID}, nil
}

// Release clears the lease only if actorID is the current holder. A mismatch
// (stale local state) and a missing card are silent no-ops.
func (m *Manager) Release(ctx context.Context, cardID, actorID string) error {
	if err := m.store.ReleaseLock(ctx, cardID, actorID); err != nil {
		return fmt.Errorf("release lock %s: %w", cardID, err)
	}
	return nil
}

// Holder returns the actor holding a live lease on card, if any. An expired
// lease counts as absent even when the sweeper has not cleared it yet.
func (m *Manager) Holder(card store.Card) (string, bool) {
	if card.EditingBy == nil || card.EditingAt == nil {
		return "", false
	}
	if m.now().Sub(*card.EditingAt) >= m.ttl {
		return "", false
	}
	return *card.EditingBy, true
}
