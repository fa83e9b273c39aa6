// Package cardsync owns the local reconciled card collection. All remote
// change feed deliveries land here, and everything else reads snapshots or
// submits intents; nothing mutates the collection directly.
package cardsync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gridboard/api/internal/store"
)

// DefaultGraceWindow shields a just-applied optimistic position from being
// undone by a stale, out-of-order remote snapshot.
const DefaultGraceWindow = 2 * time.Second

// Feed delivers full board snapshots, at-least-once and possibly out of
// order. The returned disposer must stop delivery.
type Feed interface {
	Subscribe(ctx context.Context, boardID string, fn func([]store.Card)) (func(), error)
}

// Loader seeds the collection when the engine switches scope.
type Loader interface {
	ListCards(ctx context.Context, boardID string) ([]store.Card, error)
}

type graceEntry struct {
	x, y  int
	until time.Time
}

// Engine merges remote snapshots into the local working set and suppresses
// deliveries that carry no render-relevant change.
type Engine struct {
	loader      Loader
	feed        Feed
	graceWindow time.Duration
	now         func() time.Time

	mu           sync.Mutex
	boardID      string
	cards        map[string]store.Card
	grace        map[string]graceEntry
	listeners    map[int]func([]store.Card)
	nextListener int
	unsubscribe  func()
}

func NewEngine(loader Loader, feed Feed, graceWindow time.Duration) *Engine {
	return &Engine{
		loader:      loader,
		feed:        feed,
		graceWindow: graceWindow,
		now:         time.Now,
		cards:       make(map[string]store.Card),
		grace:       make(map[string]graceEntry),
		listeners:   make(map[int]func([]store.Card)),
	}
}

// SetScope switches the engine to a board: the previous feed is fully
// unsubscribed before the new one is attached, so deliveries can never
// duplicate or cross between scopes.
func (e *Engine) SetScope(ctx context.Context, boardID string) error {
	e.mu.Lock()
	unsub := e.unsubscribe
	e.unsubscribe = nil
	e.mu.Unlock()
	if unsub != nil {
		unsub()
	}

	cards, err := e.loader.ListCards(ctx, boardID)
	if err != nil {
		return fmt.Errorf("load board %s: %w", boardID, err)
	}

	e.mu.Lock()
	e.boardID = boardID
	e.cards = make(map[string]store.Card, len(cards))
	e.grace = make(map[string]graceEntry)
	for _, card := range cards {
		e.cards[card.ID] = card
	}
	e.mu.Unlock()

	unsub, err = e.feed.Subscribe(ctx, boardID, e.Merge)
	if err != nil {
		return fmt.Errorf("subscribe board %s: %w", boardID, err)
	}
	e.mu.Lock()
	e.unsubscribe = unsub
	e.mu.Unlock()

	e.notify(e.Snapshot())
	return nil
}

// Scope reports the board the engine currently follows.
func (e *Engine) Scope() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.boardID
}

// Close detaches the engine from its feed.
func (e *Engine) Close() {
	e.mu.Lock()
	unsub := e.unsubscribe
	e.unsubscribe = nil
	e.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Merge applies a remote snapshot, last-delivered-wins. A local entry is
// replaced only when the incoming version differs on a render-relevant field;
// timestamp-only churn (lock heartbeats, clock-only writes) is dropped so it
// never reaches listeners. Cards absent from the snapshot are removed.
func (e *Engine) Merge(incoming []store.Card) {
	e.mu.Lock()
	now := e.now()
	changed := false
	seen := make(map[string]struct{}, len(incoming))

	for _, in := range incoming {
		seen[in.ID] = struct{}{}
		if g, ok := e.grace[in.ID]; ok {
			if now.Before(g.until) {
				// A very recent optimistic drag wins over a possibly stale
				// remote position; every other field still applies.
				in.X, in.Y = g.x, g.y
			} else {
				delete(e.grace, in.ID)
			}
		}
		current, exists := e.cards[in.ID]
		if exists && !meaningfulChange(current, in) {
			continue
		}
		e.cards[in.ID] = in
		changed = true
	}

	for id := range e.cards {
		if _, ok := seen[id]; !ok {
			delete(e.cards, id)
			delete(e.grace, id)
			changed = true
		}
	}

	var snapshot []store.Card
	var fns []func([]store.Card)
	if changed {
		snapshot = e.snapshotLocked()
		fns = e.listenersLocked()
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(snapshot)
	}
}

// Card returns the local copy of a card, if present.
func (e *Engine) Card(cardID string) (store.Card, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	card, ok := e.cards[cardID]
	return card, ok
}

// ApplyLocalPosition records an optimistic position before the persistence
// write resolves and opens the grace window for the card.
func (e *Engine) ApplyLocalPosition(cardID string, x, y int) {
	e.mu.Lock()
	card, ok := e.cards[cardID]
	if !ok {
		e.mu.Unlock()
		return
	}
	card.X, card.Y = x, y
	e.cards[cardID] = card
	if e.graceWindow > 0 {
		e.grace[cardID] = graceEntry{x: x, y: y, until: e.now().Add(e.graceWindow)}
	}
	snapshot := e.snapshotLocked()
	fns := e.listenersLocked()
	e.mu.Unlock()

	for _, fn := range fns {
		fn(snapshot)
	}
}

// OnCardsChanged registers a listener for the reconciled collection. The
// returned disposer removes it and must be called before the listener's
// owner goes away.
func (e *Engine) OnCardsChanged(fn func([]store.Card)) func() {
	e.mu.Lock()
	id := e.nextListener
	e.nextListener++
	e.listeners[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

// Snapshot returns an ordered copy of the collection (created_at, then id —
// the same order the store lists in).
func (e *Engine) Snapshot() []store.Card {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() []store.Card {
	cards := make([]store.Card, 0, len(e.cards))
	for _, card := range e.cards {
		cards = append(cards, card)
	}
	sort.Slice(cards, func(i, j int) bool {
		if !cards[i].CreatedAt.Equal(cards[j].CreatedAt) {
			return cards[i].CreatedAt.Before(cards[j].CreatedAt)
		}
		return cards[i].ID < cards[j].ID
	})
	return cards
}

func (e *Engine) listenersLocked() []func([]store.Card) {
	fns := make([]func([]store.Card), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	return fns
}

func (e *Engine) notify(snapshot []store.Card) {
	e.mu.Lock()
	fns := e.listenersLocked()
	e.mu.Unlock()
	for _, fn := range fns {
		fn(snapshot)
	}
}

// meaningfulChange reports whether two versions of a card differ on a field
// that must trigger a re-render. UpdatedAt and EditingAt are deliberately
// excluded; EditingBy is deliberately included, since lock state gates
// whether another actor may open an editor.
func meaningfulChange(a, b store.Card) bool {
	if a.ID != b.ID || a.Content != b.Content || a.Details != b.Details {
		return true
	}
	if a.Priority != b.Priority || a.Collapsed != b.Collapsed {
		return true
	}
	if a.X != b.X || a.Y != b.Y {
		return true
	}
	return !sameHolder(a.EditingBy, b.EditingBy)
}

func sameHolder(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
