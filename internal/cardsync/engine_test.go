package cardsync

import (
	"context"
	"testing"
	"time"

	"gridboard/api/internal/store"
)

type fakeLoader struct {
	boards map[string][]store.Card
}

func (f *fakeLoader) ListCards(_ context.Context, boardID string) ([]store.Card, error) {
	return f.boards[boardID], nil
}

type fakeFeed struct {
	events []string // "subscribe:<board>" / "unsubscribe:<board>"
	active map[string]func([]store.Card)
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{active: make(map[string]func([]store.Card))}
}

func (f *fakeFeed) Subscribe(_ context.Context, boardID string, fn func([]store.Card)) (func(), error) {
	f.events = append(f.events, "subscribe:"+boardID)
	f.active[boardID] = fn
	return func() {
		f.events = append(f.events, "unsubscribe:"+boardID)
		delete(f.active, boardID)
	}, nil
}

func (f *fakeFeed) push(boardID string, cards []store.Card) {
	if fn, ok := f.active[boardID]; ok {
		fn(cards)
	}
}

func card(id string, created time.Time) store.Card {
	return store.Card{
		ID:        id,
		BoardID:   "b1",
		Content:   "content of " + id,
		Priority:  store.PriorityModerate,
		X:         100,
		Y:         100,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func newTestEngine(t *testing.T, seed ...store.Card) (*Engine, *fakeFeed) {
	t.Helper()
	loader := &fakeLoader{boards: map[string][]store.Card{"b1": seed}}
	feed := newFakeFeed()
	e := NewEngine(loader, feed, DefaultGraceWindow)
	if err := e.SetScope(context.Background(), "b1"); err != nil {
		t.Fatalf("set scope: %v", err)
	}
	return e, feed
}

func TestMergeSuppressesTimestampOnlyChange(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := card("c1", created)
	e, _ := newTestEngine(t, c)

	notified := 0
	defer e.OnCardsChanged(func([]store.Card) { notified++ })()

	touched := c
	touched.UpdatedAt = created.Add(time.Minute)
	at := created.Add(time.Minute)
	touched.EditingAt = &at
	e.Merge([]store.Card{touched})

	if notified != 0 {
		t.Fatalf("timestamp-only update must not notify, got %d notification(s)", notified)
	}
	got, _ := e.Card("c1")
	if !got.UpdatedAt.Equal(c.UpdatedAt) {
		t.Fatal("suppressed delivery must keep the existing local entry")
	}
}

func TestMergePropagatesLockStateChange(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := card("c1", created)
	e, _ := newTestEngine(t, c)

	notified := 0
	defer e.OnCardsChanged(func([]store.Card) { notified++ })()

	locked := c
	holder := "actor-2"
	at := created.Add(time.Minute)
	locked.EditingBy = &holder
	locked.EditingAt = &at
	e.Merge([]store.Card{locked})

	if notified != 1 {
		t.Fatalf("an editingBy change must notify exactly once, got %d", notified)
	}
	got, _ := e.Card("c1")
	if got.EditingBy == nil || *got.EditingBy != "actor-2" {
		t.Fatal("lock state did not propagate to the local collection")
	}
}

func TestMergeRemovesCardsAbsentFromSnapshot(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c1 := card("c1", created)
	c2 := card("c2", created.Add(time.Second))
	e, _ := newTestEngine(t, c1, c2)

	var last []store.Card
	defer e.OnCardsChanged(func(cards []store.Card) { last = cards })()

	e.Merge([]store.Card{c1})

	if len(last) != 1 || last[0].ID != "c1" {
		t.Fatalf("expected only c1 to remain, got %v", last)
	}
	if _, ok := e.Card("c2"); ok {
		t.Fatal("card deleted remotely must leave the local collection")
	}
}

func TestSnapshotKeepsCreationOrder(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	older := card("z-old", created)
	newer := card("a-new", created.Add(time.Hour))
	e, _ := newTestEngine(t, newer, older)

	snap := e.Snapshot()
	if len(snap) != 2 || snap[0].ID != "z-old" || snap[1].ID != "a-new" {
		t.Fatalf("expected creation order [z-old a-new], got %v", []string{snap[0].ID, snap[1].ID})
	}
}

func TestListenerDisposerStopsDelivery(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := card("c1", created)
	e, _ := newTestEngine(t, c)

	notified := 0
	remove := e.OnCardsChanged(func([]store.Card) { notified++ })
	remove()

	changed := c
	changed.Content = "new content"
	e.Merge([]store.Card{changed})

	if notified != 0 {
		t.Fatalf("removed listener must not be notified, got %d", notified)
	}
}

func TestSetScopeUnsubscribesOldFeedFirst(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	loader := &fakeLoader{boards: map[string][]store.Card{
		"b1": {card("c1", created)},
		"b2": {},
	}}
	feed := newFakeFeed()
	e := NewEngine(loader, feed, DefaultGraceWindow)
	ctx := context.Background()

	if err := e.SetScope(ctx, "b1"); err != nil {
		t.Fatalf("set scope b1: %v", err)
	}
	if err := e.SetScope(ctx, "b2"); err != nil {
		t.Fatalf("set scope b2: %v", err)
	}

	want := []string{"subscribe:b1", "unsubscribe:b1", "subscribe:b2"}
	if len(feed.events) != len(want) {
		t.Fatalf("expected events %v, got %v", want, feed.events)
	}
	for i := range want {
		if feed.events[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, feed.events)
		}
	}

	// The old feed must be fully detached: a late b1 delivery goes nowhere.
	feed.push("b1", []store.Card{card("rogue", created)})
	if _, ok := e.Card("rogue"); ok {
		t.Fatal("delivery from the old scope crossed into the new one")
	}
}

func TestGraceWindowShieldsOptimisticPosition(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := card("c1", created)
	e, _ := newTestEngine(t, c)

	now := created
	e.now = func() time.Time { return now }

	e.ApplyLocalPosition("c1", 300, 310)

	// A stale snapshot with the pre-drag position arrives within the window.
	stale := c
	stale.Content = "edited remotely"
	e.Merge([]store.Card{stale})

	got, _ := e.Card("c1")
	if got.X != 300 || got.Y != 310 {
		t.Fatalf("stale remote position overwrote a fresh drag: (%d, %d)", got.X, got.Y)
	}
	if got.Content != "edited remotely" {
		t.Fatal("non-position fields from the remote snapshot must still apply")
	}

	// Past the window the remote value wins again.
	now = now.Add(DefaultGraceWindow + time.Second)
	e.Merge([]store.Card{stale})
	got, _ = e.Card("c1")
	if got.X != c.X || got.Y != c.Y {
		t.Fatalf("remote position must win after the grace window, got (%d, %d)", got.X, got.Y)
	}
}

func TestApplyLocalPositionMissingCardIsNoOp(t *testing.T) {
	e, _ := newTestEngine(t)

	notified := 0
	defer e.OnCardsChanged(func([]store.Card) { notified++ })()

	e.ApplyLocalPosition("gone", 10, 10)
	if notified != 0 {
		t.Fatal("applying a position to a missing card must not notify")
	}
}
