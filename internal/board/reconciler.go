package board

import (
	"context"
	"log"
	"time"

	"gridboard/api/internal/store"
)

const persistTimeout = 10 * time.Second

// View is the local reconciled card collection the reconciler reads from and
// applies optimistic positions to.
type View interface {
	Card(cardID string) (store.Card, bool)
	ApplyLocalPosition(cardID string, x, y int)
}

// Persister commits a final position to the shared store.
type Persister interface {
	PersistPosition(ctx context.Context, card store.Card, x, y int) error
}

// Reconciler commits drag deltas: clamp, round, apply locally, then persist
// in the background.
type Reconciler struct {
	bounds  Bounds
	view    View
	persist Persister
}

func NewReconciler(bounds Bounds, view View, persist Persister) *Reconciler {
	return &Reconciler{bounds: bounds, view: view, persist: persist}
}

// CommitDrag applies the clamped integer position to the local copy before
// any network round-trip, then issues the store write asynchronously. The
// write is best-effort: on failure the optimistic value stays in place and a
// later remote snapshot corrects the view. A zero delta issues no write at
// all, and a card deleted underneath the drag is a silent no-op.
func (r *Reconciler) CommitDrag(cardID string, dx, dy float64) {
	if dx == 0 && dy == 0 {
		return
	}
	card, ok := r.view.Card(cardID)
	if !ok {
		return
	}

	x, y := r.bounds.Clamp(float64(card.X)+dx, float64(card.Y)+dy)
	r.view.ApplyLocalPosition(cardID, x, y)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := r.persist.PersistPosition(ctx, card, x, y); err != nil {
			log.Printf("board: persist position for card %s: %v", cardID, err)
		}
	}()
}
