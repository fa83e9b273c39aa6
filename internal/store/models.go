package store

import "time"

// Priority buckets a card can occupy on the grid.
const (
	PriorityLow        = "low"
	PriorityModerate   = "moderate"
	PriorityHigh       = "high"
	PriorityStrategic  = "strategic"
	PriorityInnovation = "innovation"
)

// Card is the positionable, lockable unit of collaborative content.
// EditingBy/EditingAt form the advisory edit lease: the lease is live only
// while EditingBy is set and EditingAt is younger than the lock TTL. Readers
// must treat an expired lease as absent even before the sweeper clears it.
type Card struct {
	ID        string     `json:"id"`
	BoardID   string     `json:"boardId"`
	Content   string     `json:"content"`
	Details   string     `json:"details"`
	X         int        `json:"x"`
	Y         int        `json:"y"`
	Priority  string     `json:"priority"`
	Collapsed bool       `json:"collapsed"`
	EditingBy *string    `json:"editingBy"`
	EditingAt *time.Time `json:"editingAt"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityModerate, PriorityHigh, PriorityStrategic, PriorityInnovation:
		return true
	}
	return false
}
