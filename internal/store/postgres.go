package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DefaultLockTTL is the edit-lease lifetime. A lease older than this is
// invalid for every reader, whether or not the sweeper has cleared it yet.
const DefaultLockTTL = 5 * time.Minute

// PostgresStore is the canonical card collection. Lock grants go through a
// conditional UPDATE so that two racing acquires cannot both succeed.
type PostgresStore struct {
	db      *sql.DB
	lockTTL time.Duration
}

func NewPostgresStore(db *sql.DB, lockTTL time.Duration) *PostgresStore {
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	return &PostgresStore{db: db, lockTTL: lockTTL}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const cardColumns = `id, board_id, content, details, x, y, priority, collapsed, editing_by, editing_at, created_at, updated_at`

func scanCard(row interface{ Scan(...any) error }) (Card, error) {
	var card Card
	err := row.Scan(
		&card.ID, &card.BoardID, &card.Content, &card.Details,
		&card.X, &card.Y, &card.Priority, &card.Collapsed,
		&card.EditingBy, &card.EditingAt, &card.CreatedAt, &card.UpdatedAt,
	)
	return card, err
}

func (s *PostgresStore) ListCards(ctx context.Context, boardID string) ([]Card, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cardColumns+`
		FROM cards
		WHERE board_id=$1
		ORDER BY created_at, id
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	items := make([]Card, 0)
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		items = append(items, card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cards: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetCard(ctx context.Context, cardID string) (Card, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+cardColumns+`
		FROM cards
		WHERE id=$1
	`, cardID)
	return scanCard(row)
}

func (s *PostgresStore) InsertCard(ctx context.Context, card Card) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cards (id, board_id, content, details, x, y, priority, collapsed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, card.ID, card.BoardID, card.Content, card.Details, card.X, card.Y, card.Priority, card.Collapsed)
	if err != nil {
		return fmt.Errorf("insert card: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateCardContent(ctx context.Context, cardID, content, details, priority string, collapsed bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cards
		SET content=$2, details=$3, priority=$4, collapsed=$5, updated_at=NOW()
		WHERE id=$1
	`, cardID, content, details, priority, collapsed)
	if err != nil {
		return fmt.Errorf("update card %s: %w", cardID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateCardPosition(ctx context.Context, cardID string, x, y int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cards
		SET x=$2, y=$3, updated_at=NOW()
		WHERE id=$1
	`, cardID, x, y)
	if err != nil {
		return fmt.Errorf("update card position %s: %w", cardID, err)
	}
	return nil
}

func (s *PostgresStore) DeleteCard(ctx context.Context, cardID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM cards WHERE id=$1`, cardID)
	if err != nil {
		return false, fmt.Errorf("delete card %s: %w", cardID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete card %s: %w", cardID, err)
	}
	return affected > 0, nil
}

// AcquireLock grants the edit lease to actorID unless another actor holds a
// live one. The WHERE clause is the compare-and-swap: it matches only when
// the card is free, already held by the caller, or held by an expired lease.
func (s *PostgresStore) AcquireLock(ctx context.Context, cardID, actorID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE cards
		SET editing_by=$2, editing_at=NOW()
		WHERE id=$1
			AND (editing_by IS NULL
				OR editing_by=$2
				OR editing_at < NOW() - make_interval(secs => $3))
	`, cardID, actorID, s.lockTTL.Seconds())
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", cardID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", cardID, err)
	}
	return affected > 0, nil
}

// ReleaseLock clears the lease only when actorID is the current holder.
// A holder mismatch or a missing card is a no-op.
func (s *PostgresStore) ReleaseLock(ctx context.Context, cardID, actorID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cards
		SET editing_by=NULL, editing_at=NULL
		WHERE id=$1 AND editing_by=$2
	`, cardID, actorID)
	if err != nil {
		return fmt.Errorf("release lock %s: %w", cardID, err)
	}
	return nil
}

// SweepStaleLocks clears every lease older than the TTL. It uses the same
// expiry predicate as AcquireLock, so it can never clear a live lease and is
// safe to run concurrently with itself.
func (s *PostgresStore) SweepStaleLocks(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE cards
		SET editing_by=NULL, editing_at=NULL
		WHERE editing_at IS NOT NULL
			AND editing_at < NOW() - make_interval(secs => $1)
	`, s.lockTTL.Seconds())
	if err != nil {
		return 0, fmt.Errorf("sweep stale locks: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep stale locks: %w", err)
	}
	return int(affected), nil
}
