package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"gridboard/api/internal/board"
	"gridboard/api/internal/cardsync"
	"gridboard/api/internal/config"
	"gridboard/api/internal/lock"
	"gridboard/api/internal/search"
	"gridboard/api/internal/store"
)

type dataStore interface {
	ListCards(ctx context.Context, boardID string) ([]store.Card, error)
	GetCard(ctx context.Context, cardID string) (store.Card, error)
	InsertCard(ctx context.Context, card store.Card) error
	UpdateCardContent(ctx context.Context, cardID, content, details, priority string, collapsed bool) error
	UpdateCardPosition(ctx context.Context, cardID string, x, y int) error
	DeleteCard(ctx context.Context, cardID string) (bool, error)
	AcquireLock(ctx context.Context, cardID, actorID string) (bool, error)
	ReleaseLock(ctx context.Context, cardID, actorID string) error
	SweepStaleLocks(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}

type changeFeed interface {
	Publish(ctx context.Context, boardID string, cards []store.Card) error
	Subscribe(ctx context.Context, boardID string, fn func([]store.Card)) (func(), error)
	Ping(ctx context.Context) error
}

// CreateCardInput is the payload for a new card.
type CreateCardInput struct {
	Content   string  `json:"content"`
	Details   string  `json:"details"`
	Priority  string  `json:"priority"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Collapsed bool    `json:"collapsed"`
}

// UpdateCardInput carries partial content edits; nil fields are untouched.
type UpdateCardInput struct {
	Content   *string `json:"content"`
	Details   *string `json:"details"`
	Priority  *string `json:"priority"`
	Collapsed *bool   `json:"collapsed"`
}

// Service is the collaboration core: it arbitrates edit leases, commits drag
// positions, and maintains one reconciled view per watched board. Each
// running instance is an independent actor; instances converge through the
// shared store and the change feed.
type Service struct {
	cfg    config.Config
	store  dataStore
	feed   changeFeed
	search *search.Service
	locks  *lock.Manager
	bounds board.Bounds

	mu       sync.Mutex
	sessions map[string]*boardSession
}

// boardSession is the per-board pair of local view and drag pipeline.
type boardSession struct {
	engine     *cardsync.Engine
	reconciler *board.Reconciler
}

func New(cfg config.Config, dataStore dataStore, feed changeFeed, searchService *search.Service) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		feed:     feed,
		search:   searchService,
		sessions: make(map[string]*boardSession),
	}
	s.locks = lock.NewManager(dataStore, cfg.LockTTL)
	s.bounds = board.NewBounds(cfg.BoardWidth, cfg.BoardHeight, cfg.EdgeMargin)
	return s
}

// session returns the reconciled view for a board, creating and subscribing
// it on first use.
func (s *Service) session(ctx context.Context, boardID string) (*boardSession, error) {
	s.mu.Lock()
	if sess, ok := s.sessions[boardID]; ok {
		s.mu.Unlock()
		return sess, nil
	}
	s.mu.Unlock()

	engine := cardsync.NewEngine(s.store, s.feed, s.cfg.GraceWindow)
	if err := engine.SetScope(ctx, boardID); err != nil {
		return nil, err
	}
	sess := &boardSession{
		engine:     engine,
		reconciler: board.NewReconciler(s.bounds, engine, positionPersister{s}),
	}

	s.mu.Lock()
	if existing, ok := s.sessions[boardID]; ok {
		// Lost a setup race with another caller.
		s.mu.Unlock()
		engine.Close()
		return existing, nil
	}
	s.sessions[boardID] = sess
	s.mu.Unlock()
	return sess, nil
}

// WatchBoard returns the reconciled, de-duplicated view of a board for
// streaming callers.
func (s *Service) WatchBoard(ctx context.Context, boardID string) (*cardsync.Engine, error) {
	sess, err := s.session(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("watch board %s: %w", boardID, err)
	}
	return sess.engine, nil
}

// TryAcquire attempts to take the edit lease on a card. A conflict is a
// normal Granted=false result with the holder's id, never an error; the
// caller owns the user-facing messaging.
func (s *Service) TryAcquire(ctx context.Context, cardID, actorID string) (lock.Result, error) {
	if strings.TrimSpace(actorID) == "" {
		return lock.Result{}, domainError(400, "INVALID_ACTOR", "Actor id is required", nil)
	}
	res, err := s.locks.Acquire(ctx, cardID, actorID)
	if err != nil {
		return lock.Result{}, err
	}
	if res.Granted {
		s.publishCardBoard(ctx, cardID)
	}
	return res, nil
}

// Release clears the caller's lease. It must be callable on every editor
// exit path, so failures are logged and swallowed; the sweeper is the
// backstop if the clear never lands.
func (s *Service) Release(ctx context.Context, cardID, actorID string) {
	if err := s.locks.Release(ctx, cardID, actorID); err != nil {
		log.Printf("app: release lock on card %s for %s: %v", cardID, actorID, err)
		return
	}
	s.publishCardBoard(ctx, cardID)
}

// CommitDrag turns a raw drag delta into a bounded, persisted position. When
// a local view follows the card's board the write goes through the
// reconciler (optimistic-first); otherwise it is committed directly. All
// failures are best-effort: logged, never surfaced, never rolled back.
func (s *Service) CommitDrag(ctx context.Context, cardID string, dx, dy float64) {
	if dx == 0 && dy == 0 {
		return
	}

	s.mu.Lock()
	for _, sess := range s.sessions {
		if _, ok := sess.engine.Card(cardID); ok {
			s.mu.Unlock()
			sess.reconciler.CommitDrag(cardID, dx, dy)
			return
		}
	}
	s.mu.Unlock()

	card, err := s.store.GetCard(ctx, cardID)
	if errors.Is(err, sql.ErrNoRows) {
		return
	}
	if err != nil {
		log.Printf("app: commit drag for card %s: %v", cardID, err)
		return
	}
	x, y := s.bounds.Clamp(float64(card.X)+dx, float64(card.Y)+dy)
	if err := s.store.UpdateCardPosition(ctx, cardID, x, y); err != nil {
		log.Printf("app: commit drag for card %s: %v", cardID, err)
		return
	}
	s.publishBoard(ctx, card.BoardID)
}

func (s *Service) Cards(ctx context.Context, boardID string) ([]store.Card, error) {
	cards, err := s.store.ListCards(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("list cards for board %s: %w", boardID, err)
	}
	return cards, nil
}

func (s *Service) CreateCard(ctx context.Context, boardID string, in CreateCardInput) (store.Card, error) {
	if strings.TrimSpace(boardID) == "" {
		return store.Card{}, domainError(400, "INVALID_BOARD", "Board id is required", nil)
	}
	if strings.TrimSpace(in.Content) == "" {
		return store.Card{}, domainError(400, "INVALID_CONTENT", "Card content is required", nil)
	}
	priority := in.Priority
	if priority == "" {
		priority = store.PriorityModerate
	}
	if !store.ValidPriority(priority) {
		return store.Card{}, domainError(400, "INVALID_PRIORITY", "Unknown priority", priority)
	}

	x, y := s.bounds.Clamp(in.X, in.Y)
	card := store.Card{
		ID:        uuid.New().String(),
		BoardID:   boardID,
		Content:   in.Content,
		Details:   in.Details,
		X:         x,
		Y:         y,
		Priority:  priority,
		Collapsed: in.Collapsed,
	}
	if err := s.store.InsertCard(ctx, card); err != nil {
		return store.Card{}, fmt.Errorf("create card: %w", err)
	}
	if created, err := s.store.GetCard(ctx, card.ID); err == nil {
		card = created
	}

	s.indexCard(card)
	s.publishBoard(ctx, boardID)
	return card, nil
}

func (s *Service) UpdateCard(ctx context.Context, cardID string, in UpdateCardInput) (store.Card, error) {
	card, err := s.store.GetCard(ctx, cardID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Card{}, domainError(404, "CARD_NOT_FOUND", "Card not found", nil)
	}
	if err != nil {
		return store.Card{}, fmt.Errorf("read card %s: %w", cardID, err)
	}

	if in.Content != nil {
		card.Content = *in.Content
	}
	if in.Details != nil {
		card.Details = *in.Details
	}
	if in.Priority != nil {
		card.Priority = *in.Priority
	}
	if in.Collapsed != nil {
		card.Collapsed = *in.Collapsed
	}
	if !store.ValidPriority(card.Priority) {
		return store.Card{}, domainError(400, "INVALID_PRIORITY", "Unknown priority", card.Priority)
	}

	if err := s.store.UpdateCardContent(ctx, cardID, card.Content, card.Details, card.Priority, card.Collapsed); err != nil {
		return store.Card{}, fmt.Errorf("update card %s: %w", cardID, err)
	}
	if updated, err := s.store.GetCard(ctx, cardID); err == nil {
		card = updated
	}

	s.indexCard(card)
	s.publishBoard(ctx, card.BoardID)
	return card, nil
}

// DeleteCard removes a card, releasing the caller's lease first. A card
// already deleted by another actor is an expected race, not an error.
func (s *Service) DeleteCard(ctx context.Context, cardID, actorID string) error {
	card, err := s.store.GetCard(ctx, cardID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read card %s: %w", cardID, err)
	}

	if actorID != "" {
		if err := s.locks.Release(ctx, cardID, actorID); err != nil {
			log.Printf("app: release before delete of card %s: %v", cardID, err)
		}
	}
	if _, err := s.store.DeleteCard(ctx, cardID); err != nil {
		return fmt.Errorf("delete card %s: %w", cardID, err)
	}

	if s.search != nil {
		s.search.DeleteCard(cardID)
	}
	s.publishBoard(ctx, card.BoardID)
	return nil
}

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingFeed(ctx context.Context) error {
	return s.feed.Ping(ctx)
}

// Close detaches every board session from the change feed.
func (s *Service) Close() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*boardSession)
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.engine.Close()
	}
}

func (s *Service) indexCard(card store.Card) {
	if s.search == nil {
		return
	}
	s.search.IndexCard(search.CardRecord{
		ID:       card.ID,
		BoardID:  card.BoardID,
		Content:  card.Content,
		Details:  card.Details,
		Priority: card.Priority,
	})
}

// publishBoard pushes the canonical card collection to the change feed so
// every instance (this one included) converges on it.
func (s *Service) publishBoard(ctx context.Context, boardID string) {
	cards, err := s.store.ListCards(ctx, boardID)
	if err != nil {
		log.Printf("app: snapshot board %s: %v", boardID, err)
		return
	}
	if err := s.feed.Publish(ctx, boardID, cards); err != nil {
		log.Printf("app: publish board %s: %v", boardID, err)
	}
}

func (s *Service) publishCardBoard(ctx context.Context, cardID string) {
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return
	}
	s.publishBoard(ctx, card.BoardID)
}

// positionPersister is the reconciler's write path: commit the position,
// then let the feed converge everyone else.
type positionPersister struct {
	s *Service
}

func (p positionPersister) PersistPosition(ctx context.Context, card store.Card, x, y int) error {
	if err := p.s.store.UpdateCardPosition(ctx, card.ID, x, y); err != nil {
		return err
	}
	p.s.publishBoard(ctx, card.BoardID)
	return nil
}
