package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gridboard/api/internal/store"
)

func TestHealthEndpoint(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeChangeFeed{})
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if ok, exists := response["ok"]; !exists || ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
}

func TestReadyEndpoint_DatabaseDown(t *testing.T) {
	fs := &fakeStore{
		pingFn: func(context.Context) error {
			return errors.New("connection refused")
		},
	}
	svc := newTestService(fs, &fakeChangeFeed{})
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if status := response["status"]; status != "not_ready" {
		t.Errorf("expected status=not_ready, got %v", status)
	}
}

func TestReadyEndpoint_FeedDown(t *testing.T) {
	ff := &fakeChangeFeed{
		pingFn: func(context.Context) error {
			return errors.New("redis unavailable")
		},
	}
	svc := newTestService(&fakeStore{}, ff)
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rr.Code)
	}
}

func TestLockEndpoint_ConflictReturnsHolder(t *testing.T) {
	holder := "actor-a"
	heldSince := time.Now().Add(-time.Minute)
	fs := &fakeStore{
		getCardFn: func(ctx context.Context, cardID string) (store.Card, error) {
			return store.Card{ID: cardID, BoardID: "b1", EditingBy: &holder, EditingAt: &heldSince}, nil
		},
	}
	svc := newTestService(fs, &fakeChangeFeed{})
	server := NewHTTPServer(svc, "*")

	body := strings.NewReader(`{"actorId":"actor-b"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/cards/card-1/lock", body)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if granted := response["granted"]; granted != false {
		t.Errorf("expected granted=false, got %v", granted)
	}
	if heldBy := response["heldBy"]; heldBy != "actor-a" {
		t.Errorf("expected heldBy=actor-a, got %v", heldBy)
	}
}

func TestLockEndpoint_MissingActorRejected(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeChangeFeed{})
	server := NewHTTPServer(svc, "*")

	body := strings.NewReader(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/api/cards/card-1/lock", body)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if code := response["code"]; code != "INVALID_ACTOR" {
		t.Errorf("expected code=INVALID_ACTOR, got %v", code)
	}
}

func TestUnlockEndpoint(t *testing.T) {
	released := false
	fs := &fakeStore{
		getCardFn: func(ctx context.Context, cardID string) (store.Card, error) {
			return store.Card{ID: cardID, BoardID: "b1"}, nil
		},
		releaseLockFn: func(context.Context, string, string) error {
			released = true
			return nil
		},
	}
	svc := newTestService(fs, &fakeChangeFeed{})
	server := NewHTTPServer(svc, "*")

	body := strings.NewReader(`{"actorId":"actor-a"}`)
	req := httptest.NewRequest(http.MethodDelete, "/api/cards/card-1/lock", body)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	if !released {
		t.Error("expected release to reach the store")
	}
}

func TestDragEndpoint(t *testing.T) {
	var gotX, gotY int
	fs := &fakeStore{
		getCardFn: func(ctx context.Context, cardID string) (store.Card, error) {
			return store.Card{ID: cardID, BoardID: "b1", X: 100, Y: 100}, nil
		},
		updateCardPositionFn: func(ctx context.Context, cardID string, x, y int) error {
			gotX, gotY = x, y
			return nil
		},
	}
	svc := newTestService(fs, &fakeChangeFeed{})
	server := NewHTTPServer(svc, "*")

	body := strings.NewReader(`{"dx":30.4,"dy":-20.6}`)
	req := httptest.NewRequest(http.MethodPost, "/api/cards/card-1/drag", body)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Errorf("expected status 202, got %d", rr.Code)
	}
	if gotX != 130 || gotY != 79 {
		t.Errorf("expected rounded commit at (130,79), got (%d,%d)", gotX, gotY)
	}
}

func TestCreateCardEndpoint(t *testing.T) {
	fs := &fakeStore{}
	svc := newTestService(fs, &fakeChangeFeed{})
	server := NewHTTPServer(svc, "*")

	body := strings.NewReader(`{"content":"ship the onboarding flow","priority":"high","x":12,"y":34}`)
	req := httptest.NewRequest(http.MethodPost, "/api/boards/b1/cards", body)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var card store.Card
	if err := json.Unmarshal(rr.Body.Bytes(), &card); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if card.ID == "" {
		t.Error("expected generated card id")
	}
	if card.Content != "ship the onboarding flow" {
		t.Errorf("unexpected content %q", card.Content)
	}
	if card.X != 12 || card.Y != 34 {
		t.Errorf("expected position (12,34), got (%d,%d)", card.X, card.Y)
	}
}

func TestListCardsEndpoint(t *testing.T) {
	fs := &fakeStore{
		listCardsFn: func(ctx context.Context, boardID string) ([]store.Card, error) {
			return []store.Card{{ID: "c1", BoardID: boardID}}, nil
		},
	}
	svc := newTestService(fs, &fakeChangeFeed{})
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/boards/b1/cards", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var response struct {
		Cards []store.Card `json:"cards"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(response.Cards) != 1 || response.Cards[0].ID != "c1" {
		t.Errorf("unexpected cards: %+v", response.Cards)
	}
}

func TestUnknownRoute(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeChangeFeed{})
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/nope", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rr.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeChangeFeed{})
	server := NewHTTPServer(svc, "https://board.example.com")

	req := httptest.NewRequest(http.MethodOptions, "/api/boards/b1/cards", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", rr.Code)
	}
	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "https://board.example.com" {
		t.Errorf("unexpected allow origin %q", origin)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeChangeFeed{})
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Request-ID"); got != "req-123" {
		t.Errorf("expected request id echoed, got %q", got)
	}
}

func TestSearchEndpoint_NoBackendReturnsEmpty(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeChangeFeed{})
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/search?q=onboarding&board=b1", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var response struct {
		Results []any  `json:"results"`
		Query   string `json:"query"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response.Results == nil {
		t.Error("expected empty results array, not null")
	}
	if response.Query != "onboarding" {
		t.Errorf("expected query echoed, got %q", response.Query)
	}
}
