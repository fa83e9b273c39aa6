// Package feed carries board snapshots between connected API instances over
// Redis pub/sub. Delivery is at-least-once and may arrive out of order; the
// sync engine is built for exactly that.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"gridboard/api/internal/store"
)

type Feed struct {
	client *redis.Client
}

// New creates a change feed from a Redis URL and verifies connectivity.
func New(redisURL string) (*Feed, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Feed{client: client}, nil
}

// NewWithClient creates a feed from an existing Redis client.
func NewWithClient(client *redis.Client) *Feed {
	return &Feed{client: client}
}

func channelFor(boardID string) string {
	return "board:" + boardID + ":cards"
}

// Publish pushes the full card collection of a board to every subscriber.
func (f *Feed) Publish(ctx context.Context, boardID string, cards []store.Card) error {
	payload, err := json.Marshal(cards)
	if err != nil {
		return fmt.Errorf("marshal board snapshot: %w", err)
	}
	if err := f.client.Publish(ctx, channelFor(boardID), payload).Err(); err != nil {
		return fmt.Errorf("publish board %s: %w", boardID, err)
	}
	return nil
}

// Subscribe delivers every snapshot published for boardID to fn until the
// returned disposer is called. Undecodable payloads are logged and skipped,
// never fatal to the subscription.
func (f *Feed) Subscribe(ctx context.Context, boardID string, fn func([]store.Card)) (func(), error) {
	sub := f.client.Subscribe(ctx, channelFor(boardID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe board %s: %w", boardID, err)
	}

	ch := sub.Channel()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var cards []store.Card
				if err := json.Unmarshal([]byte(msg.Payload), &cards); err != nil {
					log.Printf("feed: decode snapshot for board %s: %v", boardID, err)
					continue
				}
				fn(cards)
			}
		}
	}()

	var once sync.Once
	dispose := func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}
	return dispose, nil
}

func (f *Feed) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

func (f *Feed) Close() error {
	return f.client.Close()
}
