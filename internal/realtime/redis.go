package realtime

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisFeed carries events over Redis Pub/Sub, one channel per table.
type RedisFeed struct {
	client *redis.Client
}

// NewRedisFeed connects and pings the server with a short timeout.
func NewRedisFeed(addr, password string, db int) (*RedisFeed, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &RedisFeed{client: client}, nil
}

func (f *RedisFeed) Publish(ctx context.Context, ev Event) error {
	body, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	if err := f.client.Publish(ctx, channelName(ev.Table), body).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (f *RedisFeed) Subscribe(ctx context.Context, table string, h Handler) error {
	ps := f.client.Subscribe(ctx, channelName(table))
	// Wait for the subscription confirmation so setup errors surface here.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("redis subscribe %s: %w", table, err)
	}

	go func() {
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					log.Printf("[warn] realtime: redis channel %s closed", table)
					return
				}
				ev, err := decodeEvent([]byte(msg.Payload))
				if err != nil {
					log.Printf("[warn] realtime: bad event on %s: %v", table, err)
					continue
				}
				h(ev)
			}
		}
	}()
	return nil
}

func (f *RedisFeed) Close() error {
	return f.client.Close()
}
