package observability

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSink publishes signed events to a Redis channel so downstream
// consumers can tail the governance stream. Best effort: publish
// failures are logged and dropped.
type RedisSink struct {
	client  *redis.Client
	channel string
	logger  *log.Logger
}

// NewRedisSink connects to addr. Returns nil when addr is empty or the
// server is unreachable, which callers treat as "no bus configured".
func NewRedisSink(addr, channel string) *RedisSink {
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("[TELEMETRY] redis bus unavailable at %s: %v", addr, err)
		return nil
	}
	if channel == "" {
		channel = "governance.events"
	}
	return &RedisSink{
		client:  client,
		channel: channel,
		logger:  log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
	}
}

// Emit publishes one event.
func (r *RedisSink) Emit(ev Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, raw).Err(); err != nil {
		r.logger.Printf("publish failed: %v", err)
	}
}

// Close releases the connection.
func (r *RedisSink) Close() error {
	return r.client.Close()
}
