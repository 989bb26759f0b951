// Package notify mirrors dashboard broadcasts across service instances
// through Redis pub/sub, so every instance's WebSocket subscribers see
// the same stream regardless of which instance handled the request.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// LocalHub is the local fanout the relay feeds: the API hub in
// production, a recorder in tests.
type LocalHub interface {
	Publish(eventType string, data interface{})
}

// envelope is the wire form of a relayed broadcast. Origin lets each
// instance skip its own messages when they come back around.
type envelope struct {
	Origin string          `json:"origin"`
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
}

// Relay sits between the services and the local hub. Every publish is
// delivered locally and mirrored onto a Redis channel; publishes from
// other instances arriving on that channel are delivered locally too.
type Relay struct {
	client  *redis.Client
	hub     LocalHub
	channel string
	origin  string
	logger  *zap.SugaredLogger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRelay(addr, password string, db int, channel string, hub LocalHub, logger *zap.SugaredLogger) *Relay {
	return &Relay{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		hub:     hub,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  logger,
	}
}

// Start verifies the Redis connection and begins consuming remote
// broadcasts.
func (r *Relay) Start(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	pubsub := r.client.Subscribe(runCtx, r.channel)
	if _, err := pubsub.Receive(runCtx); err != nil {
		cancel()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-runCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				r.deliver(msg.Payload)
			}
		}
	}()

	r.logger.Infow("Broadcast relay started", "channel", r.channel)
	return nil
}

func (r *Relay) deliver(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.Warnw("Malformed relay message dropped", "error", err)
		return
	}
	if env.Origin == r.origin {
		return
	}
	r.hub.Publish(env.Type, env.Data)
}

// Publish delivers a broadcast to the local hub and mirrors it to the
// other instances. Redis failures are logged, never surfaced: the
// local dashboard keeps working without the mirror.
func (r *Relay) Publish(eventType string, data interface{}) {
	r.hub.Publish(eventType, data)

	raw, err := json.Marshal(data)
	if err != nil {
		r.logger.Errorw("Failed to marshal relay payload", "type", eventType, "error", err)
		return
	}
	frame, err := json.Marshal(envelope{Origin: r.origin, Type: eventType, Data: raw})
	if err != nil {
		r.logger.Errorw("Failed to marshal relay envelope", "type", eventType, "error", err)
		return
	}
	if err := r.client.Publish(context.Background(), r.channel, frame).Err(); err != nil {
		r.logger.Warnw("Relay publish failed", "type", eventType, "error", err)
	}
}

// Stop shuts the relay down and closes the Redis connection.
func (r *Relay) Stop() error {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	return r.client.Close()
}
