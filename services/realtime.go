package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event names carried over session channels.
const (
	EventGameStateSync      = "game_state_sync"
	EventQuestionChanged    = "question_changed"
	EventAnswerReveal       = "answer_reveal"
	EventAnswerSubmitted    = "answer_submitted"
	EventGameComplete       = "game_complete"
	EventPresence           = "presence"
	EventPlayerDisconnected = "player_disconnected"
)

// Presence actions published on EventPresence.
const (
	PresenceTrack   = "track"
	PresenceUntrack = "untrack"
)

// Envelope is the wire format for every broadcast on a channel.
type Envelope struct {
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp"`
}

// PresenceEvent is the payload of EventPresence broadcasts.
type PresenceEvent struct {
	Action string          `json:"action"`
	Key    string          `json:"key"`
	State  json.RawMessage `json:"state,omitempty"`
}

// Realtime hands out named pub/sub channels backed by Redis.
type Realtime struct {
	rdb *redis.Client
}

func NewRealtime(rdb *redis.Client) *Realtime {
	return &Realtime{rdb: rdb}
}

func (r *Realtime) Channel(name string) *Channel {
	return &Channel{
		rdb:      r.rdb,
		name:     name,
		handlers: make(map[string][]func(json.RawMessage)),
	}
}

// Channel is a named broadcast channel with attached presence state.
// Delivery is FIFO per publisher, at-most-once, with no replay: a
// subscriber that joins late misses prior events and must recover from a
// state snapshot.
type Channel struct {
	rdb  *redis.Client
	name string

	mu          sync.RWMutex
	handlers    map[string][]func(json.RawMessage)
	anyHandlers []func(event string, payload json.RawMessage)
	pubsub      *redis.PubSub
	closed      bool
}

func (c *Channel) topic() string       { return "realtime:" + c.name }
func (c *Channel) presenceKey() string { return "presence:" + c.name }

// Subscribe opens the underlying Redis subscription and starts dispatching
// incoming envelopes to registered handlers. It returns once the
// subscription is confirmed.
func (c *Channel) Subscribe(ctx context.Context) error {
	pubsub := c.rdb.Subscribe(ctx, c.topic())
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe to channel %s: %w", c.name, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		pubsub.Close()
		return fmt.Errorf("channel %s is closed", c.name)
	}
	c.pubsub = pubsub
	c.mu.Unlock()

	go c.dispatch(pubsub.Channel())
	return nil
}

func (c *Channel) dispatch(messages <-chan *redis.Message) {
	for msg := range messages {
		var env Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			log.Printf("channel %s: dropping malformed envelope: %v", c.name, err)
			continue
		}

		// Handlers run under the read lock so Close can wait for
		// in-flight callbacks before returning.
		c.mu.RLock()
		if c.closed {
			c.mu.RUnlock()
			return
		}
		for _, fn := range c.handlers[env.Event] {
			fn(env.Payload)
		}
		for _, fn := range c.anyHandlers {
			fn(env.Event, env.Payload)
		}
		c.mu.RUnlock()
	}
}

// Publish broadcasts an event to all subscribers of the channel.
func (c *Channel) Publish(ctx context.Context, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}

	env := Envelope{
		Event:     event,
		Payload:   data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if err := c.rdb.Publish(ctx, c.topic(), raw).Err(); err != nil {
		return fmt.Errorf("failed to publish %s on channel %s: %w", event, c.name, err)
	}
	return nil
}

// On registers a handler for a specific event. Handlers must be registered
// before Subscribe to be guaranteed delivery of the first event.
func (c *Channel) On(event string, fn func(payload json.RawMessage)) {
	c.mu.Lock()
	c.handlers[event] = append(c.handlers[event], fn)
	c.mu.Unlock()
}

// OnAny registers a handler invoked for every event on the channel.
func (c *Channel) OnAny(fn func(event string, payload json.RawMessage)) {
	c.mu.Lock()
	c.anyHandlers = append(c.anyHandlers, fn)
	c.mu.Unlock()
}

// Track upserts a presence entry for key and announces it to subscribers.
func (c *Channel) Track(ctx context.Context, key string, state interface{}) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal presence state: %w", err)
	}

	if err := c.rdb.HSet(ctx, c.presenceKey(), key, data).Err(); err != nil {
		return fmt.Errorf("failed to track presence for %s: %w", key, err)
	}

	return c.Publish(ctx, EventPresence, PresenceEvent{
		Action: PresenceTrack,
		Key:    key,
		State:  data,
	})
}

// Untrack removes a presence entry and announces the departure.
func (c *Channel) Untrack(ctx context.Context, key string) error {
	if err := c.rdb.HDel(ctx, c.presenceKey(), key).Err(); err != nil {
		return fmt.Errorf("failed to untrack presence for %s: %w", key, err)
	}

	return c.Publish(ctx, EventPresence, PresenceEvent{
		Action: PresenceUntrack,
		Key:    key,
	})
}

// PresenceState returns the full presence snapshot, one entry per key.
func (c *Channel) PresenceState(ctx context.Context) (map[string]json.RawMessage, error) {
	entries, err := c.rdb.HGetAll(ctx, c.presenceKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read presence state for %s: %w", c.name, err)
	}

	state := make(map[string]json.RawMessage, len(entries))
	for key, value := range entries {
		state[key] = json.RawMessage(value)
	}
	return state, nil
}

// Close tears down the subscription. No handler fires after Close returns.
// Safe to call more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	if c.pubsub != nil {
		c.pubsub.Close()
		c.pubsub = nil
	}
}
