package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"consular/internal/notification/models"
)

const relayChannel = "consular:notifications"

type envelope struct {
	Origin       string               `json:"origin"`
	Notification *models.Notification `json:"notification"`
}

// Relay forwards notifications between instances over Redis pub/sub. Each
// instance delivers its own notifications locally and skips its own echoes.
type Relay struct {
	client   *redis.Client
	hub      *Hub
	instance string
	logger   *slog.Logger
}

func NewRelay(client *redis.Client, hub *Hub, instance string, logger *slog.Logger) *Relay {
	return &Relay{client: client, hub: hub, instance: instance, logger: logger}
}

func (r *Relay) Publish(ctx context.Context, n *models.Notification) error {
	payload, err := json.Marshal(envelope{Origin: r.instance, Notification: n})
	if err != nil {
		return fmt.Errorf("encode relay envelope: %w", err)
	}
	if err := r.client.Publish(ctx, relayChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish relay envelope: %w", err)
	}
	return nil
}

// Run subscribes to the relay channel until ctx ends.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, relayChannel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe relay channel: %w", err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.deliver(ctx, []byte(msg.Payload))
		}
	}
}

func (r *Relay) deliver(ctx context.Context, payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil || env.Notification == nil {
		r.logger.WarnContext(ctx, "dropping malformed relay message", "error", err)
		return
	}
	if env.Origin == r.instance {
		return
	}
	r.hub.Publish(env.Notification)
}
