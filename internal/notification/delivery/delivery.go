// Package delivery moves email and SMS notifications from the dispatcher to
// the external providers, through a Kafka topic when brokers are configured.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"consular/internal/notification/models"
	"consular/internal/platform/kafka/consumer"
	id "consular/pkg/domain"
)

// Message is one delivery of a notification over one external channel.
type Message struct {
	NotificationID id.NotificationID `json:"notification_id"`
	UserID         id.UserID         `json:"user_id"`
	Channel        models.Channel    `json:"channel"`
	Type           models.Type       `json:"type"`
	Title          string            `json:"title"`
	Body           string            `json:"body"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Split produces one Message per external channel of n.
func Split(n *models.Notification) []Message {
	var out []Message
	for _, c := range n.External() {
		out = append(out, Message{
			NotificationID: n.ID,
			UserID:         n.UserID,
			Channel:        c,
			Type:           n.Type,
			Title:          n.Title,
			Body:           n.Message,
			CreatedAt:      n.CreatedAt,
		})
	}
	return out
}

// Producer is the subset of the Kafka producer used here.
type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// KafkaPublisher writes delivery messages to the delivery topic, keyed by
// recipient so one user's messages stay ordered.
type KafkaPublisher struct {
	producer Producer
	topic    string
}

func NewKafkaPublisher(p Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: p, topic: topic}
}

func (k *KafkaPublisher) Publish(ctx context.Context, n *models.Notification) error {
	for _, m := range Split(n) {
		payload, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode delivery message: %w", err)
		}
		headers := map[string]string{"channel": string(m.Channel), "type": string(m.Type)}
		if err := k.producer.Publish(ctx, k.topic, []byte(m.UserID.String()), payload, headers); err != nil {
			return err
		}
	}
	return nil
}

// Inline delivers straight to the worker. Used when no brokers are configured.
type Inline struct {
	worker *Worker
}

func NewInline(w *Worker) *Inline {
	return &Inline{worker: w}
}

func (i *Inline) Publish(ctx context.Context, n *models.Notification) error {
	for _, m := range Split(n) {
		if err := i.worker.Deliver(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// Contacts resolves a recipient's email address and phone number.
type Contacts interface {
	Contact(ctx context.Context, userID id.UserID) (email, phone string, err error)
}

// Sender hands one message to an external provider.
type Sender interface {
	Send(ctx context.Context, to string, m Message) error
}

// Observer records delivery outcomes.
type Observer interface {
	ObserveDelivery(channel, result string)
}

// Worker consumes delivery messages and routes them to the channel's sender.
type Worker struct {
	contacts Contacts
	senders  map[models.Channel]Sender
	observer Observer
	logger   *slog.Logger
}

func NewWorker(contacts Contacts, email, sms Sender, observer Observer, logger *slog.Logger) *Worker {
	return &Worker{
		contacts: contacts,
		senders:  map[models.Channel]Sender{models.ChannelEmail: email, models.ChannelSMS: sms},
		observer: observer,
		logger:   logger,
	}
}

// Handle implements consumer.Handler.
func (w *Worker) Handle(ctx context.Context, msg *consumer.Message) error {
	var m Message
	if err := json.Unmarshal(msg.Value, &m); err != nil {
		w.observe(msg.Headers["channel"], "malformed")
		return fmt.Errorf("decode delivery message: %w", err)
	}
	return w.Deliver(ctx, m)
}

func (w *Worker) Deliver(ctx context.Context, m Message) error {
	sender, ok := w.senders[m.Channel]
	if !ok || sender == nil {
		w.observe(string(m.Channel), "unsupported")
		return fmt.Errorf("no sender for channel %s", m.Channel)
	}
	email, phone, err := w.contacts.Contact(ctx, m.UserID)
	if err != nil {
		w.observe(string(m.Channel), "error")
		return fmt.Errorf("resolve contact for %s: %w", m.UserID, err)
	}
	to := email
	if m.Channel == models.ChannelSMS {
		to = phone
	}
	if to == "" {
		w.observe(string(m.Channel), "skipped")
		w.logger.InfoContext(ctx, "recipient has no address for channel",
			"user_id", m.UserID,
			"channel", m.Channel,
			"notification_id", m.NotificationID,
		)
		return nil
	}
	if err := sender.Send(ctx, to, m); err != nil {
		w.observe(string(m.Channel), "error")
		return fmt.Errorf("send %s: %w", m.Channel, err)
	}
	w.observe(string(m.Channel), "sent")
	return nil
}

func (w *Worker) observe(channel, result string) {
	if w.observer != nil {
		w.observer.ObserveDelivery(channel, result)
	}
}
