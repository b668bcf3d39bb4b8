package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consular/internal/notification/models"
	"consular/internal/platform/kafka/consumer"
	id "consular/pkg/domain"
	"consular/pkg/platform/circuit"
)

type fakeContacts struct {
	email, phone string
	err          error
}

func (f fakeContacts) Contact(context.Context, id.UserID) (string, string, error) {
	return f.email, f.phone, f.err
}

type recordingSender struct {
	to  []string
	err error
}

func (r *recordingSender) Send(_ context.Context, to string, _ Message) error {
	r.to = append(r.to, to)
	return r.err
}

type countingObserver map[string]int

func (c countingObserver) ObserveDelivery(channel, result string) { c[channel+"/"+result]++ }

type recordingProducer struct {
	keys    []string
	headers []map[string]string
}

func (p *recordingProducer) Publish(_ context.Context, _ string, key, _ []byte, headers map[string]string) error {
	p.keys = append(p.keys, string(key))
	p.headers = append(p.headers, headers)
	return nil
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func notification(channels ...models.Channel) *models.Notification {
	return &models.Notification{
		ID:       id.NotificationID(uuid.New()),
		UserID:   id.UserID(uuid.New()),
		Type:     models.TypeRequestStatusChanged,
		Title:    "Request approved",
		Channels: channels,
	}
}

func TestSplitSkipsAppChannel(t *testing.T) {
	msgs := Split(notification(models.ChannelApp, models.ChannelEmail, models.ChannelSMS))
	require.Len(t, msgs, 2)
	assert.Equal(t, models.ChannelEmail, msgs[0].Channel)
	assert.Equal(t, models.ChannelSMS, msgs[1].Channel)
	assert.Empty(t, Split(notification(models.ChannelApp)))
}

func TestKafkaPublisherKeysByRecipient(t *testing.T) {
	p := &recordingProducer{}
	n := notification(models.ChannelApp, models.ChannelSMS)

	require.NoError(t, NewKafkaPublisher(p, "delivery").Publish(context.Background(), n))
	assert.Equal(t, []string{n.UserID.String()}, p.keys)
	assert.Equal(t, "SMS", p.headers[0]["channel"])
}

func TestWorkerRoutesByChannel(t *testing.T) {
	email, sms := &recordingSender{}, &recordingSender{}
	obs := countingObserver{}
	w := NewWorker(fakeContacts{email: "citizen@example.org", phone: "+33600000000"}, email, sms, obs, discard)

	require.NoError(t, NewInline(w).Publish(context.Background(), notification(models.ChannelEmail, models.ChannelSMS)))
	assert.Equal(t, []string{"citizen@example.org"}, email.to)
	assert.Equal(t, []string{"+33600000000"}, sms.to)
	assert.Equal(t, 1, obs["EMAIL/sent"])
}

func TestWorkerSkipsMissingAddress(t *testing.T) {
	sms := &recordingSender{}
	obs := countingObserver{}
	w := NewWorker(fakeContacts{email: "citizen@example.org"}, &recordingSender{}, sms, obs, discard)

	require.NoError(t, w.Deliver(context.Background(), Message{Channel: models.ChannelSMS}))
	assert.Empty(t, sms.to)
	assert.Equal(t, 1, obs["SMS/skipped"])
}

func TestWorkerHandleErrors(t *testing.T) {
	obs := countingObserver{}
	w := NewWorker(fakeContacts{err: errors.New("db down")}, &recordingSender{}, &recordingSender{}, obs, discard)

	err := w.Handle(context.Background(), &consumer.Message{Value: []byte("{"), Headers: map[string]string{"channel": "EMAIL"}})
	require.Error(t, err)
	assert.Equal(t, 1, obs["EMAIL/malformed"])

	payload, _ := json.Marshal(Message{Channel: models.ChannelEmail})
	err = w.Handle(context.Background(), &consumer.Message{Value: payload})
	require.Error(t, err)
	assert.Equal(t, 1, obs["EMAIL/error"])
}

func TestWebhookSender(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if got.To == "fail@example.org" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, time.Second)
	m := Message{Channel: models.ChannelEmail, Title: "Document validated", Body: "Your passport scan was accepted"}

	require.NoError(t, s.Send(context.Background(), "citizen@example.org", m))
	assert.Equal(t, "Document validated", got.Subject)
	assert.Equal(t, "EMAIL", got.Channel)

	assert.Error(t, s.Send(context.Background(), "fail@example.org", m))
}

func TestGuardedSender(t *testing.T) {
	ctx := context.Background()
	msg := Message{Channel: models.ChannelEmail}

	t.Run("returns primary errors until the circuit opens", func(t *testing.T) {
		primary := &recordingSender{err: errors.New("provider down")}
		fallback := &recordingSender{}
		s := NewGuardedSender(primary, fallback, circuit.New("email", circuit.WithFailureThreshold(2)), discard)

		require.Error(t, s.Send(ctx, "a@example.org", msg))
		assert.Empty(t, fallback.to)

		require.NoError(t, s.Send(ctx, "b@example.org", msg))
		assert.Equal(t, []string{"b@example.org"}, fallback.to)
		assert.Len(t, primary.to, 2)
	})

	t.Run("closes after primary recovers", func(t *testing.T) {
		primary := &recordingSender{err: errors.New("provider down")}
		fallback := &recordingSender{}
		breaker := circuit.New("sms", circuit.WithFailureThreshold(1), circuit.WithSuccessThreshold(2))
		s := NewGuardedSender(primary, fallback, breaker, discard)

		require.NoError(t, s.Send(ctx, "1", msg))
		require.True(t, breaker.IsOpen())

		primary.err = nil
		require.NoError(t, s.Send(ctx, "2", msg))
		assert.True(t, breaker.IsOpen())

		require.NoError(t, s.Send(ctx, "3", msg))
		assert.False(t, breaker.IsOpen())
		assert.Equal(t, []string{"1"}, fallback.to)
		assert.Equal(t, []string{"1", "2", "3"}, primary.to)
	})

	t.Run("diverts failures while recovering and re-arms after closing", func(t *testing.T) {
		primary := &recordingSender{err: errors.New("provider down")}
		fallback := &recordingSender{}
		breaker := circuit.New("email", circuit.WithFailureThreshold(2), circuit.WithSuccessThreshold(2))
		s := NewGuardedSender(primary, fallback, breaker, discard)

		require.Error(t, s.Send(ctx, "1", msg))
		require.NoError(t, s.Send(ctx, "2", msg))
		require.True(t, breaker.IsOpen())

		primary.err = nil
		require.NoError(t, s.Send(ctx, "3", msg))
		primary.err = errors.New("flapping")
		require.NoError(t, s.Send(ctx, "4", msg))
		assert.True(t, breaker.IsOpen())

		primary.err = nil
		require.NoError(t, s.Send(ctx, "5", msg))
		assert.True(t, breaker.IsOpen())
		require.NoError(t, s.Send(ctx, "6", msg))
		assert.False(t, breaker.IsOpen())

		primary.err = errors.New("provider down")
		require.Error(t, s.Send(ctx, "7", msg))
		assert.Equal(t, []string{"2", "4"}, fallback.to)
	})
}
