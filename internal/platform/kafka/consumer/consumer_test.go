package consumer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/twmb/franz-go/pkg/kgo"
)

func TestToMessage(t *testing.T) {
	rec := &kgo.Record{
		Topic:     "consular.notifications.delivery",
		Partition: 2,
		Offset:    41,
		Key:       []byte("user-1"),
		Value:     []byte(`{"channel":"EMAIL"}`),
		Headers:   []kgo.RecordHeader{{Key: "channel", Value: []byte("EMAIL")}},
	}

	msg := toMessage(rec)
	assert.Equal(t, "consular.notifications.delivery", msg.Topic)
	assert.Equal(t, int32(2), msg.Partition)
	assert.Equal(t, int64(41), msg.Offset)
	assert.Equal(t, "EMAIL", msg.Headers["channel"])
	assert.JSONEq(t, `{"channel":"EMAIL"}`, string(msg.Value))
}
