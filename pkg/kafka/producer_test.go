package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublish_DefaultTopicAndJSON(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, "artifacts", "snappy")

	require.NoError(t, p.Publish(context.Background(), "", []byte("AAPL"), map[string]int{"n": 1}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "artifacts", w.msgs[0].Topic)
	assert.Equal(t, []byte("AAPL"), w.msgs[0].Key)

	var got map[string]int
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, 1, got["n"])

	require.NoError(t, p.PublishMessage(context.Background(), "logs", "raw"))
	assert.Equal(t, "logs", w.msgs[1].Topic)
	assert.Nil(t, w.msgs[1].Key)
	assert.Equal(t, []byte("raw"), w.msgs[1].Value)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublish_Errors(t *testing.T) {
	p := NewProducerWithWriter(&fakeWriter{}, "", "none")
	assert.Error(t, p.Publish(context.Background(), "", nil, "x"))

	boom := errors.New("broker down")
	p = NewProducerWithWriter(&fakeWriter{err: boom}, "t", "none")
	assert.ErrorIs(t, p.Publish(context.Background(), "", nil, "x"), boom)

	_, err := NewProducer()
	assert.Error(t, err)
}

func TestNewProducer_ValidatesConfig(t *testing.T) {
	_, err := NewProducer(WithTopic("artifacts"))
	require.Error(t, err)

	_, err = NewProducer(WithBrokers([]string{"localhost:9092"}), WithCompression("brotli"))
	require.ErrorContains(t, err, "brotli")

	_, err = NewProducer(WithBrokers([]string{"localhost:9092"}), WithRequiredAcks(2))
	require.Error(t, err)

	p, err := NewProducer(WithBrokers([]string{"localhost:9092"}), WithTopic("artifacts"), WithBatch(0, 0))
	require.NoError(t, err)
	assert.Equal(t, "artifacts", p.Topic())
	require.NoError(t, p.Close())
}
