package queue

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nimasrn/loyalty-engine/internal/model"
	"github.com/nimasrn/loyalty-engine/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr := miniredis.RunT(t)
	client := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	t.Cleanup(func() { _ = client.Close() })
	return mr, redis.Wrap("", client)
}

func testConfig(name string) QueueConfig {
	return QueueConfig{
		Name:              name,
		ConsumerGroup:     "test-group",
		ConsumerName:      "test-consumer",
		MaxRetries:        3,
		VisibilityTimeout: 5 * time.Second,
		PollInterval:      50 * time.Millisecond,
		BatchSize:         10,
		MaxLen:            1000,
	}
}

func TestQueue_PublishAndConsume(t *testing.T) {
	_, adapter := setupTestRedis(t)

	q, err := NewQueue(adapter, testConfig("test:queue"))
	require.NoError(t, err)
	defer q.Stop(time.Second)

	before := time.Now().UTC().Add(-time.Second)
	_, err = q.PublishJSON(context.Background(), map[string]string{"key": "value"}, map[string]string{"type": "test"})
	require.NoError(t, err)

	received := make(chan *Message, 1)
	require.NoError(t, q.Consume(func(ctx context.Context, msg *Message) error {
		received <- msg
		return nil
	}))

	select {
	case msg := <-received:
		var data map[string]string
		require.NoError(t, json.Unmarshal(msg.Data, &data))
		assert.Equal(t, "value", data["key"])
		assert.Equal(t, "test", msg.Metadata["type"])
		assert.True(t, msg.Timestamp.After(before), "timestamp should come from the stream entry")
		assert.Equal(t, 0, msg.Attempts)
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}

	assert.Eventually(t, func() bool {
		stats, err := q.GetStats()
		return err == nil && stats.PendingMessages == 0
	}, 2*time.Second, 20*time.Millisecond, "handled message should be acked")
}

func TestQueue_ExistingGroupIsReused(t *testing.T) {
	_, adapter := setupTestRedis(t)

	first, err := NewQueue(adapter, testConfig("test:group"))
	require.NoError(t, err)
	defer first.Stop(time.Second)

	second, err := NewQueue(adapter, testConfig("test:group"))
	require.NoError(t, err)
	defer second.Stop(time.Second)
}

func TestQueue_NameRequired(t *testing.T) {
	_, adapter := setupTestRedis(t)

	_, err := NewQueue(adapter, QueueConfig{})
	assert.Error(t, err)
}

func TestQueue_FailedMessageEndsInDeadLetterQueue(t *testing.T) {
	mr, adapter := setupTestRedis(t)

	cfg := testConfig("test:retry")
	cfg.MaxRetries = 2
	cfg.VisibilityTimeout = 150 * time.Millisecond
	cfg.EnableDLQ = true

	q, err := NewQueue(adapter, cfg)
	require.NoError(t, err)
	defer q.Stop(time.Second)

	_, err = q.Publish(context.Background(), []byte(`{"n":1}`), map[string]string{"client_id": "c1"})
	require.NoError(t, err)

	var calls atomic.Int32
	require.NoError(t, q.Consume(func(ctx context.Context, msg *Message) error {
		calls.Add(1)
		return assert.AnError
	}))

	assert.Eventually(t, func() bool {
		return mr.Exists("test:retry" + dlqSuffix)
	}, 5*time.Second, 50*time.Millisecond)
	assert.GreaterOrEqual(t, calls.Load(), int32(2))

	assert.Eventually(t, func() bool {
		stats, err := q.GetStats()
		return err == nil && stats.PendingMessages == 0
	}, 2*time.Second, 20*time.Millisecond, "dead message should be acked")
}

func TestQueue_GetStats(t *testing.T) {
	_, adapter := setupTestRedis(t)

	q, err := NewQueue(adapter, testConfig("test:stats"))
	require.NoError(t, err)
	defer q.Stop(time.Second)

	for i := 0; i < 5; i++ {
		_, err := q.PublishJSON(context.Background(), map[string]int{"count": i}, nil)
		require.NoError(t, err)
	}

	stats, err := q.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.TotalMessages)
	assert.Equal(t, int64(0), stats.PendingMessages)
}

func TestQueue_PublishHonoursCancelledContext(t *testing.T) {
	_, adapter := setupTestRedis(t)

	q, err := NewQueue(adapter, testConfig("test:cancel"))
	require.NoError(t, err)
	defer q.Stop(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = q.Publish(ctx, []byte("x"), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMessage_AckNack(t *testing.T) {
	_, adapter := setupTestRedis(t)

	q, err := NewQueue(adapter, testConfig("test:ack"))
	require.NoError(t, err)
	defer q.Stop(time.Second)

	t.Run("ack", func(t *testing.T) {
		id, err := q.Publish(context.Background(), []byte(`{}`), nil)
		require.NoError(t, err)

		msg := &Message{ID: id, queue: q}
		assert.NoError(t, msg.Ack())
		assert.True(t, msg.acked)

		err = msg.Ack()
		assert.ErrorContains(t, err, "already acknowledged")
		assert.ErrorContains(t, msg.Nack(), "already acknowledged")
	})

	t.Run("nack", func(t *testing.T) {
		msg := &Message{ID: "1-0", queue: q}
		assert.NoError(t, msg.Nack())
		assert.True(t, msg.nacked)
		assert.ErrorContains(t, msg.Nack(), "already rejected")
		assert.ErrorContains(t, msg.Ack(), "already rejected")
	})
}

func TestQueue_ConcurrentPublish(t *testing.T) {
	_, adapter := setupTestRedis(t)

	q, err := NewQueue(adapter, testConfig("test:concurrent"))
	require.NoError(t, err)
	defer q.Stop(time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, err := q.PublishJSON(context.Background(), map[string]int{"id": id}, nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stats, err := q.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(10), stats.TotalMessages)
}

func TestQueue_Stop(t *testing.T) {
	_, adapter := setupTestRedis(t)

	q, err := NewQueue(adapter, testConfig("test:stop"))
	require.NoError(t, err)

	require.NoError(t, q.Consume(func(ctx context.Context, msg *Message) error {
		time.Sleep(100 * time.Millisecond)
		return nil
	}))
	assert.NoError(t, q.Stop(2*time.Second))
}

func TestLedgerPublisher_RoundTrip(t *testing.T) {
	_, adapter := setupTestRedis(t)

	q, err := NewQueue(adapter, testConfig("test:ledger"))
	require.NoError(t, err)
	defer q.Stop(time.Second)

	event := model.LedgerEvent{
		TransactionID: 42,
		ClientID:      "c1",
		PartnerID:     "p1",
		Type:          model.TransactionTypeAccrual,
		Earned:        50,
		OccurredAt:    time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, NewLedgerPublisher(q).PublishLedgerEvent(context.Background(), event))

	received := make(chan model.LedgerEvent, 1)
	require.NoError(t, q.Consume(func(ctx context.Context, msg *Message) error {
		assert.Equal(t, "c1", msg.Metadata[MetaClientID])
		got, err := DecodeLedgerEvent(msg)
		if err != nil {
			return err
		}
		received <- got
		return nil
	}))

	select {
	case got := <-received:
		assert.Equal(t, event, got)
	case <-time.After(2 * time.Second):
		t.Fatal("event not received")
	}
}

func TestDecodeLedgerEvent(t *testing.T) {
	_, err := DecodeLedgerEvent(&Message{Data: []byte("{")})
	assert.Error(t, err)

	_, err = DecodeLedgerEvent(&Message{Data: []byte(`{"transaction_id":1}`)})
	assert.Error(t, err)

	_, err = DecodeLedgerEvent(&Message{
		Data:     []byte(`{"client_id":"c1"}`),
		Metadata: map[string]string{MetaEventType: "other"},
	})
	assert.Error(t, err)

	ev, err := DecodeLedgerEvent(&Message{Data: []byte(`{"client_id":"c1","transaction_id":7}`)})
	require.NoError(t, err)
	assert.Equal(t, int64(7), ev.TransactionID)
}

func TestToMessage_LegacyUnixTimestamp(t *testing.T) {
	q := &Queue{}
	msg := q.toMessage(redis.StreamMessage{
		ID:     "1-0",
		Values: map[string]interface{}{"data": "x", "timestamp": "1700000000", "meta_k": "v"},
	})
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), msg.Timestamp)
	assert.Equal(t, "v", msg.Metadata["k"])
	assert.Equal(t, []byte("x"), msg.Data)
}
