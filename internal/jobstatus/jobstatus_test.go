package jobstatus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/refresher/internal/logging"
	"github.com/roach88/refresher/internal/model"
	"github.com/roach88/refresher/internal/refresh"
)

var testStart = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func successStatus() refresh.Status {
	return refresh.Status{
		RefreshID: "refresh-0001",
		Owner:     "acme",
		Success:   true,
		Counts:    refresh.Counts{Created: 2, Reused: 1},
		Started:   testStart,
		Finished:  testStart.Add(time.Second),
	}
}

func failedStatus() refresh.Status {
	return refresh.Status{
		RefreshID: "refresh-0002",
		Owner:     "acme",
		ErrorCode: model.ErrCodeCycleDetected,
		Error:     "CYCLE_DETECTED: cycle",
		Chain:     []string{"X", "Y", "X"},
		Started:   testStart,
		Finished:  testStart,
	}
}

func TestLogSink_Success(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, sink.Publish(context.Background(), successStatus()))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "acme", entry["owner"])
	assert.EqualValues(t, 2, entry["created"])
}

func TestLogSink_Failure(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, sink.Publish(context.Background(), failedStatus()))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "CYCLE_DETECTED", entry["error_code"])
	assert.Equal(t, []any{"X", "Y", "X"}, entry["chain"])
}

func TestKafkaSink_PublishesJSONKeyedByOwner(t *testing.T) {
	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "statuses" {
			return errors.New("wrong topic " + msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "acme" {
			return errors.New("wrong key " + string(key))
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var got refresh.Status
		if err := json.Unmarshal(value, &got); err != nil {
			return err
		}
		if got.RefreshID != "refresh-0001" || got.Counts.Created != 2 {
			return errors.New("unexpected payload " + string(value))
		}
		return nil
	})

	sink := NewKafkaSink(producer, "statuses", logging.Discard())
	require.NoError(t, sink.Publish(context.Background(), successStatus()))
	require.NoError(t, sink.Close())
}

func TestKafkaSink_SendFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	sink := NewKafkaSink(producer, "", logging.Discard())
	err := sink.Publish(context.Background(), failedStatus())

	require.Error(t, err)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	assert.Equal(t, DefaultTopic, sink.topic)
	require.NoError(t, sink.Close())
}

func TestKafkaSink_CanceledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	sink := NewKafkaSink(producer, "statuses", logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, sink.Publish(ctx, successStatus()), context.Canceled)
	require.NoError(t, sink.Close())
}

func TestProducerConfig_Valid(t *testing.T) {
	config := ProducerConfig()

	require.NoError(t, config.Validate())
	assert.True(t, config.Producer.Return.Successes)
}

type failingSink struct{ err error }

func (f failingSink) Publish(context.Context, refresh.Status) error { return f.err }

type countingSink struct{ n int }

func (c *countingSink) Publish(context.Context, refresh.Status) error {
	c.n++
	return nil
}

func TestMulti_TriesEverySink(t *testing.T) {
	boom := errors.New("boom")
	counter := &countingSink{}
	m := Multi{failingSink{err: boom}, nil, counter}

	err := m.Publish(context.Background(), successStatus())

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, counter.n)
}
