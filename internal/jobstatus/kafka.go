package jobstatus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/IBM/sarama"

	"github.com/roach88/refresher/internal/refresh"
)

// DefaultTopic is the topic refresh statuses are published to.
const DefaultTopic = "refresher.job-status"

// KafkaSink publishes statuses as JSON to a Kafka topic. The message key is
// the owner, so one owner's statuses stay ordered within a partition.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

// NewKafkaSink wraps an existing producer.
func NewKafkaSink(producer sarama.SyncProducer, topic string, logger *slog.Logger) *KafkaSink {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaSink{producer: producer, topic: topic, logger: logger}
}

// ProducerConfig returns the sarama configuration used by DialKafkaSink.
// Successes must be returned for a SyncProducer.
func ProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.ClientID = "refresher"
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Retry.Backoff = 250 * time.Millisecond
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Partitioner = sarama.NewHashPartitioner
	return config
}

// DialKafkaSink connects a SyncProducer to brokers.
func DialKafkaSink(brokers []string, topic string, logger *slog.Logger) (*KafkaSink, error) {
	producer, err := sarama.NewSyncProducer(brokers, ProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewKafkaSink(producer, topic, logger), nil
}

// Publish sends one status message and waits for the broker ack.
func (s *KafkaSink) Publish(ctx context.Context, status refresh.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal job status: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(status.Owner),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("refresh_id"), Value: []byte(status.RefreshID)},
			{Key: []byte("success"), Value: []byte(strconv.FormatBool(status.Success))},
		},
	}

	partition, offset, err := s.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("publish job status for %s: %w", status.Owner, err)
	}

	s.logger.DebugContext(ctx, "job status published",
		"topic", s.topic,
		"partition", partition,
		"offset", offset,
		"refresh_id", status.RefreshID,
	)
	return nil
}

// Close closes the producer.
func (s *KafkaSink) Close() error {
	if err := s.producer.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
