// Package notify publishes run summaries to external systems.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/rsclarke/flowtriage/internal/pipeline"
)

// Kafka publishes one JSON message per finished run, keyed by run ID.
type Kafka struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewKafkaConfig returns the producer configuration used by NewKafka.
func NewKafkaConfig() (*sarama.Config, error) {
	config := sarama.NewConfig()
	version, err := sarama.ParseKafkaVersion("2.1.0")
	if err != nil {
		return nil, err
	}
	config.Version = version
	config.ClientID = "flowtriage"
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Retry.Max = 3
	config.Producer.Return.Successes = true
	config.Net.DialTimeout = 10 * time.Second
	config.Net.ReadTimeout = 10 * time.Second
	config.Net.WriteTimeout = 10 * time.Second
	return config, nil
}

// NewKafka connects a synchronous producer to brokers.
func NewKafka(brokers []string, topic string, logger *zap.Logger) (*Kafka, error) {
	config, err := NewKafkaConfig()
	if err != nil {
		return nil, err
	}
	logger.Info("connecting to kafka", zap.Strings("brokers", brokers), zap.String("topic", topic))
	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewKafkaWithProducer(producer, topic, logger), nil
}

// NewKafkaWithProducer wraps an existing producer.
func NewKafkaWithProducer(producer sarama.SyncProducer, topic string, logger *zap.Logger) *Kafka {
	return &Kafka{producer: producer, topic: topic, logger: logger}
}

func (k *Kafka) Name() string { return "kafka" }

// Notify publishes s. The producer call is synchronous; ctx is only
// checked before sending.
func (k *Kafka) Notify(ctx context.Context, s *pipeline.Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(s.RunID),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("content-type"), Value: []byte("application/json")},
		},
	}
	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("publish run %s: %w", s.RunID, err)
	}
	k.logger.Debug("run summary published",
		zap.String("run_id", s.RunID),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

func (k *Kafka) Close() error { return k.producer.Close() }
