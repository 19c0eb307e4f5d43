// Package kafka publishes scan-completed events for downstream consumers.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	appscan "github.com/ahrav/pii-sentinel/internal/app/scanning"
	"github.com/ahrav/pii-sentinel/internal/domain/scanning"
	"github.com/ahrav/pii-sentinel/pkg/common/logger"
)

var _ appscan.CompletionPublisher = (*CompletionPublisher)(nil)

// ClientConfig contains the settings for the Kafka client setup.
type ClientConfig struct {
	Brokers  []string
	ClientID string
	Topic    string
}

// NewClient creates and configures a Kafka client for the completion
// publisher.
func NewClient(cfg *ClientConfig) (sarama.Client, error) {
	config := sarama.NewConfig()
	config.ClientID = cfg.ClientID

	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner

	config.Version = sarama.V3_6_0_0

	return sarama.NewClient(cfg.Brokers, config)
}

// CompletionPublisher emits one record per finished scan session. Records
// are keyed by batch id so a session's events land on one partition.
type CompletionPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *logger.Logger
	tracer   trace.Tracer
}

// ConnectPublisher creates a CompletionPublisher from the Kafka client,
// retrying the producer connection while brokers come up.
func ConnectPublisher(
	cfg *ClientConfig,
	client sarama.Client,
	log *logger.Logger,
	tracer trace.Tracer,
) (*CompletionPublisher, error) {
	var producer sarama.SyncProducer

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 5 * time.Minute
	expBackoff.InitialInterval = 5 * time.Second

	operation := func() error {
		var err error
		producer, err = sarama.NewSyncProducerFromClient(client)
		if err != nil {
			return fmt.Errorf("creating producer: %w", err)
		}
		return nil
	}

	if err := backoff.Retry(operation, expBackoff); err != nil {
		return nil, fmt.Errorf("failed to connect completion publisher after retries: %w", err)
	}

	return &CompletionPublisher{
		producer: producer,
		topic:    cfg.Topic,
		logger:   log.With("component", "completion_publisher"),
		tracer:   tracer,
	}, nil
}

// PublishCompletion sends the terminal event of a session.
func (p *CompletionPublisher) PublishCompletion(ctx context.Context, evt scanning.ScanCompleted) error {
	ctx, span := p.tracer.Start(ctx, "kafka.publish_completion",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("batch_id", evt.BatchID.String()),
			attribute.String("status", string(evt.Status)),
			attribute.String("topic", p.topic),
		),
	)
	defer span.End()

	payload, err := json.Marshal(evt)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("encoding completion event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(evt.BatchID.String()),
		Value: sarama.ByteEncoder(payload),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("sending completion event: %w", err)
	}

	p.logger.Debug(ctx, "completion event published",
		"batch_id", evt.BatchID,
		"partition", partition,
		"offset", offset,
	)
	return nil
}

// Close shuts down the underlying producer.
func (p *CompletionPublisher) Close() error { return p.producer.Close() }
