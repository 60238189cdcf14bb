// Package redpanda publishes audit events to a Redpanda/Kafka topic.
//
// Each event is one JSON record keyed by its actor so one caller's actions
// stay ordered within a partition.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/zeroatsteel/zero-agent/internal/domain"
	"github.com/zeroatsteel/zero-agent/internal/observability"
)

// DefaultAuditTopic is used when no topic is configured.
const DefaultAuditTopic = "zero-agent-audit"

// syncProducer is the part of *kgo.Client the producer needs.
type syncProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Ping(ctx context.Context) error
	Close()
}

// Producer implements domain.AuditSink.
type Producer struct {
	client syncProducer
	topic  string
	ext    *observability.ExternalClient
}

// NewProducer connects to brokers and makes sure topic exists.
func NewProducer(ctx context.Context, brokers []string, topic string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	if topic == "" {
		topic = DefaultAuditTopic
	}
	slog.Info("creating redpanda audit producer", slog.Any("brokers", brokers), slog.String("topic", topic))

	client, err := kgo.NewClient(clientOpts(brokers, topic)...)
	if err != nil {
		return nil, fmt.Errorf("redpanda client: %w", err)
	}
	if err := createTopicIfNotExists(ctx, client, topic, 1, 1); err != nil {
		// the topic may be managed outside the service
		slog.Warn("failed to create topic, it may already exist", slog.String("topic", topic), slog.Any("error", err))
	}
	return newProducer(client, topic, brokers[0]), nil
}

// clientOpts configures the producer client; every produce is traced through
// the global tracer provider.
func clientOpts(brokers []string, topic string) []kgo.Opt {
	tracer := kotel.NewTracer(
		kotel.TracerProvider(otel.GetTracerProvider()),
	)
	k := kotel.NewKotel(
		kotel.WithTracer(tracer),
	)
	return []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1000000),
		kgo.ProducerLinger(5 * time.Millisecond),
		kgo.WithHooks(k.Hooks()...),
	}
}

func newProducer(client syncProducer, topic, endpoint string) *Producer {
	return &Producer{
		client: client,
		topic:  topic,
		ext:    observability.NewExternalClient(observability.ConnectionTypeQueue, endpoint, 10*time.Second),
	}
}

// Publish writes ev to the audit topic and waits for the broker to acknowledge it.
func (p *Producer) Publish(ctx domain.Context, ev domain.AuditEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("op=audit.publish: marshal: %w", err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(ev.Actor),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "type", Value: []byte(ev.Type)},
		},
		Timestamp: ev.At,
	}
	err = p.ext.Execute(ctx, observability.OperationTypePublish, func(ctx context.Context) error {
		return p.client.ProduceSync(ctx, record).FirstErr()
	})
	if err != nil {
		return fmt.Errorf("op=audit.publish: %w", err)
	}
	return nil
}

// Ping checks that a broker is reachable.
func (p *Producer) Ping(ctx context.Context) error { return p.client.Ping(ctx) }

// Close closes the client.
func (p *Producer) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}
