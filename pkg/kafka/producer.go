// Package kafka publishes message lifecycle events for downstream consumers.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/gustausantin/La-ia-app-sub001/pkg/metrics"
	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
	"github.com/gustausantin/La-ia-app-sub001/pkg/tracing"
)

// Event types
const (
	EventMessageQueued    = "message.queued"
	EventMessageSent      = "message.sent"
	EventMessageFailed    = "message.failed"
	EventMessageDelivered = "message.delivered"
	EventMessageSkipped   = "message.skipped"
)

// EventTypeFor maps a message status to its event type.
func EventTypeFor(status models.MessageStatus) string {
	switch status {
	case models.MessageStatusPlanned:
		return EventMessageQueued
	case models.MessageStatusSent:
		return EventMessageSent
	case models.MessageStatusFailed:
		return EventMessageFailed
	case models.MessageStatusDelivered:
		return EventMessageDelivered
	case models.MessageStatusSkipped:
		return EventMessageSkipped
	default:
		return ""
	}
}

// Config holds Kafka configuration
type Config struct {
	Brokers     []string
	EventsTopic string
}

// ParseConfig parses a comma-separated broker string
func ParseConfig(brokers string, eventsTopic string) Config {
	var brokerList []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokerList = append(brokerList, b)
		}
	}

	return Config{
		Brokers:     brokerList,
		EventsTopic: eventsTopic,
	}
}

func (c Config) Enabled() bool {
	return len(c.Brokers) > 0 && c.EventsTopic != ""
}

// LifecycleEvent is one state change of a scheduled message.
type LifecycleEvent struct {
	Type              string               `json:"type"`
	RestaurantID      uuid.UUID            `json:"restaurant_id"`
	MessageID         uuid.UUID            `json:"message_id"`
	CustomerID        uuid.UUID            `json:"customer_id"`
	RuleID            *uuid.UUID           `json:"rule_id,omitempty"`
	Channel           models.Channel       `json:"channel"`
	Status            models.MessageStatus `json:"status"`
	ProviderMessageID *string              `json:"provider_message_id,omitempty"`
	Reason            *string              `json:"reason,omitempty"`
	Timestamp         time.Time            `json:"timestamp"`

	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// NewLifecycleEvent builds the event describing msg's current status.
func NewLifecycleEvent(msg *models.ScheduledMessage) *LifecycleEvent {
	channel := msg.ChannelPlanned
	if msg.ChannelFinal != nil {
		channel = *msg.ChannelFinal
	}
	evt := &LifecycleEvent{
		Type:              EventTypeFor(msg.Status),
		RestaurantID:      msg.RestaurantID,
		MessageID:         msg.ID,
		CustomerID:        msg.CustomerID,
		RuleID:            msg.RuleID,
		Channel:           channel,
		Status:            msg.Status,
		ProviderMessageID: msg.ProviderMessageID,
		Timestamp:         msg.UpdatedAt,
	}
	switch {
	case msg.SkipReason != nil:
		evt.Reason = msg.SkipReason
	case msg.LastError != nil:
		evt.Reason = msg.LastError
	}
	return evt
}

// Publisher publishes lifecycle events.
type Publisher interface {
	PublishLifecycleEvent(ctx context.Context, evt *LifecycleEvent) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer handles producing messages to Kafka
type Producer struct {
	writer messageWriter
	logger ectologger.Logger
	topic  string
}

func NewProducer(cfg Config, logger ectologger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.EventsTopic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		// dev brokers may not have the topic yet
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		logger: logger,
		topic:  cfg.EventsTopic,
	}
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// PublishLifecycleEvent writes evt keyed by message id so every event of a
// message lands on the same partition.
func (p *Producer) PublishLifecycleEvent(ctx context.Context, evt *LifecycleEvent) error {
	if evt == nil {
		return fmt.Errorf("lifecycle event is nil")
	}

	ctx, span := tracing.StartSpan(ctx, "Kafka.PublishLifecycleEvent")
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", p.topic),
		attribute.String("messaging.operation", "publish"),
		attribute.String("restaurant_id", evt.RestaurantID.String()),
		attribute.String("message_id", evt.MessageID.String()),
		attribute.String("event_type", evt.Type),
	)

	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	evt.TraceID = tracing.GetTraceID(ctx)
	evt.SpanID = tracing.GetSpanID(ctx)

	data, err := json.Marshal(evt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal event")
		return fmt.Errorf("failed to marshal lifecycle event: %w", err)
	}

	headers := []kafka.Header{
		{Key: "restaurant_id", Value: []byte(evt.RestaurantID.String())},
		{Key: "message_id", Value: []byte(evt.MessageID.String())},
		{Key: "type", Value: []byte(evt.Type)},
	}
	if traceparent := tracing.GetTraceParent(ctx); traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(traceparent)})
	}
	if tracestate := tracing.GetTraceState(ctx); tracestate != "" {
		headers = append(headers, kafka.Header{Key: "tracestate", Value: []byte(tracestate)})
	}

	start := time.Now()
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(evt.MessageID.String()),
		Value:   data,
		Headers: headers,
	})
	if err != nil {
		metrics.RecordKafkaPublish(p.topic, "error", time.Since(start).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish event")
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish lifecycle event to Kafka topic %s", p.topic)
		return err
	}

	metrics.RecordKafkaPublish(p.topic, "success", time.Since(start).Seconds())
	span.SetStatus(codes.Ok, "event published")
	p.logger.WithContext(ctx).Debugf("Published lifecycle event: type=%s message=%s trace=%s",
		evt.Type, evt.MessageID, evt.TraceID)
	return nil
}

// NoopPublisher drops every event. Used when Kafka is not configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishLifecycleEvent(context.Context, *LifecycleEvent) error { return nil }
func (NoopPublisher) Close() error                                                 { return nil }
