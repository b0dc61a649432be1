package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	domain "github.com/hanko-field/orders/internal/domain"
)

func sampleEvent() domain.NotificationEvent {
	return domain.NotificationEvent{
		ID:         "evt-1",
		UserID:     "user-1",
		Type:       domain.NotificationPaymentConfirmed,
		Title:      "Payment received",
		Message:    "We received your payment.",
		Payload:    map[string]any{"orderId": "ord_1"},
		OccurredAt: time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC),
	}
}

func TestPubSubSinkPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "order-notifications")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	sink, err := NewPubSubSink(topic)
	if err != nil {
		t.Fatalf("NewPubSubSink: %v", err)
	}
	defer func() {
		_ = sink.Close()
	}()

	if err := sink.Deliver(ctx, sampleEvent()); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload Message
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.ID != "evt-1" || payload.Type != string(domain.NotificationPaymentConfirmed) {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if payload.Payload["orderId"] != "ord_1" {
		t.Fatalf("expected payload order id, got %#v", payload.Payload)
	}
	if attr := messages[0].Attributes["userId"]; attr != "user-1" {
		t.Fatalf("expected userId attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["type"]; attr != "order.payment_confirmed" {
		t.Fatalf("expected type attribute, got %q", attr)
	}
}

func TestNewPubSubSinkRequiresTopic(t *testing.T) {
	if _, err := NewPubSubSink(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}

type stubWriter struct {
	writeFn  func(ctx context.Context, msgs ...kafka.Message) error
	messages []kafka.Message
	closed   bool
}

func (s *stubWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	s.messages = append(s.messages, msgs...)
	if s.writeFn != nil {
		return s.writeFn(ctx, msgs...)
	}
	return nil
}

func (s *stubWriter) Close() error {
	s.closed = true
	return nil
}

func TestKafkaSinkWritesKeyedMessage(t *testing.T) {
	writer := &stubWriter{}
	sink := newKafkaSink(writer)

	if err := sink.Deliver(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(writer.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(writer.messages))
	}
	msg := writer.messages[0]
	if string(msg.Key) != "user-1" {
		t.Fatalf("expected key user-1, got %q", msg.Key)
	}
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["eventId"] != "evt-1" || headers["type"] != "order.payment_confirmed" {
		t.Fatalf("unexpected headers %#v", headers)
	}
	var decoded Message
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("unmarshal value: %v", err)
	}
	if decoded.UserID != "user-1" {
		t.Fatalf("unexpected value %#v", decoded)
	}

	if err := sink.Close(); err != nil || !writer.closed {
		t.Fatalf("expected writer closed, err=%v", err)
	}
}

func TestKafkaSinkPropagatesWriteError(t *testing.T) {
	boom := errors.New("broker down")
	sink := newKafkaSink(&stubWriter{writeFn: func(context.Context, ...kafka.Message) error { return boom }})
	if err := sink.Deliver(context.Background(), sampleEvent()); !errors.Is(err, boom) {
		t.Fatalf("expected broker error, got %v", err)
	}
}

func TestKafkaSinkRejectsUntypedEvent(t *testing.T) {
	writer := &stubWriter{}
	sink := newKafkaSink(writer)
	event := sampleEvent()
	event.Type = ""
	if err := sink.Deliver(context.Background(), event); err == nil {
		t.Fatalf("expected error for missing type")
	}
	if len(writer.messages) != 0 {
		t.Fatalf("expected nothing written")
	}
}

func TestNewKafkaWriterValidation(t *testing.T) {
	if _, err := NewKafkaWriter(nil, "topic"); err == nil {
		t.Fatalf("expected broker error")
	}
	if _, err := NewKafkaWriter([]string{"localhost:9092"}, ""); err == nil {
		t.Fatalf("expected topic error")
	}
	writer, err := NewKafkaWriter([]string{"localhost:9092"}, "orders")
	if err != nil {
		t.Fatalf("NewKafkaWriter: %v", err)
	}
	if writer.Topic != "orders" {
		t.Fatalf("unexpected topic %q", writer.Topic)
	}
}

func TestLogSinkWritesEntry(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	if err := sink.Deliver(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	entries := logs.FilterMessage("notification").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["type"]; got != "order.payment_confirmed" {
		t.Fatalf("unexpected type field %v", got)
	}
}
