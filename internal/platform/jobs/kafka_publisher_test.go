package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/hanko-field/discounts/internal/platform/config"
	"github.com/hanko-field/discounts/internal/services"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestKafkaPublisherKeysEventsByPromotion(t *testing.T) {
	events := &recordingWriter{}
	jobs := &recordingWriter{}
	publisher, err := newKafkaPublisher(events, jobs)
	if err != nil {
		t.Fatalf("newKafkaPublisher: %v", err)
	}

	end := time.Date(2024, time.December, 2, 0, 0, 0, 0, time.UTC)
	id, err := publisher.PublishPromotionEvent(context.Background(), services.PromotionEvent{
		EventID:     "evt_9",
		Type:        services.PromotionEventEnded,
		PromotionID: "promo-cm",
		EndDate:     &end,
		OccurredAt:  end,
	})
	if err != nil {
		t.Fatalf("PublishPromotionEvent: %v", err)
	}
	if id != "evt_9" {
		t.Fatalf("expected event id as message id, got %q", id)
	}
	if len(events.messages) != 1 || len(jobs.messages) != 0 {
		t.Fatalf("unexpected routing: %d events %d jobs", len(events.messages), len(jobs.messages))
	}
	msg := events.messages[0]
	if string(msg.Key) != "promo-cm" || header(msg, "type") != "promotion_ended" || !msg.Time.Equal(end) {
		t.Fatalf("unexpected message %+v", msg)
	}
	var payload services.PromotionEvent
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.EndDate == nil || !payload.EndDate.Equal(end) {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestKafkaPublisherDispatchesJobs(t *testing.T) {
	events := &recordingWriter{}
	jobs := &recordingWriter{}
	publisher, _ := newKafkaPublisher(events, jobs)

	if _, err := publisher.DispatchPriceRecompute(context.Background(), services.PriceRecomputeJob{
		JobID:      "job_2",
		ProductIDs: []string{"p-9"},
		Reason:     "rule_refresh",
	}); err != nil {
		t.Fatalf("DispatchPriceRecompute: %v", err)
	}
	if len(jobs.messages) != 1 || string(jobs.messages[0].Key) != "job_2" || header(jobs.messages[0], "reason") != "rule_refresh" {
		t.Fatalf("unexpected job messages %+v", jobs.messages)
	}
	if jobs.messages[0].Time.IsZero() {
		t.Fatalf("expected message time to default to now")
	}

	jobs.err = errors.New("broker down")
	if _, err := publisher.DispatchPriceRecompute(context.Background(), services.PriceRecomputeJob{JobID: "job_3"}); err == nil {
		t.Fatalf("expected writer error to surface")
	}

	if err := publisher.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !events.closed || !jobs.closed {
		t.Fatalf("expected both writers closed")
	}
}

func TestNewKafkaPublisherRequiresBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(config.KafkaConfig{}, config.EventsConfig{PromotionTopic: "a", RecomputeTopic: "b"})
	if err == nil {
		t.Fatalf("expected error without brokers")
	}
	publisher, err := NewKafkaPublisher(config.KafkaConfig{Brokers: []string{"localhost:9092"}, Username: "u", Password: "p"}, config.EventsConfig{PromotionTopic: "a", RecomputeTopic: "b"})
	if err != nil {
		t.Fatalf("NewKafkaPublisher: %v", err)
	}
	if w, ok := publisher.promotions.(*kafka.Writer); !ok || w.Topic != "a" {
		t.Fatalf("unexpected promotion writer %#v", publisher.promotions)
	}
	_ = publisher.Close()
}
