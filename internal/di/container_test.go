package di

import (
	"context"
	"testing"

	"github.com/hanko-field/discounts/internal/platform/config"
)

func TestNewContainerRequiresRegistryAndTransport(t *testing.T) {
	if _, err := NewContainer(config.Config{}, nil, nil); err == nil {
		t.Fatal("expected error without registry")
	}
}

func TestNewEventTransportRejectsUnknownTransport(t *testing.T) {
	_, _, err := NewEventTransport(context.Background(), config.Config{Events: config.EventsConfig{Transport: "carrier-pigeon"}})
	if err == nil {
		t.Fatal("expected unknown transport error")
	}
}

func TestNewEventTransportKafka(t *testing.T) {
	cfg := config.Config{
		Events: config.EventsConfig{Transport: config.TransportKafka, PromotionTopic: "promotions", RecomputeTopic: "recompute"},
		Kafka:  config.KafkaConfig{Brokers: []string{"localhost:9092"}, ClientID: "discounts-test"},
	}
	transport, check, err := NewEventTransport(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer transport.Close(context.Background())
	if check.Name != "kafka" || check.Check == nil {
		t.Fatalf("unexpected readiness check %+v", check)
	}
}
