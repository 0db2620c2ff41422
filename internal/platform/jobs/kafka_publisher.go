package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"

	"github.com/hanko-field/discounts/internal/platform/config"
	"github.com/hanko-field/discounts/internal/services"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes promotion events and price recompute jobs to Kafka topics.
// Messages are keyed so that events of one promotion land on the same partition.
type KafkaPublisher struct {
	promotions messageWriter
	recompute  messageWriter
	marshal    func(any) ([]byte, error)
}

// NewKafkaPublisher builds writers for the configured brokers and topics.
func NewKafkaPublisher(kafkaCfg config.KafkaConfig, eventsCfg config.EventsConfig) (*KafkaPublisher, error) {
	if len(kafkaCfg.Brokers) == 0 {
		return nil, errors.New("kafka publisher: at least one broker is required")
	}
	transport := &kafka.Transport{ClientID: kafkaCfg.ClientID}
	if strings.TrimSpace(kafkaCfg.Username) != "" {
		transport.SASL = plain.Mechanism{Username: kafkaCfg.Username, Password: kafkaCfg.Password}
	}
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:                   kafka.TCP(kafkaCfg.Brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           kafkaCfg.BatchTimeout,
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: false,
			Transport:              transport,
		}
	}
	return newKafkaPublisher(newWriter(eventsCfg.PromotionTopic), newWriter(eventsCfg.RecomputeTopic))
}

func newKafkaPublisher(promotions, recompute messageWriter) (*KafkaPublisher, error) {
	if promotions == nil || recompute == nil {
		return nil, errors.New("kafka publisher: writers are required")
	}
	return &KafkaPublisher{promotions: promotions, recompute: recompute, marshal: json.Marshal}, nil
}

// PublishPromotionEvent writes a promotion lifecycle event keyed by promotion ID.
func (p *KafkaPublisher) PublishPromotionEvent(ctx context.Context, event services.PromotionEvent) (string, error) {
	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal promotion event: %w", err)
	}
	msg := kafka.Message{
		Key:     []byte(event.PromotionID),
		Value:   data,
		Headers: headers(eventAttributes(event)),
		Time:    event.OccurredAt,
	}
	if err := p.promotions.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("publish promotion event: %w", err)
	}
	return event.EventID, nil
}

// DispatchPriceRecompute writes a price recompute job keyed by job ID.
func (p *KafkaPublisher) DispatchPriceRecompute(ctx context.Context, job services.PriceRecomputeJob) (string, error) {
	data, err := p.marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal price recompute job: %w", err)
	}
	at := job.QueuedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	msg := kafka.Message{
		Key:     []byte(job.JobID),
		Value:   data,
		Headers: headers(jobAttributes(job)),
		Time:    at,
	}
	if err := p.recompute.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("publish price recompute job: %w", err)
	}
	return job.JobID, nil
}

// Close flushes and closes both writers.
func (p *KafkaPublisher) Close() error {
	return errors.Join(p.promotions.Close(), p.recompute.Close())
}

func headers(attrs map[string]string) []kafka.Header {
	out := make([]kafka.Header, 0, len(attrs))
	for _, key := range []string{"eventId", "type", "promotionId", "jobId", "reason"} {
		if value, ok := attrs[key]; ok {
			out = append(out, kafka.Header{Key: key, Value: []byte(value)})
		}
	}
	return out
}
