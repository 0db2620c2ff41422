package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/hanko-field/discounts/internal/services"
)

// PubSubPublisher publishes promotion lifecycle events and price recompute jobs to Pub/Sub topics.
type PubSubPublisher struct {
	promotions *pubsub.Topic
	recompute  *pubsub.Topic
	marshal    func(any) ([]byte, error)
}

// NewPubSubPublisher constructs a Pub/Sub backed publisher.
func NewPubSubPublisher(promotions, recompute *pubsub.Topic) (*PubSubPublisher, error) {
	if promotions == nil {
		return nil, errors.New("pubsub publisher: promotion topic is required")
	}
	if recompute == nil {
		return nil, errors.New("pubsub publisher: recompute topic is required")
	}
	// Promotion events for one promotion must arrive in order.
	promotions.EnableMessageOrdering = true
	return &PubSubPublisher{
		promotions: promotions,
		recompute:  recompute,
		marshal:    json.Marshal,
	}, nil
}

// PublishPromotionEvent publishes a promotion_started or promotion_ended event.
func (p *PubSubPublisher) PublishPromotionEvent(ctx context.Context, event services.PromotionEvent) (string, error) {
	if p == nil || p.promotions == nil {
		return "", errors.New("pubsub publisher: not initialised")
	}
	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal promotion event: %w", err)
	}

	attrs := eventAttributes(event)
	result := p.promotions.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: strings.TrimSpace(event.PromotionID),
	})
	id, err := result.Get(ctx)
	if err != nil {
		p.promotions.ResumePublish(strings.TrimSpace(event.PromotionID))
		return "", fmt.Errorf("publish promotion event: %w", err)
	}
	return id, nil
}

// DispatchPriceRecompute enqueues a discounted price recompute job.
func (p *PubSubPublisher) DispatchPriceRecompute(ctx context.Context, job services.PriceRecomputeJob) (string, error) {
	if p == nil || p.recompute == nil {
		return "", errors.New("pubsub publisher: not initialised")
	}
	data, err := p.marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal price recompute job: %w", err)
	}

	result := p.recompute.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: jobAttributes(job),
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish price recompute job: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages on both topics.
func (p *PubSubPublisher) Stop() {
	if p == nil {
		return
	}
	p.promotions.Stop()
	p.recompute.Stop()
}

func eventAttributes(event services.PromotionEvent) map[string]string {
	attrs := make(map[string]string)
	setAttr(attrs, "eventId", event.EventID)
	setAttr(attrs, "type", string(event.Type))
	setAttr(attrs, "promotionId", event.PromotionID)
	return attrs
}

func jobAttributes(job services.PriceRecomputeJob) map[string]string {
	attrs := make(map[string]string)
	setAttr(attrs, "jobId", job.JobID)
	setAttr(attrs, "reason", job.Reason)
	return attrs
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
