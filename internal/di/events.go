package di

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hanko-field/discounts/internal/platform/config"
	"github.com/hanko-field/discounts/internal/platform/jobs"
	"github.com/hanko-field/discounts/internal/repositories"
	"github.com/hanko-field/discounts/internal/services"
)

// EventTransport publishes promotion lifecycle events and price recompute jobs.
type EventTransport interface {
	services.PromotionEventPublisher
	services.PriceRecomputeDispatcher
	Close(ctx context.Context) error
}

// NewEventTransport connects the transport selected by cfg.Events.Transport. The returned check
// belongs in the readiness probe.
func NewEventTransport(ctx context.Context, cfg config.Config) (EventTransport, repositories.DependencyCheck, error) {
	switch cfg.Events.Transport {
	case config.TransportKafka:
		publisher, err := jobs.NewKafkaPublisher(cfg.Kafka, cfg.Events)
		if err != nil {
			return nil, repositories.DependencyCheck{}, err
		}
		check := repositories.DependencyCheck{Name: "kafka", Check: jobs.KafkaBrokerCheck(cfg.Kafka)}
		return kafkaTransport{publisher}, check, nil
	case config.TransportPubSub:
		var opts []option.ClientOption
		if host := strings.TrimSpace(cfg.PubSub.EmulatorHost); host != "" {
			opts = append(opts,
				option.WithEndpoint(host),
				option.WithoutAuthentication(),
				option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			)
		}
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID, opts...)
		if err != nil {
			return nil, repositories.DependencyCheck{}, fmt.Errorf("pubsub client: %w", err)
		}
		promotions := client.Topic(cfg.Events.PromotionTopic)
		recompute := client.Topic(cfg.Events.RecomputeTopic)
		publisher, err := jobs.NewPubSubPublisher(promotions, recompute)
		if err != nil {
			_ = client.Close()
			return nil, repositories.DependencyCheck{}, err
		}
		check := repositories.DependencyCheck{Name: "pubsub", Check: jobs.PubSubTopicCheck(promotions, recompute)}
		return pubsubTransport{PubSubPublisher: publisher, client: client}, check, nil
	default:
		return nil, repositories.DependencyCheck{}, fmt.Errorf("unknown event transport %q", cfg.Events.Transport)
	}
}

type pubsubTransport struct {
	*jobs.PubSubPublisher
	client *pubsub.Client
}

func (t pubsubTransport) Close(context.Context) error {
	t.Stop()
	return t.client.Close()
}

type kafkaTransport struct {
	*jobs.KafkaPublisher
}

func (t kafkaTransport) Close(context.Context) error {
	return t.KafkaPublisher.Close()
}
