package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"

	"github.com/hanko-field/discounts/internal/platform/config"
)

// PubSubTopicCheck reports whether every topic exists. Missing topics would make every publish fail.
func PubSubTopicCheck(topics ...*pubsub.Topic) func(context.Context) error {
	return func(ctx context.Context) error {
		for _, topic := range topics {
			if topic == nil {
				continue
			}
			ok, err := topic.Exists(ctx)
			if err != nil {
				return fmt.Errorf("pubsub topic %s: %w", topic.ID(), err)
			}
			if !ok {
				return fmt.Errorf("pubsub topic %s does not exist", topic.ID())
			}
		}
		return nil
	}
}

// KafkaBrokerCheck succeeds when at least one configured broker accepts a connection.
func KafkaBrokerCheck(cfg config.KafkaConfig) func(context.Context) error {
	dialer := &kafka.Dialer{ClientID: cfg.ClientID}
	if strings.TrimSpace(cfg.Username) != "" {
		dialer.SASLMechanism = plain.Mechanism{Username: cfg.Username, Password: cfg.Password}
	}
	return func(ctx context.Context) error {
		var errs []error
		for _, broker := range cfg.Brokers {
			conn, err := dialer.DialContext(ctx, "tcp", broker)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			_ = conn.Close()
			return nil
		}
		if len(errs) == 0 {
			return errors.New("kafka: no brokers configured")
		}
		return errors.Join(errs...)
	}
}
