package mq

import (
	"context"
	"errors"
	"fmt"
	"time"

	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// KafkaRelay writes envelopes keyed by partition key, so all events for one order
// land on one partition in order. Every instance reads with its own consumer group
// to see the full stream.
type KafkaRelay struct {
	writer  *kafkaGo.Writer
	brokers []string
	topic   string
	groupID string
	log     *logrus.Entry
}

// Every publish is a single envelope, so the writer must not sit on kafka-go's
// default one second batch window.
const publishBatchTimeout = 5 * time.Millisecond

func NewKafkaRelay(brokers []string, topic, instanceID string, logger *logrus.Logger) *KafkaRelay {
	return &KafkaRelay{
		writer: &kafkaGo.Writer{
			Addr:         kafkaGo.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafkaGo.Hash{},
			BatchTimeout: publishBatchTimeout,
		},
		brokers: brokers,
		topic:   topic,
		groupID: "notifier-" + instanceID,
		log:     logger.WithField("component", "kafka-relay"),
	}
}

func (k *KafkaRelay) Publish(ctx context.Context, env Envelope) error {
	data, err := env.MarshalFrame()
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, kafkaGo.Message{Key: []byte(env.Key), Value: data}); err != nil {
		return fmt.Errorf("kafka publish %s: %w", env.Type, err)
	}
	return nil
}

func (k *KafkaRelay) Subscribe(ctx context.Context, deliver func(Envelope)) error {
	reader := kafkaGo.NewReader(kafkaGo.ReaderConfig{
		Brokers:     k.brokers,
		Topic:       k.topic,
		GroupID:     k.groupID,
		StartOffset: kafkaGo.LastOffset,
	})
	defer reader.Close()

	k.log.Infof("Consuming events from topic '%s' as %s", k.topic, k.groupID)
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			k.log.Errorf("Error reading message: %v", err)
			continue
		}
		env, err := UnmarshalFrame(msg.Value)
		if err != nil {
			k.log.Warnf("Skipping malformed relay payload at offset %d: %v", msg.Offset, err)
			continue
		}
		deliver(env)
	}
}

func (k *KafkaRelay) Close() error {
	return k.writer.Close()
}
