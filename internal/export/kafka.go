package export

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSink writes messages to one topic. The kind travels as a header.
type KafkaSink struct {
	w *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		Async:                  false,
	}}
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Publish(ctx context.Context, m Message) error {
	if err := k.w.WriteMessages(ctx, kafkaMessage(m, time.Now())); err != nil {
		return fmt.Errorf("writing to %s: %w", k.w.Topic, err)
	}
	return nil
}

func (k *KafkaSink) Close() error { return k.w.Close() }

func kafkaMessage(m Message, now time.Time) kafka.Message {
	return kafka.Message{
		Key:     []byte(m.Key),
		Value:   m.Payload,
		Headers: []kafka.Header{{Key: "kind", Value: []byte(m.Kind)}},
		Time:    now,
	}
}
