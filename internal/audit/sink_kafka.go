package audit

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/segmentio/kafka-go"
	"github.com/yanun0323/errors"
)

// KafkaSink publishes events as JSON messages keyed by kind.
type KafkaSink struct {
	writer *kafka.Writer
	market string
}

func NewKafkaSink(brokers []string, topic, market string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
		market: market,
	}
}

type kafkaPayload struct {
	Market  string    `json:"market"`
	Kind    Kind      `json:"kind"`
	Details string    `json:"details"`
	Time    time.Time `json:"time"`
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Handle(ctx context.Context, ev Event) error {
	value, err := sonic.ConfigFastest.Marshal(kafkaPayload{
		Market:  s.market,
		Kind:    ev.Kind,
		Details: ev.Details,
		Time:    ev.Time,
	})
	if err != nil {
		return errors.Wrap(err, "marshal kafka payload")
	}

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Kind.String()),
		Value: value,
	})
	if err != nil {
		return errors.Wrapf(err, "write %s event to %s", ev.Kind, s.writer.Topic)
	}

	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
