package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rileyhilliard/proxymon/internal/collector"
	"github.com/rileyhilliard/proxymon/internal/errors"
	"github.com/segmentio/kafka-go"
)

// KafkaOptions configures the Kafka sink.
type KafkaOptions struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes each sample as a JSON message keyed by proxy id.
type KafkaSink struct {
	topic  string
	writer messageWriter
}

// NewKafkaSink creates a sink writing to opts.Topic.
func NewKafkaSink(opts KafkaOptions) (*KafkaSink, error) {
	if len(opts.Brokers) == 0 || opts.Topic == "" {
		return nil, errors.New(errors.ErrConfig, "Kafka sink needs brokers and a topic",
			"Set kafka.brokers and kafka.topic, or disable the sink")
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = 100 * time.Millisecond
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(opts.Brokers...),
		Topic:        opts.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: opts.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaSink{topic: opts.Topic, writer: w}, nil
}

// Name implements Sink.
func (k *KafkaSink) Name() string { return "kafka:" + k.topic }

// Write implements Sink.
func (k *KafkaSink) Write(ctx context.Context, samples []collector.Sample) error {
	msgs := make([]kafka.Message, 0, len(samples))
	for _, s := range samples {
		value, err := json.Marshal(s)
		if err != nil {
			return errors.WrapWithCode(err, errors.ErrTransport,
				fmt.Sprintf("Can't encode sample of proxy %d", s.ProxyID), "")
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(strconv.FormatInt(s.ProxyID, 10)),
			Value: value,
			Time:  s.CollectedAt,
		})
	}
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return errors.WrapWithCode(err, errors.ErrTransport,
			fmt.Sprintf("Failed to publish %d sample(s) to %s", len(msgs), k.topic), "")
	}
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
