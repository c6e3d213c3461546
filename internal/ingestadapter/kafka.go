package ingestadapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"glasswally/internal/errkind"
	"glasswally/internal/event"
)

// KafkaConsumer decodes the same Event JSON contract as JSONLTailer but
// reads it from a Kafka topic, for deployments that front Glasswally
// with a broker instead of a log-tailed file. Its fetch/handle/commit
// loop and atomic counters follow the consumer shape used for the
// retrieved pack's own Kafka ingestion, trimmed to the single
// consumer-group-less reader this system needs.
type KafkaConsumer struct {
	reader *kafkago.Reader
	sink   Sink
	log    *slog.Logger
	Stats  Stats
}

// KafkaConfig is the minimal broker/topic/group configuration Glasswally
// needs; TLS, SASL and topic administration are out of scope here.
type KafkaConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
	MinBytes      int
	MaxBytes      int
	MaxWait       time.Duration
}

// NewKafkaConsumer builds a consumer over cfg.Topic. It does not connect
// until Run is called.
func NewKafkaConsumer(cfg KafkaConfig, sink Sink, log *slog.Logger) (*KafkaConsumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("ingestadapter: at least one kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("ingestadapter: kafka topic is required")
	}
	if log == nil {
		log = slog.Default()
	}
	minBytes := cfg.MinBytes
	if minBytes <= 0 {
		minBytes = 1
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = time.Second
	}

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       minBytes,
		MaxBytes:       maxBytes,
		MaxWait:        maxWait,
		CommitInterval: time.Second,
		Logger: kafkago.LoggerFunc(func(msg string, args ...interface{}) {
			log.Debug(fmt.Sprintf(msg, args...), "component", "kafka-reader")
		}),
		ErrorLogger: kafkago.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error(fmt.Sprintf(msg, args...), "component", "kafka-reader")
		}),
	})

	return &KafkaConsumer{reader: reader, sink: sink, log: log}, nil
}

// Run fetches and decodes messages until ctx is cancelled. A decode
// failure is counted and the message is committed anyway rather than
// retried forever, matching the file adapters' skip-and-count behavior
// for malformed input.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			return fmt.Errorf("ingestadapter: fetch kafka message: %w", err)
		}

		ev, decodeErr := event.DecodeLine(msg.Value)
		if decodeErr != nil {
			c.Stats.Skipped.Add(1)
			c.log.Warn("skipping malformed kafka message", "error", errkind.New(errkind.InputParse, "KafkaConsumer.Run", decodeErr),
				"partition", msg.Partition, "offset", msg.Offset)
		} else {
			c.Stats.Decoded.Add(1)
			c.sink(ev)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.Error("failed to commit kafka offset", "error", err, "offset", msg.Offset)
		}
	}
}
