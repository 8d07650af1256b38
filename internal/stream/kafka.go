package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/bcambel/kinesis2/internal/config"
	"github.com/bcambel/kinesis2/internal/lib/logger/sl"
)

// KafkaConsumer is the kafka flavour of the record source, for
// deployments where the collector writes to a topic instead of a
// kinesis stream. Offsets are the checkpoint: fetched messages stay
// uncommitted until a delivery comes back with Advance, so a restart
// replays everything since the last flush and the sink absorbs the
// duplicates.
type KafkaConsumer struct {
	r         *kafka.Reader
	log       *slog.Logger
	handler   Handler
	batchSize int
	batchWait time.Duration
}

func NewKafkaConsumer(cfg *config.Config, log *slog.Logger, h Handler) *KafkaConsumer {
	return &KafkaConsumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Stream.Kafka.Brokers,
			GroupID:  cfg.Stream.Kafka.GroupID,
			Topic:    cfg.Stream.Kafka.Topic,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		log:       log,
		handler:   h,
		batchSize: cfg.Stream.BatchSize,
		batchWait: cfg.Stream.BatchWait,
	}
}

// Run fetches messages into bounded batches and feeds the handler until
// ctx is cancelled. A batch closes on batchSize messages or batchWait
// elapsed, whichever comes first; an empty batch is still delivered so
// the time-based flush trigger keeps firing on a quiet topic.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	const op = "stream.KafkaConsumer.Run"

	defer c.r.Close()

	var pending []kafka.Message

	for {
		if ctx.Err() != nil {
			return nil
		}

		msgs := c.fetchBatch(ctx)

		records := make([]Record, 0, len(msgs))
		for _, m := range msgs {
			records = append(records, Record{
				SequenceNumber: sequenceNumber(m),
				PartitionKey:   string(m.Key),
				Payload:        m.Value,
			})
		}
		pending = append(pending, msgs...)

		decision, err := c.handler.OnRecordBatch(ctx, records)
		if err != nil {
			c.log.Error("record batch failed", sl.Err(err))
			continue
		}

		if decision == Advance && len(pending) > 0 {
			if err := c.r.CommitMessages(ctx, pending...); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%s: %w", op, err)
			}
			pending = nil
		}
	}
}

func (c *KafkaConsumer) fetchBatch(ctx context.Context) []kafka.Message {
	batchCtx, cancel := context.WithTimeout(ctx, c.batchWait)
	defer cancel()

	var msgs []kafka.Message
	for len(msgs) < c.batchSize {
		m, err := c.r.FetchMessage(batchCtx)
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
				c.log.Error("kafka fetch error", sl.Err(err))
			}
			break
		}
		msgs = append(msgs, m)
	}

	return msgs
}

// sequenceNumber maps a kafka coordinate onto the Record contract:
// unique and monotonic within a partition.
func sequenceNumber(m kafka.Message) string {
	return strconv.Itoa(m.Partition) + "-" + strconv.FormatInt(m.Offset, 10)
}
