// Package pipeline ties normalization, accumulation, persistence and
// fan-out together. The coordinator is invoked by the stream adapter
// once per delivered record batch and answers with a checkpoint
// decision.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bcambel/kinesis2/internal/lib/logger/sl"
	"github.com/bcambel/kinesis2/internal/metrics"
	"github.com/bcambel/kinesis2/internal/model"
	"github.com/bcambel/kinesis2/internal/normalize"
	"github.com/bcambel/kinesis2/internal/stream"
)

// Sink durably persists one flushed snapshot. An error is a hard
// failure: the snapshot must not be fanned out.
type Sink interface {
	SaveEvents(ctx context.Context, events []model.Event) error
}

// Publisher emits one persisted event to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, e model.Event) error
}

type Coordinator struct {
	log  *slog.Logger
	norm *normalize.Normalizer
	acc  *Accumulator
	sink Sink
	pub  Publisher
}

func NewCoordinator(
	log *slog.Logger,
	norm *normalize.Normalizer,
	acc *Accumulator,
	sink Sink,
	pub Publisher,
) *Coordinator {
	return &Coordinator{
		log:  log,
		norm: norm,
		acc:  acc,
		sink: sink,
		pub:  pub,
	}
}

// OnRecordBatch normalizes and accumulates every record, then flushes
// if the trigger fires. Advance is returned only after a successful
// flush; Hold tells the adapter to keep its cursor where it is. A batch
// may be empty: the adapter still calls in on its delivery cadence so
// the time trigger gets evaluated.
func (c *Coordinator) OnRecordBatch(ctx context.Context, records []stream.Record) (stream.CheckpointDecision, error) {
	const op = "pipeline.OnRecordBatch"

	for _, r := range records {
		e, err := c.norm.Normalize(r.SequenceNumber, r.Payload)
		if err != nil {
			c.log.Warn("dropping malformed record",
				slog.String("sequence_number", r.SequenceNumber),
				sl.Err(err),
			)
			metrics.EventsDroppedTotal.Inc()
			continue
		}

		c.acc.Offer(e)
		metrics.EventsIngestedTotal.Inc()
	}

	snapshot := c.acc.TakeIfDue()
	if snapshot == nil {
		return stream.Hold, nil
	}

	if err := c.flush(ctx, snapshot); err != nil {
		return stream.Hold, fmt.Errorf("%s: %w", op, err)
	}

	return stream.Advance, nil
}

// FlushPending drains whatever is accumulated regardless of the
// trigger. Called on shutdown.
func (c *Coordinator) FlushPending(ctx context.Context) error {
	const op = "pipeline.FlushPending"

	snapshot := c.acc.TakeAll()
	if snapshot == nil {
		return nil
	}

	if err := c.flush(ctx, snapshot); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// flush persists a snapshot and then, only then, fans it out. A publish
// error is best effort: logged and not retried.
func (c *Coordinator) flush(ctx context.Context, snapshot []model.Event) error {
	start := time.Now()

	if err := c.sink.SaveEvents(ctx, snapshot); err != nil {
		c.log.Error("flush failed",
			slog.Int("events", len(snapshot)),
			sl.Err(err),
		)
		return err
	}

	metrics.FlushDuration.Observe(time.Since(start).Seconds())
	metrics.FlushesTotal.Inc()

	for _, e := range snapshot {
		if err := c.pub.Publish(ctx, e); err != nil {
			c.log.Warn("publish failed",
				slog.String("id", e.ID),
				sl.Err(err),
			)
			metrics.PublishFailuresTotal.Inc()
		}
	}

	c.log.Info("flushed batch",
		slog.Int("events", len(snapshot)),
		slog.Duration("took", time.Since(start)),
	)

	return nil
}
