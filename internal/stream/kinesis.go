package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"

	"github.com/bcambel/kinesis2/internal/config"
	"github.com/bcambel/kinesis2/internal/lib/logger/sl"
)

// KinesisConsumer reads every shard of one stream and feeds the handler.
// Checkpoints are per-shard sequence numbers kept in memory and advanced
// only on an Advance decision; after a crash the shard replays from the
// iterator start, which the idempotent sink absorbs.
type KinesisConsumer struct {
	client     *kinesis.Client
	log        *slog.Logger
	handler    Handler
	streamName string
	batchSize  int32
	batchWait  time.Duration
}

// NewKinesisConsumer builds a consumer with explicit configuration; AWS
// credentials resolve through the default provider chain, no global
// state is mutated.
func NewKinesisConsumer(ctx context.Context, cfg *config.Config, log *slog.Logger, h Handler) (*KinesisConsumer, error) {
	const op = "stream.NewKinesisConsumer"

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Stream.Kinesis.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &KinesisConsumer{
		client:     kinesis.NewFromConfig(awsCfg),
		log:        log,
		handler:    h,
		streamName: cfg.Stream.Kinesis.StreamName,
		batchSize:  int32(cfg.Stream.BatchSize),
		batchWait:  cfg.Stream.BatchWait,
	}, nil
}

// Run consumes all shards until ctx is cancelled.
func (c *KinesisConsumer) Run(ctx context.Context) error {
	const op = "stream.KinesisConsumer.Run"

	shards, err := c.listShards(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	c.log.Info("starting kinesis consumer",
		slog.String("stream", c.streamName),
		slog.Int("shards", len(shards)),
	)

	var wg sync.WaitGroup
	for _, shardID := range shards {
		wg.Add(1)
		go func(shardID string) {
			defer wg.Done()
			c.consumeShard(ctx, shardID)
		}(shardID)
	}
	wg.Wait()

	return nil
}

func (c *KinesisConsumer) listShards(ctx context.Context) ([]string, error) {
	out, err := c.client.ListShards(ctx, &kinesis.ListShardsInput{
		StreamName: aws.String(c.streamName),
	})
	if err != nil {
		return nil, err
	}

	shards := make([]string, 0, len(out.Shards))
	for _, s := range out.Shards {
		shards = append(shards, aws.ToString(s.ShardId))
	}

	return shards, nil
}

func (c *KinesisConsumer) consumeShard(ctx context.Context, shardID string) {
	log := c.log.With(slog.String("shard", shardID))

	var checkpoint string

	it, err := c.shardIterator(ctx, shardID, checkpoint)
	if err != nil {
		log.Error("cannot obtain shard iterator", sl.Err(err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		out, err := c.client.GetRecords(ctx, &kinesis.GetRecordsInput{
			ShardIterator: it,
			Limit:         aws.Int32(c.batchSize),
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			var expired *types.ExpiredIteratorException
			if errors.As(err, &expired) {
				it, err = c.shardIterator(ctx, shardID, checkpoint)
				if err != nil {
					log.Error("cannot refresh shard iterator", sl.Err(err))
					return
				}
				continue
			}

			log.Error("get records failed, retrying...", sl.Err(err))
			sleep(ctx, c.batchWait)
			continue
		}

		records := make([]Record, 0, len(out.Records))
		for _, r := range out.Records {
			records = append(records, Record{
				SequenceNumber: aws.ToString(r.SequenceNumber),
				PartitionKey:   aws.ToString(r.PartitionKey),
				Payload:        r.Data,
			})
		}

		decision, err := c.handler.OnRecordBatch(ctx, records)
		if err != nil {
			log.Error("record batch failed", sl.Err(err))
		}
		if decision == Advance && len(records) > 0 {
			checkpoint = records[len(records)-1].SequenceNumber
		}

		if out.NextShardIterator == nil {
			log.Info("shard closed")
			return
		}
		it = out.NextShardIterator

		// GetRecords is rate limited per shard; pace the loop
		sleep(ctx, c.batchWait)
	}
}

// shardIterator resumes after the checkpoint when there is one and
// starts from the oldest retained record otherwise.
func (c *KinesisConsumer) shardIterator(ctx context.Context, shardID, checkpoint string) (*string, error) {
	in := &kinesis.GetShardIteratorInput{
		StreamName:        aws.String(c.streamName),
		ShardId:           aws.String(shardID),
		ShardIteratorType: types.ShardIteratorTypeTrimHorizon,
	}
	if checkpoint != "" {
		in.ShardIteratorType = types.ShardIteratorTypeAfterSequenceNumber
		in.StartingSequenceNumber = aws.String(checkpoint)
	}

	out, err := c.client.GetShardIterator(ctx, in)
	if err != nil {
		return nil, err
	}

	return out.ShardIterator, nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
