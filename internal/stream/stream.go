// Package stream adapts external record streams to the pipeline. The
// adapters own the read cursor: the pipeline only reports, per delivered
// batch, whether the cursor may advance.
package stream

import "context"

// Record is one raw unit off the stream. SequenceNumber is unique and
// monotonic within a shard/partition and becomes the event id.
type Record struct {
	SequenceNumber string
	PartitionKey   string
	Payload        []byte
}

// CheckpointDecision is the pipeline's answer to a delivery.
type CheckpointDecision int

const (
	// Hold keeps the cursor where it is: nothing was flushed, or the
	// flush hard-failed.
	Hold CheckpointDecision = iota

	// Advance means the pending events were durably written and the
	// cursor may move past the delivered records.
	Advance
)

// Handler receives delivered record batches. Batches may be empty; the
// adapters deliver on a cadence so time-based flushing stays live even
// on a quiet stream.
type Handler interface {
	OnRecordBatch(ctx context.Context, records []Record) (CheckpointDecision, error)
}
