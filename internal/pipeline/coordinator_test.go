package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcambel/kinesis2/internal/lib/logger/handlers/slogdiscard"
	"github.com/bcambel/kinesis2/internal/model"
	"github.com/bcambel/kinesis2/internal/normalize"
	"github.com/bcambel/kinesis2/internal/stream"
)

type sinkMock struct {
	saved [][]model.Event
	err   error
}

func (s *sinkMock) SaveEvents(_ context.Context, events []model.Event) error {
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, events)

	return nil
}

type publisherMock struct {
	published []model.Event
	err       error
}

func (p *publisherMock) Publish(_ context.Context, e model.Event) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, e)

	return nil
}

func newTestCoordinator(sizeThreshold int, sink *sinkMock, pub *publisherMock) *Coordinator {
	return NewCoordinator(
		slogdiscard.NewDiscardLogger(),
		normalize.New("/pixel.gif"),
		NewAccumulator(sizeThreshold, time.Hour),
		sink,
		pub,
	)
}

func pixelRecord(seq int) stream.Record {
	payload := fmt.Sprintf(
		`{"method":"get","uri":"/pixel.gif","url":%q,"user_agent":%q}`,
		gofakeit.URL(),
		gofakeit.UserAgent(),
	)

	return stream.Record{
		SequenceNumber: fmt.Sprintf("seq-%d", seq),
		PartitionKey:   "shard-0",
		Payload:        []byte(payload),
	}
}

func TestCoordinator_FlushAndPublish(t *testing.T) {
	sink := &sinkMock{}
	pub := &publisherMock{}
	c := newTestCoordinator(3, sink, pub)

	records := []stream.Record{pixelRecord(0), pixelRecord(1), pixelRecord(2)}

	decision, err := c.OnRecordBatch(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, stream.Advance, decision)

	require.Len(t, sink.saved, 1)
	assert.Len(t, sink.saved[0], 3)

	require.Len(t, pub.published, 3)
	assert.Equal(t, "seq-0", pub.published[0].ID)
	assert.Equal(t, "pv", pub.published[0].EvtType)
}

func TestCoordinator_HoldsBelowThreshold(t *testing.T) {
	sink := &sinkMock{}
	pub := &publisherMock{}
	c := newTestCoordinator(10, sink, pub)

	decision, err := c.OnRecordBatch(context.Background(), []stream.Record{pixelRecord(0)})
	require.NoError(t, err)

	assert.Equal(t, stream.Hold, decision)
	assert.Empty(t, sink.saved)
	assert.Empty(t, pub.published)
}

func TestCoordinator_NoPublishOnHardFailure(t *testing.T) {
	sink := &sinkMock{err: errors.New("connection refused")}
	pub := &publisherMock{}
	c := newTestCoordinator(2, sink, pub)

	decision, err := c.OnRecordBatch(context.Background(), []stream.Record{pixelRecord(0), pixelRecord(1)})
	require.Error(t, err)

	assert.Equal(t, stream.Hold, decision)
	assert.Empty(t, pub.published)
}

func TestCoordinator_DropsMalformedRecords(t *testing.T) {
	sink := &sinkMock{}
	pub := &publisherMock{}
	c := newTestCoordinator(2, sink, pub)

	records := []stream.Record{
		pixelRecord(0),
		{SequenceNumber: "seq-bad", Payload: []byte(`{"method":`)},
		pixelRecord(2),
	}

	decision, err := c.OnRecordBatch(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, stream.Advance, decision)
	require.Len(t, sink.saved, 1)
	assert.Len(t, sink.saved[0], 2)
}

func TestCoordinator_PublishErrorIsBestEffort(t *testing.T) {
	sink := &sinkMock{}
	pub := &publisherMock{err: errors.New("redis gone")}
	c := newTestCoordinator(1, sink, pub)

	decision, err := c.OnRecordBatch(context.Background(), []stream.Record{pixelRecord(0)})
	require.NoError(t, err)

	// the flush succeeded, so the cursor still advances
	assert.Equal(t, stream.Advance, decision)
	require.Len(t, sink.saved, 1)
}

func TestCoordinator_FlushPending(t *testing.T) {
	sink := &sinkMock{}
	pub := &publisherMock{}
	c := newTestCoordinator(100, sink, pub)

	_, err := c.OnRecordBatch(context.Background(), []stream.Record{pixelRecord(0), pixelRecord(1)})
	require.NoError(t, err)
	require.Empty(t, sink.saved)

	require.NoError(t, c.FlushPending(context.Background()))

	require.Len(t, sink.saved, 1)
	assert.Len(t, sink.saved[0], 2)
	assert.Len(t, pub.published, 2)

	// nothing left behind
	require.NoError(t, c.FlushPending(context.Background()))
	assert.Len(t, sink.saved, 1)
}

func TestCoordinator_EmptyBatchEvaluatesTimeTrigger(t *testing.T) {
	sink := &sinkMock{}
	pub := &publisherMock{}

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	acc := newAccumulatorWithClock(100, time.Minute, func() time.Time { return now })

	c := NewCoordinator(
		slogdiscard.NewDiscardLogger(),
		normalize.New("/pixel.gif"),
		acc,
		sink,
		pub,
	)

	_, err := c.OnRecordBatch(context.Background(), []stream.Record{pixelRecord(0)})
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)

	// a quiet stream still delivers empty batches on its cadence
	decision, err := c.OnRecordBatch(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, stream.Advance, decision)
	require.Len(t, sink.saved, 1)
}
