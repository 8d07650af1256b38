package pipeline

import (
	"sync"
	"time"

	"github.com/bcambel/kinesis2/internal/metrics"
	"github.com/bcambel/kinesis2/internal/model"
)

// Accumulator is the only shared mutable state in the pipeline: a
// mutex-guarded buffer of events waiting for a flush. Concurrent
// deliveries append through Offer; the trigger check, the snapshot and
// the clear happen in one critical section so an offered event lands in
// exactly one snapshot.
type Accumulator struct {
	mu        sync.Mutex
	events    []model.Event
	lastFlush time.Time

	sizeThreshold int
	interval      time.Duration
	now           func() time.Time
}

func NewAccumulator(sizeThreshold int, interval time.Duration) *Accumulator {
	return newAccumulatorWithClock(sizeThreshold, interval, time.Now)
}

func newAccumulatorWithClock(sizeThreshold int, interval time.Duration, now func() time.Time) *Accumulator {
	return &Accumulator{
		sizeThreshold: sizeThreshold,
		interval:      interval,
		now:           now,
		lastFlush:     now(),
	}
}

func (a *Accumulator) Offer(e model.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.events = append(a.events, e)
	metrics.AccumulatorDepth.Set(float64(len(a.events)))
}

// TakeIfDue evaluates the flush trigger and, when it fires, drains the
// buffer atomically. Returns nil when no flush is due. An empty buffer
// never flushes, whatever the clock says.
func (a *Accumulator) TakeIfDue() []model.Event {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.events) == 0 {
		return nil
	}

	now := a.now()
	if len(a.events) < a.sizeThreshold && now.Before(a.lastFlush.Add(a.interval)) {
		return nil
	}

	return a.drain(now)
}

// TakeAll drains unconditionally; used on shutdown so accumulated
// events are not lost to the trigger.
func (a *Accumulator) TakeAll() []model.Event {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.events) == 0 {
		return nil
	}

	return a.drain(a.now())
}

// drain must run under a.mu. The buffer is replaced, never resliced, so
// the returned snapshot is immune to later appends.
func (a *Accumulator) drain(now time.Time) []model.Event {
	snapshot := a.events
	a.events = nil
	a.lastFlush = now
	metrics.AccumulatorDepth.Set(0)

	return snapshot
}

func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.events)
}
