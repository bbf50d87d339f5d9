package retention

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/relaybot/engine/internal/cronjob"
	"github.com/relaybot/engine/internal/model"
)

type fakeStore struct {
	mu     sync.Mutex
	calls  int
	pruned []int // pruned count to return on each successive call
}

func (f *fakeStore) RecordSend(ctx context.Context, e model.SendLogEntry) error { return nil }
func (f *fakeStore) ForwardLookup(ctx context.Context, a, b string) ([]model.SendLogEntry, error) {
	return nil, nil
}
func (f *fakeStore) ReverseLookup(ctx context.Context, a, b string) (*model.SendLogEntry, error) {
	return nil, nil
}
func (f *fakeStore) PruneSendLogBefore(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls >= len(f.pruned) {
		return 0, nil
	}
	n := f.pruned[f.calls]
	f.calls++
	return n, nil
}

func TestSweepStopsOnShortBatch(t *testing.T) {
	// One full round of concurrentBatches at capacity, then a round whose
	// first batch comes back short: the fake store's call counter only
	// advances while entries remain, so the round's other in-flight
	// batches land on an exhausted store and no-op rather than advance it.
	store := &fakeStore{pruned: []int{batchSize, batchSize, batchSize, batchSize, 42}}
	s := New(store, cronjob.ScheduleEvery, "1h")
	defer s.pool.StopAndWait()

	s.Sweep(context.Background())

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.calls != 5 {
		t.Errorf("expected sweep to stop after consuming the short batch, got %d calls", store.calls)
	}
}

func TestSweepNoRowsMakesOneCall(t *testing.T) {
	store := &fakeStore{pruned: []int{0}}
	s := New(store, cronjob.ScheduleEvery, "1h")
	defer s.pool.StopAndWait()

	s.Sweep(context.Background())

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.calls != 1 {
		t.Errorf("expected exactly one no-op batch call, got %d calls", store.calls)
	}
}

func TestStartAndStop(t *testing.T) {
	store := &fakeStore{pruned: []int{0}}
	s := New(store, cronjob.ScheduleEvery, "1ms")

	s.Start(context.Background())
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.calls == 0 {
		t.Error("expected at least one sweep to have run")
	}
}
