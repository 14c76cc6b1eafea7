package worker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/IliaW/page-guard/internal/coordinator"
	"github.com/IliaW/page-guard/internal/model"
	"github.com/IliaW/page-guard/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	mu     sync.Mutex
	events []model.Event
	err    error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, ev model.Event) (coordinator.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	if f.err != nil {
		return coordinator.Result{}, f.err
	}
	rec := model.PendingPlaceholder()
	return coordinator.Result{Record: &rec}, nil
}

type fakeDLQ struct {
	mu   sync.Mutex
	urls []string
	errs []error
}

func (f *fakeDLQ) SendUrlToDLQ(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	f.errs = append(f.errs, err)
}

func run(t *testing.T, d Dispatcher, messages ...string) (*fakeDLQ, int64, int64) {
	t.Helper()
	in := make(chan *string, len(messages))
	for _, m := range messages {
		m := m
		in <- &m
	}
	close(in)

	var mu sync.Mutex
	var processed, failed int64
	metrics := telemetry.NoopAppMetrics()
	metrics.ProcessedEventCnt = func(n int64) { mu.Lock(); processed += n; mu.Unlock() }
	metrics.FailedEventCounter = func(n int64) { mu.Lock(); failed += n; mu.Unlock() }

	dlq := &fakeDLQ{}
	wg := &sync.WaitGroup{}
	w := &EventWorker{InputSqsChan: in, Dispatcher: d, Wg: wg, DLQ: dlq, Metrics: metrics}
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go w.Run()
	}
	wg.Wait()
	return dlq, processed, failed
}

func TestEventWorkerDispatches(t *testing.T) {
	d := &fakeDispatcher{}
	dlq, processed, failed := run(t, d,
		`{"kind":"page_data","tab_id":7,"page":{"url":"https://example.com"}}`,
		`{"kind":"tab_closed","tab_id":7}`,
	)

	assert.Equal(t, int64(2), processed)
	assert.Zero(t, failed)
	assert.Empty(t, dlq.urls)
	require.Len(t, d.events, 2)
	kinds := []model.EventKind{d.events[0].Kind, d.events[1].Kind}
	assert.ElementsMatch(t, []model.EventKind{model.EventPageDataArrived, model.EventTabClosed}, kinds)
}

func TestEventWorkerMalformedMessage(t *testing.T) {
	d := &fakeDispatcher{}
	dlq, processed, failed := run(t, d, `not json`)

	assert.Zero(t, processed)
	assert.Equal(t, int64(1), failed)
	require.Len(t, dlq.urls, 1)
	assert.Equal(t, "not json", dlq.urls[0])
	assert.ErrorIs(t, dlq.errs[0], MalformedEventError)
	assert.Empty(t, d.events)
}

func TestEventWorkerDispatchError(t *testing.T) {
	d := &fakeDispatcher{err: coordinator.ErrNotFound}
	dlq, processed, failed := run(t, d, `{"kind":"navigation_completed","tab_id":1,"url":"https://a.test"}`)

	assert.Zero(t, processed)
	assert.Equal(t, int64(1), failed)
	require.Len(t, dlq.urls, 1)
	assert.Equal(t, "https://a.test", dlq.urls[0])
	assert.True(t, errors.Is(dlq.errs[0], coordinator.ErrNotFound))
}
