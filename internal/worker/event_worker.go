package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IliaW/page-guard/internal/broker"
	"github.com/IliaW/page-guard/internal/coordinator"
	"github.com/IliaW/page-guard/internal/model"
	"github.com/IliaW/page-guard/internal/telemetry"
)

var (
	MalformedEventError = errors.New("malformed event")
)

type Dispatcher interface {
	Dispatch(ctx context.Context, ev model.Event) (coordinator.Result, error)
}

// EventWorker feeds queued browser events into the coordinator.
type EventWorker struct {
	InputSqsChan <-chan *string
	Dispatcher   Dispatcher
	Wg           *sync.WaitGroup
	DLQ          broker.DeadLetterQueue
	Metrics      *telemetry.AppMetrics
}

func (w *EventWorker) Run() {
	defer w.Wg.Done()
	slog.Debug("start event worker")

	for str := range w.InputSqsChan {
		// Expected string format: {"kind": "page_data", "tab_id": 7, "page": {"url": "https://example.com"}}
		var ev model.Event
		if err := json.Unmarshal([]byte(*str), &ev); err != nil {
			slog.Error("failed to unmarshal the event.", slog.String("event", *str),
				slog.String("err", err.Error()))
			w.DLQ.SendUrlToDLQ(*str, fmt.Errorf("%w: %s", MalformedEventError, err.Error()))
			w.Metrics.FailedEventCounter(1)
			continue
		}

		res, err := w.Dispatcher.Dispatch(context.Background(), ev)
		if err != nil {
			slog.Error("failed to dispatch the event.", slog.String("kind", string(ev.Kind)),
				slog.Int("tab_id", ev.TabID), slog.String("err", err.Error()))
			w.DLQ.SendUrlToDLQ(eventURL(ev, *str), err)
			w.Metrics.FailedEventCounter(1)
			continue
		}
		if res.Record != nil {
			slog.Debug("event processed.", slog.String("kind", string(ev.Kind)), slog.Int("tab_id", ev.TabID),
				slog.String("status", string(res.Record.Status)))
		}
		w.Metrics.ProcessedEventCnt(1)
	}
}

// eventURL picks the url the DLQ message is keyed by, falling back to the raw message.
func eventURL(ev model.Event, raw string) string {
	if ev.Page != nil && ev.Page.URL != "" {
		return ev.Page.URL
	}
	if ev.URL != "" {
		return ev.URL
	}
	return raw
}
