package coordinator

import (
	"context"
	"fmt"

	"github.com/IliaW/page-guard/internal/model"
)

// Result carries the record an event produced, if any.
type Result struct {
	Record *model.VerdictRecord `json:"record,omitempty"`
}

// Dispatch is the single entry point for transports that deliver model.Event envelopes.
func (c *Coordinator) Dispatch(ctx context.Context, ev model.Event) (Result, error) {
	switch ev.Kind {
	case model.EventPageDataArrived:
		if ev.Page == nil || ev.Page.URL == "" {
			return Result{}, fmt.Errorf("%w: page data without url", ErrInvalidEvent)
		}
		rec := c.HandlePageData(ctx, ev.Page, ev.TabID)
		return Result{Record: &rec}, nil
	case model.EventNavigationCompleted:
		c.OnNavigationCompleted(ev.TabID, ev.URL)
		return Result{}, nil
	case model.EventTabClosed:
		c.OnTabClosed(ev.TabID)
		return Result{}, nil
	case model.EventProceedAnyway:
		rec, err := c.ProceedAnyway(ev.TabID)
		if err != nil {
			return Result{}, err
		}
		return Result{Record: &rec}, nil
	case model.EventGetStatus:
		rec := c.GetStatus(ev.TabID)
		return Result{Record: &rec}, nil
	case model.EventGoBack:
		return Result{}, c.GoBack(ctx, ev.TabID)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Kind)
	}
}
