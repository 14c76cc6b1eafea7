package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/IliaW/page-guard/internal/domain"
	"github.com/IliaW/page-guard/internal/model"
	"github.com/IliaW/page-guard/internal/payload"
)

// Notifier delivers an alert about a dangerous or suspicious page. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

// Build assembles the alert for a freshly classified record. The body holds the domain
// and the explanation cut to explainLimit runes.
func Build(tabID int, rec model.VerdictRecord, explainLimit int) model.Notification {
	host, ok := domain.Of(rec.URL)
	if !ok {
		host = rec.URL
	}
	n := model.Notification{
		TabID:    tabID,
		Body:     fmt.Sprintf("%s: %s", host, payload.Truncate(rec.Explanation, explainLimit)),
		Severity: rec.Status,
	}
	switch rec.Status {
	case model.StatusDangerous:
		n.Title = "Dangerous website detected"
		n.Actions = []model.NotificationAction{model.ActionGoBack, model.ActionViewDetails}
	default:
		n.Title = "Suspicious website"
	}

	return n
}

// LogNotifier writes the alert to the log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n model.Notification) error {
	slog.Warn(n.Title+".", slog.Int("tab_id", n.TabID), slog.String("severity", string(n.Severity)),
		slog.String("body", n.Body))
	return nil
}

// Multi fans out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n model.Notification) error {
	var errs []error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
