package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/IliaW/page-guard/internal/broker"
	"github.com/IliaW/page-guard/internal/cache"
	"github.com/IliaW/page-guard/internal/classifier"
	"github.com/IliaW/page-guard/internal/domain"
	"github.com/IliaW/page-guard/internal/model"
	"github.com/IliaW/page-guard/internal/notifier"
	"github.com/IliaW/page-guard/internal/payload"
	"github.com/IliaW/page-guard/internal/persistence"
	"github.com/IliaW/page-guard/internal/store"
	"github.com/IliaW/page-guard/internal/telemetry"
)

const (
	ExplainTrustedDomain     = "trusted domain"
	ExplainSessionOverride   = "user proceeded earlier this session"
	ExplainUserOverride      = "user override"
	ExplainPending           = "classification in progress"
	ExplainMissingCredential = "credential missing: add an API key in the extension settings"
	ExplainBudgetExhausted   = "classification limit reached for this domain, try again later"
	ExplainShuttingDown      = "service is shutting down"

	DefaultCacheTTL              = 3 * time.Minute
	DefaultClassificationTimeout = 45 * time.Second
	DefaultExplainLimit          = 120
)

type Classifier interface {
	Classify(ctx context.Context, apiKey string, payload string) (string, error)
}

type CredentialSource interface {
	Load() (string, error)
}

// UISurface receives every record a tab gets. Publish must not block.
type UISurface interface {
	Publish(tabID int, rec model.VerdictRecord)
}

// Navigator performs browser navigation on behalf of the user.
type Navigator interface {
	GoBack(ctx context.Context, tabID int) error
}

// Deps wires the coordinator. Whitelist, Classifier and Credentials are required;
// the remaining collaborators fall back to no-ops.
type Deps struct {
	Whitelist             *domain.Whitelist
	Results               *store.ResultStore
	Overrides             *store.OverrideSet
	Payload               *payload.Builder
	Classifier            Classifier
	Credentials           CredentialSource
	Budget                cache.CachedClient
	UI                    UISurface
	Navigator             Navigator
	Notifier              notifier.Notifier
	History               persistence.VerdictStorage
	VerdictChan           chan<- *model.VerdictEvent
	DLQ                   broker.DeadLetterQueue
	Metrics               *telemetry.AppMetrics
	CacheTTL              time.Duration
	ClassificationTimeout time.Duration
	ExplainLimit          int
	InstanceID            string
	Now                   func() time.Time
}

// Coordinator decides for every page load whether a verdict can be produced locally
// (trusted domain, session override, fresh cache) or the classifier has to be asked.
// It owns the result store and the override set.
type Coordinator struct {
	whitelist   *domain.Whitelist
	results     *store.ResultStore
	overrides   *store.OverrideSet
	payload     *payload.Builder
	classifier  Classifier
	credentials CredentialSource
	budget      cache.CachedClient
	ui          UISurface
	navigator   Navigator
	notifier    notifier.Notifier
	history     persistence.VerdictStorage
	verdictChan chan<- *model.VerdictEvent
	dlq         broker.DeadLetterQueue
	metrics     *telemetry.AppMetrics

	// inflight counts running classifications. draining stops new ones from starting,
	// streamClosed stops sends on verdictChan once the owner is about to close it.
	inflight     sync.WaitGroup
	lifecycleMu  sync.RWMutex
	draining     bool
	streamClosed bool

	cacheTTL              time.Duration
	classificationTimeout time.Duration
	explainLimit          int
	instanceID            string
	now                   func() time.Time
}

func New(d Deps) *Coordinator {
	c := &Coordinator{
		whitelist:             d.Whitelist,
		results:               d.Results,
		overrides:             d.Overrides,
		payload:               d.Payload,
		classifier:            d.Classifier,
		credentials:           d.Credentials,
		budget:                d.Budget,
		ui:                    d.UI,
		navigator:             d.Navigator,
		notifier:              d.Notifier,
		history:               d.History,
		verdictChan:           d.VerdictChan,
		dlq:                   d.DLQ,
		metrics:               d.Metrics,
		cacheTTL:              d.CacheTTL,
		classificationTimeout: d.ClassificationTimeout,
		explainLimit:          d.ExplainLimit,
		instanceID:            d.InstanceID,
		now:                   d.Now,
	}
	if c.results == nil {
		c.results = store.NewResultStore()
	}
	if c.overrides == nil {
		c.overrides = store.NewOverrideSet()
	}
	if c.payload == nil {
		c.payload = payload.NewBuilder(payload.DefaultLimits())
	}
	if c.budget == nil {
		c.budget = cache.NoopClient{}
	}
	if c.ui == nil {
		c.ui = noopUI{}
	}
	if c.navigator == nil {
		c.navigator = noopNavigator{}
	}
	if c.notifier == nil {
		c.notifier = notifier.LogNotifier{}
	}
	if c.history == nil {
		c.history = persistence.NoopStorage{}
	}
	if c.dlq == nil {
		c.dlq = broker.LogDLQ{}
	}
	if c.metrics == nil {
		c.metrics = telemetry.NoopAppMetrics()
	}
	if c.cacheTTL <= 0 {
		c.cacheTTL = DefaultCacheTTL
	}
	if c.classificationTimeout <= 0 {
		c.classificationTimeout = DefaultClassificationTimeout
	}
	if c.explainLimit <= 0 {
		c.explainLimit = DefaultExplainLimit
	}
	if c.now == nil {
		c.now = time.Now
	}

	return c
}

// HandlePageData produces the verdict for a page load on tabID. First match wins:
// trusted domain, session override, fresh cached record for the same url, classification.
// It returns the record it produced or reused; a classification answer that arrives after
// the tab moved on is returned but not stored.
func (c *Coordinator) HandlePageData(ctx context.Context, page *model.PageSummary, tabID int) model.VerdictRecord {
	url := page.URL

	if host, ok := domain.Of(url); ok && c.whitelist.Contains(host) {
		slog.Debug("trusted domain. Skip classification.", slog.Int("tab_id", tabID), slog.String("domain", host))
		c.metrics.WhitelistHitCnt(1)
		return c.store(tabID, c.newRecord(url, model.StatusSafe, ExplainTrustedDomain))
	}

	if c.overrides.Contains(url) {
		slog.Debug("url overridden by the user. Skip classification.", slog.Int("tab_id", tabID),
			slog.String("url", url))
		c.metrics.OverrideHitCnt(1)
		return c.store(tabID, c.newRecord(url, model.StatusSafe, ExplainSessionOverride))
	}

	if cur, ok := c.results.Get(tabID); ok && cur.URL == url && c.now().Sub(cur.Timestamp) < c.cacheTTL {
		slog.Debug("verdict is still fresh. Skip classification.", slog.Int("tab_id", tabID),
			slog.String("url", url), slog.String("status", string(cur.Status)))
		c.metrics.CacheHitCnt(1)
		c.ui.Publish(tabID, cur)
		return cur
	}

	return c.classify(ctx, page, tabID)
}

func (c *Coordinator) classify(ctx context.Context, page *model.PageSummary, tabID int) model.VerdictRecord {
	url := page.URL

	c.lifecycleMu.RLock()
	if c.draining {
		c.lifecycleMu.RUnlock()
		c.metrics.ErrorVerdictCnt(1)
		return c.store(tabID, c.newRecord(url, model.StatusError, ExplainShuttingDown))
	}
	c.inflight.Add(1)
	c.lifecycleMu.RUnlock()
	defer c.inflight.Done()

	apiKey, err := c.credentials.Load()
	if err != nil {
		explanation := ExplainMissingCredential
		if !errors.Is(err, classifier.ErrMissingCredential) {
			explanation = "credential unavailable: " + err.Error()
		}
		slog.Warn("no credential. Skip classification.", slog.Int("tab_id", tabID), slog.String("err", err.Error()))
		c.metrics.ErrorVerdictCnt(1)
		return c.store(tabID, c.newRecord(url, model.StatusError, explanation))
	}

	if err = c.budget.IncrementThreshold(url); err != nil {
		if errors.Is(err, cache.ThresholdReachedError) {
			c.metrics.ErrorVerdictCnt(1)
			return c.store(tabID, c.newRecord(url, model.StatusError, ExplainBudgetExhausted))
		}
		slog.Warn("classification budget unavailable. Proceeding.", slog.String("err", err.Error()))
	}

	c.store(tabID, c.newRecord(url, model.StatusPending, ExplainPending))

	verdict, failure := c.askClassifier(ctx, page, apiKey)
	rec := c.newRecord(url, verdict.Status, verdict.Explanation)
	if failure != nil && !errors.Is(failure, classifier.ErrUnrecognizedStatus) {
		c.dlq.SendUrlToDLQ(url, failure)
	}
	if rec.Status == model.StatusError {
		c.metrics.ErrorVerdictCnt(1)
	}

	if c.overrides.Contains(url) || !c.results.ReplaceIfURL(tabID, url, rec) {
		slog.Info("tab moved on before the verdict arrived. Discard it.", slog.Int("tab_id", tabID),
			slog.String("url", url), slog.String("status", string(rec.Status)))
		c.metrics.StaleDiscardedCnt(1)
		return rec
	}
	slog.Info("page classified.", slog.Int("tab_id", tabID), slog.String("url", url),
		slog.String("status", string(rec.Status)))

	c.ui.Publish(tabID, rec)
	if rec.Status.IsAlarming() {
		c.notify(ctx, tabID, rec)
	}
	c.keep(tabID, rec)

	return rec
}

// askClassifier maps every outcome, including transport failures, to a verdict.
func (c *Coordinator) askClassifier(ctx context.Context, page *model.PageSummary, apiKey string) (classifier.Verdict, error) {
	body, err := c.payload.Build(page)
	if err != nil {
		slog.Error("failed to build the classifier payload.", slog.String("url", page.URL),
			slog.String("err", err.Error()))
		return classifier.Verdict{Status: model.StatusError, Explanation: "failed to summarize the page"}, err
	}

	cctx, cancel := context.WithTimeout(ctx, c.classificationTimeout)
	defer cancel()
	c.metrics.ClassificationCnt(1)
	raw, err := c.classifier.Classify(cctx, apiKey, body)
	if err != nil {
		if errors.Is(err, classifier.ErrMissingCredential) {
			return classifier.Verdict{Status: model.StatusError, Explanation: ExplainMissingCredential}, err
		}
		return classifier.Verdict{Status: model.StatusError, Explanation: "classifier unavailable: " + err.Error()}, err
	}

	verdict, err := classifier.Validate(raw)
	if err != nil {
		slog.Warn("classifier response failed validation.", slog.String("url", page.URL),
			slog.String("err", err.Error()))
	}
	return verdict, err
}

// ProceedAnyway trusts the tab's current url for the rest of the session.
func (c *Coordinator) ProceedAnyway(tabID int) (model.VerdictRecord, error) {
	cur, ok := c.results.Get(tabID)
	if !ok {
		return model.VerdictRecord{}, ErrNotFound
	}
	c.overrides.Add(cur.URL)
	slog.Info("user proceeded anyway.", slog.Int("tab_id", tabID), slog.String("url", cur.URL),
		slog.String("previous status", string(cur.Status)))

	return c.store(tabID, c.newRecord(cur.URL, model.StatusSafe, ExplainUserOverride)), nil
}

// GetStatus never fails: tabs without a record get the PENDING placeholder.
func (c *Coordinator) GetStatus(tabID int) model.VerdictRecord {
	if rec, ok := c.results.Get(tabID); ok {
		return rec
	}
	return model.PendingPlaceholder()
}

// OnCredentialSaved drops "credential missing" verdicts so the next page summary is classified
// instead of reusing them from the cache.
func (c *Coordinator) OnCredentialSaved() {
	n := c.results.DeleteWhere(func(rec model.VerdictRecord) bool {
		return rec.Status == model.StatusError && rec.Explanation == ExplainMissingCredential
	})
	slog.Debug("credential saved.", slog.Int("invalidated", n))
}

func (c *Coordinator) OnTabClosed(tabID int) {
	c.results.Delete(tabID)
	slog.Debug("tab closed.", slog.Int("tab_id", tabID))
}

// OnNavigationCompleted drops the tab's record when the tab landed on another domain,
// so the next page summary is classified instead of matching a stale verdict.
func (c *Coordinator) OnNavigationCompleted(tabID int, newURL string) {
	removed := c.results.DeleteIf(tabID, func(cur model.VerdictRecord) bool {
		return !domain.Same(cur.URL, newURL)
	})
	if removed {
		slog.Debug("navigated to another domain. Verdict invalidated.", slog.Int("tab_id", tabID),
			slog.String("url", newURL))
	}
}

func (c *Coordinator) GoBack(ctx context.Context, tabID int) error {
	if err := c.navigator.GoBack(ctx, tabID); err != nil {
		slog.Error("failed to navigate back.", slog.Int("tab_id", tabID), slog.String("err", err.Error()))
		return err
	}
	return nil
}

func (c *Coordinator) newRecord(url string, status model.Status, explanation string) model.VerdictRecord {
	return model.VerdictRecord{URL: url, Status: status, Explanation: explanation, Timestamp: c.now()}
}

func (c *Coordinator) store(tabID int, rec model.VerdictRecord) model.VerdictRecord {
	c.results.Put(tabID, rec)
	c.ui.Publish(tabID, rec)
	return rec
}

func (c *Coordinator) notify(ctx context.Context, tabID int, rec model.VerdictRecord) {
	n := notifier.Build(tabID, rec, c.explainLimit)
	c.metrics.NotificationCnt(1)
	if err := c.notifier.Notify(ctx, n); err != nil {
		slog.Warn("failed to deliver notification.", slog.Int("tab_id", tabID), slog.String("err", err.Error()))
	}
}

// keep appends a fresh classification to the history and the verdict stream.
func (c *Coordinator) keep(tabID int, rec model.VerdictRecord) {
	_ = c.history.SaveVerdict(tabID, &rec)
	if c.verdictChan == nil {
		return
	}
	host, _ := domain.Of(rec.URL)
	event := &model.VerdictEvent{
		TabID:       tabID,
		URL:         rec.URL,
		Domain:      host,
		Status:      rec.Status,
		Explanation: rec.Explanation,
		Timestamp:   rec.Timestamp,
		Instance:    c.instanceID,
	}
	c.lifecycleMu.RLock()
	defer c.lifecycleMu.RUnlock()
	if c.streamClosed {
		slog.Warn("verdict stream is closed. Event dropped.", slog.String("url", rec.URL))
		return
	}
	select {
	case c.verdictChan <- event:
	default:
		slog.Warn("verdict stream is full. Event dropped.", slog.String("url", rec.URL))
	}
}

// Shutdown refuses new classifications, waits for the running ones until ctx is done and then
// stops writing to the verdict stream. The caller may close VerdictChan once it returns.
// Classifications still running after ctx expired finish normally but their events are dropped.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.lifecycleMu.Lock()
	c.draining = true
	c.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
		slog.Info("in-flight classifications finished.")
	case <-ctx.Done():
		err = ctx.Err()
		slog.Warn("stop waiting for in-flight classifications.", slog.String("err", err.Error()))
	}

	c.lifecycleMu.Lock()
	c.streamClosed = true
	c.lifecycleMu.Unlock()
	return err
}

type noopUI struct{}

func (noopUI) Publish(int, model.VerdictRecord) {}

type noopNavigator struct{}

func (noopNavigator) GoBack(context.Context, int) error {
	return errors.New("navigation is not available")
}
