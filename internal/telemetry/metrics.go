package telemetry

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"

	"go.opentelemetry.io/contrib/detectors/aws/ecs"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/IliaW/page-guard/config"
	"github.com/google/uuid"
)

var meter metric.Meter

type MetricsProvider struct {
	KafkaMetrics *KafkaMetrics
	AppMetrics   *AppMetrics
	SQSMetrics   *SQSMetrics
	InstanceID   string
	Close        func()
}

type KafkaMetrics struct {
	SuccessMsgCnt func(count int64)
	FailMsgCnt    func(count int64)
}

type AppMetrics struct {
	WhitelistHitCnt    func(count int64)
	OverrideHitCnt     func(count int64)
	CacheHitCnt        func(count int64)
	ClassificationCnt  func(count int64)
	ErrorVerdictCnt    func(count int64)
	StaleDiscardedCnt  func(count int64)
	NotificationCnt    func(count int64)
	ProcessedEventCnt  func(count int64)
	FailedEventCounter func(count int64)
}

type SQSMetrics struct {
	SuccessMsgCnt func(count int64)
	FailMsgCnt    func(count int64)
}

func noop(int64) {}

// NoopAppMetrics is used where telemetry is not wired, e.g. in tests.
func NoopAppMetrics() *AppMetrics {
	return &AppMetrics{
		WhitelistHitCnt:    noop,
		OverrideHitCnt:     noop,
		CacheHitCnt:        noop,
		ClassificationCnt:  noop,
		ErrorVerdictCnt:    noop,
		StaleDiscardedCnt:  noop,
		NotificationCnt:    noop,
		ProcessedEventCnt:  noop,
		FailedEventCounter: noop,
	}
}

func NoopKafkaMetrics() *KafkaMetrics {
	return &KafkaMetrics{SuccessMsgCnt: noop, FailMsgCnt: noop}
}

func SetupMetrics(ctx context.Context, cfg *config.Config) *MetricsProvider {
	metricsProvider := new(MetricsProvider)
	metricsProvider.InstanceID = uuid.New().String()
	var meterProvider *sdkmetric.MeterProvider

	if cfg.TelemetrySettings.Enabled {
		r, err := newResource(cfg, metricsProvider)
		if err != nil {
			slog.Error("failed to get resource.", slog.String("err", err.Error()))
			os.Exit(1)
		}
		exporter, err := newMetricExporter(ctx, cfg.TelemetrySettings)
		if err != nil {
			slog.Error("failed to get metric exporter.", slog.String("err", err.Error()))
			os.Exit(1)
		}
		meterProvider = newMeterProvider(exporter, *r)
		otel.SetMeterProvider(meterProvider)
	}

	meter = otel.Meter(cfg.ServiceName)
	metricsProvider.Close = func() {
		if meterProvider != nil {
			err := meterProvider.Shutdown(ctx)
			if err != nil {
				slog.Error("failed to shutdown metrics provider.", slog.String("err", err.Error()))
			}
		}
	}
	counter := func(name, description, unit string) func(count int64) {
		c, err := meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit(unit))
		if err != nil {
			slog.Error("failed to create telemetry counter.", slog.String("name", name),
				slog.String("err", err.Error()))
			os.Exit(1)
		}
		return func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				c.Add(ctx, count)
			}
		}
	}

	// Set up kafka metrics
	metricsProvider.KafkaMetrics = &KafkaMetrics{
		SuccessMsgCnt: counter("page-guard.kafka.send.success",
			"The number of verdict events that kafka accepted", "{messages}"),
		FailMsgCnt: counter("page-guard.kafka.send.fail",
			"The number of verdict events that could not be sent to kafka", "{messages}"),
	}

	// Set up coordinator metrics
	metricsProvider.AppMetrics = &AppMetrics{
		WhitelistHitCnt: counter("page-guard.verdicts.whitelisted",
			"Pages marked safe because the domain is trusted", "{pages}"),
		OverrideHitCnt: counter("page-guard.verdicts.overridden",
			"Pages marked safe because the user proceeded earlier this session", "{pages}"),
		CacheHitCnt: counter("page-guard.verdicts.cached",
			"Page summaries answered from the per-tab cache", "{pages}"),
		ClassificationCnt: counter("page-guard.classifier.requests",
			"Requests sent to the classifier", "{requests}"),
		ErrorVerdictCnt: counter("page-guard.verdicts.error",
			"Verdicts with ERROR status", "{pages}"),
		StaleDiscardedCnt: counter("page-guard.verdicts.stale",
			"Classifier answers discarded because the tab moved on", "{pages}"),
		NotificationCnt: counter("page-guard.notifications",
			"Notifications raised for dangerous or suspicious pages", "{notifications}"),
		ProcessedEventCnt: counter("page-guard.events.success",
			"Queued events the worker dispatched", "{events}"),
		FailedEventCounter: counter("page-guard.events.fail",
			"Queued events the worker could not dispatch. The messages are sent to DLQ.", "{events}"),
	}

	// Set up sqs metrics
	metricsProvider.SQSMetrics = &SQSMetrics{
		SuccessMsgCnt: counter("page-guard.sqs.receive.success",
			"The number of messages that the sqs worker successfully received", "{messages}"),
		FailMsgCnt: counter("page-guard.sqs.receive.fail",
			"The number of messages that the sqs worker could not acknowledge", "{messages}"),
	}

	return metricsProvider
}

func newResource(cfg *config.Config, mp *MetricsProvider) (*resource.Resource, error) {
	ecsResourceDetector := ecs.NewResourceDetector()
	ecsResource, err := ecsResourceDetector.Detect(context.Background())
	if err != nil {
		slog.Error("ecs detection failed", slog.String("err", err.Error()))
	}
	mergedResource, err := resource.Merge(ecsResource, resource.Default())
	if err != nil {
		slog.Error("failed to merge resources", slog.String("err", err.Error()))
	}
	if keyValue, found := ecsResource.Set().Value("container.id"); found {
		mp.InstanceID = keyValue.AsString()
	}
	return resource.Merge(mergedResource,
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
			semconv.DeploymentEnvironment(cfg.Env),
			semconv.ServiceInstanceID(mp.InstanceID),
		))
}

func newMetricExporter(ctx context.Context, cfg *config.TelemetryConfig) (sdkmetric.Exporter, error) {
	return otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(cfg.CollectorUrl),
		otlpmetrichttp.WithInsecure())
}

func newMeterProvider(meterExporter sdkmetric.Exporter, resource resource.Resource) *sdkmetric.MeterProvider {
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(meterExporter)),
		sdkmetric.WithResource(&resource),
	)
	return meterProvider
}
