package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/IliaW/page-guard/config"
	"github.com/IliaW/page-guard/internal/api"
	"github.com/IliaW/page-guard/internal/aws_sqs"
	"github.com/IliaW/page-guard/internal/broker"
	cacheClient "github.com/IliaW/page-guard/internal/cache"
	"github.com/IliaW/page-guard/internal/classifier"
	"github.com/IliaW/page-guard/internal/coordinator"
	"github.com/IliaW/page-guard/internal/domain"
	"github.com/IliaW/page-guard/internal/model"
	"github.com/IliaW/page-guard/internal/notifier"
	"github.com/IliaW/page-guard/internal/payload"
	"github.com/IliaW/page-guard/internal/persistence"
	"github.com/IliaW/page-guard/internal/store"
	"github.com/IliaW/page-guard/internal/telemetry"
	"github.com/IliaW/page-guard/internal/worker"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/lmittmann/tint"
)

var (
	cfg         *config.Config
	db          *sql.DB
	cache       cacheClient.CachedClient
	verdictRepo persistence.VerdictStorage
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg = config.MustLoad()
	setupLogger()
	metrics := telemetry.SetupMetrics(context.Background(), cfg)
	defer metrics.Close()
	verdictRepo = persistence.NoopStorage{}
	if cfg.DbSettings.Enabled {
		db = setupDatabase()
		defer closeDatabase()
		verdictRepo = persistence.NewVerdictRepository(db)
	}
	cache = cacheClient.NoopClient{}
	if cfg.CacheSettings.Enabled {
		cache = cacheClient.NewMemcachedClient(cfg.CacheSettings)
	}
	defer cache.Close()
	slog.Info("starting application on port "+cfg.Port, slog.String("env", cfg.Env))

	threadNum := parallelWorkers()
	wg := &sync.WaitGroup{}

	// Verdict stream and dead-letter queue
	var kafkaChan chan *model.VerdictEvent
	var dlq broker.DeadLetterQueue = broker.LogDLQ{}
	if cfg.KafkaSettings.Enabled {
		kafkaChan = make(chan *model.VerdictEvent, cfg.KafkaSettings.Producer.BatchSize*2)
		kafkaDLQ := broker.NewKafkaDLQ(cfg.ServiceName, cfg.KafkaSettings.Producer)
		defer kafkaDLQ.Close()
		dlq = kafkaDLQ
		wg.Add(1)
		kafka := broker.NewKafkaProducer(kafkaChan, metrics.KafkaMetrics, cfg.KafkaSettings.Producer, wg)
		go kafka.Run()
	}

	credentials := classifier.NewCredentialStore(cfg.CredentialSettings.FilePath, cfg.ServiceName)
	slog.Info("credential file.", slog.String("path", credentials.Path()))
	hub := api.NewHub(cfg.ApiSettings.AllowedOrigins)
	coord := coordinator.New(coordinator.Deps{
		Whitelist:             domain.NewWhitelist(cfg.Whitelist),
		Results:               store.NewResultStore(),
		Overrides:             store.NewOverrideSet(),
		Payload:               payload.NewBuilder(payload.LimitsFromConfig(cfg.PayloadSettings)),
		Classifier:            classifier.NewClient(cfg.ClassifierSettings),
		Credentials:           credentials,
		Budget:                cache,
		UI:                    hub,
		Navigator:             hub,
		Notifier:              notifier.Multi{notifier.LogNotifier{}, hub},
		History:               verdictRepo,
		VerdictChan:           kafkaChan,
		DLQ:                   dlq,
		Metrics:               metrics.AppMetrics,
		CacheTTL:              cfg.CoordinatorSettings.CacheTTL,
		ClassificationTimeout: cfg.CoordinatorSettings.ClassificationTimeout,
		ExplainLimit:          cfg.CoordinatorSettings.NotificationExplainLimit,
		InstanceID:            metrics.InstanceID,
	})
	hub.SetDispatcher(coord)

	// Queued events
	workerWg := &sync.WaitGroup{}
	if cfg.SQSSettings.Enabled {
		getSqsChan := make(chan *string, threadNum*2) // double the size to avoid blocking
		wg.Add(1)
		sqs := aws_sqs.NewSQSWorker(getSqsChan, metrics.SQSMetrics, cfg, wg)
		go sqs.SQSConsumer(ctx)

		eventWorker := &worker.EventWorker{
			InputSqsChan: getSqsChan,
			Dispatcher:   coord,
			Wg:           workerWg,
			DLQ:          dlq,
			Metrics:      metrics.AppMetrics,
		}
		for i := 0; i < threadNum; i++ {
			workerWg.Add(1)
			go eventWorker.Run()
		}
	}

	server := setupServer(coord, hub, credentials)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", slog.String("err", err.Error()))
			stop()
		}
	}()

	// Graceful shutdown.
	// 1. Stop HTTP server and SQS Consumer by system call. SQS Consumer closes getSqsChan
	// 2. Disconnect websocket clients
	// 3. Wait till all Workers processed all messages from getSqsChan
	// 4. Wait for in-flight classifications, then stop the coordinator writing to kafkaChan
	// 5. Close kafkaChan and wait till SQS Consumer and Kafka Producer are done.
	// 6. Close kafka DLQ, database and memcached connections
	<-ctx.Done()
	slog.Info("stopping server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to stop http server.", slog.String("err", err.Error()))
	}
	hub.Close()
	workerWg.Wait()
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), coordinatorDrainTimeout())
	defer cancelDrain()
	_ = coord.Shutdown(drainCtx)
	if kafkaChan != nil {
		close(kafkaChan)
		slog.Info("close kafkaChan.")
	}
	wg.Wait()
	slog.Info("server stopped.")
}

func setupLogger() *slog.Logger {
	envLogLevel := strings.ToLower(cfg.LogLevel)
	var slogLevel slog.Level
	err := slogLevel.UnmarshalText([]byte(envLogLevel))
	if err != nil {
		log.Printf("encountenred log level: '%s'. The package does not support custom log levels", envLogLevel)
		slogLevel = slog.LevelDebug
	}
	log.Printf("slog level overwritten to '%v'", slogLevel)
	slog.SetLogLoggerLevel(slogLevel)

	replaceAttrs := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			source := a.Value.Any().(*slog.Source)
			source.File = filepath.Base(source.File)
		}
		return a
	}

	var logger *slog.Logger
	if strings.ToLower(cfg.LogType) == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			AddSource:   true,
			Level:       slogLevel,
			ReplaceAttr: replaceAttrs}))
	} else {
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			AddSource:   true,
			Level:       slogLevel,
			ReplaceAttr: replaceAttrs,
			NoColor:     cfg.Env != "local"}))
	}

	slog.SetDefault(logger)
	logger.Debug("debug messages are enabled.")

	return logger
}

func setupDatabase() *sql.DB {
	slog.Info("connecting to the database...")
	connStr := fmt.Sprintf("user=%s password=%s host=%s port=%s dbname=%s sslmode=disable",
		cfg.DbSettings.User,
		cfg.DbSettings.Password,
		cfg.DbSettings.Host,
		cfg.DbSettings.Port,
		cfg.DbSettings.Name,
	)
	database, err := sql.Open("postgres", connStr)
	if err != nil {
		slog.Error("failed to establish database connection.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	database.SetConnMaxLifetime(cfg.DbSettings.ConnMaxLifetime)
	database.SetMaxOpenConns(cfg.DbSettings.MaxOpenConns)
	database.SetMaxIdleConns(cfg.DbSettings.MaxIdleConns)

	maxRetry := 6
	for i := 1; i <= maxRetry; i++ {
		slog.Info("ping the database.", slog.String("attempt", fmt.Sprintf("%d/%d", i, maxRetry)))
		pingErr := database.Ping()
		if pingErr != nil {
			slog.Error("not responding.", slog.String("err", pingErr.Error()))
			if i == maxRetry {
				slog.Error("failed to establish database connection.")
				os.Exit(1)
			}
			slog.Info(fmt.Sprintf("wait %d seconds", 5*i))
			time.Sleep(time.Duration(5*i) * time.Second)
		} else {
			break
		}
	}
	slog.Info("connected to the database!")

	return database
}

func closeDatabase() {
	slog.Info("closing database connection.")
	err := db.Close()
	if err != nil {
		slog.Error("failed to close database connection.", slog.String("err", err.Error()))
	}
}

func setupServer(coord *coordinator.Coordinator, hub *api.Hub, credentials *classifier.CredentialStore) *http.Server {
	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := api.NewServer(coord, hub, credentials, verdictRepo, cfg.ApiSettings)
	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// coordinatorDrainTimeout lets a classification started just before shutdown finish.
func coordinatorDrainTimeout() time.Duration {
	timeout := cfg.CoordinatorSettings.ClassificationTimeout
	if timeout <= 0 {
		timeout = coordinator.DefaultClassificationTimeout
	}
	return timeout + 5*time.Second
}

// Set -1 to use all available CPUs
func parallelWorkers() int {
	customNumCPU := cfg.WorkerSettings.WorkersNum
	if customNumCPU == -1 {
		return runtime.NumCPU()
	}
	if customNumCPU <= 0 {
		slog.Error("workers number is 0 or less than -1")
		os.Exit(1)
	}

	return customNumCPU
}
