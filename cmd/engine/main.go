// Command engine runs the telemetry ingestion and analysis engine: the
// family consumers, the dead-letter drain and the periodic analyzers.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentinelops/telemetry-engine/pkg/alerting"
	"github.com/sentinelops/telemetry-engine/pkg/analyzers"
	"github.com/sentinelops/telemetry-engine/pkg/baseline"
	"github.com/sentinelops/telemetry-engine/pkg/clock"
	"github.com/sentinelops/telemetry-engine/pkg/config"
	"github.com/sentinelops/telemetry-engine/pkg/depgraph"
	"github.com/sentinelops/telemetry-engine/pkg/emitter"
	"github.com/sentinelops/telemetry-engine/pkg/handlers"
	"github.com/sentinelops/telemetry-engine/pkg/idempotency"
	"github.com/sentinelops/telemetry-engine/pkg/messaging/kafka"
	"github.com/sentinelops/telemetry-engine/pkg/ml"
	"github.com/sentinelops/telemetry-engine/pkg/observability"
	"github.com/sentinelops/telemetry-engine/pkg/runtime"
	"github.com/sentinelops/telemetry-engine/pkg/scheduler"
	"github.com/sentinelops/telemetry-engine/pkg/storage"
	"github.com/sentinelops/telemetry-engine/pkg/telemetry"
	"github.com/sentinelops/telemetry-engine/pkg/threshold"
	"github.com/sentinelops/telemetry-engine/pkg/window"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	metricsAddr := flag.String("metrics-addr", ":9090", "prometheus scrape endpoint")
	flag.Parse()

	if err := run(*configPath, *metricsAddr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, metricsAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, flushLogs, err := observability.NewLogger(cfg.ServiceName, observability.LogLevel(cfg.LogLevel))
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer flushLogs()

	metrics, registry := observability.NewMetrics()
	o11y := observability.New(
		observability.WithLogger(logger),
		observability.WithMetrics(metrics),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.NewReal()

	// Storage.
	pg, db, err := storage.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer pg.Close()
	if err := storage.Migrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	uow := storage.NewUnitOfWork(db)

	// Messaging.
	kcfg := kafka.DefaultConfig(cfg.Kafka.Brokers)
	kcfg.ClientID = cfg.Kafka.ClientID
	publisher, err := kafka.NewPublisher(kcfg)
	if err != nil {
		return fmt.Errorf("open publisher: %w", err)
	}
	defer publisher.Close()
	factory := kafka.NewFetcherFactory(kcfg)

	// Analytical state.
	windows := window.New(clk,
		window.WithMaxSamples(cfg.RollingWindow.MaxSamples),
		window.WithMaxAge(cfg.RollingWindow.MaxAge),
	)
	baselines := baseline.New(baseline.WithSensitivity(cfg.Anomaly.Sensitivity))
	graph := depgraph.New()
	sessions := handlers.NewSessionStore(clk)
	cache := idempotency.New(clk,
		idempotency.WithTTL(time.Duration(cfg.Idempotency.TTLHours)*time.Hour))

	emit := emitter.New(publisher, o11y, clk)
	alerts := alerting.New(alerting.NewLoggingNotifier(o11y), publisher, o11y, clk,
		alerting.WithCooldowns(cfg.Alert.CooldownCritical, cfg.Alert.CooldownDefault))

	var models ml.ModelRuntime
	if cfg.ML.BaseURL != "" {
		models = ml.NewClient(cfg.ML.BaseURL, o11y)
	}
	retrain := ml.NewFlagSet()

	deps := &handlers.Deps{
		Windows:    windows,
		Baselines:  baselines,
		Thresholds: threshold.New(),
		Graph:      graph,
		Alerts:     alerts,
		Store:      pg,
		Sessions:   sessions,
		Models:     models,
		Retrain:    retrain,
		Clock:      clk,
		O11y:       o11y,
		SLA: handlers.SLAConfig{
			ResponseTimeMS:      cfg.SLA.ResponseTimeMS,
			AvailabilityPercent: cfg.SLA.AvailabilityPercent,
			ErrorRatePercent:    cfg.SLA.ErrorRatePercent,
		},
		Resources: handlers.ResourceThresholds{
			CPUWarning:     cfg.Resources.CPU.Warning,
			CPUCritical:    cfg.Resources.CPU.Critical,
			MemoryWarning:  cfg.Resources.Memory.Warning,
			MemoryCritical: cfg.Resources.Memory.Critical,
			DiskWarning:    cfg.Resources.Disk.Warning,
			DiskCritical:   cfg.Resources.Disk.Critical,
		},
	}

	subs, baseTopics := buildSubscriptions(cfg, deps)

	rt, err := runtime.New(runtime.Config{
		FetcherFactory: factory,
		Publisher:      publisher,
		UnitOfWork:     uow,
		Store:          pg,
		Emitter:        emit,
		Alerts:         alerts,
		Cache:          cache,
		Observability:  o11y,
		Clock:          clk,
	}, subs...)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}

	dlt, err := runtime.NewDLTConsumer(factory, cfg.Kafka.GroupID+".dlt",
		pg, alerts, o11y, clk, baseTopics...)
	if err != nil {
		return fmt.Errorf("build dlt consumer: %w", err)
	}

	sched, err := scheduler.New(o11y, clk)
	if err != nil {
		return fmt.Errorf("build scheduler: %w", err)
	}
	analysis := &analyzers.Analyzers{
		Windows:   windows,
		Baselines: baselines,
		Graph:     graph,
		Sessions:  sessions,
		Alerts:    alerts,
		Store:     pg,
		Emitter:   emit,
		Models:    models,
		Retrain:   retrain,
		Clock:     clk,
		O11y:      o11y,
	}
	if err := analysis.Register(sched, analyzerPeriods(cfg)); err != nil {
		return fmt.Errorf("register analyzers: %w", err)
	}

	// Metrics endpoint; the only HTTP surface the engine exposes.
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: promhttp.HandlerFor(
		registry, promhttp.HandlerOpts{})}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "metrics endpoint failed", observability.Error(err))
		}
	}()

	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("start runtime: %w", err)
	}
	if err := dlt.Start(ctx); err != nil {
		return fmt.Errorf("start dlt consumer: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	logger.Info(ctx, "engine started",
		observability.Int("subscriptions", len(subs)),
		observability.String("metrics_addr", metricsAddr))

	<-ctx.Done()
	logger.Info(context.Background(), "shutdown signal received")

	// Shutdown ordering: stop fetching and drain workers, then the DLT
	// drain, then the scheduler, then flush the last aggregates before the
	// clients close.
	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := rt.Shutdown(drainCtx); err != nil {
		logger.Error(drainCtx, "runtime shutdown failed", observability.Error(err))
	}
	if err := dlt.Shutdown(drainCtx); err != nil {
		logger.Error(drainCtx, "dlt shutdown failed", observability.Error(err))
	}
	if err := sched.Shutdown(drainCtx); err != nil {
		logger.Error(drainCtx, "scheduler shutdown failed", observability.Error(err))
	}
	if err := analysis.AggregateRollingStats(drainCtx); err != nil {
		logger.Error(drainCtx, "final aggregate flush failed", observability.Error(err))
	}
	if err := metricsSrv.Shutdown(drainCtx); err != nil {
		logger.Error(drainCtx, "metrics endpoint shutdown failed", observability.Error(err))
	}

	logger.Info(context.Background(), "engine stopped")
	return nil
}

// buildSubscriptions wires one handler per enabled family and returns the
// base topics for the DLT drain.
func buildSubscriptions(cfg *config.Config, deps *handlers.Deps) ([]runtime.Subscription, []string) {
	confidence := handlers.ConfidenceThresholds{
		Default:  cfg.Confidence.Default,
		Anomaly:  cfg.Confidence.Anomaly,
		Failure:  cfg.Confidence.Failure,
		Fraud:    cfg.Confidence.Fraud,
		Churn:    cfg.Confidence.Churn,
		Capacity: cfg.Confidence.Capacity,
	}

	byFamily := map[telemetry.Family]runtime.Handler{
		telemetry.FamilyPerformanceMetrics:    handlers.NewPerformance(deps),
		telemetry.FamilyPerformanceMonitoring: handlers.NewMonitoring(deps),
		telemetry.FamilySystemHealth:          handlers.NewHealth(deps, telemetry.FamilySystemHealth),
		telemetry.FamilyComponentHealth:       handlers.NewHealth(deps, telemetry.FamilyComponentHealth),
		telemetry.FamilyServiceAvailability:   handlers.NewHealth(deps, telemetry.FamilyServiceAvailability),
		telemetry.FamilyResourceUtilization:   handlers.NewResource(deps),
		telemetry.FamilyServiceDependency:     handlers.NewDependency(deps),
		telemetry.FamilyPaymentProvider:       handlers.NewProvider(deps),
		telemetry.FamilyConsistency:           handlers.NewConsistency(deps),
		telemetry.FamilyUserExperience:        handlers.NewUX(deps),
		telemetry.FamilyPredictiveAnalytics:   handlers.NewPredictive(deps, confidence),
	}

	var subs []runtime.Subscription
	var topics []string
	for family, handler := range byFamily {
		enabled, concurrency := cfg.ConsumerFor(string(family), family.DefaultConcurrency())
		topics = append(topics, family.Topic())
		subs = append(subs, runtime.Subscription{
			Topic:       family.Topic(),
			GroupID:     fmt.Sprintf("%s.%s", cfg.Kafka.GroupID, family),
			Concurrency: concurrency,
			Family:      family,
			Handler:     handler,
			Enabled:     enabled,
		})
	}
	return subs, topics
}

func analyzerPeriods(cfg *config.Config) analyzers.Periods {
	p := analyzers.DefaultPeriods()
	s := cfg.Schedule
	if s.Aggregation > 0 {
		p.Aggregation = s.Aggregation
	}
	if s.Frustration > 0 {
		p.Frustration = s.Frustration
	}
	if s.Trends > 0 {
		p.Trends = s.Trends
	}
	if s.CriticalPath > 0 {
		p.CriticalPath = s.CriticalPath
	}
	if s.Scorecard > 0 {
		p.Scorecard = s.Scorecard
	}
	if s.Heatmap > 0 {
		p.Heatmap = s.Heatmap
	}
	if s.SessionReplay > 0 {
		p.SessionReplay = s.SessionReplay
	}
	if s.UXReport > 0 {
		p.UXReport = s.UXReport
	}
	if s.BaselineRecompute > 0 {
		p.BaselineRecompute = s.BaselineRecompute
	}
	if s.PredictionRefresh > 0 {
		p.PredictionRefresh = s.PredictionRefresh
	}
	if s.ModelEvaluation > 0 {
		p.ModelEvaluation = s.ModelEvaluation
	}
	if s.ModelRetraining > 0 {
		p.ModelRetraining = s.ModelRetraining
	}
	if s.Cleanup > 0 {
		p.Cleanup = s.Cleanup
	}
	return p
}
