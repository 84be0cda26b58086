package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rudderlabs/rudder-go-kit/config"
	kithttputil "github.com/rudderlabs/rudder-go-kit/httputil"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"
	svcMetric "github.com/rudderlabs/rudder-go-kit/stats/metric"
	obskit "github.com/rudderlabs/rudder-observability-kit/go/labels"

	"github.com/Informasjonsforvaltning/fdk-resource-service/internal/api"
	"github.com/Informasjonsforvaltning/fdk-resource-service/internal/repo"
	"github.com/Informasjonsforvaltning/fdk-resource-service/internal/sqlmw"
	"github.com/Informasjonsforvaltning/fdk-resource-service/services/circuitbreaker"
	"github.com/Informasjonsforvaltning/fdk-resource-service/services/ingestion"
	"github.com/Informasjonsforvaltning/fdk-resource-service/services/resource"
	"github.com/Informasjonsforvaltning/fdk-resource-service/services/uniongraph"
	"github.com/Informasjonsforvaltning/fdk-resource-service/services/webhook"
)

const serviceName = "fdk-resource-service"

// ReleaseInfo holds the release information
type ReleaseInfo struct {
	Version   string
	Commit    string
	BuildDate string
	BuiltBy   string
}

// Runner is responsible for running the application
type Runner struct {
	conf                    *config.Config
	releaseInfo             ReleaseInfo
	logger                  logger.Logger
	gracefulShutdownTimeout time.Duration
}

// New creates and initializes a new Runner
func New(releaseInfo ReleaseInfo) *Runner {
	return &Runner{
		conf:                    config.Default,
		releaseInfo:             releaseInfo,
		logger:                  logger.NewLogger().Child("runner"),
		gracefulShutdownTimeout: config.GetDuration("GracefulShutdownTimeout", 15, time.Second),
	}
}

// Run runs the application and returns the exit code
func (r *Runner) Run(ctx context.Context, args []string) int {
	if len(args) > 1 && (args[1] == "-v" || args[1] == "version") {
		r.printVersion()
		return 0
	}

	path, err := r.conf.ConfigFileUsed()
	if err != nil {
		r.logger.Warnn("Config: Failed to parse config file, using default values",
			logger.NewStringField("path", path),
			obskit.Error(err),
		)
	} else {
		r.logger.Infon("Config: Using config file", logger.NewStringField("path", path))
	}

	statsOptions := []stats.Option{
		stats.WithServiceName(serviceName),
		stats.WithServiceVersion(r.releaseInfo.Version),
		stats.WithDefaultHistogramBuckets(defaultHistogramBuckets),
	}
	for histogramName, buckets := range customBuckets {
		statsOptions = append(statsOptions, stats.WithHistogramBuckets(histogramName, buckets))
	}
	stats.Default = stats.NewStats(r.conf, logger.Default, svcMetric.Instance, statsOptions...)
	if err := stats.Default.Start(ctx, stats.DefaultGoRoutineFactory); err != nil {
		r.logger.Errorn("Failed to start stats", obskit.Error(err))
		return 1
	}

	stats.Default.NewTaggedStat("fdk_resource_service_config", stats.GaugeType, stats.Tags{
		"version":   r.releaseInfo.Version,
		"commit":    r.releaseInfo.Commit,
		"buildDate": r.releaseInfo.BuildDate,
		"builtBy":   r.releaseInfo.BuiltBy,
	}).Gauge(1)

	shutdownDone := make(chan struct{})
	var runErr error
	go func() {
		defer close(shutdownDone)
		runErr = r.run(ctx)
	}()

	select {
	case <-shutdownDone:
		// setup failures end the run before the context is cancelled
	case <-ctx.Done():
	}
	ctxDoneTime := time.Now()

	select {
	case <-shutdownDone:
		if runErr != nil {
			r.logger.Errorn("Terminal error", obskit.Error(runErr))
		}
		r.logger.Infon("Graceful termination",
			logger.NewDurationField("after", time.Since(ctxDoneTime)),
			logger.NewIntField("goroutines", int64(runtime.NumGoroutine())),
		)
		logger.Sync()
		stats.Default.Stop()
		if runErr != nil {
			return 1
		}
	case <-time.After(r.gracefulShutdownTimeout):
		r.logger.Errorn("Graceful termination failed, goroutine dump follows",
			logger.NewDurationField("after", time.Since(ctxDoneTime)),
		)

		fmt.Print("\n\n")
		_ = pprof.Lookup("goroutine").WriteTo(os.Stdout, 1)
		fmt.Print("\n\n")

		logger.Sync()
		stats.Default.Stop()
		return 1
	}
	return 0
}

// run sets up every component and blocks until ctx is cancelled or one of them fails
func (r *Runner) run(ctx context.Context) error {
	sqlDB, err := openDatabase(ctx, r.conf, stats.Default)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = sqlDB.Close() }()

	if err := migrate(sqlDB, r.logger); err != nil {
		return err
	}

	db := sqlmw.New(sqlDB,
		sqlmw.WithLogger(r.logger.Child("sql")),
		sqlmw.WithSlowQueryThreshold(r.conf.GetDuration("DB.slowQueryThreshold", 5, time.Second)),
	)
	var (
		resources   = repo.NewResources(db)
		unionGraphs = repo.NewUnionGraphs(db)
		log         = logger.NewLogger().Child(serviceName)
	)

	registry := circuitbreaker.NewRegistry(r.conf, log, stats.Default, resources)

	kafkaClient, err := newKafkaClient(r.conf)
	if err != nil {
		return fmt.Errorf("creating kafka client: %w", err)
	}
	pipeline, err := ingestion.New(r.conf, log, stats.Default, newConsumerFactory(r.conf, kafkaClient, log), registry, resources)
	if err != nil {
		return fmt.Errorf("creating ingestion pipeline: %w", err)
	}

	notifier := webhook.New(r.conf, log, stats.Default)
	unionGraphService := uniongraph.NewService(unionGraphs, notifier, log, stats.Default)
	processor := uniongraph.NewProcessor(r.conf, log, stats.Default, sqlDB, unionGraphs, resources, notifier, instanceID(r.conf))

	handler := api.New(r.conf, log, resource.New(resources, log), unionGraphService, registry, resources).Handler()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return registry.Run(gctx)
	})
	g.Go(func() error {
		if err := pipeline.Run(gctx); err != nil {
			return fmt.Errorf("ingestion pipeline: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := processor.Run(gctx); err != nil {
			return fmt.Errorf("union graph processor: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		port := r.conf.GetInt("Http.port", 8080)
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: r.conf.GetDuration("Http.readHeaderTimeout", 3, time.Second),
		}
		r.logger.Infon("Starting http server", logger.NewIntField("port", int64(port)))
		if err := kithttputil.ListenAndServe(gctx, srv); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	err = g.Wait()
	notifier.Wait()
	return err
}

func (r *Runner) printVersion() {
	fmt.Printf("Version: %s\nCommit: %s\nBuildDate: %s\nBuiltBy: %s\n",
		r.releaseInfo.Version,
		r.releaseInfo.Commit,
		r.releaseInfo.BuildDate,
		r.releaseInfo.BuiltBy,
	)
}

// instanceID identifies this replica in the lock columns of union graph orders
func instanceID(conf *config.Config) string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = serviceName
	}
	return conf.GetString("INSTANCE_ID", hostname)
}
