package main

import (
	"context"
	"encoding/json"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/ahrav/pii-sentinel/internal/api"
	"github.com/ahrav/pii-sentinel/internal/api/debug"
	appscan "github.com/ahrav/pii-sentinel/internal/app/scanning"
	"github.com/ahrav/pii-sentinel/internal/config"
	"github.com/ahrav/pii-sentinel/internal/config/fileloader"
	"github.com/ahrav/pii-sentinel/internal/domain/pii"
	"github.com/ahrav/pii-sentinel/internal/infra/classifier"
	"github.com/ahrav/pii-sentinel/internal/infra/dbinspect"
	"github.com/ahrav/pii-sentinel/internal/infra/eventbus/kafka"
	scanningStore "github.com/ahrav/pii-sentinel/internal/infra/storage/scanning/postgres"
	"github.com/ahrav/pii-sentinel/internal/infra/stream"
	"github.com/ahrav/pii-sentinel/pkg/common/logger"
	"github.com/ahrav/pii-sentinel/pkg/common/otel"
)

const serviceType = "scan-api"

func main() {
	// Set the correct number of threads for the service.
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		stdlog.Fatalf("failed to get hostname: %v", err)
	}

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n",
				r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("SCAN-API-%s", hostname)
	metadata := map[string]string{
		"service":   svcName,
		"hostname":  hostname,
		"pod":       os.Getenv("POD_NAME"),
		"namespace": os.Getenv("POD_NAMESPACE"),
		"app":       serviceType,
	}

	log := logger.NewWithMetadata(os.Stdout, logger.LevelDebug, svcName, traceIDFn, logEvents, metadata)

	ctx := context.Background()

	if err := run(ctx, log, hostname); err != nil {
		log.Error(ctx, "startup", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logger.Logger, hostname string) error {
	log.Info(ctx, "startup", "GOMAXPROCS", runtime.GOMAXPROCS(0))

	// -------------------------------------------------------------------------
	// Configuration

	cfg := config.Default()
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		var err error
		cfg, err = fileloader.NewFileLoader(path).Load(ctx)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	}
	applyEnvOverrides(cfg)

	// -------------------------------------------------------------------------
	// Database Support

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		sslMode := "require"
		if cfg.Database.DisableTLS {
			sslMode = "disable"
		}
		dsn = fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=%s",
			cfg.Database.User, cfg.Database.Password,
			cfg.Database.Host, cfg.Database.Name, sslMode)
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("parsing db config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("creating db pool: %w", err)
	}
	defer pool.Close()

	// -------------------------------------------------------------------------
	// Start Tracing Support

	log.Info(ctx, "startup", "status", "initializing tracing support")

	prob := 0.05
	if raw := os.Getenv("OTEL_SAMPLING_RATIO"); raw != "" {
		prob, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("parsing sampling ratio: %w", err)
		}
	}

	traceProvider, teardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      serviceType,
		ExporterEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ExcludedRoutes: map[string]struct{}{
			"/v1/health":    {},
			"/v1/readiness": {},
			"/debug":        {},
		},
		Probability: prob,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"k8s.pod.name":     os.Getenv("POD_NAME"),
			"k8s.namespace":    os.Getenv("POD_NAMESPACE"),
			"k8s.container.id": hostname,
		},
		InsecureExporter: true,
	})
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	defer teardown(ctx)

	tracer := traceProvider.Tracer(serviceType)

	// -------------------------------------------------------------------------
	// Start Debug Service

	go func() {
		log.Info(ctx, "startup", "status", "debug router started", "host", cfg.Web.DebugHost)

		if err := http.ListenAndServe(cfg.Web.DebugHost, debug.Mux()); err != nil {
			log.Error(ctx, "shutdown", "status", "debug router closed",
				"host", cfg.Web.DebugHost, "msg", err)
		}
	}()

	// -------------------------------------------------------------------------
	// Completion Event Publisher

	var publisher appscan.CompletionPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		log.Info(ctx, "startup", "status", "initializing completion publisher",
			"brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.CompletionTopic)

		kafkaCfg := &kafka.ClientConfig{
			Brokers:  cfg.Kafka.Brokers,
			ClientID: cfg.Kafka.ClientID,
			Topic:    cfg.Kafka.CompletionTopic,
		}
		kafkaClient, err := kafka.NewClient(kafkaCfg)
		if err != nil {
			return fmt.Errorf("creating kafka client: %w", err)
		}
		defer kafkaClient.Close()

		completionPub, err := kafka.ConnectPublisher(kafkaCfg, kafkaClient, log, tracer)
		if err != nil {
			return fmt.Errorf("connecting completion publisher: %w", err)
		}
		defer completionPub.Close()
		publisher = completionPub
	}

	// -------------------------------------------------------------------------
	// Scan Pipeline

	registry, err := pii.NewRegistry()
	if err != nil {
		return fmt.Errorf("loading pattern registry: %w", err)
	}

	images := classifier.NewImageClient(cfg.Classifiers.ImageURL, cfg.Classifiers.ImageTimeout, log)
	documents := classifier.NewDocumentClient(cfg.Classifiers.DocumentURL, cfg.Classifiers.DocumentTimeout, log)
	inspectors := dbinspect.NewFactory(cfg.Scan.SampleLimit, log)

	hub := stream.NewHub(log)
	store := scanningStore.NewStore(pool, tracer)

	coordinator := appscan.NewCoordinator(
		appscan.NewBatchDispatcher(cfg.Scan.GroupSize, cfg.Classifiers.ImageTimeout, log, tracer),
		appscan.NewDBOrchestrator(registry, log, tracer),
		images,
		documents,
		inspectors,
		hub,
		store,
		publisher,
		cfg.Scan.GroupSize,
		log,
		tracer,
	)

	// -------------------------------------------------------------------------
	// Start API Service

	log.Info(ctx, "startup", "status", "initializing API support")

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	server := api.NewServer(cfg, log, tracer, coordinator, hub, store)

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start(serverCtx)
	}()

	// -------------------------------------------------------------------------
	// Shutdown

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Info(ctx, "shutdown", "status", "shutdown started", "signal", sig)
		defer log.Info(ctx, "shutdown", "status", "shutdown complete", "signal", sig)

		serverCancel()

		select {
		case <-serverErrors:
		case <-time.After(cfg.Web.ShutdownTimeout):
			return fmt.Errorf("could not stop server gracefully")
		}
	}

	return nil
}

// applyEnvOverrides lets deployment environments adjust the file-based
// configuration without a config file rollout.
func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv("API_HOST"); v != "" {
		cfg.Web.APIHost = v
	}
	if v := os.Getenv("API_PORT"); v != "" {
		cfg.Web.APIPort = v
	}
	if v := os.Getenv("DEBUG_HOST"); v != "" {
		cfg.Web.DebugHost = v
	}
	if v := os.Getenv("IMAGE_CLASSIFIER_URL"); v != "" {
		cfg.Classifiers.ImageURL = v
	}
	if v := os.Getenv("DOCUMENT_CLASSIFIER_URL"); v != "" {
		cfg.Classifiers.DocumentURL = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("UPLOAD_DIR"); v != "" {
		cfg.Scan.UploadDir = v
	}
}
