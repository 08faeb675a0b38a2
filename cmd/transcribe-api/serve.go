package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	transcribeapi "github.com/snarg/transcribe-api"
	"github.com/snarg/transcribe-api/internal/api"
	"github.com/snarg/transcribe-api/internal/auth"
	"github.com/snarg/transcribe-api/internal/config"
	"github.com/snarg/transcribe-api/internal/database"
	"github.com/snarg/transcribe-api/internal/events"
	"github.com/snarg/transcribe-api/internal/jobs"
	"github.com/snarg/transcribe-api/internal/metrics"
	"github.com/snarg/transcribe-api/internal/probe"
	"github.com/snarg/transcribe-api/internal/scratch"
	"github.com/snarg/transcribe-api/internal/storage"
	"github.com/snarg/transcribe-api/internal/transcribe"
	"github.com/spf13/cobra"
)

func newServeCommand(o *config.Overrides) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *o)
		},
	}
	cmd.Flags().StringVar(&o.HTTPAddr, "addr", "", "Listen address (overrides HTTP_ADDR)")
	cmd.Flags().StringVar(&o.UploadDir, "upload-dir", "", "Scratch directory for uploads (overrides UPLOAD_DIR)")
	cmd.Flags().StringVar(&o.AuthTokensFile, "tokens-file", "", "YAML token file (overrides AUTH_TOKENS_FILE)")
	return cmd
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger().Level(lvl)
}

func runServe(parent context.Context, o config.Overrides) error {
	startTime := time.Now()

	// Config
	cfg, err := config.Load(o)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Logger
	log := newLogger(cfg.LogLevel)
	log.Info().Str("version", version).Str("env", cfg.AppEnv).Msg("transcribe-api starting")

	// Sentry
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.AppEnv,
			Release:     "transcribe-api@" + version,
		})
		if err != nil {
			log.Warn().Err(err).Msg("sentry init failed, continuing without error reporting")
		} else {
			defer sentry.Flush(2 * time.Second)
			log.Info().Msg("sentry error reporting enabled")
		}
	}

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Tokens
	registry, err := auth.NewRegistry(cfg.AuthToken, cfg.AuthTokensFile, log)
	if err != nil {
		return fmt.Errorf("load tokens: %w", err)
	}
	go func() {
		if err := registry.Watch(ctx); err != nil {
			log.Error().Err(err).Msg("token file watcher stopped")
		}
	}()

	// Scratch storage
	scratchStore, err := scratch.New(cfg.UploadDir)
	if err != nil {
		return fmt.Errorf("scratch dir: %w", err)
	}
	janitor := scratch.NewJanitor(scratchStore, cfg.ScratchMaxAge, 0, log)
	janitor.Start()
	defer janitor.Stop()

	// Duration probe
	prober := probe.New(cfg.FFprobePath, cfg.MaxDuration, cfg.ProbeTimeout)
	if !prober.Available() {
		log.Warn().Str("ffprobe", cfg.FFprobePath).Msg("ffprobe not found; every upload will be rejected")
	}

	// AWS: object storage + transcription
	awsCfg, err := storage.LoadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return fmt.Errorf("aws config: %w", err)
	}
	objects, err := storage.New(awsCfg, cfg.S3, log)
	if err != nil {
		return fmt.Errorf("object storage: %w", err)
	}
	transcriber := transcribe.NewAWSClient(awsCfg, transcribe.AWSOptions{
		SubtitleFormat: cfg.Transcribe.SubtitleFormat,
	}, log)

	// Job ledger (optional)
	var (
		db     *database.DB
		ledger jobs.Ledger
		lister api.JobLister
	)
	if cfg.DatabaseURL != "" {
		db, err = database.Connect(ctx, cfg.DatabaseURL, log.With().Str("component", "database").Logger())
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()
		ledger, lister = db, db
	}

	// Event sinks (optional)
	var sinks []events.Sink
	var mqttSink *events.MQTTSink
	if cfg.MQTTBrokerURL != "" {
		mqttSink, err = events.ConnectMQTT(events.MQTTOptions{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			TopicPrefix: cfg.MQTTTopicPrefix,
			Log:         log,
		})
		if err != nil {
			return fmt.Errorf("connect mqtt broker: %w", err)
		}
		defer mqttSink.Close()
		sinks = append(sinks, mqttSink)
	}
	if cfg.UmamiWebsiteID != "" {
		hostname, _ := os.Hostname()
		sinks = append(sinks, events.NewUmamiSink(cfg.UmamiHostURL, cfg.UmamiWebsiteID, hostname))
	}
	dispatcher := events.NewDispatcher(sinks, 256, 5*time.Second, log)
	dispatcher.Start(2)
	defer dispatcher.Stop()

	// Redis (rate limit counters); pinged by the health check
	var redisPing api.Pinger
	if cfg.RedisURL != "" {
		ropts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rc := redis.NewClient(ropts)
		defer rc.Close()
		redisPing = api.PingFunc(func(ctx context.Context) error { return rc.Ping(ctx).Err() })
	}

	// Job orchestration
	svc := jobs.NewService(objects, transcriber, ledger, dispatcher, jobs.Options{
		LanguageCode:   cfg.Transcribe.LanguageCode,
		SubtitleFormat: cfg.Transcribe.SubtitleFormat,
		JobPrefix:      cfg.Transcribe.JobPrefix,
	}, log)

	// Metrics
	if cfg.MetricsEnabled {
		var pool *pgxpool.Pool
		if db != nil {
			pool = db.Pool
		}
		prometheus.MustRegister(metrics.NewCollector(pool, runtimeStats{
			tokens:  registry,
			events:  dispatcher,
			scratch: scratchStore,
		}))
	}

	// HTTP Server
	health := api.HealthDeps{
		Storage:   api.PingFunc(objects.HeadBucket),
		Redis:     redisPing,
		Transcode: prober.Available,
	}
	if db != nil {
		health.Database = api.PingFunc(db.HealthCheck)
	}
	if mqttSink != nil {
		health.MQTT = mqttSink.IsConnected
	}

	errs := api.Errors{Production: cfg.Production()}
	httpLog := log.With().Str("component", "http").Logger()
	srv, err := api.NewServer(cfg, api.ServerOptions{
		Tokens: registry,
		Upload: api.NewUploadHandler(scratchStore, prober, svc, dispatcher, errs, api.UploadOptions{
			MaxBytes:          cfg.MaxUploadBytes,
			AllowedExtensions: cfg.AllowedExtensions,
		}),
		Transcripts: api.NewTranscriptionsHandler(svc, lister, errs),
		Health:      api.NewHealthHandler(health, version, startTime),
		OpenAPISpec: transcribeapi.OpenAPISpec,
	}, httpLog)
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
			runErr = err
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("transcribe-api stopped")
	return runErr
}

// runtimeStats feeds live service state to the metrics collector.
type runtimeStats struct {
	tokens  *auth.Registry
	events  *events.Dispatcher
	scratch *scratch.Store
}

func (s runtimeStats) TokenCount() int      { return s.tokens.Len() }
func (s runtimeStats) EventsDropped() int64 { return s.events.Dropped() }
func (s runtimeStats) ScratchFiles() int    { return s.scratch.Count() }
