package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/port"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/infra/backend"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/infra/config"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/infra/ffmpeg"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/infra/httpapi"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/infra/localfs"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/infra/metrics"
	miniostorage "github.com/DVA-LAB/DVA-LAB-MVP/internal/infra/minio"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/infra/postgres"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/infra/rabbitmq"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/infra/tracing"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/overlay"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/usecase"
	"github.com/DVA-LAB/DVA-LAB-MVP/pkg/logger"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	fatalOnErr(err, "load config")

	log, err := logger.New(cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	log.Info("starting dva measurement api")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := tracing.InitTracer(ctx, cfg.JaegerEndpoint, "api")
	if err != nil {
		log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
	} else {
		defer tp.Shutdown(ctx)
	}

	checks := map[string]metrics.ReadinessCheck{}

	// Database
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	fatalOnErr(err, "connect to postgres")
	defer pool.Close()

	if err := postgres.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		log.Warn("migration warning", zap.Error(err))
	}
	jobs := postgres.NewExportJobRepository(pool)
	checks["postgres"] = jobs.Ping

	// MinIO
	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:     cfg.MinIOEndpoint,
		AccessKey:    cfg.MinIOAccessKey,
		SecretKey:    cfg.MinIOSecretKey,
		UseSSL:       cfg.MinIOUseSSL,
		VideoBucket:  cfg.MinIOVideoBucket,
		ExportBucket: cfg.MinIOExportBucket,
	})
	fatalOnErr(err, "create minio storage")
	fatalOnErr(storage.EnsureBuckets(ctx), "ensure minio buckets")
	checks["minio"] = storage.Ping

	// RabbitMQ
	rmqConn, err := amqp.Dial(cfg.RabbitMQURL)
	fatalOnErr(err, "connect to rabbitmq")
	defer rmqConn.Close()
	fatalOnErr(declareTopology(rmqConn, topologyFrom(cfg)), "declare rabbitmq topology")
	checks["rabbitmq"] = func(context.Context) error {
		if rmqConn.IsClosed() {
			return errors.New("connection closed")
		}
		return nil
	}

	pub, err := rabbitmq.NewPublisher(rmqConn, cfg.RabbitMQExchange)
	fatalOnErr(err, "create rabbitmq publisher")
	defer pub.Close()

	// Analysis backend
	client := backend.NewClient(backend.Config{
		APIURL:  cfg.APIURL,
		BEVURL:  cfg.BEVURL,
		Timeout: cfg.BackendTimeout,
		Paths: backend.Paths{
			FrameDir:     cfg.FrameDir,
			SyncLogDir:   cfg.SyncLogDir,
			BEVResultDir: cfg.BEVResultDir,
			WorkDir:      cfg.BackendWorkDir,
		},
	}, log)

	var sink port.DownloadSink
	if cfg.ExportSink == "minio" {
		sink = storage.Sink("downloads")
	} else {
		sink, err = localfs.NewSink(cfg.ExportDir, log)
		fatalOnErr(err, "create export dir")
	}

	renderer := overlay.NewRenderer()
	ctrl := usecase.NewSessionController(usecase.ControllerDeps{
		Ingestor:        client,
		Logs:            client,
		Rectifier:       client,
		Detector:        client,
		Media:           ffmpeg.NewOpener(cfg.FFmpegPath, cfg.FFprobePath, log),
		Pipeline:        usecase.NewExportPipeline(ffmpeg.NewFactory(cfg.FFmpegPath, cfg.TempDir, log), renderer, log),
		Renderer:        renderer,
		Sink:            sink,
		Frames:          client.Paths(),
		Calibrations:    postgres.NewCalibrationRepository(pool),
		Archive:         storage,
		ExportRequests:  rabbitmq.NewExportRequestPublisher(pub),
		Jobs:            jobs,
		DetectionEvents: rabbitmq.NewDetectionPublisher(pub, cfg.RabbitMQDetectionKey),
	}, usecase.ControllerConfig{
		PlaybackFPS:       cfg.PlaybackFPS,
		ExportFPS:         cfg.ExportFPS,
		SkipSeconds:       cfg.SkipSeconds,
		OverlayInterval:   cfg.OverlayInterval(),
		WorkDir:           cfg.TempDir,
		MaxExportAttempts: cfg.MaxRetries,
	}, log)

	metricsSrv := metrics.StartMetricsServer(ctx, cfg.MetricsPort, checks, log)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: httpapi.NewRouter(httpapi.NewHandlers(ctrl, log), log),
	}
	go func() {
		log.Info("api server starting", zap.Int("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("api server error", zap.Error(err))
			cancel()
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	ctrl.Shutdown()
	metricsSrv.Shutdown(shutdownCtx)
	log.Info("dva measurement api stopped")
}

func topologyFrom(cfg *config.Config) rabbitmq.Topology {
	return rabbitmq.Topology{
		Exchange:       cfg.RabbitMQExchange,
		ExportQueue:    cfg.RabbitMQExportQueue,
		StatusQueue:    cfg.RabbitMQStatusQueue,
		DLQ:            cfg.RabbitMQDLQ,
		DetectionQueue: cfg.RabbitMQDetectionKey,
	}
}

func declareTopology(conn *amqp.Connection, t rabbitmq.Topology) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	return t.Declare(ch)
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
