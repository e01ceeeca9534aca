package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DVA-LAB/DVA-LAB-MVP/internal/infra/config"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/infra/email"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/infra/ffmpeg"
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

	log.Info("starting dva export worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := tracing.InitTracer(ctx, cfg.JaegerEndpoint, "worker")
	if err != nil {
		log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
	} else {
		defer tp.Shutdown(ctx)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	fatalOnErr(err, "connect to postgres")
	defer pool.Close()

	if err := postgres.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		log.Warn("migration warning", zap.Error(err))
	}

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

	repo := postgres.NewExportJobRepository(pool)
	renderer := overlay.NewRenderer()
	pipeline := usecase.NewExportPipeline(ffmpeg.NewFactory(cfg.FFmpegPath, cfg.TempDir, log), renderer, log)
	notifier := email.NewSMTPNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, cfg.NotificationTo, log)

	// RabbitMQ publisher connection
	rmqConn, err := amqp.Dial(cfg.RabbitMQURL)
	fatalOnErr(err, "connect to rabbitmq for publisher")
	defer rmqConn.Close()

	pub, err := rabbitmq.NewPublisher(rmqConn, cfg.RabbitMQExchange)
	fatalOnErr(err, "create rabbitmq publisher")
	defer pub.Close()

	uc := usecase.NewProcessExportUseCase(
		repo, storage, ffmpeg.NewOpener(cfg.FFmpegPath, cfg.FFprobePath, log), pipeline,
		rabbitmq.NewStatusPublisher(pub), rabbitmq.NewDLQPublisher(pub, cfg.RabbitMQDLQ), notifier,
		log,
		usecase.ProcessExportConfig{
			TempDir:    cfg.TempDir,
			MaxRetries: cfg.MaxRetries,
		},
	)

	// Consumer (worker pool); it declares the shared topology.
	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL: cfg.RabbitMQURL,
		Topology: rabbitmq.Topology{
			Exchange:       cfg.RabbitMQExchange,
			ExportQueue:    cfg.RabbitMQExportQueue,
			StatusQueue:    cfg.RabbitMQStatusQueue,
			DLQ:            cfg.RabbitMQDLQ,
			DetectionQueue: cfg.RabbitMQDetectionKey,
		},
		Prefetch:    cfg.RabbitMQPrefetch,
		WorkerCount: cfg.WorkerCount,
		BaseDelay:   cfg.RetryBaseDelay(),
	}, uc.Execute, log)
	fatalOnErr(err, "create consumer")

	metricsSrv := metrics.StartMetricsServer(ctx, cfg.MetricsPort, map[string]metrics.ReadinessCheck{
		"postgres": repo.Ping,
		"minio":    storage.Ping,
		"rabbitmq": func(context.Context) error {
			if rmqConn.IsClosed() || consumer.Connection().IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		},
	}, log)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	log.Info("dva export worker started, consuming export requests")

	if err := consumer.Start(ctx); err != nil {
		log.Error("consumer error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)

	consumer.Close()
	log.Info("dva export worker stopped")
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
