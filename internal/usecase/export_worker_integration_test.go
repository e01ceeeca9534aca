package usecase_test

import (
	"context"
	"encoding/json"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/entity"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/infra/email"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/infra/ffmpeg"
	miniostorage "github.com/DVA-LAB/DVA-LAB-MVP/internal/infra/minio"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/infra/postgres"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/infra/rabbitmq"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/overlay"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/usecase"
	"github.com/DVA-LAB/DVA-LAB-MVP/pkg/logger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcrabbitmq "github.com/testcontainers/testcontainers-go/modules/rabbitmq"
)

// makeTestVideo renders a one second 160x120 clip at 10 fps.
func makeTestVideo(t *testing.T, ffmpegPath string) string {
	t.Helper()
	out := filepath.Join(t.TempDir(), "flight.mp4")
	cmd := exec.Command(ffmpegPath, "-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", "testsrc=duration=1:size=160x120:rate=10",
		"-pix_fmt", "yuv420p", out)
	if b, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("cannot render test video: %v: %s", err, b)
	}
	return out
}

func TestExportWorkerEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not on PATH")
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		t.Skip("ffprobe not on PATH")
	}
	videoPath := makeTestVideo(t, ffmpegPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("dva"),
		tcpostgres.WithUsername("dva"),
		tcpostgres.WithPassword("dva"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	defer pgContainer.Terminate(ctx)

	pgConnStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, postgres.RunMigrations(pgConnStr, "../../migrations"))

	rmqContainer, err := tcrabbitmq.Run(ctx, "rabbitmq:3.12-management-alpine")
	require.NoError(t, err)
	defer rmqContainer.Terminate(ctx)

	rmqURL, err := rmqContainer.AmqpURL(ctx)
	require.NoError(t, err)

	minioContainer, err := tcminio.Run(ctx,
		"minio/minio:latest",
		tcminio.WithUsername("minioadmin"),
		tcminio.WithPassword("minioadmin"),
	)
	require.NoError(t, err)
	defer minioContainer.Terminate(ctx)

	minioEndpoint, err := minioContainer.ConnectionString(ctx)
	require.NoError(t, err)

	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:     minioEndpoint,
		AccessKey:    "minioadmin",
		SecretKey:    "minioadmin",
		VideoBucket:  "videos",
		ExportBucket: "exports",
	})
	require.NoError(t, err)
	require.NoError(t, storage.EnsureBuckets(ctx))

	minioClient, err := miniogo.New(minioEndpoint, &miniogo.Options{
		Creds: credentials.NewStaticV4("minioadmin", "minioadmin", ""),
	})
	require.NoError(t, err)

	videoKey := "sessions/e2e/flight.mp4"
	_, err = minioClient.FPutObject(ctx, "videos", videoKey, videoPath, miniogo.PutObjectOptions{
		ContentType: "video/mp4",
	})
	require.NoError(t, err)

	rmqConn, err := amqp.Dial(rmqURL)
	require.NoError(t, err)
	defer rmqConn.Close()

	topology := rabbitmq.Topology{
		Exchange:    "dva.export",
		ExportQueue: "export.requested",
		StatusQueue: "export.status",
		DLQ:         "export.requested.dlq",
	}
	pub, err := rabbitmq.NewPublisher(rmqConn, topology.Exchange)
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, pgConnStr)
	require.NoError(t, err)
	defer pool.Close()

	log, _ := logger.New("debug")
	repo := postgres.NewExportJobRepository(pool)
	pipeline := usecase.NewExportPipeline(ffmpeg.NewFactory(ffmpegPath, t.TempDir(), log), overlay.NewRenderer(), log)

	uc := usecase.NewProcessExportUseCase(
		repo, storage, ffmpeg.NewOpener(ffmpegPath, ffprobePath, log), pipeline,
		rabbitmq.NewStatusPublisher(pub), rabbitmq.NewDLQPublisher(pub, topology.DLQ),
		email.NewSMTPNotifier("localhost", 1025, "test@dva.local", "ops@dva.local", log),
		log,
		usecase.ProcessExportConfig{TempDir: t.TempDir(), MaxRetries: 3, ProgressEvery: 1000},
	)

	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:         rmqURL,
		Topology:    topology,
		Prefetch:    1,
		WorkerCount: 1,
		BaseDelay:   100 * time.Millisecond,
	}, uc.Execute, log)
	require.NoError(t, err)
	defer consumer.Close()

	consumerCtx, consumerCancel := context.WithCancel(ctx)
	defer consumerCancel()
	go consumer.Start(consumerCtx)

	// The export request the API would enqueue after one calibrated pair.
	jobID := uuid.New()
	sessionID := uuid.New()
	body, err := json.Marshal(entity.ExportRequestMessage{
		JobID:     jobID,
		SessionID: sessionID,
		VideoKey:  videoKey,
		VideoName: "flight.mp4",
		Kind:      entity.ExportKindVideo,
		TargetFPS: 10,
		Pairs: []entity.PointPair{{
			Point1:   entity.Point{X: 10, Y: 60},
			Point2:   entity.Point{X: 150, Y: 60},
			Distance: 12,
			Surface:  entity.SurfaceVideo,
		}},
	})
	require.NoError(t, err)

	pubCh, err := rmqConn.Channel()
	require.NoError(t, err)
	require.NoError(t, pubCh.PublishWithContext(ctx, topology.Exchange, rabbitmq.RoutingExportRequested, false, false,
		amqp.Publishing{ContentType: "application/json", Body: body}))
	pubCh.Close()

	statusCh, err := rmqConn.Channel()
	require.NoError(t, err)
	defer statusCh.Close()
	statuses, err := statusCh.Consume(topology.StatusQueue, "", true, false, false, false, nil)
	require.NoError(t, err)

	var status entity.ExportStatusMessage
	timeout := time.After(2 * time.Minute)
	for status.Status != entity.ExportStatusCompleted && status.Status != entity.ExportStatusFailed {
		select {
		case d := <-statuses:
			require.NoError(t, json.Unmarshal(d.Body, &status))
		case <-timeout:
			t.Fatalf("timeout waiting for export status, last %q", status.Status)
		}
	}

	assert.Equal(t, jobID, status.JobID)
	require.Equal(t, entity.ExportStatusCompleted, status.Status, status.ErrorMessage)
	assert.InDelta(t, 10, status.TotalFrames, 1)
	assert.Equal(t, sessionID.String()+"/"+jobID.String()+"/flight_with_canvas.webm", status.ArtifactKey)

	info, err := minioClient.StatObject(ctx, "exports", status.ArtifactKey, miniogo.StatObjectOptions{})
	require.NoError(t, err)
	assert.Positive(t, info.Size)
	assert.Equal(t, "video/webm", info.ContentType)

	job, err := repo.FindByID(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, entity.ExportStatusCompleted, job.Status)
	assert.Equal(t, info.Size, job.ArtifactBytes)
}
