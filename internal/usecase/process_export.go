package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/entity"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/port"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/infra/metrics"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/overlay"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ProcessExportUseCase runs queued exports: it fetches the archived video,
// composites the calibration sent with the request and uploads the result.
type ProcessExportUseCase struct {
	repo          port.ExportJobRepository
	storage       port.VideoStorage
	media         port.MediaOpener
	pipeline      *ExportPipeline
	publisher     port.StatusPublisher
	dlq           port.DLQPublisher
	notifier      port.FailureNotifier
	logger        *zap.Logger
	tempDir       string
	maxRetry      int
	progressEvery int
}

type ProcessExportConfig struct {
	TempDir    string
	MaxRetries int
	// ProgressEvery is how many frames pass between progress updates.
	ProgressEvery int
}

func NewProcessExportUseCase(
	repo port.ExportJobRepository,
	storage port.VideoStorage,
	media port.MediaOpener,
	pipeline *ExportPipeline,
	publisher port.StatusPublisher,
	dlq port.DLQPublisher,
	notifier port.FailureNotifier,
	logger *zap.Logger,
	cfg ProcessExportConfig,
) *ProcessExportUseCase {
	every := cfg.ProgressEvery
	if every <= 0 {
		every = 100
	}
	return &ProcessExportUseCase{
		repo:          repo,
		storage:       storage,
		media:         media,
		pipeline:      pipeline,
		publisher:     publisher,
		dlq:           dlq,
		notifier:      notifier,
		logger:        logger,
		tempDir:       cfg.TempDir,
		maxRetry:      cfg.MaxRetries,
		progressEvery: every,
	}
}

// Execute handles one export request. A nil return acks the message;
// an error requeues it.
func (uc *ProcessExportUseCase) Execute(ctx context.Context, rawMsg []byte) error {
	ctx, span := otel.Tracer("usecase").Start(ctx, "ProcessExportUseCase.Execute")
	defer span.End()

	start := time.Now()

	var msg entity.ExportRequestMessage
	if err := json.Unmarshal(rawMsg, &msg); err != nil {
		uc.logger.Error("failed to unmarshal export request", zap.Error(err), zap.ByteString("body", rawMsg))
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, "unmarshal_error: "+err.Error())
		return nil
	}
	if err := validateExportRequest(msg); err != nil {
		uc.logger.Error("invalid export request", zap.Error(err), zap.String("job_id", msg.JobID.String()))
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, "invalid_request: "+err.Error())
		return nil
	}

	span.SetAttributes(
		attribute.String("job.id", msg.JobID.String()),
		attribute.String("job.kind", string(msg.Kind)),
		attribute.String("job.video_key", msg.VideoKey),
	)
	log := uc.logger.With(
		zap.String("job_id", msg.JobID.String()),
		zap.String("session_id", msg.SessionID.String()),
		zap.String("kind", string(msg.Kind)),
	)

	job, err := uc.repo.FindByID(ctx, msg.JobID)
	if err != nil && !errors.Is(err, entity.ErrJobNotFound) {
		log.Error("failed to load export job", zap.Error(err))
		return fmt.Errorf("find export job: %w", err)
	}
	if job == nil {
		job = entity.NewExportJob(msg.SessionID, msg.VideoKey, msg.Kind, msg.TargetFPS, uc.maxRetry)
		job.ID = msg.JobID
		if err := uc.repo.Create(ctx, job); err != nil {
			log.Error("failed to create export job record", zap.Error(err))
			return fmt.Errorf("create export job: %w", err)
		}
	}

	switch job.Status {
	case entity.ExportStatusCompleted, entity.ExportStatusCanceled:
		log.Info("export job already finished, dropping redelivery", zap.String("status", string(job.Status)))
		return nil
	}

	if !job.CanRetry() {
		log.Warn("export job exhausted retries, sending to DLQ")
		return uc.handlePermanentFailure(ctx, job, msg, rawMsg, "max retries exceeded", log)
	}

	job.MarkProcessing(0)
	if err := uc.repo.Update(ctx, job); err != nil {
		if errors.Is(err, entity.ErrJobCanceled) {
			log.Info("export job canceled before it started")
			return nil
		}
		log.Error("failed to update export job to PROCESSING", zap.Error(err))
		return fmt.Errorf("update export job: %w", err)
	}

	if err := uc.runExport(ctx, job, msg, rawMsg, log); err != nil {
		return err
	}

	metrics.ExportStageDuration.WithLabelValues("job_total").Observe(time.Since(start).Seconds())
	return nil
}

func validateExportRequest(msg entity.ExportRequestMessage) error {
	switch {
	case msg.VideoKey == "":
		return fmt.Errorf("video_key is required")
	case msg.Kind != entity.ExportKindStill && msg.Kind != entity.ExportKindVideo:
		return fmt.Errorf("unknown kind %q", msg.Kind)
	case msg.TargetFPS < 0:
		return fmt.Errorf("target_fps must not be negative")
	}
	return nil
}

func (uc *ProcessExportUseCase) runExport(
	ctx context.Context,
	job *entity.ExportJob,
	msg entity.ExportRequestMessage,
	rawMsg []byte,
	log *zap.Logger,
) error {
	tracer := otel.Tracer("usecase")

	workDir := filepath.Join(uc.tempDir, job.ID.String())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("create workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	dlStart := time.Now()
	dlCtx, spanDl := tracer.Start(ctx, "download_video")
	videoPath := filepath.Join(workDir, "source"+path.Ext(msg.VideoKey))
	if err := uc.storage.DownloadVideo(dlCtx, msg.VideoKey, videoPath); err != nil {
		spanDl.End()
		log.Error("failed to download video", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "download_video: "+err.Error(), log)
	}
	spanDl.End()
	metrics.ExportStageDuration.WithLabelValues("download").Observe(time.Since(dlStart).Seconds())

	media, err := uc.media.Open(ctx, videoPath)
	if err != nil {
		log.Error("failed to open video", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "open_video: "+err.Error(), log)
	}
	defer media.Close()

	// stopExport ends the pipeline when the job is canceled through the API.
	exportCtx, stopExport := context.WithCancel(ctx)
	defer stopExport()
	canceled := false

	scene := overlay.NewScene(msg.Pairs, msg.Working, 0)
	var art *port.Artifact
	var name string
	if msg.Kind == entity.ExportKindStill {
		job.TotalFrames = 1
		art, err = uc.pipeline.ExportStill(exportCtx, media, msg.TimeSeconds, scene)
		if err == nil {
			name = StillExportName(msg.VideoName, msg.FrameNumber, art.Extension)
		}
	} else {
		job.TotalFrames = entity.TotalFramesFor(media.DurationSeconds(), job.TargetFPS)
		art, err = uc.pipeline.ExportVideo(exportCtx, media, scene, job.TargetFPS, func(done, total int) {
			job.Advance(done)
			if done%uc.progressEvery == 0 && done < total {
				if errors.Is(uc.reportProgress(ctx, job, log), entity.ErrJobCanceled) {
					canceled = true
					stopExport()
				}
			}
		})
		if err == nil {
			name = VideoExportName(msg.VideoName, art.Extension)
		}
	}
	if err != nil {
		if canceled {
			log.Info("export job canceled, pipeline stopped", zap.Int("frame", job.CurrentFrame))
			return nil
		}
		if ctx.Err() != nil {
			log.Warn("export interrupted by shutdown", zap.Error(err))
			return fmt.Errorf("export interrupted: %w", err)
		}
		log.Error("export pipeline failed", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "export: "+err.Error(), log)
	}

	if cur, err := uc.repo.FindByID(ctx, job.ID); err == nil && cur.Status == entity.ExportStatusCanceled {
		log.Info("export job canceled, artifact discarded")
		return nil
	}

	upStart := time.Now()
	upCtx, spanUp := tracer.Start(ctx, "upload_artifact")
	artifactKey := path.Join(msg.SessionID.String(), job.ID.String(), name)
	if err := uc.storage.UploadArtifact(upCtx, artifactKey, bytes.NewReader(art.Data), int64(len(art.Data)), art.ContentType); err != nil {
		spanUp.End()
		log.Error("artifact upload failed", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "upload_artifact: "+err.Error(), log)
	}
	spanUp.End()
	metrics.ExportStageDuration.WithLabelValues("upload").Observe(time.Since(upStart).Seconds())

	job.MarkCompleted(artifactKey, int64(len(art.Data)))
	if err := uc.repo.Update(ctx, job); err != nil {
		if errors.Is(err, entity.ErrJobCanceled) {
			log.Info("export job canceled during upload", zap.String("artifact_key", artifactKey))
			return nil
		}
		log.Error("failed to update export job to COMPLETED", zap.Error(err))
		return fmt.Errorf("update export job completed: %w", err)
	}
	uc.publishStatus(ctx, job, log)

	log.Info("export job completed",
		zap.Int("frames", job.TotalFrames),
		zap.String("artifact_key", artifactKey),
		zap.Int("bytes", len(art.Data)),
	)
	return nil
}

// reportProgress stores and publishes the frame counter. It returns
// ErrJobCanceled once the job was canceled.
func (uc *ProcessExportUseCase) reportProgress(ctx context.Context, job *entity.ExportJob, log *zap.Logger) error {
	job.UpdatedAt = time.Now().UTC()
	if err := uc.repo.Update(ctx, job); err != nil {
		if errors.Is(err, entity.ErrJobCanceled) {
			return err
		}
		log.Warn("failed to record export progress", zap.Error(err))
	}
	uc.publishStatus(ctx, job, log)
	return nil
}

func (uc *ProcessExportUseCase) handleRetryableFailure(
	ctx context.Context,
	job *entity.ExportJob,
	msg entity.ExportRequestMessage,
	rawMsg []byte,
	errMsg string,
	log *zap.Logger,
) error {
	job.MarkFailed(errMsg)
	if err := uc.repo.Update(ctx, job); errors.Is(err, entity.ErrJobCanceled) {
		log.Info("export job canceled, not retrying", zap.String("error", errMsg))
		return nil
	}

	if !job.CanRetry() {
		return uc.handlePermanentFailure(ctx, job, msg, rawMsg, errMsg, log)
	}

	metrics.RetryTotal.WithLabelValues(strconv.Itoa(job.Attempt)).Inc()
	uc.publishStatus(ctx, job, log)

	return fmt.Errorf("retryable failure (attempt %d/%d): %s", job.Attempt, job.MaxAttempts, errMsg)
}

func (uc *ProcessExportUseCase) handlePermanentFailure(
	ctx context.Context,
	job *entity.ExportJob,
	msg entity.ExportRequestMessage,
	rawMsg []byte,
	errMsg string,
	log *zap.Logger,
) error {
	job.MarkFailed(errMsg)
	_ = uc.repo.Update(ctx, job)

	_ = uc.dlq.PublishToDLQ(ctx, rawMsg, errMsg)
	uc.publishStatus(ctx, job, log)
	metrics.ExportsTotal.WithLabelValues(string(job.Kind), "dlq").Inc()

	if err := uc.notifier.NotifyFailure(ctx, msg.OperatorEmail, job.ID.String(), msg.VideoKey, errMsg); err != nil {
		log.Warn("failure notification not sent", zap.Error(err))
	}
	return nil
}

func (uc *ProcessExportUseCase) publishStatus(ctx context.Context, job *entity.ExportJob, log *zap.Logger) {
	statusMsg := entity.ExportStatusMessage{
		JobID:        job.ID,
		SessionID:    job.SessionID,
		Kind:         job.Kind,
		Status:       job.Status,
		VideoKey:     job.VideoKey,
		ArtifactKey:  job.ArtifactKey,
		TotalFrames:  job.TotalFrames,
		CurrentFrame: job.CurrentFrame,
		ErrorMessage: job.ErrorMessage,
		Attempt:      job.Attempt,
		MaxAttempts:  job.MaxAttempts,
	}
	data, _ := json.Marshal(statusMsg)
	if err := uc.publisher.PublishStatus(ctx, data); err != nil {
		log.Error("failed to publish export status", zap.Error(err))
	}
}
