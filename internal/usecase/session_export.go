package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/entity"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/port"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/overlay"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ExportResult says where a finished artifact was stored.
type ExportResult struct {
	Filename string `json:"filename"`
	Location string `json:"location"`
	Bytes    int    `json:"bytes"`
}

func videoStem(videoName string) string {
	base := path.Base(videoName)
	return strings.TrimSuffix(base, path.Ext(base))
}

// StillExportName is the download name of an annotated frame.
func StillExportName(videoName string, frame int, ext string) string {
	return fmt.Sprintf("%s_frame%d%s", videoStem(videoName), frame, ext)
}

// VideoExportName is the download name of an annotated video.
func VideoExportName(videoName, ext string) string {
	return videoStem(videoName) + "_with_canvas" + ext
}

// ExportFrame composites the current frame with its overlay and saves it.
func (c *SessionController) ExportFrame(ctx context.Context, id uuid.UUID) (ExportResult, error) {
	return c.export(ctx, id, entity.ExportKindStill, nil)
}

// ExportVideo walks the whole video at the export frame rate. progress may
// be nil.
func (c *SessionController) ExportVideo(ctx context.Context, id uuid.UUID, progress ProgressFunc) (ExportResult, error) {
	return c.export(ctx, id, entity.ExportKindVideo, progress)
}

func (c *SessionController) export(ctx context.Context, id uuid.UUID, kind entity.ExportKind, progress ProgressFunc) (ExportResult, error) {
	e, err := c.entry(id)
	if err != nil {
		return ExportResult{}, err
	}

	// The live overlay stops painting while the pipeline owns the frame path.
	e.mu.Lock()
	s, err := e.state.BeginExport()
	if err != nil {
		e.mu.Unlock()
		c.reject(e.logger, "export", err)
		return ExportResult{}, err
	}
	e.state = s
	media := e.media
	exportCtx, cancel := context.WithCancel(ctx)
	e.exportCancel = cancel
	e.loop.Suspend()
	e.mu.Unlock()

	defer func() {
		cancel()
		e.mu.Lock()
		e.state = e.state.EndExport()
		e.exportCancel = nil
		e.loop.Update(overlay.SceneFor(e.state))
		e.loop.Resume()
		e.mu.Unlock()
	}()

	log := e.logger.With(zap.String("kind", string(kind)))
	log.Info("export started")

	scene := sceneForExport(s)
	var (
		art  *port.Artifact
		name string
	)
	switch kind {
	case entity.ExportKindStill:
		art, err = c.deps.Pipeline.ExportStill(exportCtx, media, s.Playback.CurrentTimeSeconds, scene)
		if err == nil {
			name = StillExportName(s.VideoName, s.FrameNumber(), art.Extension)
		}
	default:
		art, err = c.deps.Pipeline.ExportVideo(exportCtx, media, scene, c.cfg.ExportFPS, progress)
		if err == nil {
			name = VideoExportName(s.VideoName, art.Extension)
		}
	}
	if err != nil {
		if errors.Is(err, entity.ErrExportCanceled) {
			log.Info("export canceled")
		} else {
			log.Error("export failed", zap.Error(err))
		}
		return ExportResult{}, err
	}

	loc, err := c.deps.Sink.Save(ctx, name, art)
	if err != nil {
		log.Error("failed to save export", zap.Error(err))
		return ExportResult{}, fmt.Errorf("%w: save %s: %w", entity.ErrExportFailed, name, err)
	}

	log.Info("export saved", zap.String("filename", name), zap.String("location", loc))
	return ExportResult{Filename: name, Location: loc, Bytes: len(art.Data)}, nil
}

// CancelExport abandons the running export of a session. The pipeline stops
// before its next seek.
func (c *SessionController) CancelExport(id uuid.UUID) error {
	e, err := c.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	cancel := e.exportCancel
	e.mu.Unlock()
	if cancel == nil {
		return entity.ErrNoExportRunning
	}
	cancel()
	e.logger.Info("export cancel requested")
	return nil
}

// EnqueueExport records an export job and hands it to the export workers.
// The session stays interactive; its calibration at this moment is what the
// worker draws.
func (c *SessionController) EnqueueExport(ctx context.Context, id uuid.UUID, kind entity.ExportKind, operatorEmail string) (*entity.ExportJob, error) {
	if c.deps.ExportRequests == nil || c.deps.Jobs == nil {
		return nil, entity.ErrNotConfigured
	}
	if kind != entity.ExportKindStill && kind != entity.ExportKindVideo {
		return nil, fmt.Errorf("unknown export kind %q", kind)
	}
	e, err := c.entry(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	s := e.state
	videoKey := e.videoKey
	e.mu.Unlock()

	if _, err := s.BeginExport(); err != nil {
		c.reject(e.logger, "enqueue export", err)
		return nil, err
	}
	if videoKey == "" {
		return nil, fmt.Errorf("video of session %s was not archived: %w", id, entity.ErrNotConfigured)
	}

	job := entity.NewExportJob(s.ID, videoKey, kind, c.cfg.ExportFPS, c.cfg.MaxExportAttempts)
	if err := c.deps.Jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create export job: %w", err)
	}

	msg := entity.ExportRequestMessage{
		JobID:         job.ID,
		SessionID:     s.ID,
		VideoKey:      videoKey,
		VideoName:     s.VideoName,
		Kind:          kind,
		TargetFPS:     job.TargetFPS,
		TimeSeconds:   s.Playback.CurrentTimeSeconds,
		FrameNumber:   s.FrameNumber(),
		Pairs:         s.Calibration.OnSurface(entity.SurfaceVideo).Pairs,
		Working:       s.Working,
		OperatorEmail: operatorEmail,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal export request: %w", err)
	}
	if err := c.deps.ExportRequests.PublishExportRequest(ctx, body); err != nil {
		job.MarkFailed("enqueue: " + err.Error())
		c.deps.Jobs.Update(ctx, job)
		return nil, fmt.Errorf("publish export request: %w", err)
	}

	e.logger.Info("export enqueued", zap.String("job_id", job.ID.String()), zap.String("kind", string(kind)))
	return job, nil
}

// CancelExportJob cancels a queued or running export job. A worker that is
// running it stops at its next progress report and uploads nothing.
func (c *SessionController) CancelExportJob(ctx context.Context, jobID uuid.UUID) (*entity.ExportJob, error) {
	if c.deps.Jobs == nil {
		return nil, entity.ErrNotConfigured
	}
	job, err := c.deps.Jobs.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Done() {
		return job, fmt.Errorf("cancel job %s (%s): %w", jobID, job.Status, entity.ErrJobFinished)
	}
	job.MarkCanceled()
	if err := c.deps.Jobs.Update(ctx, job); err != nil && !errors.Is(err, entity.ErrJobCanceled) {
		return nil, fmt.Errorf("cancel export job: %w", err)
	}
	c.logger.Info("export job canceled", zap.String("job_id", jobID.String()), zap.String("session_id", job.SessionID.String()))
	return job, nil
}

// ExportJob returns a queued or finished export job.
func (c *SessionController) ExportJob(ctx context.Context, jobID uuid.UUID) (*entity.ExportJob, error) {
	if c.deps.Jobs == nil {
		return nil, entity.ErrNotConfigured
	}
	return c.deps.Jobs.FindByID(ctx, jobID)
}
