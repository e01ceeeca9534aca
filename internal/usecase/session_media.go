package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/entity"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/overlay"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Upload ingests the session's video, keeps a local copy for frame access
// and loads it. The session stays Idle when ingestion fails so the upload
// can be retried.
func (c *SessionController) Upload(ctx context.Context, id uuid.UUID, filename string, r io.Reader, preprocess bool) (entity.Session, error) {
	e, err := c.entry(id)
	if err != nil {
		return entity.Session{}, err
	}
	filename = path.Base(filepath.ToSlash(filename))
	_, release, err := c.begin(e, "upload", func(s entity.Session) error {
		if s.Mode != entity.ModeIdle {
			return &entity.GuardError{Op: "upload", Mode: s.Mode, Reason: "a session loads exactly one video"}
		}
		return nil
	})
	if err != nil {
		return entity.Session{}, err
	}
	defer release()

	assetID, err := c.deps.Ingestor.Submit(ctx, filename, r, preprocess)
	if err != nil {
		c.reject(e.logger, "upload", err)
		s, _ := c.end(e, nil)
		return s, err
	}

	s, err := c.end(e, func(s entity.Session) (entity.Session, error) {
		return s.Loaded(assetID, filename)
	})
	if err != nil {
		return s, err
	}
	e.logger.Info("video ingested", zap.String("asset_id", assetID), zap.String("video", filename))

	local, err := c.fetchLocal(ctx, e, id, assetID, filename)
	if err != nil {
		c.reject(e.logger, "fetch video", err)
		return s, err
	}

	e.mu.Lock()
	e.localVideo = local
	e.mu.Unlock()

	c.archive(ctx, e, id, local, filename)
	return c.loadMedia(ctx, e, local)
}

// fetchLocal downloads the processed video into the session directory.
func (c *SessionController) fetchLocal(ctx context.Context, e *sessionEntry, id uuid.UUID, assetID, filename string) (string, error) {
	rc, err := c.deps.Ingestor.Fetch(ctx, assetID)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	dir := c.sessionDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}
	dest := filepath.Join(dir, filename)
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create local video: %w", err)
	}
	n, err := io.Copy(f, rc)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("save local video: %w", err)
	}
	e.logger.Debug("video fetched", zap.String("path", dest), zap.Int64("bytes", n))
	return dest, nil
}

// archive copies the local video to object storage for export workers.
// Failure only disables asynchronous export for the session.
func (c *SessionController) archive(ctx context.Context, e *sessionEntry, id uuid.UUID, local, filename string) {
	if c.deps.Archive == nil {
		return
	}
	f, err := os.Open(local)
	if err != nil {
		e.logger.Warn("failed to open video for archiving", zap.Error(err))
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		e.logger.Warn("failed to stat video for archiving", zap.Error(err))
		return
	}

	key := path.Join("sessions", id.String(), filename)
	if err := c.deps.Archive.UploadVideo(ctx, key, f, info.Size(), "video/mp4"); err != nil {
		e.logger.Warn("failed to archive video", zap.Error(err))
		return
	}
	e.mu.Lock()
	e.videoKey = key
	e.mu.Unlock()
	e.logger.Info("video archived", zap.String("video_key", key))
}

// loadMedia opens source, waits for its first decoded frame and starts the
// overlay loop at the media's native size.
func (c *SessionController) loadMedia(ctx context.Context, e *sessionEntry, source string) (entity.Session, error) {
	_, release, err := c.begin(e, "load media", nil)
	if err != nil {
		return entity.Session{}, err
	}
	defer release()

	media, err := c.deps.Media.Open(ctx, source)
	if err == nil {
		// the first frame is the load-complete signal
		res := <-media.Seek(ctx, 0)
		if res.Err != nil {
			media.Close()
			media, err = nil, fmt.Errorf("decode first frame: %w", res.Err)
		}
	}
	if err != nil {
		c.reject(e.logger, "load media", err)
		s, _ := c.end(e, nil)
		return s, err
	}

	adopted := false
	s, err := c.end(e, func(s entity.Session) (entity.Session, error) {
		adopted = true
		next, err := s.MediaLoaded(media.Size(), media.DurationSeconds())
		if err != nil {
			media.Close()
			return s, err
		}
		if e.media != nil {
			e.media.Close()
		}
		e.media = media
		if err := e.loop.Start(next.VideoSize); err != nil {
			return s, err
		}
		e.logger.Info("media loaded",
			zap.String("source", source),
			zap.Int("width", next.VideoSize.Width),
			zap.Int("height", next.VideoSize.Height),
			zap.Float64("duration", next.Playback.DurationSeconds),
		)
		return next, nil
	})
	if !adopted {
		media.Close()
	}
	return s, err
}

func (c *SessionController) UploadFlightLog(ctx context.Context, id uuid.UUID, filename string, r io.Reader) error {
	return c.logRequest(ctx, id, "upload flight log", func(ctx context.Context) error {
		return c.deps.Logs.UploadFlightLog(ctx, filename, r)
	}, false)
}

func (c *SessionController) UploadTelemetry(ctx context.Context, id uuid.UUID, filename string, r io.Reader) error {
	return c.logRequest(ctx, id, "upload telemetry", func(ctx context.Context) error {
		return c.deps.Logs.UploadTelemetry(ctx, filename, r)
	}, false)
}

// SyncLogs aligns flight log and telemetry; success opens the detection gate.
func (c *SessionController) SyncLogs(ctx context.Context, id uuid.UUID) error {
	return c.logRequest(ctx, id, "sync logs", c.deps.Logs.Sync, true)
}

func (c *SessionController) logRequest(ctx context.Context, id uuid.UUID, op string, call func(context.Context) error, marksSynced bool) error {
	e, err := c.entry(id)
	if err != nil {
		return err
	}
	_, release, err := c.begin(e, op, nil)
	if err != nil {
		return err
	}
	defer release()
	if err := call(ctx); err != nil {
		c.reject(e.logger, op, err)
		c.end(e, nil)
		return err
	}
	_, err = c.end(e, func(s entity.Session) (entity.Session, error) {
		if marksSynced {
			return s.MarkLogsSynced(), nil
		}
		return s, nil
	})
	return err
}

// EnterBEV requests a rectified image of the current frame from the most
// recent pair and swaps the visible surface to it.
func (c *SessionController) EnterBEV(ctx context.Context, id uuid.UUID) (entity.Session, error) {
	e, err := c.entry(id)
	if err != nil {
		return entity.Session{}, err
	}
	if c.deps.Frames == nil {
		return entity.Session{}, fmt.Errorf("bird's-eye view: %w", entity.ErrNotConfigured)
	}
	s, release, err := c.begin(e, "bird's-eye view", func(s entity.Session) error {
		_, err := s.BEVPair()
		return err
	})
	if err != nil {
		return s, err
	}
	defer release()

	pair, _ := s.BEVPair()
	frame := s.FrameNumber()
	req := entity.NewRectifyRequest(frame, c.deps.Frames.FramePath(s.VideoName, frame), c.deps.Frames.SyncLogPath(), pair)

	img, err := c.deps.Rectifier.Rectify(ctx, req)
	if err == nil {
		var cfg image.Config
		cfg, _, err = image.DecodeConfig(bytes.NewReader(img))
		if err != nil {
			err = &entity.ServiceError{Service: "rectification", Err: fmt.Errorf("decode image: %w", err)}
		} else {
			return c.end(e, func(s entity.Session) (entity.Session, error) {
				next, err := s.EnterBEV(entity.Size{Width: cfg.Width, Height: cfg.Height})
				if err != nil {
					c.reject(e.logger, "bird's-eye view", err)
					return s, err
				}
				e.bevImage = img
				if err := e.loop.Start(next.BEVSize); err != nil {
					return s, err
				}
				e.logger.Info("bird's-eye view entered", zap.Int("frame", frame))
				return next, nil
			})
		}
	}

	c.reject(e.logger, "bird's-eye view", err)
	s, _ = c.end(e, nil)
	return s, err
}

// ExitBEV returns to the video and reloads it from the local copy.
func (c *SessionController) ExitBEV(ctx context.Context, id uuid.UUID) (entity.Session, error) {
	e, err := c.entry(id)
	if err != nil {
		return entity.Session{}, err
	}
	if _, err := c.apply(id, "leave bird's-eye view", entity.Session.ExitBEV); err != nil {
		return entity.Session{}, err
	}

	e.mu.Lock()
	e.bevImage = nil
	local := e.localVideo
	e.mu.Unlock()
	e.loop.Stop()

	return c.loadMedia(ctx, e, local)
}

// EnterResults runs detection and loads the rendered result video. It is
// terminal for the session.
func (c *SessionController) EnterResults(ctx context.Context, id uuid.UUID) (entity.Session, error) {
	e, err := c.entry(id)
	if err != nil {
		return entity.Session{}, err
	}
	s, release, err := c.begin(e, "results", entity.Session.CheckResults)
	if err != nil {
		return s, err
	}
	defer release()

	source, err := c.runDetection(ctx, s)
	if err != nil {
		c.reject(e.logger, "results", err)
		s, _ = c.end(e, nil)
		return s, err
	}

	s, err = c.end(e, func(s entity.Session) (entity.Session, error) {
		next, err := s.EnterResults()
		if err != nil {
			return s, err
		}
		if e.media != nil {
			e.media.Close()
			e.media = nil
		}
		return next, nil
	})
	if err != nil {
		return s, err
	}
	e.loop.Stop()
	e.logger.Info("results entered", zap.String("source", source))

	loaded, err := c.loadMedia(ctx, e, source)
	if err != nil {
		e.logger.Warn("result video could not be loaded", zap.Error(err))
		return s, nil
	}
	return loaded, nil
}

func (c *SessionController) runDetection(ctx context.Context, s entity.Session) (string, error) {
	if err := c.deps.Detector.Trigger(ctx, s.AssetID); err != nil {
		return "", err
	}

	if c.deps.DetectionEvents != nil {
		body, _ := json.Marshal(entity.DetectionRequestMessage{
			SessionID:   s.ID,
			AssetID:     s.AssetID,
			VideoName:   s.VideoName,
			RequestedAt: time.Now().UTC(),
		})
		if err := c.deps.DetectionEvents.PublishDetectionRequest(ctx, body); err != nil {
			c.logger.Warn("failed to publish detection request", zap.String("session_id", s.ID.String()), zap.Error(err))
		}
	}

	return c.deps.Detector.Visualize(ctx, s.AssetID)
}

// sceneForExport is the overlay of the video surface, never hidden.
func sceneForExport(s entity.Session) overlay.Scene {
	return overlay.NewScene(s.Calibration.OnSurface(entity.SurfaceVideo).Pairs, s.Working, s.Revision)
}
