package usecase

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/entity"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/port"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/infra/metrics"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/overlay"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FrameLocator names the files the rectification backend reads for a frame.
type FrameLocator interface {
	FramePath(videoName string, frame int) string
	SyncLogPath() string
}

// ControllerDeps are the collaborators of a SessionController. Frames,
// Calibrations, Archive, ExportRequests, Jobs and DetectionEvents may be nil;
// the features that need them then report ErrNotConfigured or are skipped.
type ControllerDeps struct {
	Ingestor        port.AssetIngestor
	Logs            port.LogSynchronizer
	Rectifier       port.Rectifier
	Detector        port.Detector
	Media           port.MediaOpener
	Pipeline        *ExportPipeline
	Renderer        *overlay.Renderer
	Sink            port.DownloadSink
	Frames          FrameLocator
	Calibrations    port.CalibrationRepository
	Archive         port.VideoArchive
	ExportRequests  port.ExportRequestPublisher
	Jobs            port.ExportJobRepository
	DetectionEvents port.DetectionPublisher
}

type ControllerConfig struct {
	PlaybackFPS       float64
	ExportFPS         float64
	SkipSeconds       float64
	OverlayInterval   time.Duration
	WorkDir           string
	MaxExportAttempts int
}

// SessionController owns every live measurement session. Each session's
// state is only changed under its own lock, through the entity transitions.
type SessionController struct {
	deps   ControllerDeps
	cfg    ControllerConfig
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*sessionEntry
}

type sessionEntry struct {
	mu           sync.Mutex
	state        entity.Session
	loop         *overlay.Loop
	media        port.MediaElement
	localVideo   string
	videoKey     string
	bevImage     []byte
	exportCancel context.CancelFunc
	logger       *zap.Logger
	// closed is set by Teardown; late request results are discarded.
	closed  bool
	request uint64
}

func NewSessionController(deps ControllerDeps, cfg ControllerConfig, logger *zap.Logger) *SessionController {
	if cfg.PlaybackFPS <= 0 {
		cfg.PlaybackFPS = entity.PlaybackFPS
	}
	if cfg.ExportFPS <= 0 {
		cfg.ExportFPS = entity.ExportFPS
	}
	if cfg.SkipSeconds <= 0 {
		cfg.SkipSeconds = entity.DefaultSkipSeconds
	}
	if cfg.MaxExportAttempts <= 0 {
		cfg.MaxExportAttempts = 3
	}
	if deps.Renderer == nil {
		deps.Renderer = overlay.NewRenderer()
	}
	return &SessionController{
		deps:     deps,
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[uuid.UUID]*sessionEntry),
	}
}

// Create registers a new Idle session.
func (c *SessionController) Create() entity.Session {
	s := entity.NewSession(uuid.New(), c.cfg.PlaybackFPS)
	log := c.logger.With(zap.String("session_id", s.ID.String()))
	e := &sessionEntry{
		state:  s,
		loop:   overlay.NewLoop(c.deps.Renderer, c.cfg.OverlayInterval, log),
		logger: log,
	}

	c.mu.Lock()
	c.sessions[s.ID] = e
	c.mu.Unlock()

	log.Info("session created")
	return s
}

func (c *SessionController) entry(id uuid.UUID) (*sessionEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.sessions[id]
	if !ok {
		return nil, entity.ErrSessionNotFound
	}
	return e, nil
}

// Get returns the current state with derived measurement data.
func (c *SessionController) Get(id uuid.UUID) (SessionView, error) {
	e, err := c.entry(id)
	if err != nil {
		return SessionView{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return newSessionView(e.state, e.loop.Running(), len(e.bevImage) > 0), nil
}

// Teardown cancels any export, stops the overlay loop and releases the media
// before forgetting the session.
func (c *SessionController) Teardown(id uuid.UUID) error {
	c.mu.Lock()
	e, ok := c.sessions[id]
	delete(c.sessions, id)
	c.mu.Unlock()
	if !ok {
		return entity.ErrSessionNotFound
	}

	e.mu.Lock()
	e.closed = true
	cancel := e.exportCancel
	media := e.media
	e.media = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.loop.Stop()
	if media != nil {
		media.Close()
	}
	if err := os.RemoveAll(c.sessionDir(id)); err != nil {
		e.logger.Warn("failed to remove session files", zap.Error(err))
	}
	e.logger.Info("session torn down")
	return nil
}

// Shutdown tears every session down.
func (c *SessionController) Shutdown() {
	c.mu.RLock()
	ids := make([]uuid.UUID, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	for _, id := range ids {
		c.Teardown(id)
	}
}

func (c *SessionController) sessionDir(id uuid.UUID) string {
	return filepath.Join(c.cfg.WorkDir, id.String())
}

// apply runs a local transition. A rejected transition leaves the session
// unchanged and is logged and counted.
func (c *SessionController) apply(id uuid.UUID, op string, fn func(entity.Session) (entity.Session, error)) (entity.Session, error) {
	e, err := c.entry(id)
	if err != nil {
		return entity.Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return entity.Session{}, entity.ErrSessionNotFound
	}

	next, err := fn(e.state)
	if err != nil {
		c.reject(e.logger, op, err)
		return e.state, err
	}
	e.state = next
	e.loop.Update(overlay.SceneFor(next))
	return next, nil
}

func noRelease() {}

// begin validates check and marks op as the session's outstanding external
// request. The lock is not held during the request itself. The returned
// release must be deferred: it clears the mark when the request never
// reaches end, so a panicking call cannot leave the session busy.
func (c *SessionController) begin(e *sessionEntry, op string, check func(entity.Session) error) (entity.Session, func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return entity.Session{}, noRelease, entity.ErrSessionNotFound
	}
	if check != nil {
		if err := check(e.state); err != nil {
			c.reject(e.logger, op, err)
			return e.state, noRelease, err
		}
	}
	next, err := e.state.BeginRequest(op)
	if err != nil {
		c.reject(e.logger, op, err)
		return e.state, noRelease, err
	}
	e.state = next
	e.request++
	seq := e.request
	release := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.request == seq && e.state.Pending != "" {
			e.state = e.state.EndRequest()
		}
	}
	return next, release, nil
}

// end clears the outstanding request and, when fn is set, applies its
// result. If fn fails only the request mark is cleared. On a torn-down
// session fn is not run and ErrSessionNotFound is returned.
func (c *SessionController) end(e *sessionEntry, fn func(entity.Session) (entity.Session, error)) (entity.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return entity.Session{}, entity.ErrSessionNotFound
	}
	s := e.state.EndRequest()
	if fn != nil {
		next, err := fn(s)
		if err != nil {
			e.state = s
			return s, err
		}
		s = next
	}
	e.state = s
	e.loop.Update(overlay.SceneFor(s))
	return s, nil
}

func (c *SessionController) reject(log *zap.Logger, op string, err error) {
	reason := rejectionReason(err)
	metrics.RejectedOperationsTotal.WithLabelValues(reason).Inc()
	log.Warn("operation rejected", zap.String("op", op), zap.String("reason", reason), zap.Error(err))
}

func rejectionReason(err error) string {
	var se *entity.ServiceError
	switch {
	case entity.IsGuard(err):
		return "guard"
	case errors.Is(err, entity.ErrBusy):
		return "busy"
	case errors.Is(err, entity.ErrInvalidDistance),
		errors.Is(err, entity.ErrNoPairAwaitingInput),
		errors.Is(err, entity.ErrPairAwaitingDistance),
		errors.Is(err, entity.ErrEmptyDisplayRect):
		return "validation"
	case errors.As(err, &se):
		return "service"
	default:
		return "other"
	}
}

// PlacePoint maps a pointer position on the visible surface to native
// pixels and adds it to the open pair.
func (c *SessionController) PlacePoint(id uuid.UUID, pointerX, pointerY float64, rect entity.Rect) (entity.Session, error) {
	return c.apply(id, "place point", func(s entity.Session) (entity.Session, error) {
		native := s.SurfaceSize(s.Mode.VisibleSurface())
		p, err := entity.ToNativePixels(pointerX, pointerY, rect, native)
		if err != nil {
			return s, err
		}
		return s.PlacePoint(p)
	})
}

// RecordDistance commits the open pair and stores a snapshot of the
// calibration for the current frame.
func (c *SessionController) RecordDistance(ctx context.Context, id uuid.UUID, meters float64) (entity.Session, error) {
	return c.recordDistance(ctx, id, func(s entity.Session) (entity.Session, error) {
		return s.RecordDistance(meters)
	})
}

// RecordDistanceInput records a distance the operator typed as text.
func (c *SessionController) RecordDistanceInput(ctx context.Context, id uuid.UUID, text string) (entity.Session, error) {
	return c.recordDistance(ctx, id, func(s entity.Session) (entity.Session, error) {
		return s.RecordDistanceInput(text)
	})
}

func (c *SessionController) recordDistance(ctx context.Context, id uuid.UUID, fn func(entity.Session) (entity.Session, error)) (entity.Session, error) {
	s, err := c.apply(id, "record distance", fn)
	if err != nil {
		return s, err
	}

	if c.deps.Calibrations != nil {
		snap := entity.CalibrationSnapshot{
			SessionID:   s.ID,
			FrameNumber: s.FrameNumber(),
			Pairs:       s.Calibration.Pairs,
			SavedAt:     time.Now().UTC(),
		}
		if err := c.deps.Calibrations.SaveSnapshot(ctx, snap); err != nil {
			c.logger.Warn("failed to persist calibration snapshot",
				zap.String("session_id", s.ID.String()),
				zap.Error(err),
			)
		}
	}
	return s, nil
}

func (c *SessionController) AbortPair(id uuid.UUID) (entity.Session, error) {
	return c.apply(id, "abort pair", entity.Session.AbortPair)
}

func (c *SessionController) TogglePlayPause(id uuid.UUID) (entity.Session, error) {
	return c.apply(id, "toggle playback", entity.Session.TogglePlayPause)
}

// Skip moves by the configured step; direction is the sign of steps.
func (c *SessionController) Skip(id uuid.UUID, steps float64) (entity.Session, error) {
	return c.apply(id, "skip", func(s entity.Session) (entity.Session, error) {
		return s.Skip(steps * c.cfg.SkipSeconds)
	})
}

func (c *SessionController) Seek(id uuid.UUID, seconds float64) (entity.Session, error) {
	return c.apply(id, "seek", func(s entity.Session) (entity.Session, error) {
		return s.Seek(seconds)
	})
}

func (c *SessionController) TimeUpdated(id uuid.UUID, seconds float64) (entity.Session, error) {
	return c.apply(id, "time update", func(s entity.Session) (entity.Session, error) {
		return s.TimeUpdated(seconds), nil
	})
}

func (c *SessionController) ToggleAnnotating(id uuid.UUID) (entity.Session, error) {
	return c.apply(id, "toggle annotation", entity.Session.ToggleAnnotating)
}

// Calibrations lists the stored calibration snapshots of a session.
func (c *SessionController) Calibrations(ctx context.Context, id uuid.UUID) ([]entity.CalibrationSnapshot, error) {
	if _, err := c.entry(id); err != nil {
		return nil, err
	}
	if c.deps.Calibrations == nil {
		return nil, entity.ErrNotConfigured
	}
	return c.deps.Calibrations.ListSnapshots(ctx, id)
}

// Overlay returns a copy of the session's overlay surface.
func (c *SessionController) Overlay(id uuid.UUID) (*image.RGBA, error) {
	e, err := c.entry(id)
	if err != nil {
		return nil, err
	}
	img := e.loop.Snapshot()
	if img == nil {
		return nil, fmt.Errorf("overlay: %w", entity.ErrEmptyDisplayRect)
	}
	return img, nil
}

// BEVImage returns the rectified image shown in bird's-eye view.
func (c *SessionController) BEVImage(id uuid.UUID) ([]byte, error) {
	e, err := c.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Mode != entity.ModeBeVView || len(e.bevImage) == 0 {
		return nil, &entity.GuardError{Op: "bird's-eye image", Mode: e.state.Mode, Reason: "bird's-eye view is not shown"}
	}
	return e.bevImage, nil
}
