package overlay

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/entity"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/infra/metrics"
	"go.uber.org/zap"
)

// DefaultInterval matches the redraw cadence of the interactive canvas.
const DefaultInterval = 100 * time.Millisecond

// Loop repaints the overlay surface from the latest scene on a fixed
// interval. It keeps painting while the video is paused, when no frame
// callbacks would fire. Scene updates never draw; only ticks do.
type Loop struct {
	renderer *Renderer
	interval time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	surface   *image.RGBA
	scene     Scene
	suspended bool
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewLoop(renderer *Renderer, interval time.Duration, logger *zap.Logger) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Loop{renderer: renderer, interval: interval, logger: logger}
}

// Start allocates a surface of the media's native size and begins ticking.
// A running loop is stopped first, so Start also serves a media reload.
func (l *Loop) Start(size entity.Size) error {
	if size.Empty() {
		return entity.ErrEmptyDisplayRect
	}
	l.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	l.mu.Lock()
	l.surface = image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
	l.suspended = false
	l.cancel = cancel
	l.done = done
	l.mu.Unlock()

	go l.run(ctx, done)

	l.logger.Debug("overlay loop started",
		zap.Int("width", size.Width),
		zap.Int("height", size.Height),
		zap.Duration("interval", l.interval),
	)
	return nil
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Tick()
		}
	}
}

// Stop cancels the ticker, waits for an in-flight paint to finish and
// releases the surface. It is safe to call on a stopped loop.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	l.mu.Lock()
	l.surface = nil
	l.mu.Unlock()
	l.logger.Debug("overlay loop stopped")
}

func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

// Update replaces the scene painted by the next tick.
func (l *Loop) Update(sc Scene) {
	l.mu.Lock()
	l.scene = sc
	l.mu.Unlock()
}

// Suspend stops painting until Resume. Used while an export owns the frame
// pipeline.
func (l *Loop) Suspend() {
	l.mu.Lock()
	l.suspended = true
	l.mu.Unlock()
}

func (l *Loop) Resume() {
	l.mu.Lock()
	l.suspended = false
	l.mu.Unlock()
}

// Tick clears the surface and paints the current scene once.
func (l *Loop) Tick() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.surface == nil || l.suspended {
		metrics.OverlayTicksTotal.WithLabelValues("skipped").Inc()
		return
	}
	l.renderer.Clear(l.surface)
	l.renderer.Paint(l.surface, l.scene)
	metrics.OverlayTicksTotal.WithLabelValues("painted").Inc()
}

// Snapshot returns a copy of the surface, or nil when the loop is stopped.
func (l *Loop) Snapshot() *image.RGBA {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.surface == nil {
		return nil
	}
	cp := image.NewRGBA(l.surface.Bounds())
	copy(cp.Pix, l.surface.Pix)
	return cp
}
