package usecase

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"time"

	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/entity"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/port"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/infra/metrics"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/overlay"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"
)

// ProgressFunc is called after each composited frame with a 1-based count.
type ProgressFunc func(done, total int)

// ExportPipeline composites the overlay onto decoded frames and encodes the
// result. A still is the same composite with a single frame.
type ExportPipeline struct {
	encoders port.EncoderFactory
	renderer *overlay.Renderer
	logger   *zap.Logger
}

func NewExportPipeline(encoders port.EncoderFactory, renderer *overlay.Renderer, logger *zap.Logger) *ExportPipeline {
	return &ExportPipeline{encoders: encoders, renderer: renderer, logger: logger}
}

// ExportVideo visits floor(duration*fps) frames at t = i/fps, waiting for
// every seek to complete before drawing.
func (p *ExportPipeline) ExportVideo(ctx context.Context, media port.MediaElement, scene overlay.Scene, fps float64, progress ProgressFunc) (*port.Artifact, error) {
	ctx, span := otel.Tracer("usecase").Start(ctx, "ExportPipeline.ExportVideo")
	defer span.End()

	start := time.Now()
	total := entity.TotalFramesFor(media.DurationSeconds(), fps)
	size := media.Size()
	span.SetAttributes(
		attribute.Float64("export.fps", fps),
		attribute.Int("export.total_frames", total),
	)
	log := p.logger.With(zap.Float64("fps", fps), zap.Int("total_frames", total))

	if total == 0 {
		err := fmt.Errorf("%w: source has no frames at %v fps", entity.ErrExportFailed, fps)
		p.finish(span, entity.ExportKindVideo, err)
		return nil, err
	}

	enc, err := p.encoders.NewVideoEncoder(ctx, size, fps)
	if err != nil {
		err = fmt.Errorf("%w: open encoder: %w", entity.ErrExportFailed, err)
		p.finish(span, entity.ExportKindVideo, err)
		return nil, err
	}

	metrics.ActiveExports.Inc()
	defer metrics.ActiveExports.Dec()

	art, err := p.run(ctx, enc, size, total, func(i int) (image.Image, error) {
		return p.seekFrame(ctx, media, float64(i)/fps, log)
	}, scene, progress)
	p.finish(span, entity.ExportKindVideo, err)
	if err != nil {
		log.Warn("video export aborted", zap.Error(err))
		return nil, err
	}

	metrics.ExportStageDuration.WithLabelValues("video").Observe(time.Since(start).Seconds())
	log.Info("video export finished", zap.Int("bytes", len(art.Data)), zap.Duration("took", time.Since(start)))
	return art, nil
}

// ExportStill composites the frame at seconds.
func (p *ExportPipeline) ExportStill(ctx context.Context, media port.MediaElement, seconds float64, scene overlay.Scene) (*port.Artifact, error) {
	ctx, span := otel.Tracer("usecase").Start(ctx, "ExportPipeline.ExportStill")
	defer span.End()
	span.SetAttributes(attribute.Float64("export.time", seconds))

	start := time.Now()
	size := media.Size()
	enc, err := p.encoders.NewStillEncoder(ctx, size)
	if err != nil {
		err = fmt.Errorf("%w: open encoder: %w", entity.ErrExportFailed, err)
		p.finish(span, entity.ExportKindStill, err)
		return nil, err
	}

	art, err := p.run(ctx, enc, size, 1, func(int) (image.Image, error) {
		return p.seekFrame(ctx, media, seconds, p.logger)
	}, scene, nil)
	p.finish(span, entity.ExportKindStill, err)
	if err != nil {
		return nil, err
	}
	metrics.ExportStageDuration.WithLabelValues("still").Observe(time.Since(start).Seconds())
	return art, nil
}

// run owns the encoder and the off-screen buffer. The encoder is aborted on
// every path that does not finalize it.
func (p *ExportPipeline) run(
	ctx context.Context,
	enc port.FrameEncoder,
	size entity.Size,
	total int,
	frameAt func(i int) (image.Image, error),
	scene overlay.Scene,
	progress ProgressFunc,
) (*port.Artifact, error) {
	finalized := false
	defer func() {
		if !finalized {
			if abortErr := enc.Abort(); abortErr != nil {
				p.logger.Warn("encoder abort failed", zap.Error(abortErr))
			}
		}
	}()

	scene.Hidden = false
	buf := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))

	for i := 0; i < total; i++ {
		if ctx.Err() != nil {
			return nil, exportError(ctx, fmt.Errorf("stopped before frame %d", i))
		}

		frame, err := frameAt(i)
		if err != nil {
			return nil, exportError(ctx, fmt.Errorf("frame %d: %w", i, err))
		}

		p.composite(buf, frame, scene)
		if err := enc.WriteFrame(ctx, buf); err != nil {
			return nil, exportError(ctx, fmt.Errorf("encoder rejected frame %d: %w", i, err))
		}
		metrics.FramesCompositedTotal.Inc()

		if progress != nil {
			progress(i+1, total)
		}
	}

	art, err := enc.Finalize(ctx)
	if err != nil {
		return nil, exportError(ctx, fmt.Errorf("finalize: %w", err))
	}
	finalized = true
	return art, nil
}

// composite draws frame at native resolution and the overlay on top.
func (p *ExportPipeline) composite(buf *image.RGBA, frame image.Image, scene overlay.Scene) {
	if frame.Bounds().Size() == buf.Rect.Size() {
		draw.Draw(buf, buf.Rect, frame, frame.Bounds().Min, draw.Src)
	} else {
		xdraw.ApproxBiLinear.Scale(buf, buf.Rect, frame, frame.Bounds(), draw.Src, nil)
	}
	p.renderer.Paint(buf, scene)
}

// seekFrame waits for the seek to t to complete. A seek past the last
// decodable frame is retried once at the last seekable time.
func (p *ExportPipeline) seekFrame(ctx context.Context, media port.MediaElement, t float64, log *zap.Logger) (image.Image, error) {
	res, err := awaitSeek(ctx, media, t)
	if err != nil {
		return nil, err
	}
	if errors.Is(res.Err, port.ErrSeekOutOfRange) {
		last := media.LastSeekableTime()
		if last < t {
			metrics.SeekClampsTotal.Inc()
			log.Debug("seek clamped", zap.Float64("requested", t), zap.Float64("clamped", last))
			res, err = awaitSeek(ctx, media, last)
			if err != nil {
				return nil, err
			}
		}
	}
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Frame == nil {
		return nil, fmt.Errorf("seek to %.3fs returned no frame", t)
	}
	return res.Frame, nil
}

func awaitSeek(ctx context.Context, media port.MediaElement, t float64) (port.SeekResult, error) {
	select {
	case res, ok := <-media.Seek(ctx, t):
		if !ok {
			return port.SeekResult{}, fmt.Errorf("seek to %.3fs closed without a result", t)
		}
		return res, nil
	case <-ctx.Done():
		return port.SeekResult{}, ctx.Err()
	}
}

// exportError classifies a failure as a cancellation when ctx ended, and as
// an export failure otherwise.
func exportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", entity.ErrExportCanceled, err)
	}
	return fmt.Errorf("%w: %w", entity.ErrExportFailed, err)
}

// finish records the outcome of one export on span and in metrics.
func (p *ExportPipeline) finish(span trace.Span, kind entity.ExportKind, err error) {
	status := entity.ExportStatusCompleted
	switch {
	case errors.Is(err, entity.ErrExportCanceled):
		status = entity.ExportStatusCanceled
		span.SetStatus(codes.Error, "canceled")
	case err != nil:
		status = entity.ExportStatusFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	metrics.ExportsTotal.WithLabelValues(string(kind), string(status)).Inc()
}
