package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/entity"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/port"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/infra/imaging"
	"go.uber.org/zap"
)

var errEncoderClosed = errors.New("encoder already finalized or aborted")

// Factory builds webm video encoders backed by an ffmpeg process and JPEG
// still encoders.
type Factory struct {
	ffmpegPath  string
	tempDir     string
	jpegQuality int
	logger      *zap.Logger
}

func NewFactory(ffmpegPath, tempDir string, logger *zap.Logger) *Factory {
	return &Factory{ffmpegPath: ffmpegPath, tempDir: tempDir, jpegQuality: imaging.DefaultJPEGQuality, logger: logger}
}

func (f *Factory) NewStillEncoder(_ context.Context, size entity.Size) (port.FrameEncoder, error) {
	return imaging.NewStillEncoder(size, f.jpegQuality)
}

func (f *Factory) NewVideoEncoder(ctx context.Context, size entity.Size, fps float64) (port.FrameEncoder, error) {
	if size.Empty() {
		return nil, fmt.Errorf("encoder size %dx%d: %w", size.Width, size.Height, entity.ErrEmptyDisplayRect)
	}
	if fps <= 0 {
		return nil, fmt.Errorf("encoder frame rate must be positive, got %v", fps)
	}
	if err := os.MkdirAll(f.tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	out, err := os.CreateTemp(f.tempDir, "export-*.webm")
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	outPath := out.Name()
	out.Close()

	stderr := newOutputTail(50)
	// The process outlives the request context; Abort owns its teardown.
	cmd := exec.Command(f.ffmpegPath, encodeArgs(size, fps, outPath)...)
	cmd.Stderr = stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		os.Remove(outPath)
		return nil, fmt.Errorf("open ffmpeg stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		os.Remove(outPath)
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	f.logger.Debug("video encoder started",
		zap.String("output", outPath),
		zap.Int("width", size.Width),
		zap.Int("height", size.Height),
		zap.Float64("fps", fps),
	)

	return &VideoEncoder{
		cmd:     cmd,
		stdin:   stdin,
		stderr:  stderr,
		outPath: outPath,
		size:    size,
		scratch: image.NewRGBA(image.Rect(0, 0, size.Width, size.Height)),
		logger:  f.logger.With(zap.String("output", outPath)),
	}, nil
}

// VideoEncoder pipes raw RGBA frames into ffmpeg, which writes VP8 webm to a
// temporary file read back on Finalize.
type VideoEncoder struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stderr  *outputTail
	outPath string
	size    entity.Size
	scratch *image.RGBA
	logger  *zap.Logger

	mu     sync.Mutex
	frames int
	closed bool
}

func (e *VideoEncoder) WriteFrame(ctx context.Context, frame image.Image) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errEncoderClosed
	}

	pix := e.rgba(frame)
	if _, err := e.stdin.Write(pix); err != nil {
		return fmt.Errorf("write frame %d: %w, output: %s", e.frames, err, e.stderr)
	}
	e.frames++
	return nil
}

// rgba returns frame as tightly packed RGBA bytes of the encoder's size.
func (e *VideoEncoder) rgba(frame image.Image) []byte {
	if m, ok := frame.(*image.RGBA); ok &&
		m.Rect.Min == (image.Point{}) &&
		m.Rect.Dx() == e.size.Width && m.Rect.Dy() == e.size.Height &&
		m.Stride == 4*e.size.Width {
		return m.Pix
	}
	draw.Draw(e.scratch, e.scratch.Bounds(), image.Transparent, image.Point{}, draw.Src)
	draw.Draw(e.scratch, e.scratch.Bounds(), frame, frame.Bounds().Min, draw.Src)
	return e.scratch.Pix
}

func (e *VideoEncoder) Finalize(ctx context.Context) (*port.Artifact, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errEncoderClosed
	}
	e.closed = true
	defer os.Remove(e.outPath)

	if e.frames == 0 {
		e.stdin.Close()
		e.cmd.Process.Kill()
		e.cmd.Wait()
		return nil, fmt.Errorf("finalize video: no frames written")
	}

	e.stdin.Close()
	waitErr := make(chan error, 1)
	go func() { waitErr <- e.cmd.Wait() }()

	select {
	case err := <-waitErr:
		if err != nil {
			return nil, fmt.Errorf("ffmpeg encode: %w, output: %s", err, e.stderr)
		}
	case <-ctx.Done():
		e.cmd.Process.Kill()
		<-waitErr
		return nil, ctx.Err()
	}

	data, err := os.ReadFile(e.outPath)
	if err != nil {
		return nil, fmt.Errorf("read encoded video: %w", err)
	}

	e.logger.Info("video encoded", zap.Int("frames", e.frames), zap.Int("bytes", len(data)))
	return &port.Artifact{Data: data, ContentType: "video/webm", Extension: ".webm"}, nil
}

func (e *VideoEncoder) Abort() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	e.stdin.Close()
	e.cmd.Process.Kill()
	e.cmd.Wait()
	if err := os.Remove(e.outPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove partial output: %w", err)
	}
	e.logger.Debug("video encoder aborted", zap.Int("frames", e.frames))
	return nil
}

func encodeArgs(size entity.Size, fps float64, outPath string) []string {
	return []string{
		"-v", "error",
		"-y",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", size.Width, size.Height),
		"-r", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", "-",
		"-an",
		"-c:v", "libvpx",
		"-b:v", "4M",
		"-pix_fmt", "yuv420p",
		"-f", "webm",
		outPath,
	}
}
