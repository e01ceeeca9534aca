package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"os/exec"
	"strconv"
	"sync"

	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/entity"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/port"
	"go.uber.org/zap"
)

// Opener probes a source and returns a media element decoding its frames on
// demand with ffmpeg.
type Opener struct {
	ffmpegPath  string
	ffprobePath string
	logger      *zap.Logger
}

func NewOpener(ffmpegPath, ffprobePath string, logger *zap.Logger) *Opener {
	return &Opener{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, logger: logger}
}

func (o *Opener) Open(ctx context.Context, source string) (port.MediaElement, error) {
	info, err := Probe(ctx, o.ffprobePath, source)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", source, err)
	}

	o.logger.Info("media opened",
		zap.String("source", source),
		zap.Int("width", info.Size.Width),
		zap.Int("height", info.Size.Height),
		zap.Float64("duration", info.DurationSeconds),
		zap.Float64("frame_rate", info.FrameRate),
	)

	return &Media{
		ffmpegPath: o.ffmpegPath,
		source:     source,
		info:       info,
		logger:     o.logger.With(zap.String("source", source)),
	}, nil
}

// Media decodes one frame per Seek. Seeks on the same element run one at a
// time in call order.
type Media struct {
	ffmpegPath string
	source     string
	info       ProbeInfo
	logger     *zap.Logger

	mu     sync.Mutex
	closed bool
}

func (m *Media) Size() entity.Size {
	return m.info.Size
}

func (m *Media) DurationSeconds() float64 {
	return m.info.DurationSeconds
}

// LastSeekableTime is one source frame before the reported duration, which
// containers often round up past the final decodable frame.
func (m *Media) LastSeekableTime() float64 {
	step := 0.0
	if m.info.FrameRate > 0 {
		step = 1 / m.info.FrameRate
	}
	t := m.info.DurationSeconds - step
	if t < 0 {
		return 0
	}
	return t
}

func (m *Media) Seek(ctx context.Context, seconds float64) <-chan port.SeekResult {
	ch := make(chan port.SeekResult, 1)
	go func() {
		defer close(ch)
		ch <- m.decodeAt(ctx, seconds)
	}()
	return ch
}

func (m *Media) decodeAt(ctx context.Context, seconds float64) port.SeekResult {
	res := port.SeekResult{Time: seconds}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		res.Err = errors.New("media element closed")
		return res
	}
	if seconds < 0 || seconds > m.info.DurationSeconds {
		res.Err = port.ErrSeekOutOfRange
		return res
	}

	var stdout bytes.Buffer
	stderr := newOutputTail(20)
	cmd := exec.CommandContext(ctx, m.ffmpegPath, seekArgs(m.source, seconds)...)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			res.Err = ctx.Err()
			return res
		}
		res.Err = fmt.Errorf("ffmpeg seek to %.3fs: %w, output: %s", seconds, err, stderr)
		return res
	}
	if stdout.Len() == 0 {
		m.logger.Debug("seek produced no frame", zap.Float64("time", seconds))
		res.Err = port.ErrSeekOutOfRange
		return res
	}

	frame, err := png.Decode(&stdout)
	if err != nil {
		res.Err = fmt.Errorf("decode frame at %.3fs: %w", seconds, err)
		return res
	}
	res.Frame = frame
	return res
}

func (m *Media) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// seekArgs decodes exactly one frame at seconds and writes it as PNG to
// stdout. -ss before -i seeks on keyframes then decodes forward to the
// exact time.
func seekArgs(source string, seconds float64) []string {
	return []string{
		"-v", "error",
		"-ss", strconv.FormatFloat(seconds, 'f', 6, 64),
		"-i", source,
		"-frames:v", "1",
		"-an",
		"-f", "image2pipe",
		"-c:v", "png",
		"-",
	}
}
