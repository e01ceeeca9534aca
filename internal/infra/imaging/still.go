package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"sync"

	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/entity"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/port"
)

const DefaultJPEGQuality = 95

var errStillClosed = errors.New("still encoder already finalized or aborted")

// StillEncoder turns a single composited frame into a JPEG. A second frame
// replaces the first.
type StillEncoder struct {
	size    entity.Size
	quality int

	mu     sync.Mutex
	frame  *image.RGBA
	closed bool
}

func NewStillEncoder(size entity.Size, quality int) (*StillEncoder, error) {
	if size.Empty() {
		return nil, fmt.Errorf("still size %dx%d: %w", size.Width, size.Height, entity.ErrEmptyDisplayRect)
	}
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &StillEncoder{size: size, quality: quality}, nil
}

func (e *StillEncoder) WriteFrame(ctx context.Context, frame image.Image) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errStillClosed
	}
	dst := image.NewRGBA(image.Rect(0, 0, e.size.Width, e.size.Height))
	draw.Draw(dst, dst.Bounds(), frame, frame.Bounds().Min, draw.Src)
	e.frame = dst
	return nil
}

func (e *StillEncoder) Finalize(ctx context.Context) (*port.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errStillClosed
	}
	e.closed = true
	if e.frame == nil {
		return nil, fmt.Errorf("finalize still: no frame written")
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, e.frame, &jpeg.Options{Quality: e.quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	e.frame = nil
	return &port.Artifact{Data: buf.Bytes(), ContentType: "image/jpeg", Extension: ".JPG"}, nil
}

func (e *StillEncoder) Abort() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.frame = nil
	return nil
}
