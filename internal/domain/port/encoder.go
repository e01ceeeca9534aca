package port

import (
	"context"
	"image"

	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/entity"
)

// Artifact is a finalized export ready for download.
type Artifact struct {
	Data        []byte
	ContentType string
	Extension   string
}

// FrameEncoder consumes composited frames and produces one artifact.
// Abort releases every resource and discards partial output; it is safe to
// call after Finalize and more than once.
type FrameEncoder interface {
	WriteFrame(ctx context.Context, frame image.Image) error
	Finalize(ctx context.Context) (*Artifact, error)
	Abort() error
}

type EncoderFactory interface {
	NewVideoEncoder(ctx context.Context, size entity.Size, fps float64) (FrameEncoder, error)
	NewStillEncoder(ctx context.Context, size entity.Size) (FrameEncoder, error)
}
