package port

import (
	"context"
	"errors"
	"image"

	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/entity"
)

// ErrSeekOutOfRange is returned when the media cannot be positioned at the
// requested time, typically a rounding past the last decodable frame.
var ErrSeekOutOfRange = errors.New("seek time outside decodable range")

// SeekResult is delivered once per Seek, after the frame at Time has been
// decoded. Frame is only valid until the next Seek on the same element.
type SeekResult struct {
	Time  float64
	Frame image.Image
	Err   error
}

// MediaElement is a seekable decoded-video source. Pixel data may only be
// read from a SeekResult; there is no other safe point.
type MediaElement interface {
	Size() entity.Size
	DurationSeconds() float64
	// LastSeekableTime is the latest time a Seek is guaranteed to decode.
	LastSeekableTime() float64
	// Seek starts positioning the media at seconds. The returned channel
	// receives exactly one result and is then closed.
	Seek(ctx context.Context, seconds float64) <-chan SeekResult
	Close() error
}

type MediaOpener interface {
	Open(ctx context.Context, source string) (MediaElement, error)
}
