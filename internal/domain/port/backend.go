package port

import (
	"context"
	"io"

	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/entity"
)

type AssetIngestor interface {
	Submit(ctx context.Context, filename string, r io.Reader, preprocess bool) (string, error)
	Fetch(ctx context.Context, assetID string) (io.ReadCloser, error)
}

type LogSynchronizer interface {
	UploadFlightLog(ctx context.Context, filename string, r io.Reader) error
	UploadTelemetry(ctx context.Context, filename string, r io.Reader) error
	Sync(ctx context.Context) error
}

type Rectifier interface {
	Rectify(ctx context.Context, req entity.RectifyRequest) ([]byte, error)
}

type Detector interface {
	Trigger(ctx context.Context, assetID string) error
	// Visualize asks the backend to render the detection results and returns
	// the media source of the result video.
	Visualize(ctx context.Context, assetID string) (string, error)
}
