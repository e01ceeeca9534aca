package port

import "context"

// DownloadSink stores a finalized artifact under filename and returns where
// it can be fetched from.
type DownloadSink interface {
	Save(ctx context.Context, filename string, artifact *Artifact) (string, error)
}
