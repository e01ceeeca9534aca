package localfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/port"
	"go.uber.org/zap"
)

// Sink writes artifacts into a directory on the local disk.
type Sink struct {
	dir    string
	logger *zap.Logger
}

func NewSink(dir string, logger *zap.Logger) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	return &Sink{dir: dir, logger: logger}, nil
}

// Save writes through a temporary file and renames it into place, so a
// reader never sees a partial artifact.
func (s *Sink) Save(ctx context.Context, filename string, artifact *port.Artifact) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) || strings.HasPrefix(name, "..") {
		return "", fmt.Errorf("invalid artifact name %q", filename)
	}

	tmp, err := os.CreateTemp(s.dir, ".partial-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(artifact.Data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close artifact: %w", err)
	}

	dest := filepath.Join(s.dir, name)
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("move artifact into place: %w", err)
	}

	s.logger.Info("artifact saved", zap.String("path", dest), zap.Int("bytes", len(artifact.Data)))
	return dest, nil
}
