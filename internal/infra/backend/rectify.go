package backend

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/entity"
	"go.uber.org/zap"
)

// SyncLogName is the synchronized flight log the backend writes.
const SyncLogName = "sync_log.csv"

// bevRequest is the body of the rectification endpoint. Objects is a
// detection row: only the box corners (slots 3 to 6) carry the measured
// pair, the rest mark "no detection".
type bevRequest struct {
	FrameNum     int        `json:"frame_num"`
	FramePath    string     `json:"frame_path"`
	CSVPath      string     `json:"csv_path"`
	Objects      []*float64 `json:"objects"`
	RealDistance float64    `json:"realdistance"`
	DstDir       string     `json:"dst_dir"`
}

func newBEVRequest(req entity.RectifyRequest, dstDir string) bevRequest {
	p1, p2 := req.Pair[0], req.Pair[1]
	neg := -1.0
	objects := []*float64{nil, nil, nil, &p1.X, &p1.Y, &p2.X, &p2.Y, nil, &neg, &neg, &neg}
	return bevRequest{
		FrameNum:     req.FrameIndex,
		FramePath:    req.FrameReference,
		CSVPath:      req.LogReference,
		Objects:      objects,
		RealDistance: req.RealDistanceMeters,
		DstDir:       dstDir,
	}
}

// FramePath is where the backend keeps the extracted frame of a video.
func (p Paths) FramePath(videoName string, frame int) string {
	stem := strings.TrimSuffix(path.Base(videoName), path.Ext(videoName))
	return path.Join(p.FrameDir, fmt.Sprintf("%s_%05d.jpg", stem, frame))
}

func (p Paths) SyncLogPath() string {
	return path.Join(p.SyncLogDir, SyncLogName)
}

// Paths exposes the host layout so callers can build rectify requests.
func (c *Client) Paths() Paths {
	return c.paths
}

// Rectify returns the PNG bird's-eye image of the requested frame.
func (c *Client) Rectify(ctx context.Context, req entity.RectifyRequest) ([]byte, error) {
	resp, err := c.postJSON(ctx, c.bevURL+"/bev1", serviceRectification, newBEVRequest(req, c.paths.BEVResultDir))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	img, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &entity.ServiceError{Service: serviceRectification, Err: fmt.Errorf("read image: %w", err)}
	}
	if len(img) == 0 {
		return nil, &entity.ServiceError{Service: serviceRectification, Err: fmt.Errorf("empty image")}
	}

	c.logger.Info("bird's-eye image received",
		zap.Int("frame", req.FrameIndex),
		zap.Int("bytes", len(img)),
	)
	return img, nil
}
