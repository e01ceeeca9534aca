package backend

import (
	"context"
	"path"

	"go.uber.org/zap"
)

type inferenceRequest struct {
	FramePath         string `json:"frame_path"`
	DetectionSavePath string `json:"detection_save_path"`
	SlicedPath        string `json:"sliced_path"`
	OutputMergePath   string `json:"output_merge_path"`
}

type visualizeRequest struct {
	LogPath                string `json:"log_path"`
	InputDir               string `json:"input_dir"`
	OutputVideo            string `json:"output_video"`
	BBoxPath               string `json:"bbox_path"`
	SetMergedDolphinCenter bool   `json:"set_merged_dolphin_center"`
	VideoPath              string `json:"video_path"`
}

// Trigger starts detection over the extracted frames of the current asset.
func (c *Client) Trigger(ctx context.Context, assetID string) error {
	body := inferenceRequest{
		FramePath:         c.paths.FrameDir,
		DetectionSavePath: path.Join(c.paths.WorkDir, "model", "detection", "result"),
		SlicedPath:        path.Join(c.paths.WorkDir, "model", "sliced"),
		OutputMergePath:   path.Join(c.paths.WorkDir, "model", "merged"),
	}
	resp, err := c.postJSON(ctx, c.apiURL+"/inference", serviceDetection, body)
	if err != nil {
		return err
	}
	drain(resp)
	c.logger.Info("detection triggered", zap.String("asset_id", assetID))
	return nil
}

// Visualize renders the detection results into a video and returns the
// source the player should load.
func (c *Client) Visualize(ctx context.Context, assetID string) (string, error) {
	body := visualizeRequest{
		LogPath:     c.paths.SyncLogDir,
		InputDir:    c.paths.FrameDir,
		OutputVideo: path.Join(c.paths.WorkDir, "result", "result.mp4"),
		BBoxPath:    path.Join(c.paths.WorkDir, "model", "tracking", "result.txt"),
		VideoPath:   path.Join(c.paths.WorkDir, "video_origin"),
	}
	resp, err := c.postJSON(ctx, c.apiURL+"/visualize/", serviceDetection, body)
	if err != nil {
		return "", err
	}
	drain(resp)
	c.logger.Info("detection results rendered", zap.String("asset_id", assetID))
	return c.VideoURL(), nil
}
