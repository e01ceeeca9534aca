package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/entity"
	"go.uber.org/zap"
)

type uploadResponse struct {
	Message  string `json:"message"`
	Filename string `json:"filename"`
}

// Submit uploads a video and returns the name the backend stored it under,
// which identifies the asset from then on.
func (c *Client) Submit(ctx context.Context, filename string, r io.Reader, preprocess bool) (string, error) {
	flag := "0"
	if preprocess {
		flag = "1"
	}
	resp, err := c.postFile(ctx, c.apiURL+"/video/", serviceIngestion, filename, r, map[string]string{"preprocess": flag})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &entity.ServiceError{Service: serviceIngestion, Err: fmt.Errorf("decode upload response: %w", err)}
	}
	if out.Filename == "" {
		return "", &entity.ServiceError{Service: serviceIngestion, Err: fmt.Errorf("upload response has no filename")}
	}

	c.logger.Info("video submitted", zap.String("asset_id", out.Filename), zap.Bool("preprocess", preprocess))
	return out.Filename, nil
}

// Fetch streams the processed video back. The backend serves the most
// recent upload, so assetID is only logged.
func (c *Client) Fetch(ctx context.Context, assetID string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.VideoURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}
	resp, err := c.do(req, serviceIngestion)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("fetching processed video", zap.String("asset_id", assetID))
	return resp.Body, nil
}

// VideoURL is where the backend serves the current processed video.
func (c *Client) VideoURL() string {
	return c.apiURL + "/video/"
}

func (c *Client) UploadFlightLog(ctx context.Context, filename string, r io.Reader) error {
	resp, err := c.postFile(ctx, c.apiURL+"/csv/", serviceLogSync, filename, r, nil)
	if err != nil {
		return err
	}
	drain(resp)
	c.logger.Info("flight log uploaded", zap.String("file", filename))
	return nil
}

func (c *Client) UploadTelemetry(ctx context.Context, filename string, r io.Reader) error {
	resp, err := c.postFile(ctx, c.apiURL+"/srt/", serviceLogSync, filename, r, nil)
	if err != nil {
		return err
	}
	drain(resp)
	c.logger.Info("telemetry uploaded", zap.String("file", filename))
	return nil
}

// Sync aligns the uploaded flight log with the video telemetry on the
// backend.
func (c *Client) Sync(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/sync/", nil)
	if err != nil {
		return fmt.Errorf("build sync request: %w", err)
	}
	resp, err := c.do(req, serviceLogSync)
	if err != nil {
		return err
	}
	drain(resp)
	c.logger.Info("logs synchronized")
	return nil
}
