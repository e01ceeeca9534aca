package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/entity"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/infra/metrics"
	"go.uber.org/zap"
)

const (
	serviceIngestion      = "ingestion"
	serviceLogSync        = "log_sync"
	serviceRectification  = "rectification"
	serviceDetection      = "detection"
	maxErrorBodyBytes     = 512
	defaultRequestTimeout = 60 * time.Second
)

// Paths are locations on the analysis host that the backend endpoints
// expect in their request bodies.
type Paths struct {
	FrameDir     string
	SyncLogDir   string
	BEVResultDir string
	WorkDir      string
}

type Config struct {
	APIURL  string
	BEVURL  string
	Timeout time.Duration
	Paths   Paths
}

// Client talks to the ingestion, log-sync, rectification and detection
// endpoints of the analysis backend.
type Client struct {
	apiURL string
	bevURL string
	paths  Paths
	http   *http.Client
	logger *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		apiURL: strings.TrimRight(cfg.APIURL, "/"),
		bevURL: strings.TrimRight(cfg.BEVURL, "/"),
		paths:  cfg.Paths,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// do sends req and returns the response for a 2xx status. Any other outcome
// is wrapped in a ServiceError and timed under service.
func (c *Client) do(req *http.Request, service string) (*http.Response, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.BackendRequestDuration.WithLabelValues(service, "error").Observe(time.Since(start).Seconds())
		return nil, &entity.ServiceError{Service: service, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		resp.Body.Close()
		metrics.BackendRequestDuration.WithLabelValues(service, "error").Observe(time.Since(start).Seconds())
		return nil, &entity.ServiceError{
			Service: service,
			Err:     fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}
	metrics.BackendRequestDuration.WithLabelValues(service, "ok").Observe(time.Since(start).Seconds())
	return resp, nil
}

func (c *Client) postJSON(ctx context.Context, url, service string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", service, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", service, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, service)
}

// postFile uploads r as the multipart field "file" together with fields.
// The body is streamed through a pipe so large videos are never buffered.
func (c *Client) postFile(ctx context.Context, url, service, filename string, r io.Reader, fields map[string]string) (*http.Response, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := func() error {
			for k, v := range fields {
				if err := mw.WriteField(k, v); err != nil {
					return err
				}
			}
			part, err := mw.CreateFormFile("file", filename)
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, r); err != nil {
				return err
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("build %s request: %w", service, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.do(req, service)
	if err != nil {
		pr.CloseWithError(err)
	}
	return resp, err
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
