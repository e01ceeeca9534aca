package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		APIURL: srv.URL,
		BEVURL: srv.URL,
		Paths: Paths{
			FrameDir:     "/data/test/frame_origin",
			SyncLogDir:   "/data/test/sync_csv",
			BEVResultDir: "api/services/Orthophoto_Maps/Data/result",
			WorkDir:      "/data/test",
		},
	}, zap.NewNop())
}

func TestSubmit_SendsMultipartAndReturnsFilename(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/video/", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "1", r.FormValue("preprocess"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "DJI_0001.MP4", hdr.Filename)
		assert.Equal(t, "video-bytes", string(data))

		json.NewEncoder(w).Encode(map[string]string{"message": "File saved successfully.", "filename": "DJI_0001.MP4"})
	}))

	id, err := c.Submit(context.Background(), "DJI_0001.MP4", strings.NewReader("video-bytes"), true)
	require.NoError(t, err)
	assert.Equal(t, "DJI_0001.MP4", id)
}

func TestSubmit_ServerErrorIsServiceError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "disk full", http.StatusInternalServerError)
	}))

	_, err := c.Submit(context.Background(), "a.mp4", strings.NewReader("x"), false)
	var se *entity.ServiceError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, serviceIngestion, se.Service)
	assert.Contains(t, err.Error(), "disk full")
}

func TestSubmit_MissingFilename(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"ok"}`))
	}))

	_, err := c.Submit(context.Background(), "a.mp4", strings.NewReader("x"), false)
	var se *entity.ServiceError
	assert.True(t, errors.As(err, &se))
}

func TestLogUploadsAndSync(t *testing.T) {
	var paths []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	ctx := context.Background()

	require.NoError(t, c.UploadFlightLog(ctx, "flight.csv", strings.NewReader("t,lat,lon")))
	require.NoError(t, c.UploadTelemetry(ctx, "DJI_0001.SRT", strings.NewReader("1\n00:00")))
	require.NoError(t, c.Sync(ctx))

	assert.Equal(t, []string{"POST /csv/", "POST /srt/", "POST /sync/"}, paths)
}

func TestRectify_PayloadShape(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bev1", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		assert.Equal(t, 42.0, body["frame_num"])
		assert.Equal(t, "/data/test/frame_origin/DJI_0001_00042.jpg", body["frame_path"])
		assert.Equal(t, "/data/test/sync_csv/sync_log.csv", body["csv_path"])
		assert.Equal(t, 12.5, body["realdistance"])
		assert.Equal(t, "api/services/Orthophoto_Maps/Data/result", body["dst_dir"])
		assert.Equal(t, []any{nil, nil, nil, 10.0, 20.0, 110.0, 20.0, nil, -1.0, -1.0, -1.0}, body["objects"])

		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("\x89PNG"))
	}))

	p := c.Paths()
	pair := entity.PointPair{Point1: entity.Point{X: 10, Y: 20}, Point2: entity.Point{X: 110, Y: 20}, Distance: 12.5}
	req := entity.NewRectifyRequest(42, p.FramePath("DJI_0001.MP4", 42), p.SyncLogPath(), pair)

	img, err := c.Rectify(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), img)
}

func TestRectify_EmptyImage(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	_, err := c.Rectify(context.Background(), entity.RectifyRequest{})
	var se *entity.ServiceError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, serviceRectification, se.Service)
}

func TestDetection(t *testing.T) {
	var seen []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if r.URL.Path == "/visualize/" {
			assert.Equal(t, "/data/test/result/result.mp4", body["output_video"])
			assert.Equal(t, false, body["set_merged_dolphin_center"])
		}
		w.Write([]byte(`"ok"`))
	}))
	ctx := context.Background()

	require.NoError(t, c.Trigger(ctx, "DJI_0001.MP4"))
	src, err := c.Visualize(ctx, "DJI_0001.MP4")
	require.NoError(t, err)

	assert.Equal(t, c.VideoURL(), src)
	assert.Equal(t, []string{"/inference", "/visualize/"}, seen)
}

func TestFramePath(t *testing.T) {
	p := Paths{FrameDir: "/frames"}
	assert.Equal(t, "/frames/clip_00007.jpg", p.FramePath("uploads/clip.mov", 7))
}
