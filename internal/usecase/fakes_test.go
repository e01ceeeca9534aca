package usecase

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/entity"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/port"
	"github.com/google/uuid"
)

var frameGray = color.RGBA{R: 40, G: 40, B: 40, A: 255}

type fakeMedia struct {
	mu       sync.Mutex
	size     entity.Size
	duration float64
	last     float64
	seeks    []float64
	// failAt makes the seek with this index fail; -1 disables it.
	failAt int
	closed bool
}

func newFakeMedia(w, h int, duration float64) *fakeMedia {
	return &fakeMedia{
		size:     entity.Size{Width: w, Height: h},
		duration: duration,
		last:     duration,
		failAt:   -1,
	}
}

func (m *fakeMedia) Size() entity.Size        { return m.size }
func (m *fakeMedia) DurationSeconds() float64 { return m.duration }
func (m *fakeMedia) LastSeekableTime() float64 {
	return m.last
}

func (m *fakeMedia) Seek(_ context.Context, seconds float64) <-chan port.SeekResult {
	m.mu.Lock()
	idx := len(m.seeks)
	m.seeks = append(m.seeks, seconds)
	m.mu.Unlock()

	ch := make(chan port.SeekResult, 1)
	switch {
	case idx == m.failAt:
		ch <- port.SeekResult{Time: seconds, Err: errors.New("decoder error")}
	case seconds > m.last:
		ch <- port.SeekResult{Time: seconds, Err: port.ErrSeekOutOfRange}
	default:
		img := image.NewRGBA(image.Rect(0, 0, m.size.Width, m.size.Height))
		draw.Draw(img, img.Bounds(), image.NewUniform(frameGray), image.Point{}, draw.Src)
		ch <- port.SeekResult{Time: seconds, Frame: img}
	}
	close(ch)
	return ch
}

func (m *fakeMedia) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *fakeMedia) seekTimes() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.seeks...)
}

type fakeOpener struct {
	media *fakeMedia
	err   error
	opens []string
	// block, when set, holds Open until it is closed.
	block chan struct{}
}

func (o *fakeOpener) Open(_ context.Context, source string) (port.MediaElement, error) {
	if o.block != nil {
		<-o.block
	}
	o.opens = append(o.opens, source)
	if o.err != nil {
		return nil, o.err
	}
	return o.media, nil
}

type fakeEncoder struct {
	mu        sync.Mutex
	frames    int
	last      *image.RGBA
	finalized int
	aborted   int
	// rejectAt makes WriteFrame fail on this frame index; -1 disables it.
	rejectAt int
	onWrite  func(n int)
	ext      string
}

func (e *fakeEncoder) WriteFrame(_ context.Context, frame image.Image) error {
	e.mu.Lock()
	n := e.frames
	if n == e.rejectAt {
		e.mu.Unlock()
		return errors.New("encoder full")
	}
	e.frames++
	cp := image.NewRGBA(frame.Bounds())
	draw.Draw(cp, cp.Bounds(), frame, frame.Bounds().Min, draw.Src)
	e.last = cp
	hook := e.onWrite
	e.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return nil
}

func (e *fakeEncoder) Finalize(context.Context) (*port.Artifact, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finalized++
	var buf bytes.Buffer
	if e.last != nil {
		png.Encode(&buf, e.last)
	}
	return &port.Artifact{Data: buf.Bytes(), ContentType: "application/octet-stream", Extension: e.ext}, nil
}

func (e *fakeEncoder) Abort() error {
	e.mu.Lock()
	e.aborted++
	e.mu.Unlock()
	return nil
}

type fakeFactory struct {
	enc    *fakeEncoder
	err    error
	videos int
	stills int
	fps    float64
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{enc: &fakeEncoder{rejectAt: -1}}
}

func (f *fakeFactory) NewVideoEncoder(_ context.Context, _ entity.Size, fps float64) (port.FrameEncoder, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.videos++
	f.fps = fps
	f.enc.ext = ".webm"
	return f.enc, nil
}

func (f *fakeFactory) NewStillEncoder(context.Context, entity.Size) (port.FrameEncoder, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.stills++
	f.enc.ext = ".JPG"
	return f.enc, nil
}

type fakeIngestor struct {
	assetID   string
	submitErr error
	submitted []string
}

func (i *fakeIngestor) Submit(_ context.Context, filename string, r io.Reader, _ bool) (string, error) {
	if i.submitErr != nil {
		return "", i.submitErr
	}
	io.Copy(io.Discard, r)
	i.submitted = append(i.submitted, filename)
	return i.assetID, nil
}

func (i *fakeIngestor) Fetch(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("video-bytes")), nil
}

type fakeLogs struct {
	syncErr error
	calls   []string
}

func (l *fakeLogs) UploadFlightLog(_ context.Context, filename string, _ io.Reader) error {
	l.calls = append(l.calls, "flight:"+filename)
	return nil
}

func (l *fakeLogs) UploadTelemetry(_ context.Context, filename string, _ io.Reader) error {
	l.calls = append(l.calls, "telemetry:"+filename)
	return nil
}

func (l *fakeLogs) Sync(context.Context) error {
	l.calls = append(l.calls, "sync")
	return l.syncErr
}

type fakeRectifier struct {
	img  []byte
	err  error
	reqs []entity.RectifyRequest
	// block, when set, holds Rectify until it is closed.
	block  chan struct{}
	panics bool
}

func (r *fakeRectifier) Rectify(_ context.Context, req entity.RectifyRequest) ([]byte, error) {
	if r.block != nil {
		<-r.block
	}
	if r.panics {
		panic("rectifier exploded")
	}
	r.reqs = append(r.reqs, req)
	return r.img, r.err
}

type fakeDetector struct {
	source    string
	err       error
	triggered []string
}

func (d *fakeDetector) Trigger(_ context.Context, assetID string) error {
	d.triggered = append(d.triggered, assetID)
	return d.err
}

func (d *fakeDetector) Visualize(context.Context, string) (string, error) {
	return d.source, nil
}

type fakeSink struct {
	mu    sync.Mutex
	saved map[string]*port.Artifact
}

func (s *fakeSink) Save(_ context.Context, filename string, art *port.Artifact) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		s.saved = make(map[string]*port.Artifact)
	}
	s.saved[filename] = art
	return "/downloads/" + filename, nil
}

type fakeFrames struct{}

func (fakeFrames) FramePath(videoName string, frame int) string {
	return "/frames/" + videoName
}

func (fakeFrames) SyncLogPath() string { return "/logs/sync_log.csv" }

type fakeRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]entity.ExportJob
	// history keeps the status of every Update.
	history []entity.ExportStatus
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{jobs: make(map[uuid.UUID]entity.ExportJob)}
}

func (r *fakeRepo) Create(_ context.Context, job *entity.ExportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = *job
	return nil
}

func (r *fakeRepo) Update(_ context.Context, job *entity.ExportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.jobs[job.ID]
	if !ok {
		return entity.ErrJobNotFound
	}
	if stored.Status == entity.ExportStatusCanceled {
		return entity.ErrJobCanceled
	}
	r.jobs[job.ID] = *job
	r.history = append(r.history, job.Status)
	return nil
}

// cancel marks a stored job canceled the way the API does.
func (r *fakeRepo) cancel(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[id]
	job.MarkCanceled()
	r.jobs[id] = job
}

func (r *fakeRepo) FindByID(_ context.Context, id uuid.UUID) (*entity.ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, entity.ErrJobNotFound
	}
	return &job, nil
}

type fakeCalibrations struct {
	err   error
	snaps []entity.CalibrationSnapshot
}

func (c *fakeCalibrations) SaveSnapshot(_ context.Context, snap entity.CalibrationSnapshot) error {
	if c.err != nil {
		return c.err
	}
	c.snaps = append(c.snaps, snap)
	return nil
}

func (c *fakeCalibrations) ListSnapshots(context.Context, uuid.UUID) ([]entity.CalibrationSnapshot, error) {
	return c.snaps, c.err
}

// fakePublisher implements every publisher port.
type fakePublisher struct {
	mu       sync.Mutex
	err      error
	statuses [][]byte
	requests [][]byte
	dlq      []string
	events   [][]byte
}

func (p *fakePublisher) PublishStatus(_ context.Context, msg []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, msg)
	return nil
}

func (p *fakePublisher) PublishToDLQ(_ context.Context, _ []byte, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dlq = append(p.dlq, reason)
	return nil
}

func (p *fakePublisher) PublishExportRequest(_ context.Context, msg []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.requests = append(p.requests, msg)
	return nil
}

func (p *fakePublisher) PublishDetectionRequest(_ context.Context, msg []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, msg)
	return nil
}

type fakeStorage struct {
	downloadErr error
	uploadErr   error
	uploaded    map[string]int64
	archived    []string
}

func (s *fakeStorage) DownloadVideo(_ context.Context, _ string, destPath string) error {
	if s.downloadErr != nil {
		return s.downloadErr
	}
	return writeFile(destPath, "video-bytes")
}

func (s *fakeStorage) UploadArtifact(_ context.Context, key string, r io.Reader, size int64, _ string) error {
	if s.uploadErr != nil {
		return s.uploadErr
	}
	io.Copy(io.Discard, r)
	if s.uploaded == nil {
		s.uploaded = make(map[string]int64)
	}
	s.uploaded[key] = size
	return nil
}

func (s *fakeStorage) UploadVideo(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	io.Copy(io.Discard, r)
	s.archived = append(s.archived, key)
	return nil
}

type fakeNotifier struct {
	sent []string
}

func (n *fakeNotifier) NotifyFailure(_ context.Context, to, jobID, _, _ string) error {
	n.sent = append(n.sent, to+":"+jobID)
	return nil
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
