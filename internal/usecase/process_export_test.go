package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/entity"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/overlay"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type workerFixture struct {
	uc       *ProcessExportUseCase
	repo     *fakeRepo
	storage  *fakeStorage
	media    *fakeMedia
	factory  *fakeFactory
	pub      *fakePublisher
	notifier *fakeNotifier
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	f := &workerFixture{
		repo:     newFakeRepo(),
		storage:  &fakeStorage{},
		media:    newFakeMedia(64, 36, 1),
		factory:  newFakeFactory(),
		pub:      &fakePublisher{},
		notifier: &fakeNotifier{},
	}
	f.uc = NewProcessExportUseCase(
		f.repo, f.storage, &fakeOpener{media: f.media},
		NewExportPipeline(f.factory, overlay.NewRenderer(), zap.NewNop()),
		f.pub, f.pub, f.notifier,
		zap.NewNop(),
		ProcessExportConfig{TempDir: t.TempDir(), MaxRetries: 3, ProgressEvery: 4},
	)
	return f
}

func exportRequest(t *testing.T, kind entity.ExportKind) (entity.ExportRequestMessage, []byte) {
	t.Helper()
	msg := entity.ExportRequestMessage{
		JobID:       uuid.New(),
		SessionID:   uuid.New(),
		VideoKey:    "sessions/abc/clip.mp4",
		VideoName:   "clip.mp4",
		Kind:        kind,
		TargetFPS:   10,
		TimeSeconds: 0.5,
		FrameNumber: 15,
		Pairs: []entity.PointPair{{
			Point1:   entity.Point{X: 5, Y: 5},
			Point2:   entity.Point{X: 50, Y: 5},
			Distance: 2,
		}},
		OperatorEmail: "ops@example.com",
	}
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	return msg, raw
}

func lastStatus(t *testing.T, pub *fakePublisher) entity.ExportStatusMessage {
	t.Helper()
	require.NotEmpty(t, pub.statuses)
	var st entity.ExportStatusMessage
	require.NoError(t, json.Unmarshal(pub.statuses[len(pub.statuses)-1], &st))
	return st
}

func TestProcessExport_VideoCompletes(t *testing.T) {
	f := newWorkerFixture(t)
	msg, raw := exportRequest(t, entity.ExportKindVideo)

	require.NoError(t, f.uc.Execute(context.Background(), raw))

	job, err := f.repo.FindByID(context.Background(), msg.JobID)
	require.NoError(t, err)
	assert.Equal(t, entity.ExportStatusCompleted, job.Status)
	assert.Equal(t, 10, job.TotalFrames)
	assert.Equal(t, 10, job.CurrentFrame)
	assert.Equal(t, 1, job.Attempt)

	wantKey := msg.SessionID.String() + "/" + msg.JobID.String() + "/clip_with_canvas.webm"
	assert.Equal(t, wantKey, job.ArtifactKey)
	assert.Contains(t, f.storage.uploaded, wantKey)
	assert.Equal(t, 10, f.factory.enc.frames)

	// two progress updates at frames 4 and 8, then completion
	assert.Len(t, f.pub.statuses, 3)
	st := lastStatus(t, f.pub)
	assert.Equal(t, entity.ExportStatusCompleted, st.Status)
	assert.Equal(t, wantKey, st.ArtifactKey)
	assert.True(t, f.media.closed)
}

func TestProcessExport_StillCompletes(t *testing.T) {
	f := newWorkerFixture(t)
	msg, raw := exportRequest(t, entity.ExportKindStill)

	require.NoError(t, f.uc.Execute(context.Background(), raw))

	job, err := f.repo.FindByID(context.Background(), msg.JobID)
	require.NoError(t, err)
	assert.Equal(t, entity.ExportStatusCompleted, job.Status)
	assert.Equal(t, []float64{0.5}, f.media.seekTimes())
	assert.Equal(t, msg.SessionID.String()+"/"+msg.JobID.String()+"/clip_frame15.JPG", job.ArtifactKey)
}

func TestProcessExport_MalformedMessageGoesToDLQ(t *testing.T) {
	f := newWorkerFixture(t)

	require.NoError(t, f.uc.Execute(context.Background(), []byte("{not json")))
	require.Len(t, f.pub.dlq, 1)
	assert.Contains(t, f.pub.dlq[0], "unmarshal_error")
}

func TestProcessExport_InvalidRequestGoesToDLQ(t *testing.T) {
	f := newWorkerFixture(t)
	_, raw := exportRequest(t, entity.ExportKind("GIF"))

	require.NoError(t, f.uc.Execute(context.Background(), raw))
	require.Len(t, f.pub.dlq, 1)
	assert.Contains(t, f.pub.dlq[0], "invalid_request")
	assert.Empty(t, f.repo.jobs)
}

func TestProcessExport_RetriesThenDeadLetters(t *testing.T) {
	f := newWorkerFixture(t)
	f.storage.downloadErr = errors.New("connection reset")
	msg, raw := exportRequest(t, entity.ExportKindVideo)
	ctx := context.Background()

	assert.Error(t, f.uc.Execute(ctx, raw))
	assert.Error(t, f.uc.Execute(ctx, raw))
	assert.Empty(t, f.pub.dlq)

	require.NoError(t, f.uc.Execute(ctx, raw))
	require.Len(t, f.pub.dlq, 1)
	assert.Contains(t, f.pub.dlq[0], "download_video")
	assert.Equal(t, []string{"ops@example.com:" + msg.JobID.String()}, f.notifier.sent)

	job, _ := f.repo.FindByID(ctx, msg.JobID)
	assert.Equal(t, entity.ExportStatusFailed, job.Status)
	assert.Equal(t, 3, job.Attempt)
	assert.Equal(t, entity.ExportStatusFailed, lastStatus(t, f.pub).Status)
}

func TestProcessExport_EncoderFailureIsRetryable(t *testing.T) {
	f := newWorkerFixture(t)
	f.factory.enc.rejectAt = 0
	msg, raw := exportRequest(t, entity.ExportKindVideo)

	err := f.uc.Execute(context.Background(), raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attempt 1/3")
	assert.Empty(t, f.storage.uploaded)

	job, _ := f.repo.FindByID(context.Background(), msg.JobID)
	assert.Equal(t, entity.ExportStatusFailed, job.Status)
}

func TestProcessExport_CompletedRedeliveryIsDropped(t *testing.T) {
	f := newWorkerFixture(t)
	msg, raw := exportRequest(t, entity.ExportKindStill)
	ctx := context.Background()

	done := entity.NewExportJob(msg.SessionID, msg.VideoKey, msg.Kind, 0, 3)
	done.ID = msg.JobID
	done.MarkCompleted("already/there.JPG", 10)
	require.NoError(t, f.repo.Create(ctx, done))

	require.NoError(t, f.uc.Execute(ctx, raw))
	assert.Empty(t, f.media.seekTimes())
	assert.Empty(t, f.storage.uploaded)
}

func TestProcessExport_CancelStopsRunningVideo(t *testing.T) {
	f := newWorkerFixture(t)
	msg, raw := exportRequest(t, entity.ExportKindVideo)
	f.factory.enc.onWrite = func(n int) {
		if n == 1 {
			f.repo.cancel(msg.JobID)
		}
	}

	require.NoError(t, f.uc.Execute(context.Background(), raw))

	assert.Less(t, f.factory.enc.frames, 10)
	assert.Equal(t, 1, f.factory.enc.aborted)
	assert.Zero(t, f.factory.enc.finalized)
	assert.Empty(t, f.storage.uploaded)

	job, err := f.repo.FindByID(context.Background(), msg.JobID)
	require.NoError(t, err)
	assert.Equal(t, entity.ExportStatusCanceled, job.Status)
	assert.Empty(t, job.ArtifactKey)
}

func TestProcessExport_CanceledStillIsNotUploaded(t *testing.T) {
	f := newWorkerFixture(t)
	msg, raw := exportRequest(t, entity.ExportKindStill)
	f.factory.enc.onWrite = func(int) { f.repo.cancel(msg.JobID) }

	require.NoError(t, f.uc.Execute(context.Background(), raw))
	assert.Empty(t, f.storage.uploaded)

	job, _ := f.repo.FindByID(context.Background(), msg.JobID)
	assert.Equal(t, entity.ExportStatusCanceled, job.Status)
}

func TestProcessExport_CanceledBeforeDeliveryIsDropped(t *testing.T) {
	f := newWorkerFixture(t)
	msg, raw := exportRequest(t, entity.ExportKindVideo)
	ctx := context.Background()

	queued := entity.NewExportJob(msg.SessionID, msg.VideoKey, msg.Kind, 0, 3)
	queued.ID = msg.JobID
	require.NoError(t, f.repo.Create(ctx, queued))
	f.repo.cancel(msg.JobID)

	require.NoError(t, f.uc.Execute(ctx, raw))
	assert.Empty(t, f.media.seekTimes())
	assert.Empty(t, f.pub.statuses)
}
