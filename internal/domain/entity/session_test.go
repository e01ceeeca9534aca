package entity

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readySession(t *testing.T) Session {
	t.Helper()
	s, err := NewSession(uuid.New(), 0).Loaded("asset", "clip.mp4")
	require.NoError(t, err)
	s, err = s.MediaLoaded(Size{1920, 1080}, 20)
	require.NoError(t, err)
	return s
}

func annotating(t *testing.T) Session {
	t.Helper()
	s, err := readySession(t).ToggleAnnotating()
	require.NoError(t, err)
	return s
}

func withPair(t *testing.T) Session {
	t.Helper()
	s := annotating(t)
	s, err := s.PlacePoint(Point{10, 10})
	require.NoError(t, err)
	s, err = s.PlacePoint(Point{110, 10})
	require.NoError(t, err)
	s, err = s.RecordDistance(5)
	require.NoError(t, err)
	return s
}

func TestLoaded(t *testing.T) {
	s := NewSession(uuid.New(), 0)
	assert.Equal(t, ModeIdle, s.Mode)

	s, err := s.Loaded("asset", "clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, ModeUploaded, s.Mode)
	assert.False(t, s.MediaReady)

	_, err = s.Loaded("asset2", "other.mp4")
	assert.True(t, IsGuard(err))
}

func TestMediaLoaded(t *testing.T) {
	s, _ := NewSession(uuid.New(), 0).Loaded("a", "v.mp4")

	_, err := s.MediaLoaded(Size{}, 10)
	assert.ErrorIs(t, err, ErrEmptyDisplayRect)

	s, err = s.MediaLoaded(Size{640, 480}, 10)
	require.NoError(t, err)
	assert.True(t, s.MediaReady)
	assert.Equal(t, 10.0, s.Playback.DurationSeconds)

	_, err = NewSession(uuid.New(), 0).MediaLoaded(Size{640, 480}, 10)
	assert.True(t, IsGuard(err))
}

func TestToggleAnnotating(t *testing.T) {
	s := readySession(t)
	s, err := s.ToggleAnnotating()
	require.NoError(t, err)
	assert.Equal(t, ModeAnnotating, s.Mode)

	s, _ = s.PlacePoint(Point{1, 1})
	s, err = s.ToggleAnnotating()
	require.NoError(t, err)
	assert.Equal(t, ModeUploaded, s.Mode)
	assert.Empty(t, s.Working)

	playing, _ := s.TogglePlayPause()
	_, err = playing.ToggleAnnotating()
	assert.True(t, IsGuard(err))

	loading, _ := NewSession(uuid.New(), 0).Loaded("a", "v.mp4")
	_, err = loading.ToggleAnnotating()
	assert.True(t, IsGuard(err))
}

func TestPlacePointAndRecordDistance(t *testing.T) {
	s := withPair(t)

	pp, ok := s.MostRecentPair()
	require.True(t, ok)
	assert.Equal(t, Point{10, 10}, pp.Point1)
	assert.Equal(t, Point{110, 10}, pp.Point2)
	assert.Equal(t, 5.0, pp.Distance)
	assert.Equal(t, SurfaceVideo, pp.Surface)
	assert.Empty(t, s.Working)
	assert.False(t, s.AwaitingDistance())
}

func TestPlacePoint_DoesNotAliasWorkingBuffer(t *testing.T) {
	s := annotating(t)
	one, _ := s.PlacePoint(Point{1, 1})
	a, _ := one.PlacePoint(Point{2, 2})
	b, _ := one.PlacePoint(Point{3, 3})

	assert.Equal(t, Point{2, 2}, a.Working[1])
	assert.Equal(t, Point{3, 3}, b.Working[1])
	assert.Len(t, one.Working, 1)
}

func TestRecordDistance_Rejections(t *testing.T) {
	s := annotating(t)
	_, err := s.RecordDistance(5)
	assert.ErrorIs(t, err, ErrNoPairAwaitingInput)

	s, _ = s.PlacePoint(Point{1, 1})
	s, _ = s.PlacePoint(Point{2, 2})
	for _, d := range []float64{0, -1} {
		next, err := s.RecordDistance(d)
		assert.ErrorIs(t, err, ErrInvalidDistance)
		assert.Equal(t, s, next)
	}

	_, err = s.PlacePoint(Point{3, 3})
	assert.ErrorIs(t, err, ErrPairAwaitingDistance)

	_, err = readySession(t).RecordDistance(1)
	assert.True(t, IsGuard(err))
}

func TestTogglePlayPause(t *testing.T) {
	s := withPair(t)
	s, _ = s.PlacePoint(Point{5, 5})

	s, err := s.TogglePlayPause()
	require.NoError(t, err)
	assert.True(t, s.Playback.Playing)
	assert.Equal(t, ModeUploaded, s.Mode)
	assert.Empty(t, s.Working)
	assert.Equal(t, 1, s.Calibration.Len())

	s, err = s.TogglePlayPause()
	require.NoError(t, err)
	assert.False(t, s.Playback.Playing)
	assert.Equal(t, 1, s.Calibration.Len())
}

func TestSkipAndSeekResetCalibration(t *testing.T) {
	s := withPair(t)

	skipped, err := s.Skip(5)
	require.NoError(t, err)
	assert.Equal(t, 5.0, skipped.Playback.CurrentTimeSeconds)
	assert.Equal(t, 150, skipped.FrameNumber())
	assert.Equal(t, 0, skipped.Calibration.Len())
	assert.Equal(t, ModeUploaded, skipped.Mode)

	back, _ := skipped.Skip(-10)
	assert.Equal(t, 0.0, back.Playback.CurrentTimeSeconds)

	end, _ := s.Seek(99)
	assert.Equal(t, 20.0, end.Playback.CurrentTimeSeconds)
	assert.Equal(t, 0, end.Calibration.Len())

	_, err = NewSession(uuid.New(), 0).Skip(5)
	assert.True(t, IsGuard(err))
}

func TestBEVRoundTrip(t *testing.T) {
	_, err := annotating(t).EnterBEV(Size{800, 600})
	assert.True(t, IsGuard(err), "no committed pair")

	s := withPair(t)
	s, _ = s.Seek(0)
	_, err = s.BEVPair()
	assert.True(t, IsGuard(err), "seek dropped the pair")

	s = withPair(t)
	_, err = s.EnterBEV(Size{})
	assert.ErrorIs(t, err, ErrEmptyDisplayRect)

	bev, err := s.EnterBEV(Size{800, 600})
	require.NoError(t, err)
	assert.Equal(t, ModeBeVView, bev.Mode)
	assert.Equal(t, SurfaceBEV, bev.Mode.VisibleSurface())
	assert.Equal(t, Size{800, 600}, bev.SurfaceSize(SurfaceBEV))

	bev, _ = bev.PlacePoint(Point{1, 1})
	bev, _ = bev.PlacePoint(Point{1, 101})
	bev, err = bev.RecordDistance(3)
	require.NoError(t, err)
	assert.Equal(t, 2, bev.Calibration.Len())
	last, _ := bev.MostRecentPair()
	assert.Equal(t, SurfaceBEV, last.Surface)

	_, err = bev.TogglePlayPause()
	assert.True(t, IsGuard(err))

	back, err := bev.ExitBEV()
	require.NoError(t, err)
	assert.Equal(t, ModeUploaded, back.Mode)
	assert.False(t, back.MediaReady)
	assert.Equal(t, 1, back.Calibration.Len())

	_, err = back.ExitBEV()
	assert.True(t, IsGuard(err))
}

func TestEnterResults(t *testing.T) {
	s := readySession(t)
	_, err := s.EnterResults()
	assert.True(t, IsGuard(err))

	s = s.MarkLogsSynced()
	res, err := s.EnterResults()
	require.NoError(t, err)
	assert.Equal(t, ModeResults, res.Mode)

	_, err = res.ToggleAnnotating()
	assert.True(t, IsGuard(err))
	_, err = res.BEVPair()
	assert.True(t, IsGuard(err))
	_, err = res.BeginExport()
	assert.True(t, IsGuard(err))
}

func TestExportBlocksMutations(t *testing.T) {
	s := withPair(t)
	s, _ = s.TogglePlayPause()

	exp, err := s.BeginExport()
	require.NoError(t, err)
	assert.True(t, exp.Exporting)
	assert.False(t, exp.Playback.Playing)

	_, err = exp.BeginExport()
	assert.True(t, IsGuard(err))
	_, err = exp.PlacePoint(Point{1, 1})
	assert.True(t, IsGuard(err))
	_, err = exp.Seek(1)
	assert.True(t, IsGuard(err))
	_, err = exp.ToggleAnnotating()
	assert.True(t, IsGuard(err))
	assert.Equal(t, exp.Playback, exp.TimeUpdated(3).Playback)

	done := exp.EndExport()
	assert.False(t, done.Exporting)
	assert.Equal(t, 1, done.Calibration.Len())
}

func TestBeginRequest(t *testing.T) {
	s := readySession(t)
	busy, err := s.BeginRequest("sync logs")
	require.NoError(t, err)
	assert.Equal(t, "sync logs", busy.Pending)

	_, err = busy.BeginRequest("bird's-eye view")
	assert.ErrorIs(t, err, ErrBusy)

	assert.Empty(t, busy.EndRequest().Pending)
}

func TestModeMarshalText(t *testing.T) {
	b, err := ModeBeVView.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "bev", string(b))
	assert.Equal(t, "unknown", Mode(42).String())

	var m Mode
	require.NoError(t, m.UnmarshalText([]byte("annotating")))
	assert.Equal(t, ModeAnnotating, m)
	assert.Error(t, m.UnmarshalText([]byte("paused")))
}

func TestRecordDistanceInput(t *testing.T) {
	s := annotating(t)
	s, _ = s.PlacePoint(Point{10, 10})
	s, _ = s.PlacePoint(Point{110, 10})

	for _, text := range []string{"abc", "", "5m", "-3", "0", "NaN"} {
		next, err := s.RecordDistanceInput(text)
		assert.ErrorIs(t, err, ErrInvalidDistance, "input %q", text)
		assert.Equal(t, 0, next.Calibration.Len())
		assert.Len(t, next.Working, 2)
	}

	s, err := s.RecordDistanceInput(" 12.5 ")
	require.NoError(t, err)
	pp, ok := s.Calibration.MostRecent()
	require.True(t, ok)
	assert.Equal(t, 12.5, pp.Distance)
	assert.Empty(t, s.Working)
}
