package overlay

import (
	"testing"
	"time"

	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoopPaintsLatestScene(t *testing.T) {
	l := NewLoop(NewRenderer(), 5*time.Millisecond, zap.NewNop())
	assert.Nil(t, l.Snapshot())
	assert.ErrorIs(t, l.Start(entity.Size{}), entity.ErrEmptyDisplayRect)

	require.NoError(t, l.Start(entity.Size{Width: 40, Height: 40}))
	defer l.Stop()
	assert.True(t, l.Running())

	l.Update(NewScene(nil, []entity.Point{{X: 20, Y: 20}}, 1))
	require.Eventually(t, func() bool {
		return l.Snapshot().RGBAAt(20, 20) == PairColor(0)
	}, time.Second, 5*time.Millisecond)

	l.Update(NewScene(nil, nil, 2))
	require.Eventually(t, func() bool {
		return l.Snapshot().RGBAAt(20, 20).A == 0
	}, time.Second, 5*time.Millisecond)
}

func TestLoopSuspendSkipsPainting(t *testing.T) {
	l := NewLoop(NewRenderer(), time.Hour, zap.NewNop())
	require.NoError(t, l.Start(entity.Size{Width: 10, Height: 10}))
	defer l.Stop()

	l.Update(NewScene(nil, []entity.Point{{X: 5, Y: 5}}, 1))
	l.Suspend()
	l.Tick()
	assert.Equal(t, uint8(0), l.Snapshot().RGBAAt(5, 5).A)

	l.Resume()
	l.Tick()
	assert.Equal(t, PairColor(0), l.Snapshot().RGBAAt(5, 5))
}

func TestLoopStopReleasesSurface(t *testing.T) {
	l := NewLoop(NewRenderer(), 0, zap.NewNop())
	require.NoError(t, l.Start(entity.Size{Width: 10, Height: 10}))
	require.NoError(t, l.Start(entity.Size{Width: 20, Height: 10}))
	assert.Equal(t, 20, l.Snapshot().Bounds().Dx())

	l.Stop()
	l.Stop()
	assert.False(t, l.Running())
	assert.Nil(t, l.Snapshot())
	l.Tick()
}
