package imaging

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestStillEncoder_EncodesLastFrame(t *testing.T) {
	enc, err := NewStillEncoder(entity.Size{Width: 32, Height: 16}, 90)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, enc.WriteFrame(ctx, solid(32, 16, color.Black)))
	require.NoError(t, enc.WriteFrame(ctx, solid(32, 16, color.White)))

	art, err := enc.Finalize(ctx)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", art.ContentType)
	assert.Equal(t, ".JPG", art.Extension)

	img, err := jpeg.Decode(bytes.NewReader(art.Data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 16), img.Bounds())
	r, _, _, _ := img.At(5, 5).RGBA()
	assert.Greater(t, r, uint32(0xf000))
}

func TestStillEncoder_FinalizeWithoutFrame(t *testing.T) {
	enc, err := NewStillEncoder(entity.Size{Width: 4, Height: 4}, 0)
	require.NoError(t, err)

	_, err = enc.Finalize(context.Background())
	assert.Error(t, err)
}

func TestStillEncoder_AbortIsIdempotent(t *testing.T) {
	enc, err := NewStillEncoder(entity.Size{Width: 4, Height: 4}, 80)
	require.NoError(t, err)

	require.NoError(t, enc.WriteFrame(context.Background(), solid(4, 4, color.White)))
	assert.NoError(t, enc.Abort())
	assert.NoError(t, enc.Abort())

	assert.Error(t, enc.WriteFrame(context.Background(), solid(4, 4, color.White)))
	_, err = enc.Finalize(context.Background())
	assert.Error(t, err)
}

func TestNewStillEncoder_RejectsEmptySize(t *testing.T) {
	_, err := NewStillEncoder(entity.Size{}, 90)
	assert.ErrorIs(t, err, entity.ErrEmptyDisplayRect)
}
