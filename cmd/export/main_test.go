package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "calibration.json")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadPairs_SingleSnapshot(t *testing.T) {
	p := writeTemp(t, `{"frame_number": 12, "point_distances": [
		{"point1": {"x": 1, "y": 2}, "point2": {"x": 3, "y": 4}, "distance": 5, "surface": "video"}
	]}`)

	pairs, err := loadPairs(p)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, 5.0, pairs[0].Distance)
}

func TestLoadPairs_ListUsesLastSnapshot(t *testing.T) {
	p := writeTemp(t, `[
		{"frame_number": 1, "point_distances": [{"distance": 1}]},
		{"frame_number": 2, "point_distances": [{"distance": 2}, {"distance": 3}]}
	]`)

	pairs, err := loadPairs(p)
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Equal(t, 3.0, pairs[1].Distance)
}

func TestLoadPairs_EmptyPathAndGarbage(t *testing.T) {
	pairs, err := loadPairs("")
	assert.NoError(t, err)
	assert.Nil(t, pairs)

	_, err = loadPairs(writeTemp(t, "not json"))
	assert.Error(t, err)
}
