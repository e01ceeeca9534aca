package entity

import "math"

const (
	// PlaybackFPS is the frame rate assumed for frame numbering. It is not read
	// from container metadata.
	PlaybackFPS = 30.0
	// ExportFPS is the frame rate of exported videos. It is independent of
	// PlaybackFPS.
	ExportFPS = 33.0
	// DefaultSkipSeconds is the step used by skip forward/backward.
	DefaultSkipSeconds = 5.0
)

// PlaybackState is the position of the media element.
type PlaybackState struct {
	CurrentTimeSeconds float64 `json:"current_time_seconds"`
	DurationSeconds    float64 `json:"duration_seconds"`
	FPS                float64 `json:"fps"`
	Playing            bool    `json:"playing"`
}

func NewPlaybackState(fps float64) PlaybackState {
	if fps <= 0 {
		fps = PlaybackFPS
	}
	return PlaybackState{FPS: fps}
}

// FrameNumber is advisory display data derived from time; precise seeking
// uses CurrentTimeSeconds.
func (ps PlaybackState) FrameNumber() int {
	return FrameIndexAt(ps.CurrentTimeSeconds, ps.FPS)
}

// ClampTime bounds t to [0, duration]. An unknown duration only bounds below.
func (ps PlaybackState) ClampTime(t float64) float64 {
	if math.IsNaN(t) || t < 0 {
		return 0
	}
	if ps.DurationSeconds > 0 && t > ps.DurationSeconds {
		return ps.DurationSeconds
	}
	return t
}

// FrameIndexAt converts continuous time to a discrete frame index.
func FrameIndexAt(seconds, fps float64) int {
	if seconds <= 0 || fps <= 0 {
		return 0
	}
	return int(math.Floor(seconds * fps))
}
