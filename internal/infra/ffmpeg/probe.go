package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/entity"
)

// ProbeInfo is what the measurement pipeline needs to know about a video
// before decoding any frame.
type ProbeInfo struct {
	Size            entity.Size
	DurationSeconds float64
	FrameRate       float64
}

type probeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads the native size, duration and frame rate of the first video
// stream of source.
func Probe(ctx context.Context, ffprobePath, source string) (ProbeInfo, error) {
	cmd := exec.CommandContext(ctx, ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,avg_frame_rate,r_frame_rate:format=duration",
		"-of", "json",
		source,
	)
	output, err := cmd.Output()
	if err != nil {
		return ProbeInfo{}, fmt.Errorf("ffprobe: %w", err)
	}
	return parseProbe(output)
}

func parseProbe(output []byte) (ProbeInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(output, &out); err != nil {
		return ProbeInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(out.Streams) == 0 {
		return ProbeInfo{}, fmt.Errorf("no video stream found")
	}
	st := out.Streams[0]

	info := ProbeInfo{Size: entity.Size{Width: st.Width, Height: st.Height}}
	if info.Size.Empty() {
		return ProbeInfo{}, fmt.Errorf("video stream has no size")
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(out.Format.Duration), 64)
	if err != nil {
		return ProbeInfo{}, fmt.Errorf("parse duration: %w", err)
	}
	info.DurationSeconds = duration

	info.FrameRate = parseRate(st.AvgFrameRate)
	if info.FrameRate == 0 {
		info.FrameRate = parseRate(st.RFrameRate)
	}
	return info, nil
}

// parseRate turns ffprobe's "num/den" into frames per second, 0 when unknown.
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}
