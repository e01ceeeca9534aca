// Command export renders a calibration overlay onto a local video without
// the API, writing the annotated frame or video to a directory.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/entity"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/port"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/infra/ffmpeg"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/infra/localfs"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/overlay"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/usecase"
	"github.com/DVA-LAB/DVA-LAB-MVP/pkg/logger"
	"github.com/cheggaaa/pb/v3"
	"go.uber.org/zap"
)

const barTemplate = `{{ string . "prefix" }} {{counters . }} {{bar . }} {{percent . }} {{etime . "%s elapsed"}} {{rtime . "%s remain"}}`

type options struct {
	video       string
	calibration string
	outDir      string
	kind        string
	seconds     float64
	fps         float64
	ffmpeg      string
	ffprobe     string
	logLevel    string
}

func parseFlags() (options, error) {
	var o options
	flag.StringVar(&o.video, "video", "", "source video (required)")
	flag.StringVar(&o.calibration, "calibration", "", "calibration snapshot JSON as served by /sessions/:id/calibrations")
	flag.StringVar(&o.outDir, "out", ".", "output directory")
	flag.StringVar(&o.kind, "kind", "video", "export kind: video or still")
	flag.Float64Var(&o.seconds, "time", 0, "frame time in seconds for a still export")
	flag.Float64Var(&o.fps, "fps", entity.ExportFPS, "frame rate of a video export")
	flag.StringVar(&o.ffmpeg, "ffmpeg", "ffmpeg", "ffmpeg binary")
	flag.StringVar(&o.ffprobe, "ffprobe", "ffprobe", "ffprobe binary")
	flag.StringVar(&o.logLevel, "log-level", "warn", "log level")
	flag.Parse()

	switch {
	case o.video == "":
		return o, fmt.Errorf("-video is required")
	case o.kind != "video" && o.kind != "still":
		return o, fmt.Errorf("-kind must be video or still, got %q", o.kind)
	case o.fps <= 0:
		return o, fmt.Errorf("-fps must be positive")
	}
	return o, nil
}

// loadPairs reads either one snapshot or a list of snapshots; a list
// contributes its last entry.
func loadPairs(path string) ([]entity.PointPair, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var many []entity.CalibrationSnapshot
	if err := json.Unmarshal(data, &many); err == nil {
		if len(many) == 0 {
			return nil, nil
		}
		return many[len(many)-1].Pairs, nil
	}
	var one entity.CalibrationSnapshot
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, fmt.Errorf("parse calibration: %w", err)
	}
	return one.Pairs, nil
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		flag.Usage()
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "export failed: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	log, err := logger.New(opts.logLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pairs, err := loadPairs(opts.calibration)
	if err != nil {
		return err
	}
	pairs = entity.CalibrationSet{Pairs: pairs}.OnSurface(entity.SurfaceVideo).Pairs

	tempDir, err := os.MkdirTemp("", "dva-export-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tempDir)

	sink, err := localfs.NewSink(opts.outDir, log)
	if err != nil {
		return err
	}

	media, err := ffmpeg.NewOpener(opts.ffmpeg, opts.ffprobe, log).Open(ctx, opts.video)
	if err != nil {
		return err
	}
	defer media.Close()

	pipeline := usecase.NewExportPipeline(ffmpeg.NewFactory(opts.ffmpeg, tempDir, log), overlay.NewRenderer(), log)
	scene := overlay.NewScene(pairs, nil, 0)
	videoName := filepath.Base(opts.video)

	var name string
	var art *port.Artifact
	if opts.kind == "still" {
		art, err = pipeline.ExportStill(ctx, media, opts.seconds, scene)
		if err == nil {
			name = usecase.StillExportName(videoName, entity.FrameIndexAt(opts.seconds, entity.PlaybackFPS), art.Extension)
		}
	} else {
		total := entity.TotalFramesFor(media.DurationSeconds(), opts.fps)
		bar := pb.ProgressBarTemplate(barTemplate).Start(total)
		bar.Set("prefix", videoName)
		art, err = pipeline.ExportVideo(ctx, media, scene, opts.fps, func(done, _ int) {
			bar.SetCurrent(int64(done))
		})
		bar.Finish()
		if err == nil {
			name = usecase.VideoExportName(videoName, art.Extension)
		}
	}
	if err != nil {
		return err
	}

	loc, err := sink.Save(ctx, name, art)
	if err != nil {
		return err
	}
	log.Info("export written", zap.String("path", loc), zap.Int("bytes", len(art.Data)))
	fmt.Println(loc)
	return nil
}
