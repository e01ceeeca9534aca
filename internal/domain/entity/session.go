package entity

import (
	"math"

	"github.com/google/uuid"
)

// Session is the complete measurement state of one operator working on one
// video. Every transition is a method on the value that returns the next
// value, so a transition that fails leaves the caller's copy untouched.
type Session struct {
	ID          uuid.UUID      `json:"id"`
	AssetID     string         `json:"asset_id"`
	VideoName   string         `json:"video_name"`
	Mode        Mode           `json:"mode"`
	Playback    PlaybackState  `json:"playback"`
	Working     []Point        `json:"working"`
	Calibration CalibrationSet `json:"calibration"`
	VideoSize   Size           `json:"video_size"`
	BEVSize     Size           `json:"bev_size"`
	MediaReady  bool           `json:"media_ready"`
	LogsSynced  bool           `json:"logs_synced"`
	Exporting   bool           `json:"exporting"`
	Pending     string         `json:"pending,omitempty"`
	// Revision increases on every change the overlay has to show.
	Revision uint64 `json:"revision"`
}

func NewSession(id uuid.UUID, fps float64) Session {
	return Session{
		ID:       id,
		Mode:     ModeIdle,
		Playback: NewPlaybackState(fps),
	}
}

// FrameNumber is the advisory frame index of the current playback position.
func (s Session) FrameNumber() int {
	return s.Playback.FrameNumber()
}

// SurfaceSize is the native size of the given surface.
func (s Session) SurfaceSize(surface Surface) Size {
	if surface == SurfaceBEV {
		return s.BEVSize
	}
	return s.VideoSize
}

// AwaitingDistance reports whether a closed pair waits for its distance.
func (s Session) AwaitingDistance() bool {
	return len(s.Working) == 2
}

// MostRecentPair returns the last committed pair.
func (s Session) MostRecentPair() (PointPair, bool) {
	return s.Calibration.MostRecent()
}

// Loaded moves a fresh session to Uploaded once its asset has been ingested.
// Media readiness is reported separately by MediaLoaded.
func (s Session) Loaded(assetID, videoName string) (Session, error) {
	if s.Mode != ModeIdle {
		return s, guard("load", s.Mode, "a session loads exactly one video")
	}
	s.AssetID = assetID
	s.VideoName = videoName
	s.Mode = ModeUploaded
	s.MediaReady = false
	s.Working = nil
	s.Calibration = CalibrationSet{}
	s.Playback.CurrentTimeSeconds = 0
	s.Playback.Playing = false
	s.Revision++
	return s, nil
}

// MediaLoaded records the first decoded frame of the (re)loaded media.
func (s Session) MediaLoaded(size Size, durationSeconds float64) (Session, error) {
	if !s.Mode.showsVideo() {
		return s, guard("media loaded", s.Mode, "no video surface is shown")
	}
	if size.Empty() {
		return s, ErrEmptyDisplayRect
	}
	s.VideoSize = size
	if durationSeconds > 0 && !math.IsInf(durationSeconds, 0) {
		s.Playback.DurationSeconds = durationSeconds
	}
	s.Playback.CurrentTimeSeconds = s.Playback.ClampTime(s.Playback.CurrentTimeSeconds)
	s.MediaReady = true
	s.Revision++
	return s, nil
}

// PlacePoint appends p to the working pair. A third point is rejected until
// the closed pair has a distance.
func (s Session) PlacePoint(p Point) (Session, error) {
	if err := s.checkNotExporting("place point"); err != nil {
		return s, err
	}
	if !s.Mode.acceptsPoints() {
		return s, guard("place point", s.Mode, "annotation is off")
	}
	if s.Mode == ModeAnnotating && !s.MediaReady {
		return s, guard("place point", s.Mode, "media is still loading")
	}
	if s.AwaitingDistance() {
		return s, ErrPairAwaitingDistance
	}
	working := make([]Point, 0, 2)
	working = append(working, s.Working...)
	s.Working = append(working, p)
	s.Revision++
	return s, nil
}

// RecordDistance commits the closed working pair with meters as its distance.
func (s Session) RecordDistance(meters float64) (Session, error) {
	if err := s.checkNotExporting("record distance"); err != nil {
		return s, err
	}
	if !s.Mode.acceptsPoints() {
		return s, guard("record distance", s.Mode, "annotation is off")
	}
	if math.IsNaN(meters) || math.IsInf(meters, 0) || meters <= 0 {
		return s, ErrInvalidDistance
	}
	if !s.AwaitingDistance() {
		return s, ErrNoPairAwaitingInput
	}
	s.Calibration = s.Calibration.With(PointPair{
		Point1:   s.Working[0],
		Point2:   s.Working[1],
		Distance: meters,
		Surface:  s.Mode.VisibleSurface(),
	})
	s.Working = nil
	s.Revision++
	return s, nil
}

// RecordDistanceInput is RecordDistance for text input. Unparseable text
// leaves the session untouched.
func (s Session) RecordDistanceInput(text string) (Session, error) {
	meters, err := ParseDistance(text)
	if err != nil {
		return s, err
	}
	return s.RecordDistance(meters)
}

// Reset drops the working points and, when clearCommitted is set, every
// committed pair.
func (s Session) Reset(clearCommitted bool) Session {
	s.Working = nil
	if clearCommitted {
		s.Calibration = CalibrationSet{}
	}
	s.Revision++
	return s
}

// AbortPair discards the open pair, keeping committed pairs.
func (s Session) AbortPair() (Session, error) {
	if err := s.checkNotExporting("abort pair"); err != nil {
		return s, err
	}
	if len(s.Working) == 0 {
		return s, ErrNoPairAwaitingInput
	}
	return s.Reset(false), nil
}

// TogglePlayPause switches between Paused and Playing. Starting playback
// leaves annotation mode and discards the open pair; pausing changes nothing else.
func (s Session) TogglePlayPause() (Session, error) {
	if err := s.checkPlayback("toggle playback"); err != nil {
		return s, err
	}
	if s.Playback.Playing {
		s.Playback.Playing = false
		return s, nil
	}
	s = s.Reset(false)
	if s.Mode == ModeAnnotating {
		s.Mode = ModeUploaded
	}
	s.Playback.Playing = true
	return s, nil
}

// Skip moves the playback position by delta seconds and leaves the current
// calibration context entirely.
func (s Session) Skip(deltaSeconds float64) (Session, error) {
	if err := s.checkPlayback("skip"); err != nil {
		return s, err
	}
	return s.jumpTo(s.Playback.CurrentTimeSeconds + deltaSeconds), nil
}

// Seek moves the playback position to an absolute time with the same reset as Skip.
func (s Session) Seek(seconds float64) (Session, error) {
	if err := s.checkPlayback("seek"); err != nil {
		return s, err
	}
	return s.jumpTo(seconds), nil
}

func (s Session) jumpTo(seconds float64) Session {
	s.Playback.CurrentTimeSeconds = s.Playback.ClampTime(seconds)
	s = s.Reset(true)
	if s.Mode == ModeAnnotating {
		s.Mode = ModeUploaded
	}
	return s
}

// TimeUpdated records a time-update event from the playing media. It is
// ignored while an export drives the media.
func (s Session) TimeUpdated(seconds float64) Session {
	if s.Exporting {
		return s
	}
	s.Playback.CurrentTimeSeconds = s.Playback.ClampTime(seconds)
	return s
}

// ToggleAnnotating enters annotation from Uploaded (only while paused) or
// leaves it, keeping committed pairs.
func (s Session) ToggleAnnotating() (Session, error) {
	if err := s.checkNotExporting("toggle annotation"); err != nil {
		return s, err
	}
	switch s.Mode {
	case ModeUploaded:
		if s.Playback.Playing {
			return s, guard("annotate", s.Mode, "pause playback first")
		}
		if !s.MediaReady {
			return s, guard("annotate", s.Mode, "media is still loading")
		}
		s.Mode = ModeAnnotating
		s.Working = nil
		s.Revision++
		return s, nil
	case ModeAnnotating:
		s.Mode = ModeUploaded
		s.Working = nil
		s.Revision++
		return s, nil
	default:
		return s, guard("toggle annotation", s.Mode, "only available on the video view")
	}
}

// BEVPair checks the BeVView entry guard and returns the pair the
// rectification request is built from.
func (s Session) BEVPair() (PointPair, error) {
	if err := s.checkNotExporting("bird's-eye view"); err != nil {
		return PointPair{}, err
	}
	if s.Mode != ModeUploaded && s.Mode != ModeAnnotating {
		return PointPair{}, guard("bird's-eye view", s.Mode, "only available on the video view")
	}
	if !s.MediaReady {
		return PointPair{}, guard("bird's-eye view", s.Mode, "media is still loading")
	}
	pp, ok := s.MostRecentPair()
	if !ok {
		return PointPair{}, guard("bird's-eye view", s.Mode, "record at least one calibrated pair first")
	}
	return pp, nil
}

// EnterBEV swaps the visible surface to a rectified image of the given size.
// The playback position is kept.
func (s Session) EnterBEV(imageSize Size) (Session, error) {
	if _, err := s.BEVPair(); err != nil {
		return s, err
	}
	if imageSize.Empty() {
		return s, ErrEmptyDisplayRect
	}
	s.Mode = ModeBeVView
	s.BEVSize = imageSize
	s.Working = nil
	s.Playback.Playing = false
	s.Revision++
	return s, nil
}

// ExitBEV returns to the video. Pairs measured on the rectified image do not
// apply to the video and are dropped; the media must be reloaded before
// annotation or export resume.
func (s Session) ExitBEV() (Session, error) {
	if s.Mode != ModeBeVView {
		return s, guard("leave bird's-eye view", s.Mode, "bird's-eye view is not shown")
	}
	s.Mode = ModeUploaded
	s.BEVSize = Size{}
	s.Working = nil
	s.Calibration = s.Calibration.OnSurface(SurfaceVideo)
	s.MediaReady = false
	s.Revision++
	return s, nil
}

// MarkLogsSynced opens the detection gate.
func (s Session) MarkLogsSynced() Session {
	s.LogsSynced = true
	return s
}

// CheckResults validates the Results entry guard without changing state.
func (s Session) CheckResults() error {
	if err := s.checkNotExporting("results"); err != nil {
		return err
	}
	if s.Mode != ModeUploaded && s.Mode != ModeAnnotating {
		return guard("results", s.Mode, "only available on the video view")
	}
	if !s.LogsSynced {
		return guard("results", s.Mode, "flight log and telemetry must be synchronized first")
	}
	return nil
}

// EnterResults is terminal: only a new session leaves it.
func (s Session) EnterResults() (Session, error) {
	if err := s.CheckResults(); err != nil {
		return s, err
	}
	s.Mode = ModeResults
	s.Working = nil
	s.Playback.Playing = false
	s.Playback.CurrentTimeSeconds = 0
	s.MediaReady = false
	s.Revision++
	return s, nil
}

// BeginExport hands the media to the export pipeline. Playback is paused.
func (s Session) BeginExport() (Session, error) {
	if err := s.checkNotExporting("export"); err != nil {
		return s, err
	}
	if s.Mode != ModeUploaded && s.Mode != ModeAnnotating {
		return s, guard("export", s.Mode, "only available on the video view")
	}
	if !s.MediaReady {
		return s, guard("export", s.Mode, "media is still loading")
	}
	s.Exporting = true
	s.Playback.Playing = false
	return s, nil
}

func (s Session) EndExport() Session {
	s.Exporting = false
	return s
}

// BeginRequest marks an external round-trip as outstanding.
func (s Session) BeginRequest(op string) (Session, error) {
	if s.Pending != "" {
		return s, ErrBusy
	}
	s.Pending = op
	return s, nil
}

func (s Session) EndRequest() Session {
	s.Pending = ""
	return s
}

func (s Session) checkNotExporting(op string) error {
	if s.Exporting {
		return guard(op, s.Mode, "an export is in progress")
	}
	return nil
}

func (s Session) checkPlayback(op string) error {
	if err := s.checkNotExporting(op); err != nil {
		return err
	}
	if !s.Mode.showsVideo() {
		return guard(op, s.Mode, "no video is shown")
	}
	if !s.MediaReady {
		return guard(op, s.Mode, "media is still loading")
	}
	return nil
}
