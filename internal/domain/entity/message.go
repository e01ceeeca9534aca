package entity

import (
	"time"

	"github.com/google/uuid"
)

// ExportRequestMessage is the inbound message from the export.requested queue.
type ExportRequestMessage struct {
	JobID         uuid.UUID   `json:"job_id"`
	SessionID     uuid.UUID   `json:"session_id"`
	VideoKey      string      `json:"video_key"`
	VideoName     string      `json:"video_name"`
	Kind          ExportKind  `json:"kind"`
	TargetFPS     float64     `json:"target_fps,omitempty"`
	TimeSeconds   float64     `json:"time_seconds,omitempty"`
	FrameNumber   int         `json:"frame_number,omitempty"`
	Pairs         []PointPair `json:"pairs"`
	Working       []Point     `json:"working,omitempty"`
	OperatorEmail string      `json:"operator_email,omitempty"`
}

// ExportStatusMessage is the outbound message published to the export.status queue.
type ExportStatusMessage struct {
	JobID        uuid.UUID    `json:"job_id"`
	SessionID    uuid.UUID    `json:"session_id"`
	Kind         ExportKind   `json:"kind"`
	Status       ExportStatus `json:"status"`
	VideoKey     string       `json:"video_key"`
	ArtifactKey  string       `json:"artifact_key,omitempty"`
	TotalFrames  int          `json:"total_frames,omitempty"`
	CurrentFrame int          `json:"current_frame,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	Attempt      int          `json:"attempt"`
	MaxAttempts  int          `json:"max_attempts"`
}

// DetectionRequestMessage asks the detection backend to run on an asset.
// Nothing waits for a reply.
type DetectionRequestMessage struct {
	SessionID   uuid.UUID `json:"session_id"`
	AssetID     string    `json:"asset_id"`
	VideoName   string    `json:"video_name"`
	RequestedAt time.Time `json:"requested_at"`
}

// CalibrationSnapshot is the committed calibration of one frame.
type CalibrationSnapshot struct {
	SessionID   uuid.UUID   `json:"session_id"`
	FrameNumber int         `json:"frame_number"`
	Pairs       []PointPair `json:"point_distances"`
	SavedAt     time.Time   `json:"saved_at"`
}

// RectifyRequest is what the rectification service needs to build a
// bird's-eye image of one frame.
type RectifyRequest struct {
	FrameIndex         int
	FrameReference     string
	LogReference       string
	Pair               [2]Point
	RealDistanceMeters float64
}

func NewRectifyRequest(frameIndex int, frameRef, logRef string, pp PointPair) RectifyRequest {
	return RectifyRequest{
		FrameIndex:         frameIndex,
		FrameReference:     frameRef,
		LogReference:       logRef,
		Pair:               [2]Point{pp.Point1, pp.Point2},
		RealDistanceMeters: pp.Distance,
	}
}
