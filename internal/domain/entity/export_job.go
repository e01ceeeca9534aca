package entity

import (
	"math"
	"time"

	"github.com/google/uuid"
)

type ExportKind string

const (
	ExportKindStill ExportKind = "STILL"
	ExportKindVideo ExportKind = "VIDEO"
)

type ExportStatus string

const (
	ExportStatusPending    ExportStatus = "PENDING"
	ExportStatusProcessing ExportStatus = "PROCESSING"
	ExportStatusCompleted  ExportStatus = "COMPLETED"
	ExportStatusFailed     ExportStatus = "FAILED"
	ExportStatusCanceled   ExportStatus = "CANCELED"
)

// ExportJob tracks one export from its first frame to the finalized artifact.
type ExportJob struct {
	ID            uuid.UUID    `json:"id"`
	SessionID     uuid.UUID    `json:"session_id"`
	VideoKey      string       `json:"video_key"`
	Kind          ExportKind   `json:"kind"`
	TargetFPS     float64      `json:"target_fps"`
	TotalFrames   int          `json:"total_frames"`
	CurrentFrame  int          `json:"current_frame"`
	Status        ExportStatus `json:"status"`
	ArtifactKey   string       `json:"artifact_key,omitempty"`
	ArtifactBytes int64        `json:"artifact_bytes,omitempty"`
	Attempt       int          `json:"attempt"`
	MaxAttempts   int          `json:"max_attempts"`
	ErrorMessage  string       `json:"error_message,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
}

func NewExportJob(sessionID uuid.UUID, videoKey string, kind ExportKind, targetFPS float64, maxAttempts int) *ExportJob {
	now := time.Now().UTC()
	if targetFPS <= 0 {
		targetFPS = ExportFPS
	}
	return &ExportJob{
		ID:          uuid.New(),
		SessionID:   sessionID,
		VideoKey:    videoKey,
		Kind:        kind,
		TargetFPS:   targetFPS,
		Status:      ExportStatusPending,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// TotalFramesFor is the number of frames a video export visits.
func TotalFramesFor(durationSeconds, fps float64) int {
	if durationSeconds <= 0 || fps <= 0 {
		return 0
	}
	return int(math.Floor(durationSeconds * fps))
}

func (j *ExportJob) MarkProcessing(totalFrames int) {
	j.Status = ExportStatusProcessing
	j.TotalFrames = totalFrames
	j.CurrentFrame = 0
	j.ErrorMessage = ""
	j.Attempt++
	j.UpdatedAt = time.Now().UTC()
}

func (j *ExportJob) Advance(frame int) {
	j.CurrentFrame = frame
}

func (j *ExportJob) Progress() float64 {
	if j.TotalFrames == 0 {
		return 0
	}
	return float64(j.CurrentFrame) / float64(j.TotalFrames)
}

func (j *ExportJob) MarkCompleted(artifactKey string, size int64) {
	now := time.Now().UTC()
	j.Status = ExportStatusCompleted
	j.ArtifactKey = artifactKey
	j.ArtifactBytes = size
	j.CurrentFrame = j.TotalFrames
	j.UpdatedAt = now
	j.CompletedAt = &now
}

func (j *ExportJob) MarkFailed(errMsg string) {
	j.Status = ExportStatusFailed
	j.ErrorMessage = errMsg
	j.UpdatedAt = time.Now().UTC()
}

func (j *ExportJob) MarkCanceled() {
	j.Status = ExportStatusCanceled
	j.UpdatedAt = time.Now().UTC()
}

func (j *ExportJob) CanRetry() bool {
	return j.Attempt < j.MaxAttempts
}

func (j *ExportJob) Done() bool {
	switch j.Status {
	case ExportStatusCompleted, ExportStatusCanceled:
		return true
	case ExportStatusFailed:
		return !j.CanRetry()
	}
	return false
}
