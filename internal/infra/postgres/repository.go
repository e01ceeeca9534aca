package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/entity"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrJobNotFound is returned by FindByID for an unknown job.
var ErrJobNotFound = entity.ErrJobNotFound

type ExportJobRepository struct {
	pool *pgxpool.Pool
}

func NewExportJobRepository(pool *pgxpool.Pool) *ExportJobRepository {
	return &ExportJobRepository{pool: pool}
}

func (r *ExportJobRepository) Create(ctx context.Context, job *entity.ExportJob) error {
	query := `
		INSERT INTO export_jobs (
			id, session_id, video_key, kind, target_fps, total_frames,
			current_frame, status, artifact_key, artifact_bytes, attempt,
			max_attempts, error_message, created_at, updated_at, completed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`

	_, err := r.pool.Exec(ctx, query,
		job.ID, job.SessionID, job.VideoKey, string(job.Kind), job.TargetFPS,
		job.TotalFrames, job.CurrentFrame, string(job.Status), job.ArtifactKey,
		job.ArtifactBytes, job.Attempt, job.MaxAttempts, job.ErrorMessage,
		job.CreatedAt, job.UpdatedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert export job: %w", err)
	}
	return nil
}

func (r *ExportJobRepository) Update(ctx context.Context, job *entity.ExportJob) error {
	query := `
		UPDATE export_jobs SET
			status=$2, total_frames=$3, current_frame=$4, artifact_key=$5,
			artifact_bytes=$6, attempt=$7, error_message=$8, updated_at=$9,
			completed_at=$10
		WHERE id=$1 AND status <> 'CANCELED'`

	tag, err := r.pool.Exec(ctx, query,
		job.ID, string(job.Status), job.TotalFrames, job.CurrentFrame,
		job.ArtifactKey, job.ArtifactBytes, job.Attempt, job.ErrorMessage,
		job.UpdatedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update export job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// a canceled job is final; tell it apart from a missing one
		var status string
		err := r.pool.QueryRow(ctx, `SELECT status FROM export_jobs WHERE id=$1`, job.ID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("update export job %s: %w", job.ID, ErrJobNotFound)
		}
		if err != nil {
			return fmt.Errorf("update export job %s: %w", job.ID, err)
		}
		return fmt.Errorf("update export job %s: %w", job.ID, entity.ErrJobCanceled)
	}
	return nil
}

func (r *ExportJobRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.ExportJob, error) {
	query := `
		SELECT id, session_id, video_key, kind, target_fps, total_frames,
			current_frame, status, artifact_key, artifact_bytes, attempt,
			max_attempts, error_message, created_at, updated_at, completed_at
		FROM export_jobs WHERE id=$1`

	job := &entity.ExportJob{}
	var kind, status string
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&job.ID, &job.SessionID, &job.VideoKey, &kind, &job.TargetFPS,
		&job.TotalFrames, &job.CurrentFrame, &status, &job.ArtifactKey,
		&job.ArtifactBytes, &job.Attempt, &job.MaxAttempts, &job.ErrorMessage,
		&job.CreatedAt, &job.UpdatedAt, &job.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find export job by id: %w", err)
	}
	job.Kind = entity.ExportKind(kind)
	job.Status = entity.ExportStatus(status)
	return job, nil
}

func (r *ExportJobRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
