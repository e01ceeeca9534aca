package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/entity"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CalibrationRepository stores each committed calibration with the frame
// it was measured on.
type CalibrationRepository struct {
	pool *pgxpool.Pool
}

func NewCalibrationRepository(pool *pgxpool.Pool) *CalibrationRepository {
	return &CalibrationRepository{pool: pool}
}

func (r *CalibrationRepository) SaveSnapshot(ctx context.Context, snap entity.CalibrationSnapshot) error {
	pairs, err := json.Marshal(snap.Pairs)
	if err != nil {
		return fmt.Errorf("marshal pairs: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO calibration_snapshots (session_id, frame_number, pairs, saved_at) VALUES ($1,$2,$3,$4)`,
		snap.SessionID, snap.FrameNumber, pairs, snap.SavedAt,
	)
	if err != nil {
		return fmt.Errorf("insert calibration snapshot: %w", err)
	}
	return nil
}

func (r *CalibrationRepository) ListSnapshots(ctx context.Context, sessionID uuid.UUID) ([]entity.CalibrationSnapshot, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT session_id, frame_number, pairs, saved_at
		 FROM calibration_snapshots WHERE session_id=$1 ORDER BY saved_at, id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query calibration snapshots: %w", err)
	}
	defer rows.Close()

	var out []entity.CalibrationSnapshot
	for rows.Next() {
		var snap entity.CalibrationSnapshot
		var pairs []byte
		if err := rows.Scan(&snap.SessionID, &snap.FrameNumber, &pairs, &snap.SavedAt); err != nil {
			return nil, fmt.Errorf("scan calibration snapshot: %w", err)
		}
		if err := json.Unmarshal(pairs, &snap.Pairs); err != nil {
			return nil, fmt.Errorf("unmarshal pairs: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
