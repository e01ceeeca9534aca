package port

import (
	"context"

	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/entity"
	"github.com/google/uuid"
)

type ExportJobRepository interface {
	Create(ctx context.Context, job *entity.ExportJob) error
	Update(ctx context.Context, job *entity.ExportJob) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.ExportJob, error)
}

type CalibrationRepository interface {
	SaveSnapshot(ctx context.Context, snap entity.CalibrationSnapshot) error
	ListSnapshots(ctx context.Context, sessionID uuid.UUID) ([]entity.CalibrationSnapshot, error)
}
