package job_records

import (
	"context"

	"comfy_studio/entities"
)

type Repository interface {
	Create(ctx context.Context, record *entities.JobRecord) (*entities.JobRecord, error)
	MarkCompleted(ctx context.Context, jobID, imageFilename string) error
	MarkFailed(ctx context.Context, jobID, reason string) error
	GetByJobID(ctx context.Context, jobID string) (*entities.JobRecord, error)
	ListRecent(ctx context.Context, limit int) ([]*entities.JobRecord, error)
}
