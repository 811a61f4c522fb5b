package repository

import (
	"context"

	"github.com/nitrinonet/monitord/internal/datastore/entities"
)

// ScanJobRepository tracks asynchronous subnet sweep jobs.
type ScanJobRepository interface {
	CreateJob(ctx context.Context, job *entities.ScanJob) error
	UpdateJob(ctx context.Context, job *entities.ScanJob) error
	GetJob(ctx context.Context, id string) (*entities.ScanJob, error)
	ListRecent(ctx context.Context, limit int) ([]entities.ScanJob, error)
}
