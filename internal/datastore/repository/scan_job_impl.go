package repository

import (
	"context"
	"fmt"

	"github.com/nitrinonet/monitord/internal/datastore/entities"
	"github.com/nitrinonet/monitord/internal/errors"
	"gorm.io/gorm"
)

// scanJobRepository implements ScanJobRepository.
type scanJobRepository struct {
	db *gorm.DB
}

// NewScanJobRepository creates a new ScanJobRepository.
func NewScanJobRepository(db *gorm.DB) ScanJobRepository {
	return &scanJobRepository{db: db}
}

// CreateJob persists a new scan job.
func (r *scanJobRepository) CreateJob(ctx context.Context, job *entities.ScanJob) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to create scan job: %w", err)
	}
	return nil
}

// UpdateJob saves progress or final state for a scan job.
func (r *scanJobRepository) UpdateJob(ctx context.Context, job *entities.ScanJob) error {
	if err := r.db.WithContext(ctx).Save(job).Error; err != nil {
		return fmt.Errorf("failed to update scan job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob returns a scan job by ID.
// Returns ErrScanJobNotFound if the job does not exist.
func (r *scanJobRepository) GetJob(ctx context.Context, id string) (*entities.ScanJob, error) {
	var job entities.ScanJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrScanJobNotFound
		}
		return nil, fmt.Errorf("failed to get scan job %s: %w", id, err)
	}
	return &job, nil
}

// ListRecent returns the most recently started scan jobs.
func (r *scanJobRepository) ListRecent(ctx context.Context, limit int) ([]entities.ScanJob, error) {
	if limit <= 0 {
		limit = 20
	}
	var jobs []entities.ScanJob
	if err := r.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list scan jobs: %w", err)
	}
	return jobs, nil
}
