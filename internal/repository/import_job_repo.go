package repository

import (
	"context"
	"errors"

	"github.com/timmy/odstat/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ImportJobRepository keeps finished import jobs so progress polls survive restarts.
type ImportJobRepository struct {
	db *gorm.DB
}

// NewImportJobRepository creates a new ImportJobRepository.
func NewImportJobRepository(db *gorm.DB) *ImportJobRepository {
	return &ImportJobRepository{db: db}
}

// Save creates or replaces the job snapshot.
func (r *ImportJobRepository) Save(ctx context.Context, job *domain.ImportJob) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(job).Error
}

// GetByID returns the job, or (nil, nil) when it was never saved.
func (r *ImportJobRepository) GetByID(ctx context.Context, id string) (*domain.ImportJob, error) {
	var job domain.ImportJob
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}
