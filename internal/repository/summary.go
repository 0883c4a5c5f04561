package repository

import (
	"context"

	"github.com/fitsync/fitsync/internal/models"
	"github.com/fitsync/fitsync/internal/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SummaryRepository struct {
	db *storage.Postgres
}

func NewSummaryRepository(db *storage.Postgres) *SummaryRepository {
	return &SummaryRepository{db: db}
}

// Upsert applies a summary idempotently: redelivered jobs overwrite the
// same (subject_id, resource_id) row instead of duplicating it.
func (r *SummaryRepository) Upsert(ctx context.Context, summary *models.ActivitySummary) error {
	return r.db.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "subject_id"}, {Name: "resource_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"resource_type", "activity_date", "steps", "distance_m",
				"calories", "active_mins", "synced_at", "updated_at",
			}),
		}).
		Create(summary).Error
}

func (r *SummaryRepository) Find(ctx context.Context, subjectID, resourceID string) (*models.ActivitySummary, error) {
	var summary models.ActivitySummary
	err := r.db.DB.WithContext(ctx).
		Where("subject_id = ? AND resource_id = ?", subjectID, resourceID).
		First(&summary).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &summary, err
}

func (r *SummaryRepository) ListBySubject(ctx context.Context, subjectID string, limit int) ([]models.ActivitySummary, error) {
	if limit <= 0 {
		limit = 50
	}

	var summaries []models.ActivitySummary
	err := r.db.DB.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("activity_date DESC").
		Limit(limit).
		Find(&summaries).Error

	return summaries, err
}

func (r *SummaryRepository) Delete(ctx context.Context, subjectID, resourceID string) error {
	return r.db.DB.WithContext(ctx).
		Where("subject_id = ? AND resource_id = ?", subjectID, resourceID).
		Delete(&models.ActivitySummary{}).Error
}
