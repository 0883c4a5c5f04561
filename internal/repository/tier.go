package repository

import (
	"context"

	"github.com/fitsync/fitsync/internal/models"
	"github.com/fitsync/fitsync/internal/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TierRepository struct {
	db *storage.Postgres
}

func NewTierRepository(db *storage.Postgres) *TierRepository {
	return &TierRepository{db: db}
}

func (r *TierRepository) FindBySubject(ctx context.Context, subjectID string) (*models.SubjectTier, error) {
	var tier models.SubjectTier
	err := r.db.DB.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		First(&tier).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &tier, err
}

// Upsert exists for the admin surface; in production the billing
// service owns this table.
func (r *TierRepository) Upsert(ctx context.Context, tier *models.SubjectTier) error {
	return r.db.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subject_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"tier", "tier_expires_at", "updated_at"}),
		}).
		Create(tier).Error
}

func (r *TierRepository) List(ctx context.Context) ([]models.SubjectTier, error) {
	var tiers []models.SubjectTier
	err := r.db.DB.WithContext(ctx).
		Order("updated_at DESC").
		Find(&tiers).Error

	return tiers, err
}
