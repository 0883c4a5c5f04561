package service

import (
	"context"
	"time"

	"github.com/fitsync/fitsync/internal/repository"
)

// TierService resolves a subject's effective tier. The tier table is
// owned by billing; this service only reads it. An expired tier reads
// as the lowest tier - lazy downgrade, no background sweep.
type TierService struct {
	repo       *repository.TierRepository
	lowestTier string
}

func NewTierService(repo *repository.TierRepository, lowestTier string) *TierService {
	return &TierService{
		repo:       repo,
		lowestTier: lowestTier,
	}
}

func (s *TierService) EffectiveTier(ctx context.Context, subjectID string) (string, error) {
	tier, err := s.repo.FindBySubject(ctx, subjectID)
	if err != nil {
		return "", err
	}

	if tier == nil || tier.Expired(time.Now()) {
		return s.lowestTier, nil
	}

	return tier.Tier, nil
}
