package repository

import (
	"github.com/fitsync/fitsync/internal/models"
	"github.com/fitsync/fitsync/internal/storage"
)

type RequestLogRepository struct {
	db *storage.Postgres
}

func NewRequestLogRepository(db *storage.Postgres) *RequestLogRepository {
	return &RequestLogRepository{db: db}
}

// CreateBatch inserts logs in one statement; called from the async
// logging worker, never from a request path.
func (r *RequestLogRepository) CreateBatch(logs []models.RequestLog) error {
	if len(logs) == 0 {
		return nil
	}
	return r.db.DB.Create(&logs).Error
}
