package postgres

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/seu-repo/voxdesk/internal/domain"
)

type CallLogRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewCallLogRepository(db *gorm.DB, log *zap.Logger) *CallLogRepository {
	return &CallLogRepository{
		db:  db,
		log: log,
	}
}

func (r *CallLogRepository) Save(ctx context.Context, callLog *domain.CallLog) error {
	return r.db.WithContext(ctx).Create(callLog).Error
}

// FindByCallControlID returns the most recent log for the call leg.
func (r *CallLogRepository) FindByCallControlID(ctx context.Context, callControlID string) (*domain.CallLog, error) {
	var callLog domain.CallLog
	err := r.db.WithContext(ctx).
		Where("call_control_id = ?", callControlID).
		Order("created_at DESC").
		First(&callLog).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &callLog, nil
}
