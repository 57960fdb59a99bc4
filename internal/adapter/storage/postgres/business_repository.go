package postgres

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/seu-repo/voxdesk/internal/domain"
)

type BusinessRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewBusinessRepository(db *gorm.DB, log *zap.Logger) *BusinessRepository {
	return &BusinessRepository{
		db:  db,
		log: log,
	}
}

func (r *BusinessRepository) Save(ctx context.Context, business *domain.Business) error {
	return r.db.WithContext(ctx).Save(business).Error
}

func (r *BusinessRepository) FindByID(ctx context.Context, id string) (*domain.Business, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *BusinessRepository) FindByPhoneNumber(ctx context.Context, phoneNumber string) (*domain.Business, error) {
	return r.findOne(ctx, "phone_number = ?", phoneNumber)
}

func (r *BusinessRepository) findOne(ctx context.Context, query string, arg string) (*domain.Business, error) {
	var business domain.Business
	err := r.db.WithContext(ctx).First(&business, query, arg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &business, nil
}
