package ports

import (
	"context"
	"errors"
	"time"

	"github.com/seu-repo/voxdesk/internal/domain"
)

type BusinessRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Business, error)
	FindByPhoneNumber(ctx context.Context, phoneNumber string) (*domain.Business, error)
}

type CallLogRepository interface {
	Save(ctx context.Context, log *domain.CallLog) error
	FindByCallControlID(ctx context.Context, callControlID string) (*domain.CallLog, error)
}

// ErrCacheMiss is returned by Cache.Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// Cache is a string key/value store with expiration.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping() error
	Close() error
}
