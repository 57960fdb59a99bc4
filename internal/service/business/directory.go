package business

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/voxdesk/internal/domain"
	"github.com/seu-repo/voxdesk/internal/ports"
)

const defaultTTL = 5 * time.Minute

// Directory resolves tenants through a read-through cache. Cache failures
// degrade to repository reads.
type Directory struct {
	repo  ports.BusinessRepository
	cache ports.Cache
	ttl   time.Duration
	log   *zap.Logger
}

func NewDirectory(repo ports.BusinessRepository, cache ports.Cache, ttl time.Duration, log *zap.Logger) *Directory {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Directory{
		repo:  repo,
		cache: cache,
		ttl:   ttl,
		log:   log,
	}
}

func (d *Directory) FindByPhoneNumber(ctx context.Context, phoneNumber string) (*domain.Business, error) {
	normalized := NormalizePhoneNumber(phoneNumber)
	if normalized == "" {
		return nil, nil
	}

	return d.lookup(ctx, "business:phone:"+normalized, func(ctx context.Context) (*domain.Business, error) {
		return d.repo.FindByPhoneNumber(ctx, normalized)
	})
}

func (d *Directory) FindByID(ctx context.Context, id string) (*domain.Business, error) {
	if id == "" {
		return nil, nil
	}

	return d.lookup(ctx, "business:id:"+id, func(ctx context.Context) (*domain.Business, error) {
		return d.repo.FindByID(ctx, id)
	})
}

func (d *Directory) lookup(ctx context.Context, key string, load func(context.Context) (*domain.Business, error)) (*domain.Business, error) {
	if d.cache != nil {
		val, err := d.cache.Get(ctx, key)
		switch {
		case err == nil:
			var b domain.Business
			if err := json.Unmarshal([]byte(val), &b); err == nil {
				return &b, nil
			}
			d.log.Warn("Discarding unreadable cached business", zap.String("key", key))
		case !errors.Is(err, ports.ErrCacheMiss):
			d.log.Warn("Business cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	b, err := load(ctx)
	if err != nil || b == nil {
		return nil, err
	}
	if !b.Active {
		return nil, nil
	}

	if d.cache != nil {
		if data, err := json.Marshal(b); err == nil {
			if err := d.cache.Set(ctx, key, string(data), d.ttl); err != nil {
				d.log.Warn("Business cache write failed", zap.String("key", key), zap.Error(err))
			}
		}
	}

	return b, nil
}

// NormalizePhoneNumber reduces a dialed number to E.164 form: a leading plus
// followed by digits only.
func NormalizePhoneNumber(phoneNumber string) string {
	var b strings.Builder
	for _, r := range phoneNumber {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "+" + b.String()
}
