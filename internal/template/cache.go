package template

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/reminder-dispatch/internal/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "template:body:"

// CachedStore keeps template bodies in Redis for ttl. Redis errors fall back
// to the wrapped store.
type CachedStore struct {
	next   Store
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedStore(next Store, rdb redis.Cmdable, ttl time.Duration, logger *zap.Logger) (*CachedStore, error) {
	if next == nil {
		return nil, fmt.Errorf("template store is required")
	}
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("cache ttl must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CachedStore{
		next:   next,
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}, nil
}

func (s *CachedStore) Load(ctx context.Context, name domain.TemplateName) (string, error) {
	key := cacheKeyPrefix + name.String()

	body, err := s.rdb.Get(ctx, key).Result()
	if err == nil {
		return body, nil
	}
	if !errors.Is(err, redis.Nil) {
		s.logger.Warn("template cache read failed",
			zap.String("template", name.String()),
			zap.Error(err),
		)
	}

	body, err = s.next.Load(ctx, name)
	if err != nil {
		return "", err
	}

	if err := s.rdb.Set(ctx, key, body, s.ttl).Err(); err != nil {
		s.logger.Warn("template cache write failed",
			zap.String("template", name.String()),
			zap.Error(err),
		)
	}

	return body, nil
}

func (s *CachedStore) List(ctx context.Context) ([]domain.TemplateInfo, error) {
	return s.next.List(ctx)
}
