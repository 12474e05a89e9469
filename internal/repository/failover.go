package repository

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"taskbridge/internal/domain"
)

// FailoverBudget serves budget checks from Redis while it is healthy and
// degrades to the in-memory budget when it is not. The primary is probed
// again a minute after the last failure.
type FailoverBudget struct {
	primary   domain.RequestBudget
	fallback  domain.RequestBudget
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverBudget(primary, fallback domain.RequestBudget, logger *zerolog.Logger) *FailoverBudget {
	return &FailoverBudget{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverBudget) Allow(ctx context.Context, platform string, limit int, window time.Duration) (bool, error) {
	if !r.isDown.Load() {
		allowed, err := r.primary.Allow(ctx, platform, limit, window)
		if err == nil {
			return allowed, nil
		}
		r.logger.Error().Err(err).Msg("Primary budget repository failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck.Store(time.Now().UnixNano())
	}

	if r.isDown.Load() && time.Since(time.Unix(0, r.lastCheck.Load())) > time.Minute {
		allowed, err := r.primary.Allow(ctx, platform, limit, window)
		if err == nil {
			r.isDown.Store(false)
			return allowed, nil
		}
		r.lastCheck.Store(time.Now().UnixNano())
	}

	return r.fallback.Allow(ctx, platform, limit, window)
}
