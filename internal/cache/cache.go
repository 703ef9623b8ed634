package cache

import (
	"context"
	"time"

	"snackmandi/backend/internal/domain"
)

type BalanceCache interface {
	Get(ctx context.Context, key string) (*domain.BalanceSummary, bool, error)
	Set(ctx context.Context, key string, value *domain.BalanceSummary, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type NoopBalanceCache struct{}

func (NoopBalanceCache) Get(_ context.Context, _ string) (*domain.BalanceSummary, bool, error) {
	return nil, false, nil
}

func (NoopBalanceCache) Set(_ context.Context, _ string, _ *domain.BalanceSummary, _ time.Duration) error {
	return nil
}

func (NoopBalanceCache) Delete(_ context.Context, _ string) error {
	return nil
}
