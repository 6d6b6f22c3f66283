package cache

import (
	"context"
	"time"

	"possales/internal/domain"
)

// CampaignCache holds the active-campaign list so sale pricing does not hit
// the store on every request. Implementations must tolerate cold caches:
// a miss is (nil, false, nil), never an error.
type CampaignCache interface {
	Get(ctx context.Context) ([]domain.Campaign, bool, error)
	Set(ctx context.Context, campaigns []domain.Campaign, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopCampaignCache struct{}

func (NoopCampaignCache) Get(_ context.Context) ([]domain.Campaign, bool, error) {
	return nil, false, nil
}

func (NoopCampaignCache) Set(_ context.Context, _ []domain.Campaign, _ time.Duration) error {
	return nil
}

func (NoopCampaignCache) Invalidate(_ context.Context) error {
	return nil
}
