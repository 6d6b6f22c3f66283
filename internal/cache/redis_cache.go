package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"possales/internal/domain"
)

const activeCampaignsKey = "campaigns:active"

type RedisCampaignCache struct {
	client *redis.Client
}

func NewRedisCampaignCache(addr string, password string, db int) *RedisCampaignCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisCampaignCache{client: client}
}

func (c *RedisCampaignCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCampaignCache) Close() error {
	return c.client.Close()
}

func (c *RedisCampaignCache) Get(ctx context.Context) ([]domain.Campaign, bool, error) {
	val, err := c.client.Get(ctx, activeCampaignsKey).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var campaigns []domain.Campaign
	if err := json.Unmarshal([]byte(val), &campaigns); err != nil {
		return nil, false, err
	}
	return campaigns, true, nil
}

func (c *RedisCampaignCache) Set(ctx context.Context, campaigns []domain.Campaign, ttl time.Duration) error {
	payload, err := json.Marshal(campaigns)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, activeCampaignsKey, payload, ttl).Err()
}

func (c *RedisCampaignCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, activeCampaignsKey).Err()
}
