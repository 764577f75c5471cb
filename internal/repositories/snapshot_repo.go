package repositories

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/prudhvinik1/syncbridge/internal/models"
)

const snapshotKeyPrefix = "snapshot:"

// RedisSnapshotRepository keeps one hash per domain, field = entity id.
type RedisSnapshotRepository struct {
	client *redis.Client
}

func NewRedisSnapshotRepository(client *redis.Client) *RedisSnapshotRepository {
	return &RedisSnapshotRepository{client: client}
}

func (r *RedisSnapshotRepository) Get(ctx context.Context, domain models.Domain, id string) ([]byte, error) {
	data, err := r.client.HGet(ctx, snapshotKey(domain), id).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return data, nil
}

func (r *RedisSnapshotRepository) Put(ctx context.Context, domain models.Domain, id string, data []byte) error {
	if err := r.client.HSet(ctx, snapshotKey(domain), id, data).Err(); err != nil {
		return fmt.Errorf("failed to put snapshot: %w", err)
	}
	return nil
}

func (r *RedisSnapshotRepository) Delete(ctx context.Context, domain models.Domain, id string) error {
	if err := r.client.HDel(ctx, snapshotKey(domain), id).Err(); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

func (r *RedisSnapshotRepository) Clear(ctx context.Context, domain models.Domain) error {
	if err := r.client.Del(ctx, snapshotKey(domain)).Err(); err != nil {
		return fmt.Errorf("failed to clear snapshots: %w", err)
	}
	return nil
}

func snapshotKey(domain models.Domain) string {
	return snapshotKeyPrefix + string(domain)
}
