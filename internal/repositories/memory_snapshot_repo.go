package repositories

import (
	"context"
	"strings"

	gocache "github.com/patrickmn/go-cache"

	"github.com/prudhvinik1/syncbridge/internal/models"
)

// MemorySnapshotRepository is the in-process fallback used when no Redis is
// configured. Entries never expire; a sweep rewrites them anyway.
type MemorySnapshotRepository struct {
	cache *gocache.Cache
}

func NewMemorySnapshotRepository() *MemorySnapshotRepository {
	return &MemorySnapshotRepository{cache: gocache.New(gocache.NoExpiration, 0)}
}

func (r *MemorySnapshotRepository) Get(ctx context.Context, domain models.Domain, id string) ([]byte, error) {
	v, ok := r.cache.Get(memoryKey(domain, id))
	if !ok {
		return nil, ErrNotFound
	}
	data := v.([]byte)
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (r *MemorySnapshotRepository) Put(ctx context.Context, domain models.Domain, id string, data []byte) error {
	stored := make([]byte, len(data))
	copy(stored, data)
	r.cache.Set(memoryKey(domain, id), stored, gocache.NoExpiration)
	return nil
}

func (r *MemorySnapshotRepository) Delete(ctx context.Context, domain models.Domain, id string) error {
	r.cache.Delete(memoryKey(domain, id))
	return nil
}

func (r *MemorySnapshotRepository) Clear(ctx context.Context, domain models.Domain) error {
	prefix := string(domain) + ":"
	for key := range r.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			r.cache.Delete(key)
		}
	}
	return nil
}

func memoryKey(domain models.Domain, id string) string {
	return string(domain) + ":" + id
}
