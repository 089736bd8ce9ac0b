// Package revocation records token ids that must no longer be honoured.
//
// An entry only needs to outlive the token it names: once the token's own
// expiry has passed it is rejected for that reason, so entries may be pruned.
package revocation

import (
	"context"
	"sync"
	"time"

	"github.com/ricemill/backoffice/internal/cache"
	"github.com/ricemill/backoffice/internal/db"
)

// Store is the revocation record. Revoke reports whether the id was newly
// added; concurrent callers revoking the same id see exactly one true.
type Store interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error)
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	Prune(ctx context.Context, now time.Time) (int, error)
}

// MemoryStore keeps the record in process. It does not survive restarts and
// is not shared between replicas.
type MemoryStore struct {
	entries sync.Map // token id -> expiry time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Revoke(_ context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	_, loaded := s.entries.LoadOrStore(tokenID, expiresAt)
	return !loaded, nil
}

func (s *MemoryStore) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	_, ok := s.entries.Load(tokenID)
	return ok, nil
}

func (s *MemoryStore) Prune(_ context.Context, now time.Time) (int, error) {
	removed := 0
	s.entries.Range(func(key, value any) bool {
		if exp := value.(time.Time); !exp.After(now) {
			s.entries.Delete(key)
			removed++
		}
		return true
	})
	return removed, nil
}

// PostgresStore persists the record in the revoked_tokens table.
type PostgresStore struct {
	repo *db.RevokedTokenRepository
}

func NewPostgresStore(repo *db.RevokedTokenRepository) *PostgresStore {
	return &PostgresStore{repo: repo}
}

func (s *PostgresStore) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	return s.repo.Revoke(ctx, tokenID, expiresAt)
}

func (s *PostgresStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	return s.repo.IsRevoked(ctx, tokenID)
}

func (s *PostgresStore) Prune(ctx context.Context, now time.Time) (int, error) {
	return s.repo.DeleteExpired(ctx, now)
}

// RedisStore keeps one key per revoked id with a TTL matching the token's
// remaining lifetime, so Redis expires entries on its own.
type RedisStore struct {
	cache *cache.Cache
	now   func() time.Time
}

func NewRedisStore(c *cache.Cache) *RedisStore {
	return &RedisStore{cache: c, now: time.Now}
}

const minRedisTTL = time.Second

func (s *RedisStore) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	ttl := expiresAt.Sub(s.now())
	if ttl < minRedisTTL {
		ttl = minRedisTTL
	}
	return s.cache.SetOnce(ctx, tokenID, "1", ttl)
}

func (s *RedisStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	return s.cache.Exists(ctx, tokenID)
}

// Prune is a no-op; keys carry their own TTL.
func (s *RedisStore) Prune(context.Context, time.Time) (int, error) {
	return 0, nil
}
