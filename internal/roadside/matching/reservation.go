package matching

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultReservationPrefix = "reserve:mechanic:"

// ReservationStore guards the contended mechanic state during accept:
// a mechanic holds at most one reservation at a time.
type ReservationStore interface {
	TryReserve(ctx context.Context, mechanicID, requestID uuid.UUID, ttl time.Duration) (bool, error)
	Release(ctx context.Context, mechanicID uuid.UUID) error
}

// RedisReservationStore coordinates mechanic reservations through Redis
// SETNX semantics. Every reservation carries a TTL so a crashed accept
// cannot leave a mechanic locked forever.
type RedisReservationStore struct {
	client    redis.Cmdable
	keyPrefix string
}

// NewRedisReservationStore constructs the reservation helper.
func NewRedisReservationStore(client redis.Cmdable, prefix string) *RedisReservationStore {
	if prefix == "" {
		prefix = defaultReservationPrefix
	}
	return &RedisReservationStore{client: client, keyPrefix: prefix}
}

// TryReserve attempts to acquire the reservation using SET NX EX.
func (r *RedisReservationStore) TryReserve(ctx context.Context, mechanicID, requestID uuid.UUID, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	key := r.keyPrefix + mechanicID.String()
	ok, err := r.client.SetNX(ctx, key, requestID.String(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Release removes the reservation key.
func (r *RedisReservationStore) Release(ctx context.Context, mechanicID uuid.UUID) error {
	if err := r.client.Del(ctx, r.keyPrefix+mechanicID.String()).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// MemoryReservationStore is the single-process fallback.
type MemoryReservationStore struct {
	mu       sync.Mutex
	reserved map[uuid.UUID]uuid.UUID
}

// NewMemoryReservationStore constructs an empty store.
func NewMemoryReservationStore() *MemoryReservationStore {
	return &MemoryReservationStore{reserved: make(map[uuid.UUID]uuid.UUID)}
}

// TryReserve reserves the mechanic unless already held.
func (m *MemoryReservationStore) TryReserve(_ context.Context, mechanicID, requestID uuid.UUID, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.reserved[mechanicID]; exists {
		return false, nil
	}
	m.reserved[mechanicID] = requestID
	return true, nil
}

// Release frees the mechanic reservation.
func (m *MemoryReservationStore) Release(_ context.Context, mechanicID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reserved, mechanicID)
	return nil
}
