package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryTokenStore is the default single-process refresh registry.
type MemoryTokenStore struct {
	mu      sync.RWMutex
	records map[string]*RefreshTokenRecord
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{records: make(map[string]*RefreshTokenRecord)}
}

func (s *MemoryTokenStore) Save(rec RefreshTokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := rec
	s.records[rec.JTI] = &cp
	return nil
}

func (s *MemoryTokenStore) Get(jti string) (RefreshTokenRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[jti]
	if !ok {
		return RefreshTokenRecord{}, false, nil
	}
	return *rec, true, nil
}

func (s *MemoryTokenStore) Revoke(jti string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[jti]; ok {
		rec.Revoked = true
	}
	return nil
}

func (s *MemoryTokenStore) RevokeAllForUser(userID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.UserID == userID {
			rec.Revoked = true
		}
	}
	return nil
}

func (s *MemoryTokenStore) PurgeExpired(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for jti, rec := range s.records {
		if now.After(rec.ExpiresAt) {
			delete(s.records, jti)
		}
	}
	return nil
}

// Count returns the number of live registry entries
func (s *MemoryTokenStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// RedisTokenStore keeps the refresh registry in Redis so multiple
// backend instances share revocation state. Records expire with their
// key TTL; PurgeExpired is therefore a no-op.
type RedisTokenStore struct {
	client *redis.Client
	prefix string
}

const redisOpTimeout = 3 * time.Second

func NewRedisTokenStore(addr, password string, db int) (*RedisTokenStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisTokenStore{client: client, prefix: "tripnest:refresh:"}, nil
}

func (s *RedisTokenStore) key(jti string) string {
	return s.prefix + jti
}

func (s *RedisTokenStore) userKey(userID uint) string {
	return fmt.Sprintf("%suser:%d", s.prefix, userID)
}

func (s *RedisTokenStore) Save(rec RefreshTokenRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(rec.JTI), data, ttl)
	pipe.SAdd(ctx, s.userKey(rec.UserID), rec.JTI)
	pipe.Expire(ctx, s.userKey(rec.UserID), ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisTokenStore) Get(jti string) (RefreshTokenRecord, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	data, err := s.client.Get(ctx, s.key(jti)).Bytes()
	if err == redis.Nil {
		return RefreshTokenRecord{}, false, nil
	}
	if err != nil {
		return RefreshTokenRecord{}, false, err
	}

	var rec RefreshTokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return RefreshTokenRecord{}, false, err
	}
	return rec, true, nil
}

func (s *RedisTokenStore) Revoke(jti string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	data, err := s.client.Get(ctx, s.key(jti)).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}

	var rec RefreshTokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	rec.Revoked = true

	updated, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(jti), updated, redis.KeepTTL).Err()
}

func (s *RedisTokenStore) RevokeAllForUser(userID uint) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	jtis, err := s.client.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return err
	}
	for _, jti := range jtis {
		if err := s.Revoke(jti); err != nil {
			return err
		}
	}
	return nil
}

// PurgeExpired is handled by key TTLs on the Redis side.
func (s *RedisTokenStore) PurgeExpired(time.Time) error {
	return nil
}
