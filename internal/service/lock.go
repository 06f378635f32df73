// lock.go — распределённая блокировка sweep через Redis.
// Не даёт двум репликам выполнять очистку одновременно.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SweepLock — блокировка на время одного прохода очистки.
type SweepLock interface {
	// Acquire пытается захватить блокировку; false — её держит другой процесс.
	Acquire(ctx context.Context) (bool, error)
	// Release освобождает блокировку, если она всё ещё наша.
	Release(ctx context.Context) error
	// TTL — срок блокировки; проход очистки должен в него уложиться.
	TTL() time.Duration
}

// releaseScript удаляет ключ, только если значение совпадает с владельцем.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker — SET NX PX блокировка с уникальным владельцем.
type RedisLocker struct {
	client *redis.Client
	key    string
	owner  string
	ttl    time.Duration
}

// NewRedisLocker подключается к Redis по URL и проверяет соединение.
func NewRedisLocker(ctx context.Context, redisURL, key string, ttl time.Duration) (*RedisLocker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("разбор FV_REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("подключение к Redis: %w", err)
	}
	return NewRedisLockerWithClient(client, key, ttl), nil
}

// NewRedisLockerWithClient создаёт блокировку поверх готового клиента.
func NewRedisLockerWithClient(client *redis.Client, key string, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client: client,
		key:    key,
		owner:  uuid.NewString(),
		ttl:    ttl,
	}
}

// Acquire захватывает блокировку на ttl.
func (l *RedisLocker) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("захват блокировки %s: %w", l.key, err)
	}
	return ok, nil
}

// Release освобождает блокировку. Истёкшая или перехваченная блокировка не трогается.
func (l *RedisLocker) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Err(); err != nil {
		return fmt.Errorf("освобождение блокировки %s: %w", l.key, err)
	}
	return nil
}

// TTL возвращает срок блокировки.
func (l *RedisLocker) TTL() time.Duration {
	return l.ttl
}

// CheckReady проверяет доступность Redis.
func (l *RedisLocker) CheckReady() (status, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.client.Ping(ctx).Err(); err != nil {
		return "fail", fmt.Sprintf("Redis недоступен: %v", err)
	}
	return "ok", "Redis доступен"
}

// Close закрывает клиент Redis.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
