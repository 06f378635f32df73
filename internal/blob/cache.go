// cache.go — LRU-кэш ссылок для скачивания с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package blob

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fv_url_cache_hits_total",
		Help: "Общее количество попаданий в кэш ссылок на содержимое.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fv_url_cache_misses_total",
		Help: "Общее количество промахов кэша ссылок на содержимое.",
	})
)

// CachedStore кэширует URLFor по ссылке на содержимое.
// Ссылка неизменна, поэтому кэш не влияет на видимость записей файлов:
// их состояние всегда читается из хранилища метаданных.
// TTL кэша должен быть меньше срока жизни presigned-ссылки.
type CachedStore struct {
	Store
	urls *expirable.LRU[string, string]
}

// NewCachedStore оборачивает store. maxSize <= 0 отключает кэширование.
func NewCachedStore(store Store, maxSize int, ttl time.Duration) *CachedStore {
	c := &CachedStore{Store: store}
	if maxSize > 0 {
		c.urls = expirable.NewLRU[string, string](maxSize, nil, ttl)
	}
	return c
}

// URLFor возвращает ссылку из кэша или запрашивает её у хранилища.
// Пустые ссылки и ошибки не кэшируются.
func (c *CachedStore) URLFor(ctx context.Context, ref string) (string, error) {
	if c.urls == nil {
		return c.Store.URLFor(ctx, ref)
	}
	if url, ok := c.urls.Get(ref); ok {
		cacheHitsTotal.Inc()
		return url, nil
	}
	cacheMissesTotal.Inc()

	url, err := c.Store.URLFor(ctx, ref)
	if err != nil || url == "" {
		return url, err
	}
	c.urls.Add(ref, url)
	return url, nil
}

// Delete удаляет содержимое и инвалидирует ссылку.
func (c *CachedStore) Delete(ctx context.Context, ref string) error {
	if c.urls != nil {
		c.urls.Remove(ref)
	}
	return c.Store.Delete(ctx, ref)
}

// Len возвращает количество ссылок в кэше.
func (c *CachedStore) Len() int {
	if c.urls == nil {
		return 0
	}
	return c.urls.Len()
}
