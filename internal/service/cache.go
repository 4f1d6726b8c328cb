// Пакет service — бизнес-логика flex-datasvc.
// CacheService — LRU-кэш метаданных записей с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flex_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш метаданных записей.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flex_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша метаданных записей.",
	})
)

// CacheService — LRU-кэш записей по tdei_record_id.
// Записи неизменяемы, поэтому инвалидация не нужна: достаточно TTL.
type CacheService struct {
	cache *expirable.LRU[string, *model.FlexRecord]
}

// NewCacheService создаёт LRU-кэш с указанным максимальным размером и TTL.
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	cache := expirable.NewLRU[string, *model.FlexRecord](maxSize, nil, ttl)
	return &CacheService{cache: cache}
}

// Get возвращает запись из кэша. Обновляет метрики hit/miss.
func (c *CacheService) Get(recordID string) (*model.FlexRecord, bool) {
	val, ok := c.cache.Get(recordID)
	if ok {
		cacheHitsTotal.Inc()
		return val, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет запись в кэш.
func (c *CacheService) Set(recordID string, record *model.FlexRecord) {
	c.cache.Add(recordID, record)
}

// Len возвращает количество записей в кэше.
func (c *CacheService) Len() int {
	return c.cache.Len()
}
