package labelcache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
)

const (
	DefaultSize = 1000
	DefaultTTL  = 30 * time.Minute
)

// Cache is a bounded, expiring label cache keyed by content hash.
// The underlying LRU is internally locked.
type Cache struct {
	lru *expirable.LRU[string, domain.StructuralLabel]
}

func New(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{lru: expirable.NewLRU[string, domain.StructuralLabel](size, nil, ttl)}
}

func (c *Cache) Get(key string) (domain.StructuralLabel, bool) {
	return c.lru.Get(key)
}

func (c *Cache) Add(key string, label domain.StructuralLabel) {
	c.lru.Add(key, label)
}

func (c *Cache) Len() int {
	return c.lru.Len()
}
