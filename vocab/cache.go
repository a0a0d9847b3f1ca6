package vocab

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

// DefaultCacheSize is the number of vocabularies kept by NewCache(0).
const DefaultCacheSize = 16

// Cache keeps recently parsed vocabularies, keyed by path and class mode, so streams
// sharing a vocabulary file only parse it once. Vocabularies are immutable, and
// LabelInfo copies its maps from them, so sharing is safe.
type Cache struct {
	lru *lru.Cache
}

// NewCache creates a Cache holding up to size vocabularies. If size <= 0, DefaultCacheSize is used.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create vocabulary cache")
	}
	return &Cache{lru: c}, nil
}

func cacheKey(path string, wantClasses bool) string {
	return fmt.Sprintf("%s|classes=%t", path, wantClasses)
}

// Load returns the cached vocabulary for (path, wantClasses), loading it on a miss.
// A nil Cache simply calls Load.
func (c *Cache) Load(path string, wantClasses bool) (*Vocabulary, error) {
	if c == nil {
		return Load(path, wantClasses)
	}
	key := cacheKey(path, wantClasses)
	if v, found := c.lru.Get(key); found {
		return v.(*Vocabulary), nil
	}
	v, err := Load(path, wantClasses)
	if err != nil {
		return nil, err
	}
	c.lru.Add(key, v)
	return v, nil
}

// Len returns the number of cached vocabularies.
func (c *Cache) Len() int {
	return c.lru.Len()
}
