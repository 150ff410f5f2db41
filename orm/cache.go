package orm

import (
	"time"

	"gorm.io/gorm"
)

// APICache stores cached external-API responses, principally travel-time
// queries. It backs the persistent, cross-process layer behind
// traveltime.Oracle's smaller in-memory LRU.
type APICache struct {
	Key       string `gorm:"primaryKey"`
	Value     []byte
	CreatedAt time.Time
	ExpiresAt time.Time `gorm:"index"`
}

// GetCacheEntry retrieves a valid, non-expired cache entry.
func GetCacheEntry(db *gorm.DB, key string) (*APICache, error) {
	var entry APICache
	err := db.Where("key = ? AND expires_at > ?", key, time.Now()).First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// SetCacheEntry upserts a cache entry with the given TTL.
func SetCacheEntry(db *gorm.DB, key string, value []byte, ttl time.Duration) error {
	entry := APICache{
		Key:       key,
		Value:     value,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(ttl),
	}
	return db.Save(&entry).Error
}

// CleanupCache removes expired entries; callers run this periodically, it
// is never on the request path.
func CleanupCache(db *gorm.DB) error {
	return db.Where("expires_at < ?", time.Now()).Delete(&APICache{}).Error
}
