package vericert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

// CachedStatusList is one cached, signed status-list document together with
// its content-derived ETag.
type CachedStatusList struct {
	Credential  []byte    `msgpack:"credential"`
	ETag        string    `msgpack:"etag"`
	GeneratedAt time.Time `msgpack:"generated_at"`
}

// StatusListCache caches generated status-list credentials per year. Get
// returning (nil, nil) means a miss; cache failures are soft, the service
// regenerates on any doubt.
type StatusListCache interface {
	Get(year int) (*CachedStatusList, error)
	Set(year int, entry *CachedStatusList) error
	Invalidate(year int)
}

// memoryStatusListCache is the default in-process cache.
type memoryStatusListCache struct {
	mutex   sync.RWMutex
	entries map[int]*CachedStatusList
	ttl     time.Duration
}

// NewMemoryStatusListCache returns an in-process cache. ttl of zero means
// entries live until invalidated.
func NewMemoryStatusListCache(ttl time.Duration) StatusListCache {
	return &memoryStatusListCache{
		entries: make(map[int]*CachedStatusList),
		ttl:     ttl,
	}
}

func (c *memoryStatusListCache) Get(year int) (*CachedStatusList, error) {
	c.mutex.RLock()
	entry := c.entries[year]
	c.mutex.RUnlock()
	if entry == nil {
		return nil, nil
	}
	if c.ttl > 0 && time.Since(entry.GeneratedAt) > c.ttl {
		c.Invalidate(year)
		return nil, nil
	}
	return entry, nil
}

func (c *memoryStatusListCache) Set(year int, entry *CachedStatusList) error {
	c.mutex.Lock()
	c.entries[year] = entry
	c.mutex.Unlock()
	return nil
}

func (c *memoryStatusListCache) Invalidate(year int) {
	c.mutex.Lock()
	delete(c.entries, year)
	c.mutex.Unlock()
}

// redisStatusListCache shares cached status lists between instances.
type redisStatusListCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStatusListCache connects the cache to redis. Entries are
// msgpack-encoded.
func NewRedisStatusListCache(options *redis.Options, ttl time.Duration) (StatusListCache, error) {
	client := redis.NewClient(options)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &redisStatusListCache{client: client, ttl: ttl}, nil
}

func redisStatusListKey(year int) string {
	return fmt.Sprintf("vericert:statuslist:%d", year)
}

func (c *redisStatusListCache) Get(year int) (*CachedStatusList, error) {
	raw, err := c.client.Get(context.Background(), redisStatusListKey(year)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var entry CachedStatusList
	if err = msgpack.Unmarshal(raw, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *redisStatusListCache) Set(year int, entry *CachedStatusList) error {
	raw, err := msgpack.Marshal(entry)
	if err != nil {
		return err
	}
	return c.client.Set(context.Background(), redisStatusListKey(year), raw, c.ttl).Err()
}

func (c *redisStatusListCache) Invalidate(year int) {
	if err := c.client.Del(context.Background(), redisStatusListKey(year)).Err(); err != nil {
		log.WithError(err).WithField("year", year).Error("could not invalidate cached status list")
	}
}
