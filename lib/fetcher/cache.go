package fetcher

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"time"

	"github.com/PuerkitoBio/purell"
	"github.com/dgraph-io/badger/v4"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PageCache stores response bodies keyed by url.
type PageCache interface {
	Get(ctx context.Context, url string) ([]byte, bool, error)
	Set(ctx context.Context, url string, payload []byte) error
	Close() error
}

// CacheKey normalizes url so equivalent spellings share one entry.
func CacheKey(url string) (string, error) {
	return purell.NormalizeURLString(
		url,
		purell.FlagsSafe|
			purell.FlagsUsuallySafeNonGreedy|
			purell.FlagRemoveDirectoryIndex|
			purell.FlagRemoveFragment|
			purell.FlagSortQuery,
	)
}

type cachedPage struct {
	Payload   []byte
	ExpiresAt int64
}

type BadgerCache struct {
	db  *badger.DB
	ttl time.Duration
}

// OpenBadgerCache opens a persistent cache in dir, an empty dir keeps the
// cache in memory.
func OpenBadgerCache(dir string, ttl time.Duration) (*BadgerCache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerCache{db: db, ttl: ttl}, nil
}

func (c *BadgerCache) Get(ctx context.Context, url string) ([]byte, bool, error) {
	_, span := tracer.Start(ctx, "BadgerCache.Get")
	defer span.End()

	key, err := CacheKey(url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create cache key")
		return nil, false, err
	}
	span.SetAttributes(attribute.String("cache_key", key))

	tx := c.db.NewTransaction(false)
	defer tx.Discard()
	item, err := tx.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read item from badger")
		return nil, false, err
	}
	serialized, err := item.ValueCopy(nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to copy cached item")
		return nil, false, err
	}

	var cached cachedPage
	err = gob.NewDecoder(bytes.NewBuffer(serialized)).Decode(&cached)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to deserialize cached item")
		return nil, false, err
	}

	if cached.ExpiresAt > 0 && time.Now().Unix() >= cached.ExpiresAt {
		err = c.db.Update(func(txn *badger.Txn) error {
			return txn.Delete([]byte(key))
		})
		if err != nil {
			span.RecordError(err)
		}
		span.SetStatus(codes.Ok, "CACHE EXPIRED")
		return nil, false, nil
	}

	return cached.Payload, true, nil
}

func (c *BadgerCache) Set(ctx context.Context, url string, payload []byte) error {
	_, span := tracer.Start(ctx, "BadgerCache.Set")
	defer span.End()

	key, err := CacheKey(url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create cache key")
		return err
	}

	page := cachedPage{Payload: payload}
	if c.ttl > 0 {
		page.ExpiresAt = time.Now().Add(c.ttl).Unix()
	}
	serialized := bytes.NewBuffer(nil)
	err = gob.NewEncoder(serialized).Encode(page)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to serialize page")
		return err
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), serialized.Bytes())
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to set badger item")
	}
	return err
}

func (c *BadgerCache) Close() error {
	return c.db.Close()
}

type MemoryCache struct {
	lru *expirable.LRU[string, []byte]
}

// NewMemoryCache keeps at most size pages, each for ttl (0 keeps them until
// evicted).
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		lru: expirable.NewLRU[string, []byte](size, nil, ttl),
	}
}

func (c *MemoryCache) Get(_ context.Context, url string) ([]byte, bool, error) {
	key, err := CacheKey(url)
	if err != nil {
		return nil, false, err
	}
	payload, hit := c.lru.Get(key)
	return payload, hit, nil
}

func (c *MemoryCache) Set(_ context.Context, url string, payload []byte) error {
	key, err := CacheKey(url)
	if err != nil {
		return err
	}
	c.lru.Add(key, payload)
	return nil
}

func (c *MemoryCache) Close() error {
	c.lru.Purge()
	return nil
}
