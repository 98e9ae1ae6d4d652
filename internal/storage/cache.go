package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default cache settings.
const (
	DefaultCacheTTL       = 10 * time.Minute
	DefaultCacheKeyPrefix = "lunodog:config:"
)

// CacheConfig configures the Redis record cache.
type CacheConfig struct {
	// URL is a redis:// or rediss:// URL. Addr is used when URL is empty.
	URL       string
	Addr      string
	Password  string
	DB        int
	TTL       time.Duration
	KeyPrefix string
}

// CachedRecordStore is a read-through Redis cache in front of another
// store. Writes go to the backing store first; the cache entry is then
// replaced or dropped. Redis failures never fail a call.
type CachedRecordStore struct {
	next   RecordStore
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

type cachedRecord struct {
	Info      map[string]any             `json:"info"`
	Data      map[string]json.RawMessage `json:"data"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// NewCachedRecordStore connects to Redis and wraps next.
func NewCachedRecordStore(ctx context.Context, next RecordStore, cfg CacheConfig) (*CachedRecordStore, error) {
	var opts *redis.Options
	if strings.TrimSpace(cfg.URL) != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		if strings.TrimSpace(cfg.Addr) == "" {
			return nil, fmt.Errorf("redis url or addr is required")
		}
		opts = &redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return WrapWithCache(next, client, cfg.TTL, cfg.KeyPrefix), nil
}

// WrapWithCache wraps next using an existing client.
func WrapWithCache(next RecordStore, client redis.UniversalClient, ttl time.Duration, prefix string) *CachedRecordStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if prefix == "" {
		prefix = DefaultCacheKeyPrefix
	}
	return &CachedRecordStore{next: next, client: client, ttl: ttl, prefix: prefix}
}

func (s *CachedRecordStore) key(table, name string, id int64) string {
	return s.prefix + recordKey(table, name, id)
}

func (s *CachedRecordStore) Get(ctx context.Context, table, name string, id int64) (*Record, error) {
	raw, err := s.client.Get(ctx, s.key(table, name, id)).Bytes()
	if err == nil {
		var cached cachedRecord
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if dec.Decode(&cached) == nil {
			normalizeInfo(cached.Info)
			return &Record{
				Table:     table,
				Name:      name,
				ID:        id,
				Data:      cached.Data,
				Info:      cached.Info,
				UpdatedAt: cached.UpdatedAt,
			}, nil
		}
	}

	record, err := s.next.Get(ctx, table, name, id)
	if err != nil {
		return nil, err
	}
	s.store(ctx, record)
	return record, nil
}

func (s *CachedRecordStore) Put(ctx context.Context, record *Record) error {
	if err := s.next.Put(ctx, record); err != nil {
		return err
	}
	s.store(ctx, record)
	return nil
}

func (s *CachedRecordStore) Delete(ctx context.Context, table, name string, id int64) error {
	err := s.next.Delete(ctx, table, name, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	_ = s.client.Del(ctx, s.key(table, name, id)).Err()
	return err
}

// List always reads the backing store.
func (s *CachedRecordStore) List(ctx context.Context, table, name string) ([]*Record, error) {
	return s.next.List(ctx, table, name)
}

func (s *CachedRecordStore) store(ctx context.Context, record *Record) {
	payload, err := json.Marshal(cachedRecord{Info: record.Info, Data: record.Data, UpdatedAt: record.UpdatedAt})
	if err != nil {
		return
	}
	key := s.key(record.Table, record.Name, record.ID)
	if err := s.client.Set(ctx, key, payload, s.ttl).Err(); err != nil {
		_ = s.client.Del(ctx, key).Err()
	}
}

func (s *CachedRecordStore) Close() error {
	return errors.Join(s.next.Close(), s.client.Close())
}
