package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/relicx/match-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache on hot catalog reads (sessions, items, zones). Writes go to the
// primary store and invalidate the cache. Locking reads (*ForUpdate) and all
// money paths always hit the primary.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{Store: primary, rdb: rdb, ttl: ttl}
}

// --- Read-through ---

func (s *CachedStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	if data, err := s.rdb.Get(ctx, sessionKey(id)).Bytes(); err == nil {
		var sess model.Session
		if json.Unmarshal(data, &sess) == nil {
			return &sess, nil
		}
	}

	sess, err := s.Store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, sessionKey(id), sess)
	return sess, nil
}

func (s *CachedStore) GetItem(ctx context.Context, id string) (*model.Item, error) {
	if data, err := s.rdb.Get(ctx, itemKey(id)).Bytes(); err == nil {
		var it model.Item
		if json.Unmarshal(data, &it) == nil {
			return &it, nil
		}
	}

	it, err := s.Store.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, itemKey(id), it)
	return it, nil
}

func (s *CachedStore) GetZone(ctx context.Context, id string) (*model.Zone, error) {
	if data, err := s.rdb.Get(ctx, zoneKey(id)).Bytes(); err == nil {
		var z model.Zone
		if json.Unmarshal(data, &z) == nil {
			return &z, nil
		}
	}

	z, err := s.Store.GetZone(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, zoneKey(id), z)
	return z, nil
}

// --- Write-through (invalidate on mutation) ---

func (s *CachedStore) UpdateItemTrade(ctx context.Context, id string, stock, sales int, status string) error {
	if err := s.Store.UpdateItemTrade(ctx, id, stock, sales, status); err != nil {
		return err
	}
	s.rdb.Del(ctx, itemKey(id))
	return nil
}

func (s *CachedStore) UpdateItemPrice(ctx context.Context, id string, price decimal.Decimal, zoneID string) error {
	if err := s.Store.UpdateItemPrice(ctx, id, price, zoneID); err != nil {
		return err
	}
	s.rdb.Del(ctx, itemKey(id))
	return nil
}

// --- Cache helpers ---

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func sessionKey(id string) string { return fmt.Sprintf("session:%s", id) }
func itemKey(id string) string    { return fmt.Sprintf("item:%s", id) }
func zoneKey(id string) string    { return fmt.Sprintf("zone:%s", id) }
