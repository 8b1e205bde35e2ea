package store

import (
	"context"
	"time"

	"github.com/coocood/freecache"
	"github.com/pkg/errors"
)

// CacheOptions 行缓存配置
//
//	cache:
//	  size: 33554432
//	  expiration: 10m
type CacheOptions struct {
	// Size 缓存字节数，freecache 最小为 512KB
	Size int `cfg:"size" def:"33554432" validate:"min=0"`
	// Expiration 过期时间，0 表示不过期
	Expiration time.Duration `cfg:"expiration" validate:"min=0"`
}

// CachedBackend 装饰器，用 freecache 缓存 Get 读到的行
//
// 写操作经由本装饰器时同步更新缓存，绕过装饰器直接修改后端的数据在过期前不可见
type CachedBackend struct {
	backend       Backend
	cache         *freecache.Cache
	expireSeconds int
}

func NewCachedBackendWithOptions(backend Backend, options *CacheOptions) (*CachedBackend, error) {
	if backend == nil {
		return nil, errors.New("backend is nil")
	}
	if options == nil {
		return nil, errors.New("options is nil")
	}

	return &CachedBackend{
		backend:       backend,
		cache:         freecache.NewCache(options.Size),
		expireSeconds: int(options.Expiration.Seconds()),
	}, nil
}

func cacheKey(table string, id any) []byte {
	return []byte(table + "\x00" + formatID(id))
}

func (c *CachedBackend) set(table string, id any, data string) {
	// 超过单条上限时不缓存，保证不读到旧值
	if err := c.cache.Set(cacheKey(table, id), []byte(data), c.expireSeconds); err != nil {
		c.cache.Del(cacheKey(table, id))
	}
}

func (c *CachedBackend) CreateTable(ctx context.Context, table string, kind IDKind) error {
	return c.backend.CreateTable(ctx, table, kind)
}

func (c *CachedBackend) Tables(ctx context.Context) (map[string]IDKind, error) {
	return c.backend.Tables(ctx)
}

func (c *CachedBackend) NextID(ctx context.Context, table string) (int64, error) {
	return c.backend.NextID(ctx, table)
}

func (c *CachedBackend) Insert(ctx context.Context, table string, id any, data string) error {
	if err := c.backend.Insert(ctx, table, id, data); err != nil {
		return err
	}
	c.set(table, id, data)
	return nil
}

func (c *CachedBackend) Update(ctx context.Context, table string, id any, data string) error {
	if err := c.backend.Update(ctx, table, id, data); err != nil {
		c.cache.Del(cacheKey(table, id))
		return err
	}
	c.set(table, id, data)
	return nil
}

func (c *CachedBackend) Get(ctx context.Context, table string, id any) (string, bool, error) {
	if value, err := c.cache.Get(cacheKey(table, id)); err == nil {
		return string(value), true, nil
	}

	data, ok, err := c.backend.Get(ctx, table, id)
	if err != nil || !ok {
		return data, ok, err
	}
	c.set(table, id, data)
	return data, true, nil
}

func (c *CachedBackend) Scan(ctx context.Context, table string) ([]Row, error) {
	return c.backend.Scan(ctx, table)
}

func (c *CachedBackend) Delete(ctx context.Context, table string, id any) error {
	c.cache.Del(cacheKey(table, id))
	return c.backend.Delete(ctx, table, id)
}

func (c *CachedBackend) Reset(ctx context.Context) error {
	c.cache.Clear()
	return c.backend.Reset(ctx)
}

func (c *CachedBackend) Close() error {
	c.cache.Clear()
	return c.backend.Close()
}

// HitRate 缓存命中率
func (c *CachedBackend) HitRate() float64 {
	return c.cache.HitRate()
}
