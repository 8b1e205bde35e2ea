package store

import (
	"os"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/pkg/errors"
)

type PebbleBackendOptions struct {
	// DBPath 数据库目录，InMemory 为 true 时忽略
	DBPath string `cfg:"dbPath" validate:"required_without=InMemory"`

	// InMemory 使用内存文件系统，主要用于测试
	InMemory bool `cfg:"inMemory"`

	// WriteWithoutSync 写入时不同步到磁盘
	WriteWithoutSync bool `cfg:"writeWithoutSync"`

	// CacheSize 块缓存大小，单位字节，0 为默认值 8MB
	CacheSize int64 `cfg:"cacheSize"`

	// DisableWAL 关闭预写日志，崩溃后数据不可恢复
	DisableWAL bool `cfg:"disableWAL"`
}

type pebbleKV struct {
	db           *pebble.DB
	writeOptions *pebble.WriteOptions
}

func NewPebbleBackendWithOptions(options *PebbleBackendOptions) (Backend, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}

	dbOptions := &pebble.Options{DisableWAL: options.DisableWAL}
	if options.CacheSize > 0 {
		cache := pebble.NewCache(options.CacheSize)
		defer cache.Unref()
		dbOptions.Cache = cache
	}

	dbPath := options.DBPath
	if options.InMemory {
		dbOptions.FS = vfs.NewMem()
		dbPath = ""
	} else if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, errors.Wrapf(err, "os.MkdirAll failed. dbPath: %s", dbPath)
	}

	db, err := pebble.Open(dbPath, dbOptions)
	if err != nil {
		return nil, errors.Wrapf(err, "pebble.Open failed. dbPath: %s", dbPath)
	}

	writeOptions := pebble.Sync
	if options.WriteWithoutSync {
		writeOptions = pebble.NoSync
	}

	return &kvBackend{kv: &pebbleKV{db: db, writeOptions: writeOptions}}, nil
}

func (s *pebbleKV) get(key []byte) ([]byte, bool, error) {
	v, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "pebble get failed")
	}
	defer closer.Close()

	// 返回值在 closer 关闭后失效
	return append([]byte(nil), v...), true, nil
}

func (s *pebbleKV) write(puts map[string][]byte) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for key, value := range puts {
		var err error
		if value == nil {
			err = batch.Delete([]byte(key), nil)
		} else {
			err = batch.Set([]byte(key), value, nil)
		}
		if err != nil {
			return errors.Wrap(err, "pebble batch failed")
		}
	}
	return errors.Wrap(batch.Commit(s.writeOptions), "pebble commit failed")
}

func (s *pebbleKV) scan(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return errors.Wrap(err, "pebble NewIter failed")
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return errors.Wrap(iter.Error(), "pebble iterate failed")
}

func (s *pebbleKV) close() error {
	return s.db.Close()
}

// prefixUpperBound 返回大于所有以 prefix 开头的键的最小键
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
