package store

import (
	"os"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

type LevelDBBackendOptions struct {
	// DBPath 数据库目录，InMemory 为 true 时忽略
	DBPath string `cfg:"dbPath" validate:"required_without=InMemory"`

	// InMemory 使用内存存储，主要用于测试
	InMemory bool `cfg:"inMemory"`

	// Sync 每次写入都同步到磁盘
	Sync bool `cfg:"sync"`

	// BlockCacheCapacity 块缓存大小，单位字节，0 为默认值 8MB
	BlockCacheCapacity int `cfg:"blockCacheCapacity"`

	// WriteBuffer 内存表大小，单位字节，0 为默认值 4MB
	WriteBuffer int `cfg:"writeBuffer"`
}

type levelDBKV struct {
	db           *leveldb.DB
	writeOptions *opt.WriteOptions
}

func NewLevelDBBackendWithOptions(options *LevelDBBackendOptions) (Backend, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}

	dbOptions := &opt.Options{
		BlockCacheCapacity: options.BlockCacheCapacity,
		WriteBuffer:        options.WriteBuffer,
	}

	var db *leveldb.DB
	var err error
	if options.InMemory {
		db, err = leveldb.Open(storage.NewMemStorage(), dbOptions)
	} else {
		if err := os.MkdirAll(options.DBPath, 0755); err != nil {
			return nil, errors.Wrapf(err, "os.MkdirAll failed. dbPath: %s", options.DBPath)
		}
		db, err = leveldb.OpenFile(options.DBPath, dbOptions)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "leveldb.Open failed. dbPath: %s", options.DBPath)
	}

	return &kvBackend{kv: &levelDBKV{
		db:           db,
		writeOptions: &opt.WriteOptions{Sync: options.Sync},
	}}, nil
}

func (s *levelDBKV) get(key []byte) ([]byte, bool, error) {
	v, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "leveldb get failed")
	}
	return v, true, nil
}

func (s *levelDBKV) write(puts map[string][]byte) error {
	batch := new(leveldb.Batch)
	for key, value := range puts {
		if value == nil {
			batch.Delete([]byte(key))
		} else {
			batch.Put([]byte(key), value)
		}
	}
	return errors.Wrap(s.db.Write(batch, s.writeOptions), "leveldb write failed")
}

func (s *levelDBKV) scan(prefix []byte, fn func(key, value []byte) error) error {
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	for iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return errors.Wrap(iter.Error(), "leveldb iterate failed")
}

func (s *levelDBKV) close() error {
	return s.db.Close()
}
