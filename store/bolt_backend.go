package store

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

type BoltBackendOptions struct {
	// DBPath 数据库文件路径，文件不存在时自动创建
	DBPath string `cfg:"dbPath" validate:"required"`

	// Timeout 获取文件锁的等待时间，为零时无限等待
	Timeout time.Duration `cfg:"timeout" def:"1s"`

	// NoSync 写入后不调用 fsync
	NoSync bool `cfg:"noSync"`

	// FreelistType array 或 hashmap，默认 array
	FreelistType string `cfg:"freelistType" validate:"omitempty,oneof=array hashmap"`

	// MetaBucket 记录表名和标识类型的桶
	MetaBucket string `cfg:"metaBucket" def:"_resx_tables"`
}

// BoltBackend 每张表一个桶，序列使用桶自带的 Sequence
type BoltBackend struct {
	db   *bolt.DB
	meta []byte
}

func NewBoltBackendWithOptions(options *BoltBackendOptions) (*BoltBackend, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}

	if err := os.MkdirAll(filepath.Dir(options.DBPath), 0755); err != nil {
		return nil, errors.Wrapf(err, "os.MkdirAll failed. dbPath: %s", options.DBPath)
	}

	db, err := bolt.Open(options.DBPath, 0600, &bolt.Options{
		Timeout:      options.Timeout,
		NoSync:       options.NoSync,
		FreelistType: bolt.FreelistType(options.FreelistType),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "bolt.Open failed. dbPath: %s", options.DBPath)
	}

	meta := options.MetaBucket
	if meta == "" {
		meta = "_resx_tables"
	}
	b := &BoltBackend{db: db, meta: []byte(meta)}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(b.meta)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create meta bucket failed")
	}

	return b, nil
}

// table 返回表的桶和标识类型，表不存在时 bucket 为 nil
func (b *BoltBackend) table(tx *bolt.Tx, table string) (*bolt.Bucket, IDKind, error) {
	kind := tx.Bucket(b.meta).Get([]byte(table))
	if kind == nil {
		return nil, "", nil
	}
	k, err := parseIDKind(string(kind))
	if err != nil {
		return nil, "", err
	}
	bucket := tx.Bucket([]byte(table))
	if bucket == nil {
		return nil, "", errors.Errorf("bucket %s missing", table)
	}
	return bucket, k, nil
}

func (b *BoltBackend) CreateTable(ctx context.Context, table string, kind IDKind) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(b.meta)
		if meta.Get([]byte(table)) != nil {
			return nil
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(table)); err != nil {
			return errors.Wrapf(err, "create bucket %s failed", table)
		}
		return meta.Put([]byte(table), []byte(kind))
	})
}

func (b *BoltBackend) Tables(ctx context.Context) (map[string]IDKind, error) {
	tables := map[string]IDKind{}
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(b.meta).ForEach(func(k, v []byte) error {
			kind, err := parseIDKind(string(v))
			if err != nil {
				return err
			}
			tables[string(k)] = kind
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "list tables failed")
	}
	return tables, nil
}

func (b *BoltBackend) NextID(ctx context.Context, table string) (int64, error) {
	var next int64
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket, _, err := b.table(tx, table)
		if err != nil {
			return err
		}
		if bucket == nil {
			return errors.Wrapf(ErrTableNotFound, "table %s", table)
		}
		next = int64(bucket.Sequence()) + 1
		return nil
	})
	return next, err
}

func (b *BoltBackend) Insert(ctx context.Context, table string, id any, data string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, kind, err := b.table(tx, table)
		if err != nil {
			return err
		}
		if bucket == nil {
			return errors.Wrapf(ErrTableNotFound, "table %s", table)
		}
		if err := checkKind(kind, id); err != nil {
			return err
		}

		key := encodeKey(id)
		if bucket.Get(key) != nil {
			return errors.Wrapf(ErrDuplicateKey, "table %s id %v", table, id)
		}
		if err := bucket.Put(key, []byte(data)); err != nil {
			return errors.Wrapf(err, "put into %s failed", table)
		}

		if n, ok := sequenceValue(id); ok && n > 0 && uint64(n) > bucket.Sequence() {
			return bucket.SetSequence(uint64(n))
		}
		return nil
	})
}

func (b *BoltBackend) Update(ctx context.Context, table string, id any, data string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, _, err := b.table(tx, table)
		if err != nil {
			return err
		}
		key := encodeKey(id)
		if bucket == nil || bucket.Get(key) == nil {
			return errors.Wrapf(ErrRecordNotFound, "table %s id %v", table, id)
		}
		return bucket.Put(key, []byte(data))
	})
}

func (b *BoltBackend) Get(ctx context.Context, table string, id any) (string, bool, error) {
	var data string
	var ok bool
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket, _, err := b.table(tx, table)
		if err != nil || bucket == nil {
			return err
		}
		// bolt 的返回值只在事务内有效，string 转换会复制
		if v := bucket.Get(encodeKey(id)); v != nil {
			data, ok = string(v), true
		}
		return nil
	})
	return data, ok, err
}

func (b *BoltBackend) Scan(ctx context.Context, table string) ([]Row, error) {
	var rows []Row
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket, kind, err := b.table(tx, table)
		if err != nil || bucket == nil {
			return err
		}
		return bucket.ForEach(func(k, v []byte) error {
			id, err := decodeKey(kind, k)
			if err != nil {
				return err
			}
			rows = append(rows, Row{ID: id, Data: string(v)})
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scan %s failed", table)
	}
	return rows, nil
}

func (b *BoltBackend) Delete(ctx context.Context, table string, id any) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, _, err := b.table(tx, table)
		if err != nil || bucket == nil {
			return err
		}
		return bucket.Delete(encodeKey(id))
	})
}

func (b *BoltBackend) Reset(ctx context.Context) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(b.meta)
		var names [][]byte
		if err := meta.ForEach(func(k, _ []byte) error {
			names = append(names, append([]byte(nil), k...))
			return nil
		}); err != nil {
			return err
		}
		for _, name := range names {
			if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
				return errors.Wrapf(err, "delete bucket %s failed", name)
			}
			if err := meta.Delete(name); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BoltBackend) Close() error {
	return b.db.Close()
}
